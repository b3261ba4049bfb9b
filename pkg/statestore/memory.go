/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	"sync"
)

// Memory is an in-process Store used in tests and as a reference for the
// keyspace semantics.
type Memory struct {
	mu sync.Mutex

	confirmed map[string]int64
	tentative map[string]int64
	lastBlock map[string]string
	blocks    map[string]map[int64]string

	pendingTxs   map[string]map[string]int64
	discardedTxs map[string]map[string]int64
	pendingBlks  map[string]map[string]int64
	events       map[string]EventRecord

	diffSnaps   map[string]map[int64][]byte
	latestDiffs map[string][]byte
	diffCache   map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		confirmed:    make(map[string]int64),
		tentative:    make(map[string]int64),
		lastBlock:    make(map[string]string),
		blocks:       make(map[string]map[int64]string),
		pendingTxs:   make(map[string]map[string]int64),
		discardedTxs: make(map[string]map[string]int64),
		pendingBlks:  make(map[string]map[string]int64),
		events:       make(map[string]EventRecord),
		diffSnaps:    make(map[string]map[int64][]byte),
		latestDiffs:  make(map[string][]byte),
		diffCache:    make(map[string][]byte),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) ConfirmedHeight(_ context.Context, projectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed[projectID], nil
}

func (m *Memory) TentativeHeight(_ context.Context, projectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tentative[projectID], nil
}

func (m *Memory) AllocateTentativeHeight(_ context.Context, projectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.tentative[projectID]
	if c := m.confirmed[projectID]; c > next {
		next = c
	}
	next++
	m.tentative[projectID] = next
	return next, nil
}

func (m *Memory) ResetTentativeHeight(_ context.Context, projectID string, lastAssigned int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tentative[projectID] = lastAssigned
	return nil
}

func (m *Memory) RecordBlock(_ context.Context, projectID string, height int64, blockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocks[projectID] == nil {
		m.blocks[projectID] = make(map[int64]string)
	}
	m.blocks[projectID][height] = blockID
	m.lastBlock[projectID] = blockID
	m.confirmed[projectID] = height
	if m.tentative[projectID] < height {
		m.tentative[projectID] = height
	}
	return nil
}

func (m *Memory) BlockIDAtHeight(_ context.Context, projectID string, height int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks[projectID][height], nil
}

func (m *Memory) LastBlockID(_ context.Context, projectID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBlock[projectID], nil
}

func (m *Memory) BlocksInRange(_ context.Context, projectID string, from, to int64) ([]HeightBlockID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HeightBlockID
	for h := from; h <= to; h++ {
		if id, ok := m.blocks[projectID][h]; ok {
			out = append(out, HeightBlockID{Height: h, BlockID: id})
		}
	}
	return out, nil
}

func (m *Memory) AddPendingTx(_ context.Context, projectID, txID string, height int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingTxs[projectID] == nil {
		m.pendingTxs[projectID] = make(map[string]int64)
	}
	m.pendingTxs[projectID][txID] = height
	return nil
}

func (m *Memory) PendingTxHeight(_ context.Context, projectID, txID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.pendingTxs[projectID][txID]
	if !ok {
		return 0, ErrNotFound
	}
	return h, nil
}

func (m *Memory) RemovePendingTxsAt(_ context.Context, projectID string, height int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for txID, h := range m.pendingTxs[projectID] {
		if h == height {
			delete(m.pendingTxs[projectID], txID)
		}
	}
	return nil
}

func (m *Memory) PendingTxsInRange(_ context.Context, projectID string, from, to int64) ([]PendingTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return txsInRange(m.pendingTxs[projectID], from, to), nil
}

func (m *Memory) MaxPendingTxHeight(_ context.Context, projectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, h := range m.pendingTxs[projectID] {
		if h > max {
			max = h
		}
	}
	return max, nil
}

func (m *Memory) AddDiscardedTx(_ context.Context, projectID, txID string, height int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discardedTxs[projectID] == nil {
		m.discardedTxs[projectID] = make(map[string]int64)
	}
	m.discardedTxs[projectID][txID] = height
	return nil
}

func (m *Memory) DiscardedTxsInRange(_ context.Context, projectID string, from, to int64) ([]PendingTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return txsInRange(m.discardedTxs[projectID], from, to), nil
}

func txsInRange(set map[string]int64, from, to int64) []PendingTx {
	var out []PendingTx
	for txID, h := range set {
		if h >= from && h <= to {
			out = append(out, PendingTx{TxID: txID, Height: h})
		}
	}
	// Stable enough for tests: order by height.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Height < out[j-1].Height; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (m *Memory) AddPendingBlock(_ context.Context, projectID, commitID string, height int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingBlks[projectID] == nil {
		m.pendingBlks[projectID] = make(map[string]int64)
	}
	m.pendingBlks[projectID][commitID] = height
	return nil
}

func (m *Memory) PendingBlockAt(_ context.Context, projectID string, height int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for commitID, h := range m.pendingBlks[projectID] {
		if h == height {
			return commitID, nil
		}
	}
	return "", ErrNotFound
}

func (m *Memory) RemovePendingBlock(_ context.Context, projectID, commitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pendingBlks[projectID], commitID)
	return nil
}

func (m *Memory) PendingBlockCount(_ context.Context, projectID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.pendingBlks[projectID])), nil
}

func (m *Memory) PendingBlocksInRange(_ context.Context, projectID string, from, to int64) ([]PendingBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingBlock
	for commitID, h := range m.pendingBlks[projectID] {
		if h >= from && h <= to {
			out = append(out, PendingBlock{PayloadCommitID: commitID, Height: h})
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Height < out[j-1].Height; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (m *Memory) SaveEvent(_ context.Context, commitID string, rec EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[commitID] = rec
	return nil
}

func (m *Memory) Event(_ context.Context, commitID string) (EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.events[commitID]
	if !ok {
		return EventRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) DeleteEvent(_ context.Context, commitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, commitID)
	return nil
}

func (m *Memory) AddDiffSnapshot(_ context.Context, projectID string, height int64, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.diffSnaps[projectID] == nil {
		m.diffSnaps[projectID] = make(map[int64][]byte)
	}
	m.diffSnaps[projectID][height] = snapshot
	return nil
}

func (m *Memory) DiffSnapshotsInRange(_ context.Context, projectID string, from, to int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for h := from; h <= to; h++ {
		if snap, ok := m.diffSnaps[projectID][h]; ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (m *Memory) SetLatestDiff(_ context.Context, projectID string, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestDiffs[projectID] = snapshot
	return nil
}

func (m *Memory) LatestDiffs(context.Context) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.latestDiffs))
	for k, v := range m.latestDiffs {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) CachedDiff(_ context.Context, prevCID, curCID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	diff, ok := m.diffCache[prevCID+":"+curCID]
	if !ok {
		return nil, ErrNotFound
	}
	return diff, nil
}

func (m *Memory) CacheDiff(_ context.Context, prevCID, curCID string, diff []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diffCache[prevCID+":"+curCID] = diff
	return nil
}
