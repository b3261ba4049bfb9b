/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package statestore persists all per-project chain state: the confirmed
// height, the tentative-height counter, the height-to-block index, pending
// and discarded transactions, buffered confirmation events, and cached diff
// snapshots.
package statestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups whose key has no entry.
var ErrNotFound = errors.New("statestore: not found")

// HeightBlockID is one entry of the height-to-block index.
type HeightBlockID struct {
	Height  int64
	BlockID string
}

// PendingTx is a ledger submission awaiting confirmation, or a discarded one.
type PendingTx struct {
	TxID   string
	Height int64
}

// PendingBlock is a confirmed-but-not-yet-linkable event buffered until its
// predecessor height resolves.
type PendingBlock struct {
	PayloadCommitID string
	Height          int64
}

// EventRecord is the stored confirmation payload needed to build a block
// later, keyed by payload commit id.
type EventRecord struct {
	ProjectID       string
	TxID            string
	SnapshotCID     string
	TentativeHeight int64
	Timestamp       int64
}

// Store is the persisted keyspace shared by the reconciliation engine, the
// commit initiator and the query API. Implementations must make
// AllocateTentativeHeight a single atomic increment per project.
type Store interface {
	Ping(ctx context.Context) error

	// Chain pointers. ConfirmedHeight is 0 for an empty chain; the first
	// block is created at height 1.
	ConfirmedHeight(ctx context.Context, projectID string) (int64, error)
	TentativeHeight(ctx context.Context, projectID string) (int64, error)
	AllocateTentativeHeight(ctx context.Context, projectID string) (int64, error)
	ResetTentativeHeight(ctx context.Context, projectID string, lastAssigned int64) error

	// RecordBlock persists the height-to-block index entry, the latest block
	// pointer and the new confirmed height together.
	RecordBlock(ctx context.Context, projectID string, height int64, blockID string) error
	// BlockIDAtHeight returns "" when no block exists at the height.
	BlockIDAtHeight(ctx context.Context, projectID string, height int64) (string, error)
	LastBlockID(ctx context.Context, projectID string) (string, error)
	BlocksInRange(ctx context.Context, projectID string, from, to int64) ([]HeightBlockID, error)

	AddPendingTx(ctx context.Context, projectID, txID string, height int64) error
	PendingTxHeight(ctx context.Context, projectID, txID string) (int64, error)
	RemovePendingTxsAt(ctx context.Context, projectID string, height int64) error
	PendingTxsInRange(ctx context.Context, projectID string, from, to int64) ([]PendingTx, error)
	// MaxPendingTxHeight returns 0 when there are no pending transactions.
	MaxPendingTxHeight(ctx context.Context, projectID string) (int64, error)

	AddDiscardedTx(ctx context.Context, projectID, txID string, height int64) error
	DiscardedTxsInRange(ctx context.Context, projectID string, from, to int64) ([]PendingTx, error)

	AddPendingBlock(ctx context.Context, projectID, commitID string, height int64) error
	// PendingBlockAt returns the payload commit id buffered at the height.
	PendingBlockAt(ctx context.Context, projectID string, height int64) (string, error)
	RemovePendingBlock(ctx context.Context, projectID, commitID string) error
	PendingBlockCount(ctx context.Context, projectID string) (int64, error)
	PendingBlocksInRange(ctx context.Context, projectID string, from, to int64) ([]PendingBlock, error)

	SaveEvent(ctx context.Context, commitID string, rec EventRecord) error
	Event(ctx context.Context, commitID string) (EventRecord, error)
	DeleteEvent(ctx context.Context, commitID string) error

	AddDiffSnapshot(ctx context.Context, projectID string, height int64, snapshot []byte) error
	DiffSnapshotsInRange(ctx context.Context, projectID string, from, to int64) ([][]byte, error)
	SetLatestDiff(ctx context.Context, projectID string, snapshot []byte) error
	LatestDiffs(ctx context.Context) (map[string][]byte, error)

	CachedDiff(ctx context.Context, prevCID, curCID string) ([]byte, error)
	CacheDiff(ctx context.Context, prevCID, curCID string, diff []byte) error
}
