/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process content store used in tests. Content ids are
// derived from the stored bytes, so identical bytes map to identical ids.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErr, when set, is returned by AddJSON and PutDAG. Tests use it to
	// simulate an unavailable store.
	PutErr error
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func memoryID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "mem" + hex.EncodeToString(sum[:16])
}

func (m *Memory) AddJSON(_ context.Context, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return m.put(raw)
}

func (m *Memory) PutDAG(_ context.Context, raw []byte) (string, error) {
	return m.put(raw)
}

func (m *Memory) put(raw []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return "", m.PutErr
	}
	id := memoryID(raw)
	m.objects[id] = raw
	return id, nil
}

func (m *Memory) GetDAG(_ context.Context, id string, out any) error {
	m.mu.Lock()
	raw, ok := m.objects[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("content %s not found", id)
	}
	return json.Unmarshal(raw, out)
}

func (m *Memory) Cat(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	raw, ok := m.objects[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("content %s not found", id)
	}
	return raw, nil
}
