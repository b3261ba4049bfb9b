/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package diff

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/openanchor-labs/dag-anchor/pkg/contentstore"
	"github.com/openanchor-labs/dag-anchor/pkg/statestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIdenticalPayloads(t *testing.T) {
	payload := map[string]any{"a": float64(1), "b": "x"}

	d := Compute(payload, payload)

	assert.Empty(t, d)
}

func TestComputeSkipsNewKeys(t *testing.T) {
	prev := map[string]any{"a": float64(1)}
	cur := map[string]any{"a": float64(1), "b": "new"}

	d := Compute(prev, cur)

	// A key absent from prev is not a value change.
	assert.Empty(t, d)
}

func TestComputeDetectsChangedValues(t *testing.T) {
	prev := map[string]any{"a": float64(1), "b": "x", "c": true}
	cur := map[string]any{"a": float64(2), "b": "x", "c": false}

	d := Compute(prev, cur)

	require.Len(t, d, 2)
	assert.Equal(t, float64(1), d["a"].Old)
	assert.Equal(t, float64(2), d["a"].New)
	assert.Equal(t, true, d["c"].Old)
	assert.Equal(t, false, d["c"].New)
}

func TestComputeNestedValues(t *testing.T) {
	prev := map[string]any{"obj": map[string]any{"x": float64(1)}}
	cur := map[string]any{"obj": map[string]any{"x": float64(2)}}

	d := Compute(prev, cur)

	require.Len(t, d, 1)
	assert.Contains(t, d, "obj")
}

// countingStore wraps the in-memory content store and counts Cat calls.
type countingStore struct {
	*contentstore.Memory
	cats atomic.Int64
}

func (c *countingStore) Cat(ctx context.Context, id string) ([]byte, error) {
	c.cats.Add(1)
	return c.Memory.Cat(ctx, id)
}

func TestGetOrComputeCachesResult(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemory()
	content := &countingStore{Memory: contentstore.NewMemory()}
	engine := New(store, content)

	prevCID, err := content.AddJSON(ctx, map[string]any{"a": 1})
	require.NoError(t, err)
	curCID, err := content.AddJSON(ctx, map[string]any{"a": 2})
	require.NoError(t, err)

	first, err := engine.GetOrCompute(ctx, prevCID, curCID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, int64(2), content.cats.Load())

	// Second call must hit the cache and not re-fetch the payloads.
	second, err := engine.GetOrCompute(ctx, prevCID, curCID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(2), content.cats.Load())
}
