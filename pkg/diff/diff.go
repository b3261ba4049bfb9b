/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package diff computes and caches field-level change records between
// consecutive payload snapshots. Diff computation is best-effort: a failure
// here never blocks chain growth.
package diff

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/openanchor-labs/dag-anchor/pkg/contentstore"
	"github.com/openanchor-labs/dag-anchor/pkg/logging"
	"github.com/openanchor-labs/dag-anchor/pkg/statestore"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
)

var logger = logging.New("diff")

// Compute returns the field-level delta between two payloads. Keys absent
// from prev are skipped: a new key's presence is not evidence of a value
// change. The result is empty iff no existing key's value changed.
func Compute(prev, cur map[string]any) types.DiffMap {
	diffMap := make(types.DiffMap)
	for k, v := range cur {
		old, ok := prev[k]
		if !ok {
			continue
		}
		if !reflect.DeepEqual(old, v) {
			diffMap[k] = types.FieldChange{Old: old, New: v}
		}
	}
	return diffMap
}

// Engine resolves payloads through the content store and caches computed
// diffs keyed by the ordered content-id pair.
type Engine struct {
	store   statestore.Store
	content contentstore.Store
}

func New(store statestore.Store, content contentstore.Store) *Engine {
	return &Engine{store: store, content: content}
}

// GetOrCompute returns the diff between the payloads stored under prevCID and
// curCID. On a cache hit the payloads are not re-fetched; on a miss both are
// fetched, diffed, and the result is cached.
func (e *Engine) GetOrCompute(ctx context.Context, prevCID, curCID string) (types.DiffMap, error) {
	cached, err := e.store.CachedDiff(ctx, prevCID, curCID)
	if err == nil {
		var diffMap types.DiffMap
		if err := json.Unmarshal(cached, &diffMap); err != nil {
			return nil, fmt.Errorf("decode cached diff %s:%s: %w", prevCID, curCID, err)
		}
		return diffMap, nil
	}
	if err != statestore.ErrNotFound {
		return nil, err
	}

	prev, err := e.fetchPayload(ctx, prevCID)
	if err != nil {
		return nil, err
	}
	cur, err := e.fetchPayload(ctx, curCID)
	if err != nil {
		return nil, err
	}

	diffMap := Compute(prev, cur)

	raw, err := json.Marshal(diffMap)
	if err != nil {
		return nil, err
	}
	if err := e.store.CacheDiff(ctx, prevCID, curCID, raw); err != nil {
		return nil, err
	}

	return diffMap, nil
}

func (e *Engine) fetchPayload(ctx context.Context, cid string) (map[string]any, error) {
	raw, err := e.content.Cat(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("fetch payload %s: %w", cid, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse payload %s: %w", cid, err)
	}
	return payload, nil
}

// RecordBlockDiff diffs a newly created block against its predecessor and, if
// the payload changed, appends a DiffSnapshot to the project's diff history
// and updates the cross-project latest-diff record. Returns the diff map, or
// nil when there is no predecessor or the payload content id is unchanged.
func (e *Engine) RecordBlockDiff(ctx context.Context, projectID, dagCID string, blk *types.DagBlock) (types.DiffMap, error) {
	if blk.PrevID == "" {
		return nil, nil
	}

	var prevBlk types.DagBlock
	if err := e.content.GetDAG(ctx, blk.PrevID, &prevBlk); err != nil {
		return nil, fmt.Errorf("fetch previous block %s: %w", blk.PrevID, err)
	}

	prevPayloadCID := prevBlk.Data.SnapshotCID
	curPayloadCID := blk.Data.SnapshotCID
	if prevPayloadCID == curPayloadCID {
		return nil, nil
	}

	diffMap, err := e.GetOrCompute(ctx, prevPayloadCID, curPayloadCID)
	if err != nil {
		return nil, err
	}
	if len(diffMap) == 0 {
		return diffMap, nil
	}

	snap := types.DiffSnapshot{
		Cur: types.DiffSide{
			Height:     blk.Height,
			PayloadCID: curPayloadCID,
			DagCID:     dagCID,
			TxID:       blk.TxID,
			Timestamp:  blk.Timestamp,
		},
		Prev: types.DiffSide{
			Height:     prevBlk.Height,
			PayloadCID: prevPayloadCID,
			DagCID:     blk.PrevID,
		},
		Diff: diffMap,
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if err := e.store.AddDiffSnapshot(ctx, projectID, blk.Height, raw); err != nil {
		return nil, err
	}
	if err := e.store.SetLatestDiff(ctx, projectID, raw); err != nil {
		return nil, err
	}

	logger.Debugf("project %s: diff snapshot recorded at height %d (%d fields)",
		projectID, blk.Height, len(diffMap))

	return diffMap, nil
}
