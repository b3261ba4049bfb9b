/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openanchor-labs/dag-anchor/pkg/contentstore"
	"github.com/openanchor-labs/dag-anchor/pkg/statestore"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
)

// Builder constructs and persists one immutable chain block given its
// predecessor's id and new content, then advances the confirmed height.
type Builder struct {
	store      statestore.Store
	content    contentstore.Store
	putTimeout time.Duration
}

func NewBuilder(store statestore.Store, content contentstore.Store, putTimeout time.Duration) *Builder {
	if putTimeout <= 0 {
		putTimeout = 30 * time.Second
	}
	return &Builder{store: store, content: content, putTimeout: putTimeout}
}

// BuildBlock creates the block at the given height. The block's id is the
// content id of its canonical bytes, so the content store write doubles as
// the integrity mechanism: altering a block's bytes changes its id and breaks
// every descendant's prevCid link.
//
// On a content-store failure the confirmed height is not advanced and the
// error wraps ErrStoreUnavailable.
func (b *Builder) BuildBlock(ctx context.Context, projectID string, height int64, snapshotCID, txID string, timestamp int64) (string, *types.DagBlock, error) {
	prevID, err := b.store.BlockIDAtHeight(ctx, projectID, height-1)
	if err != nil {
		return "", nil, fmt.Errorf("lookup predecessor of height %d: %w", height, err)
	}

	blk := &types.DagBlock{
		Height: height,
		PrevID: prevID,
		Data: types.BlockData{
			SnapshotCID: snapshotCID,
			Type:        types.SnapshotType,
		},
		TxID:      txID,
		Timestamp: timestamp,
	}

	raw, err := blk.CanonicalBytes()
	if err != nil {
		return "", nil, fmt.Errorf("serialize block at height %d: %w", height, err)
	}

	putCtx, cancel := context.WithTimeout(ctx, b.putTimeout)
	defer cancel()

	blockID, err := b.content.PutDAG(putCtx, raw)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", nil, fmt.Errorf("%w: put block at height %d: %v", ErrStoreUnavailable, height, err)
		}
		return "", nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := b.store.RecordBlock(ctx, projectID, height, blockID); err != nil {
		return "", nil, fmt.Errorf("record block %s at height %d: %w", blockID, height, err)
	}

	return blockID, blk, nil
}
