/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chain

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/openanchor-labs/dag-anchor/pkg/contentstore"
	"github.com/openanchor-labs/dag-anchor/pkg/diff"
	"github.com/openanchor-labs/dag-anchor/pkg/statestore"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProject = "project-1"

type testEnv struct {
	store   *statestore.Memory
	content *contentstore.Memory
	engine  *Engine
}

func newTestEnv(t *testing.T, maxPending int64) *testEnv {
	t.Helper()
	store := statestore.NewMemory()
	content := contentstore.NewMemory()
	builder := NewBuilder(store, content, 5*time.Second)
	differ := diff.New(store, content)
	return &testEnv{
		store:   store,
		content: content,
		engine:  NewEngine(store, builder, differ, maxPending),
	}
}

// commitPayload mimics the commit side: it stores the payload, allocates the
// next tentative height and records the pending transaction, returning the
// confirmation event the ledger would later deliver.
func (env *testEnv) commitPayload(t *testing.T, payload map[string]any) types.ConfirmationEvent {
	t.Helper()
	ctx := context.Background()

	cid, err := env.content.AddJSON(ctx, payload)
	require.NoError(t, err)

	height, err := env.store.AllocateTentativeHeight(ctx, testProject)
	require.NoError(t, err)

	txID := fmt.Sprintf("tx-%d", height)
	require.NoError(t, env.store.AddPendingTx(ctx, testProject, txID, height))

	return types.ConfirmationEvent{
		TxID:            txID,
		ProjectID:       testProject,
		PayloadCommitID: fmt.Sprintf("commit-%d", height),
		SnapshotCID:     cid,
		TentativeHeight: height,
		Timestamp:       1700000000 + height,
	}
}

func (env *testEnv) confirmedHeight(t *testing.T) int64 {
	t.Helper()
	h, err := env.store.ConfirmedHeight(context.Background(), testProject)
	require.NoError(t, err)
	return h
}

// chainBlocks walks the confirmed chain from height 1 upward.
func (env *testEnv) chainBlocks(t *testing.T, to int64) []types.DagBlock {
	t.Helper()
	ctx := context.Background()

	var out []types.DagBlock
	for h := int64(1); h <= to; h++ {
		id, err := env.store.BlockIDAtHeight(ctx, testProject, h)
		require.NoError(t, err)
		require.NotEmpty(t, id, "missing block at height %d", h)

		var blk types.DagBlock
		require.NoError(t, env.content.GetDAG(ctx, id, &blk))
		out = append(out, blk)
	}
	return out
}

func TestInOrderEventsBuildLinkedChain(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := env.commitPayload(t, map[string]any{"v": i})
		res, err := env.engine.HandleEvent(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeBlockCreated, res.Outcome)
		assert.Equal(t, 1, res.BlocksCreated)
	}

	assert.Equal(t, int64(3), env.confirmedHeight(t))

	blocks := env.chainBlocks(t, 3)
	assert.Empty(t, blocks[0].PrevID)
	for h := int64(2); h <= 3; h++ {
		prevID, err := env.store.BlockIDAtHeight(ctx, testProject, h-1)
		require.NoError(t, err)
		assert.Equal(t, prevID, blocks[h-1].PrevID, "broken link at height %d", h)
	}
}

func TestOutOfOrderEventBufferedThenDrained(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()

	ev1 := env.commitPayload(t, map[string]any{"v": 1})
	ev2 := env.commitPayload(t, map[string]any{"v": 2})

	// Height 2 arrives first: nothing can be built yet.
	res, err := env.engine.HandleEvent(ctx, ev2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuffered, res.Outcome)
	assert.Equal(t, int64(0), env.confirmedHeight(t))

	// Height 1 arrives: block 1 is built and the buffer drains block 2.
	res, err = env.engine.HandleEvent(ctx, ev1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlockCreated, res.Outcome)
	assert.Equal(t, 2, res.BlocksCreated)
	assert.Equal(t, int64(2), env.confirmedHeight(t))

	// The drained event's buffered records are gone.
	count, err := env.store.PendingBlockCount(ctx, testProject)
	require.NoError(t, err)
	assert.Zero(t, count)
	_, err = env.store.Event(ctx, ev2.PayloadCommitID)
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestStaleEventDiscarded(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()

	ev := env.commitPayload(t, map[string]any{"v": 1})
	_, err := env.engine.HandleEvent(ctx, ev)
	require.NoError(t, err)

	blockID, err := env.store.BlockIDAtHeight(ctx, testProject, 1)
	require.NoError(t, err)

	// Redelivery of the same confirmation must change nothing.
	res, err := env.engine.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, res.Outcome)
	assert.Equal(t, int64(1), env.confirmedHeight(t))

	after, err := env.store.BlockIDAtHeight(ctx, testProject, 1)
	require.NoError(t, err)
	assert.Equal(t, blockID, after)
}

func TestUnknownTxDiscarded(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()

	ev := types.ConfirmationEvent{
		TxID:            "tx-never-submitted",
		ProjectID:       testProject,
		PayloadCommitID: "commit-x",
		SnapshotCID:     "cid-x",
		TentativeHeight: 5,
		Timestamp:       1700000000,
	}

	res, err := env.engine.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, res.Outcome)
	assert.Equal(t, int64(0), env.confirmedHeight(t))

	discarded, err := env.store.DiscardedTxsInRange(ctx, testProject, 1, 10)
	require.NoError(t, err)
	require.Len(t, discarded, 1)
	assert.Equal(t, "tx-never-submitted", discarded[0].TxID)
}

func TestFastForwardAfterWindowExceeded(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	events := make([]types.ConfirmationEvent, 0, 4)
	for i := 0; i < 3; i++ {
		events = append(events, env.commitPayload(t, map[string]any{"v": i}))
	}

	// Pending window is 3-0 = 3, still within the bound: height 2 buffers.
	res, err := env.engine.HandleEvent(ctx, events[1])
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuffered, res.Outcome)

	// A fourth commit stretches the window to 4 > 3: the next confirmation
	// fast-forwards to height 1 instead of buffering.
	events = append(events, env.commitPayload(t, map[string]any{"v": 3}))

	res, err = env.engine.HandleEvent(ctx, events[2])
	require.NoError(t, err)
	assert.Equal(t, OutcomeFastForwarded, res.Outcome)
	assert.Equal(t, int64(1), env.confirmedHeight(t))

	// The forced block carries the forcing event's content.
	blockID, err := env.store.BlockIDAtHeight(ctx, testProject, 1)
	require.NoError(t, err)
	var blk types.DagBlock
	require.NoError(t, env.content.GetDAG(ctx, blockID, &blk))
	assert.Equal(t, events[2].SnapshotCID, blk.Data.SnapshotCID)
	assert.Equal(t, events[2].TxID, blk.TxID)

	// Skipped commits are forfeited, buffered records cleared.
	count, err := env.store.PendingBlockCount(ctx, testProject)
	require.NoError(t, err)
	assert.Zero(t, count)
	discarded, err := env.store.DiscardedTxsInRange(ctx, testProject, 1, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, discarded)

	// The counter restarts above the forced height.
	next, err := env.store.AllocateTentativeHeight(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}

func TestArrivalOrderDoesNotChangeChain(t *testing.T) {
	permutations := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{1, 3, 0, 2},
		{2, 0, 3, 1},
	}

	var wantIDs []string
	for pi, perm := range permutations {
		env := newTestEnv(t, 30)
		ctx := context.Background()

		events := make([]types.ConfirmationEvent, 0, 4)
		for i := 0; i < 4; i++ {
			events = append(events, env.commitPayload(t, map[string]any{"v": i}))
		}

		for _, idx := range perm {
			_, err := env.engine.HandleEvent(ctx, events[idx])
			require.NoError(t, err)
		}

		require.Equal(t, int64(4), env.confirmedHeight(t), "permutation %v", perm)

		ids := make([]string, 0, 4)
		for h := int64(1); h <= 4; h++ {
			id, err := env.store.BlockIDAtHeight(ctx, testProject, h)
			require.NoError(t, err)
			ids = append(ids, id)
		}

		if pi == 0 {
			wantIDs = ids
			continue
		}
		assert.Equal(t, wantIDs, ids, "permutation %v produced a different chain", perm)
	}
}

func TestUnparsablePayloadDoesNotAbortBlockCreation(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()

	ev1 := env.commitPayload(t, map[string]any{"v": 1})
	_, err := env.engine.HandleEvent(ctx, ev1)
	require.NoError(t, err)

	// A snapshot that is not valid JSON: the diff step cannot parse it.
	badCID, err := env.content.PutDAG(ctx, []byte("not-json{"))
	require.NoError(t, err)

	height, err := env.store.AllocateTentativeHeight(ctx, testProject)
	require.NoError(t, err)
	require.NoError(t, env.store.AddPendingTx(ctx, testProject, "tx-bad", height))

	res, err := env.engine.HandleEvent(ctx, types.ConfirmationEvent{
		TxID:            "tx-bad",
		ProjectID:       testProject,
		PayloadCommitID: "commit-bad",
		SnapshotCID:     badCID,
		TentativeHeight: height,
		Timestamp:       1700000002,
	})
	require.NoError(t, err, "diff failure must stay local to the diff step")
	assert.Equal(t, OutcomeBlockCreated, res.Outcome)
	assert.Equal(t, int64(2), env.confirmedHeight(t))

	// The block exists and links to its predecessor; only the diff snapshot
	// is missing.
	blocks := env.chainBlocks(t, 2)
	assert.Equal(t, badCID, blocks[1].Data.SnapshotCID)
	snaps, err := env.store.DiffSnapshotsInRange(ctx, testProject, 1, 2)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestContentStoreFailureDoesNotAdvanceHeight(t *testing.T) {
	env := newTestEnv(t, 30)
	ctx := context.Background()

	ev := env.commitPayload(t, map[string]any{"v": 1})
	env.content.PutErr = fmt.Errorf("connect refused")

	_, err := env.engine.HandleEvent(ctx, ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, int64(0), env.confirmedHeight(t))

	id, err := env.store.BlockIDAtHeight(ctx, testProject, 1)
	require.NoError(t, err)
	assert.Empty(t, id)

	// Recovery: the redelivered event succeeds once the store is back.
	env.content.PutErr = nil
	res, err := env.engine.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlockCreated, res.Outcome)
	assert.Equal(t, int64(1), env.confirmedHeight(t))
}
