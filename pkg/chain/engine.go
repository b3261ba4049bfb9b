/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package chain turns the unordered, at-least-once stream of ledger
// confirmations into a strictly ordered, gapless, hash-linked chain per
// project.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/openanchor-labs/dag-anchor/pkg/diff"
	"github.com/openanchor-labs/dag-anchor/pkg/logging"
	"github.com/openanchor-labs/dag-anchor/pkg/statestore"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
)

var logger = logging.New("chain")

// Outcome classifies how the engine handled one confirmation event.
type Outcome int

const (
	OutcomeDiscarded Outcome = iota
	OutcomeBuffered
	OutcomeBlockCreated
	OutcomeFastForwarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeBlockCreated:
		return "block-created"
	case OutcomeFastForwarded:
		return "fast-forwarded"
	default:
		return "unknown"
	}
}

// Result reports what one HandleEvent call did.
type Result struct {
	Outcome         Outcome
	BlocksCreated   int
	ConfirmedHeight int64
}

// Engine is the per-project reconciliation state machine. All state
// transitions for one project are serialized; distinct projects proceed in
// parallel.
type Engine struct {
	store      statestore.Store
	builder    *Builder
	differ     *diff.Engine
	maxPending int64
	locks      *projectLocks
}

func NewEngine(store statestore.Store, builder *Builder, differ *diff.Engine, maxPendingEvents int64) *Engine {
	return &Engine{
		store:      store,
		builder:    builder,
		differ:     differ,
		maxPending: maxPendingEvents,
		locks:      newProjectLocks(),
	}
}

// HandleEvent classifies one confirmation event against the project's
// confirmed height and applies it: accept in order (and drain the buffer),
// buffer it, discard it, or fast-forward past a pending window that exceeded
// its bound.
func (e *Engine) HandleEvent(ctx context.Context, ev types.ConfirmationEvent) (Result, error) {
	release := e.locks.acquire(ev.ProjectID)
	defer release()

	confirmed, err := e.store.ConfirmedHeight(ctx, ev.ProjectID)
	if err != nil {
		return Result{}, fmt.Errorf("read confirmed height: %w", err)
	}

	switch {
	case ev.TentativeHeight <= confirmed:
		return e.discardStale(ctx, ev, confirmed)

	case ev.TentativeHeight == confirmed+1:
		return e.applyInOrder(ctx, ev, confirmed)

	default:
		return e.handleOutOfOrder(ctx, ev, confirmed)
	}
}

// discardStale drops an event whose height is already resolved, removing any
// residual buffered records for its payload commit id.
func (e *Engine) discardStale(ctx context.Context, ev types.ConfirmationEvent, confirmed int64) (Result, error) {
	logger.Debugf("project %s: stale event at height %d (confirmed %d), tx %s",
		ev.ProjectID, ev.TentativeHeight, confirmed, ev.TxID)

	if err := e.store.RemovePendingBlock(ctx, ev.ProjectID, ev.PayloadCommitID); err != nil {
		return Result{}, err
	}
	if err := e.store.DeleteEvent(ctx, ev.PayloadCommitID); err != nil {
		return Result{}, err
	}

	return Result{Outcome: OutcomeDiscarded, ConfirmedHeight: confirmed}, nil
}

// applyInOrder creates the block at confirmed+1, then drains every buffered
// event that became next-in-line. Loop invariant: there is never a gap at the
// drained frontier — each iteration only builds at exactly confirmed+1.
func (e *Engine) applyInOrder(ctx context.Context, ev types.ConfirmationEvent, confirmed int64) (Result, error) {
	blockID, blk, err := e.builder.BuildBlock(ctx, ev.ProjectID, confirmed+1, ev.SnapshotCID, ev.TxID, ev.Timestamp)
	if err != nil {
		return Result{ConfirmedHeight: confirmed}, err
	}
	confirmed++
	created := 1

	if err := e.clearResolved(ctx, ev.ProjectID, ev.PayloadCommitID, confirmed); err != nil {
		return Result{Outcome: OutcomeBlockCreated, BlocksCreated: created, ConfirmedHeight: confirmed}, err
	}

	// Drain: build every buffered event that is now next in line.
	for {
		commitID, err := e.store.PendingBlockAt(ctx, ev.ProjectID, confirmed+1)
		if errors.Is(err, statestore.ErrNotFound) {
			break
		}
		if err != nil {
			return Result{Outcome: OutcomeBlockCreated, BlocksCreated: created, ConfirmedHeight: confirmed}, err
		}

		rec, err := e.store.Event(ctx, commitID)
		if errors.Is(err, statestore.ErrNotFound) {
			// Buffered entry without event data cannot be built; drop it so
			// the frontier is not wedged.
			logger.Warnf("project %s: pending block %s at height %d has no event data, dropping",
				ev.ProjectID, commitID, confirmed+1)
			if err := e.store.RemovePendingBlock(ctx, ev.ProjectID, commitID); err != nil {
				return Result{Outcome: OutcomeBlockCreated, BlocksCreated: created, ConfirmedHeight: confirmed}, err
			}
			continue
		}
		if err != nil {
			return Result{Outcome: OutcomeBlockCreated, BlocksCreated: created, ConfirmedHeight: confirmed}, err
		}

		blockID, blk, err = e.builder.BuildBlock(ctx, ev.ProjectID, confirmed+1, rec.SnapshotCID, rec.TxID, rec.Timestamp)
		if err != nil {
			return Result{Outcome: OutcomeBlockCreated, BlocksCreated: created, ConfirmedHeight: confirmed}, err
		}
		confirmed++
		created++

		if err := e.clearResolved(ctx, ev.ProjectID, commitID, confirmed); err != nil {
			return Result{Outcome: OutcomeBlockCreated, BlocksCreated: created, ConfirmedHeight: confirmed}, err
		}
	}

	logger.Infof("project %s: %d block(s) created, confirmed height now %d",
		ev.ProjectID, created, confirmed)

	// Diff only after the buffer drained fully. A diff failure is logged and
	// never unwinds block creation.
	pending, err := e.store.PendingBlockCount(ctx, ev.ProjectID)
	if err == nil && pending == 0 {
		if _, derr := e.differ.RecordBlockDiff(ctx, ev.ProjectID, blockID, blk); derr != nil {
			logger.Warnf("project %s: diff computation failed at height %d: %v",
				ev.ProjectID, blk.Height, derr)
		}
	}

	return Result{Outcome: OutcomeBlockCreated, BlocksCreated: created, ConfirmedHeight: confirmed}, nil
}

// clearResolved removes the pending-transaction, pending-block and event-data
// records of a commit that has just become a block at the given height.
func (e *Engine) clearResolved(ctx context.Context, projectID, commitID string, height int64) error {
	if err := e.store.RemovePendingTxsAt(ctx, projectID, height); err != nil {
		return err
	}
	if err := e.store.RemovePendingBlock(ctx, projectID, commitID); err != nil {
		return err
	}
	return e.store.DeleteEvent(ctx, commitID)
}

func (e *Engine) handleOutOfOrder(ctx context.Context, ev types.ConfirmationEvent, confirmed int64) (Result, error) {
	_, err := e.store.PendingTxHeight(ctx, ev.ProjectID, ev.TxID)
	if errors.Is(err, statestore.ErrNotFound) {
		// Unknown transaction: unexpected late arrival, never ours to build.
		logger.Debugf("project %s: unknown tx %s at height %d, discarding",
			ev.ProjectID, ev.TxID, ev.TentativeHeight)
		if err := e.store.AddDiscardedTx(ctx, ev.ProjectID, ev.TxID, ev.TentativeHeight); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeDiscarded, ConfirmedHeight: confirmed}, nil
	}
	if err != nil {
		return Result{}, err
	}

	maxPendingHeight, err := e.store.MaxPendingTxHeight(ctx, ev.ProjectID)
	if err != nil {
		return Result{}, err
	}
	if ev.TentativeHeight > maxPendingHeight {
		maxPendingHeight = ev.TentativeHeight
	}

	if maxPendingHeight-confirmed > e.maxPending {
		return e.fastForward(ctx, ev, confirmed)
	}

	// Buffer and wait for the missing predecessor(s).
	logger.Debugf("project %s: buffering event at height %d (confirmed %d)",
		ev.ProjectID, ev.TentativeHeight, confirmed)

	if err := e.store.SaveEvent(ctx, ev.PayloadCommitID, statestore.EventRecord{
		ProjectID:       ev.ProjectID,
		TxID:            ev.TxID,
		SnapshotCID:     ev.SnapshotCID,
		TentativeHeight: ev.TentativeHeight,
		Timestamp:       ev.Timestamp,
	}); err != nil {
		return Result{}, err
	}
	if err := e.store.AddPendingBlock(ctx, ev.ProjectID, ev.PayloadCommitID, ev.TentativeHeight); err != nil {
		return Result{}, err
	}

	return Result{Outcome: OutcomeBuffered, ConfirmedHeight: confirmed}, nil
}

// fastForward forces a block at confirmed+1 from the arriving event's content
// and forfeits every other commit assigned a height in (confirmed, original
// event height]. Sustained disorder beyond the configured window loses the
// skipped commits rather than blocking the chain indefinitely.
func (e *Engine) fastForward(ctx context.Context, ev types.ConfirmationEvent, confirmed int64) (Result, error) {
	origHeight := ev.TentativeHeight
	target := confirmed + 1

	logger.Warnf("project %s: pending window exceeded, fast-forwarding event from height %d to %d",
		ev.ProjectID, origHeight, target)

	blockID, _, err := e.builder.BuildBlock(ctx, ev.ProjectID, target, ev.SnapshotCID, ev.TxID, ev.Timestamp)
	if err != nil {
		return Result{ConfirmedHeight: confirmed}, err
	}

	// Next allocation must hand out target+1.
	if err := e.store.ResetTentativeHeight(ctx, ev.ProjectID, target); err != nil {
		return Result{}, err
	}

	// The forcing transaction is resolved at its original assigned height.
	if err := e.store.RemovePendingTxsAt(ctx, ev.ProjectID, origHeight); err != nil {
		return Result{}, err
	}

	// Everything else in the skipped window is forfeited.
	skippedTxs, err := e.store.PendingTxsInRange(ctx, ev.ProjectID, target, origHeight)
	if err != nil {
		return Result{}, err
	}
	for _, p := range skippedTxs {
		if err := e.store.AddDiscardedTx(ctx, ev.ProjectID, p.TxID, p.Height); err != nil {
			return Result{}, err
		}
		if err := e.store.RemovePendingTxsAt(ctx, ev.ProjectID, p.Height); err != nil {
			return Result{}, err
		}
	}

	skippedBlocks, err := e.store.PendingBlocksInRange(ctx, ev.ProjectID, target, origHeight)
	if err != nil {
		return Result{}, err
	}
	for _, pb := range skippedBlocks {
		if err := e.store.RemovePendingBlock(ctx, ev.ProjectID, pb.PayloadCommitID); err != nil {
			return Result{}, err
		}
		if err := e.store.DeleteEvent(ctx, pb.PayloadCommitID); err != nil {
			return Result{}, err
		}
	}

	// The forcing event's own buffered records, if any.
	if err := e.store.RemovePendingBlock(ctx, ev.ProjectID, ev.PayloadCommitID); err != nil {
		return Result{}, err
	}
	if err := e.store.DeleteEvent(ctx, ev.PayloadCommitID); err != nil {
		return Result{}, err
	}

	logger.Infof("project %s: fast-forwarded to height %d, block %s, %d transaction(s) discarded",
		ev.ProjectID, target, blockID, len(skippedTxs))

	return Result{Outcome: OutcomeFastForwarded, BlocksCreated: 1, ConfirmedHeight: target}, nil
}
