/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package dispatch fans confirmation events out to a fixed worker pool.
// Events for the same project always land on the same worker, so each
// project's chain is reconciled strictly one event at a time while distinct
// projects progress in parallel.
package dispatch

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openanchor-labs/dag-anchor/pkg/logging"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
)

var logger = logging.New("dispatch")

// Handler processes a single confirmation event.
type Handler interface {
	HandleEvent(ctx context.Context, ev types.ConfirmationEvent) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev types.ConfirmationEvent) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev types.ConfirmationEvent) error {
	return f(ctx, ev)
}

// Config controls worker count and per-worker buffer size.
type Config struct {
	WorkerCount int
	BufSize     int
}

// Dispatcher owns the worker channels and routes events by project id.
type Dispatcher struct {
	cfg     Config
	handler Handler
	chans   []chan types.ConfirmationEvent
	closed  atomic.Bool
}

// New constructs a Dispatcher. handler is injected.
func New(cfg Config, handler Handler) *Dispatcher {
	// sensible defaults
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.BufSize <= 0 {
		cfg.BufSize = 64
	}

	chans := make([]chan types.ConfirmationEvent, cfg.WorkerCount)
	for i := range chans {
		chans[i] = make(chan types.ConfirmationEvent, cfg.BufSize)
	}
	return &Dispatcher{
		cfg:     cfg,
		handler: handler,
		chans:   chans,
	}
}

// Enqueue routes an event to the worker owning its project. Reports false
// once the dispatcher has stopped accepting work or the worker's buffer is
// full.
func (d *Dispatcher) Enqueue(ev types.ConfirmationEvent) bool {
	if d.closed.Load() {
		return false
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(ev.ProjectID))
	ch := d.chans[h.Sum32()%uint32(len(d.chans))]
	select {
	case ch <- ev:
		return true
	default:
		logger.Warnf("worker buffer full, rejecting event for project %s height %d",
			ev.ProjectID, ev.TentativeHeight)
		return false
	}
}

// Start runs the workers. Handler failures are logged but do not stop the
// pool; the event source redelivers at-least-once, so a transient failure is
// retried on the next delivery.
func (d *Dispatcher) Start(ctx context.Context) *errgroup.Group {
	g, ctx := errgroup.WithContext(ctx)

	for i := range d.chans {
		workerID := i
		ch := d.chans[i]
		g.Go(func() error {
			logger.Infof("event worker[%d] started", workerID)
			for {
				select {
				case <-ctx.Done():
					// On cancellation, drain buffered events best-effort
					// with a short timeout before stopping.
					d.closed.Store(true)
					drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					for {
						select {
						case ev := <-ch:
							if err := d.handler.HandleEvent(drainCtx, ev); err != nil {
								logger.Errorf("worker[%d] drain project %s height %d: %v",
									workerID, ev.ProjectID, ev.TentativeHeight, err)
							}
						default:
							cancel()
							logger.Infof("event worker[%d] drained and stopping", workerID)
							return nil
						}
					}
				case ev := <-ch:
					if err := d.handler.HandleEvent(ctx, ev); err != nil {
						logger.Errorf("worker[%d] project %s height %d: %v",
							workerID, ev.ProjectID, ev.TentativeHeight, err)
					}
				}
			}
		})
	}

	return g
}
