/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/openanchor-labs/dag-anchor/pkg/api"
	"github.com/openanchor-labs/dag-anchor/pkg/chain"
	"github.com/openanchor-labs/dag-anchor/pkg/commit"
	"github.com/openanchor-labs/dag-anchor/pkg/config"
	"github.com/openanchor-labs/dag-anchor/pkg/contentstore"
	"github.com/openanchor-labs/dag-anchor/pkg/diff"
	"github.com/openanchor-labs/dag-anchor/pkg/dispatch"
	"github.com/openanchor-labs/dag-anchor/pkg/ingest"
	"github.com/openanchor-labs/dag-anchor/pkg/ledger"
	"github.com/openanchor-labs/dag-anchor/pkg/statestore"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
)

// Server manages the anchor service components.
type Server struct {
	config     *config.Config
	store      *statestore.Postgres
	httpServer *http.Server
	dispatcher *dispatch.Dispatcher
}

// New creates a new Server instance.
func New(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize database
	store, err := statestore.NewPostgres(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}

	content := contentstore.NewIPFS(cfg.IPFS)
	anchorLedger := ledger.NewClient(cfg.Ledger)

	differ := diff.New(store, content)
	builder := chain.NewBuilder(store, content,
		time.Duration(cfg.IPFS.AddTimeoutSec)*time.Second)
	engine := chain.NewEngine(store, builder, differ, cfg.Chain.MaxPendingEvents)

	initiator := commit.NewInitiator(store, content, anchorLedger,
		time.Duration(cfg.Ledger.SubmitTimeoutSec)*time.Second)

	dispatcher := dispatch.New(dispatch.Config{
		WorkerCount: cfg.Workers.EventWorkers,
		BufSize:     cfg.Buffer.EventChannelSize,
	}, dispatch.HandlerFunc(func(ctx context.Context, ev types.ConfirmationEvent) error {
		_, err := engine.HandleEvent(ctx, ev)
		return err
	}))

	hook := ingest.NewHandler(cfg.Webhook, dispatcher)
	apiServer := api.NewAPI(store, content, differ, initiator, hook)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: apiServer.Router(),
	}

	return &Server{
		config:     cfg,
		store:      store,
		httpServer: httpServer,
		dispatcher: dispatcher,
	}, nil
}

// Run starts all server components and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// errCh carries fatal errors only: a listener that cannot serve. Event
	// handler failures are logged by the workers and resolved by webhook
	// redelivery, never by shutting the service down.
	errCh := make(chan error, 1)

	// Start HTTP server
	go func() {
		log.Printf("REST API running on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	// Start event workers
	g := s.dispatcher.Start(ctx)

	// Wait for shutdown signal or fatal error
	select {
	case <-ctx.Done():
		log.Println("shutdown requested")
	case err := <-errCh:
		log.Printf("fatal error: %v", err)
	}

	// Graceful shutdown
	if err := s.Shutdown(); err != nil {
		return err
	}

	// Stop accepting events and let the workers drain their buffers.
	cancel()

	// Wait for event workers to drain
	if err := g.Wait(); err != nil {
		log.Printf("dispatcher exited with error: %v", err)
	} else {
		log.Println("dispatcher exited cleanly")
	}

	// Database cleanup
	s.store.Close()

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown() error {
	shutdownTimeout := time.Duration(s.config.Server.ShutdownTimeoutSec) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	} else {
		log.Println("http server shutdown complete")
	}

	return nil
}
