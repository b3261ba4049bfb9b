/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/openanchor-labs/dag-anchor/pkg/app"
	"github.com/openanchor-labs/dag-anchor/pkg/config"
	"github.com/openanchor-labs/dag-anchor/pkg/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Level != "" {
		logging.SetupWithConfig(&cfg.Logging)
	}

	// Create server
	server, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	// Setup signal handling
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Run server
	if err := server.Run(rootCtx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
