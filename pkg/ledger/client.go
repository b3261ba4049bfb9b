/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ledger submits commitment records to the external ledger. The
// submission call is synchronous; confirmations arrive later, out of band,
// as webhook callbacks.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openanchor-labs/dag-anchor/pkg/config"
	"github.com/openanchor-labs/dag-anchor/pkg/logging"
)

var logger = logging.New("ledger")

// Ledger accepts a commitment record and returns the transaction id under
// which the ledger will later confirm it.
type Ledger interface {
	Submit(ctx context.Context, snapshotCID, token string) (txID string, err error)
}

// Client submits records over HTTP with bounded retries.
type Client struct {
	endpoint    string
	timeout     time.Duration
	maxAttempts uint64
	http        *http.Client
}

func NewClient(cfg config.LedgerConfig) *Client {
	timeout := time.Duration(cfg.SubmitTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	attempts := uint64(cfg.MaxSubmitAttempts)
	if attempts == 0 {
		attempts = 3
	}

	return &Client{
		endpoint:    cfg.Endpoint,
		timeout:     timeout,
		maxAttempts: attempts,
		http:        &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	SnapshotCID string `json:"ipfsCid"`
	Token       string `json:"apiKeyHash"`
}

type submitResponse struct {
	TxHash string `json:"txHash"`
}

// Submit posts the record to the ledger endpoint. The whole call, retries
// included, is bounded by ctx; each attempt is bounded by the configured
// submit timeout.
func (c *Client) Submit(ctx context.Context, snapshotCID, token string) (string, error) {
	body, err := json.Marshal(submitRequest{SnapshotCID: snapshotCID, Token: token})
	if err != nil {
		return "", err
	}

	var txID string
	policy := backoff.WithContext(backoff.WithMaxRetries(NewBackoff(), c.maxAttempts-1), ctx)

	err = backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			logger.Warnf("ledger submit attempt failed: %v", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("ledger submit status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			logger.Warnf("ledger submit attempt failed: %v", err)
			return err
		}

		var out submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		if out.TxHash == "" {
			return backoff.Permanent(fmt.Errorf("ledger response missing txHash"))
		}
		txID = out.TxHash
		return nil
	}, policy)
	if err != nil {
		return "", fmt.Errorf("ledger submit: %w", err)
	}

	return txID, nil
}
