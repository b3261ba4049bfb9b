/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	shell "github.com/ipfs/go-ipfs-api"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/openanchor-labs/dag-anchor/pkg/config"
	"github.com/openanchor-labs/dag-anchor/pkg/logging"
	"golang.org/x/time/rate"
)

var logger = logging.New("contentstore")

// IPFS is a rate-limited, timeout-bounded client against an IPFS daemon.
// Calls retry transient failures with exponential backoff up to a configured
// number of attempts.
type IPFS struct {
	sh          *shell.Shell
	limiter     *rate.Limiter
	maxAttempts uint64
}

// NewIPFS creates an IPFS content store client from config. The daemon URL
// may be given as a multiaddr or as host:port.
func NewIPFS(cfg config.IPFSConfig) *IPFS {
	url := parseMultiAddrURL(cfg.URL)

	sh := shell.NewShell(url)
	timeout := time.Duration(cfg.AddTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sh.SetTimeout(timeout)

	tps := rate.Limit(10)
	burst := 10
	if cfg.RatePerSec > 0 {
		tps = rate.Limit(cfg.RatePerSec)
	}
	if cfg.RateBurst > 0 {
		burst = cfg.RateBurst
	}

	attempts := uint64(cfg.MaxAttempts)
	if attempts == 0 {
		attempts = 3
	}

	logger.Infof("ipfs client for %s, timeout %s, rate %v tps burst %d, max attempts %d",
		url, timeout, tps, burst, attempts)

	return &IPFS{
		sh:          sh,
		limiter:     rate.NewLimiter(tps, burst),
		maxAttempts: attempts,
	}
}

// newBackoff creates an exponential backoff with jitter. Base: 500ms, max
// interval 30s; the attempt count, not elapsed time, bounds the retries.
func newBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0
	return eb
}

// retry runs op with bounded attempts. Each attempt waits on the rate limiter
// so retries stay within the daemon's request budget.
func (c *IPFS) retry(ctx context.Context, name string, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackoff(), c.maxAttempts-1), ctx)
	return backoff.Retry(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("ipfs rate limiter: %w", err))
		}
		if err := op(); err != nil {
			logger.Warnf("ipfs %s attempt failed: %v", name, err)
			return err
		}
		return nil
	}, policy)
}

// parseMultiAddrURL converts a multiaddr like /ip4/127.0.0.1/tcp/5001 into
// host:port; any other form is passed through unchanged.
func parseMultiAddrURL(url string) string {
	if _, err := ma.NewMultiaddr(url); err == nil {
		parts := strings.Split(url, "/")
		if len(parts) >= 5 {
			return parts[2] + ":" + parts[4]
		}
	}
	return url
}

func (c *IPFS) AddJSON(ctx context.Context, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	var cid string
	err = c.retry(ctx, "add", func() error {
		var err error
		cid, err = c.sh.Add(bytes.NewReader(raw))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("ipfs add: %w", err)
	}
	return cid, nil
}

func (c *IPFS) PutDAG(ctx context.Context, raw []byte) (string, error) {
	var cid string
	err := c.retry(ctx, "dag put", func() error {
		var err error
		cid, err = c.sh.DagPut(raw, "dag-json", "dag-cbor")
		return err
	})
	if err != nil {
		return "", fmt.Errorf("ipfs dag put: %w", err)
	}
	return cid, nil
}

func (c *IPFS) GetDAG(ctx context.Context, id string, out any) error {
	err := c.retry(ctx, "dag get", func() error {
		return c.sh.DagGet(id, out)
	})
	if err != nil {
		return fmt.Errorf("ipfs dag get %s: %w", id, err)
	}
	return nil
}

func (c *IPFS) Cat(ctx context.Context, id string) ([]byte, error) {
	var raw []byte
	err := c.retry(ctx, "cat", func() error {
		rc, err := c.sh.Cat(id)
		if err != nil {
			return err
		}
		defer rc.Close()
		raw, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ipfs cat %s: %w", id, err)
	}
	return raw, nil
}
