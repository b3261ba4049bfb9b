/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ingest authenticates and parses inbound confirmation callbacks and
// hands them to the reconciliation dispatcher. Invalid events are dropped at
// this boundary; nothing malformed reaches the engine.
package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/openanchor-labs/dag-anchor/pkg/config"
	"github.com/openanchor-labs/dag-anchor/pkg/constants"
	"github.com/openanchor-labs/dag-anchor/pkg/logging"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
)

var logger = logging.New("ingest")

var (
	// ErrSignatureInvalid means the HMAC header did not match the body.
	ErrSignatureInvalid = errors.New("ingest: invalid hook signature")
	// ErrMalformedEvent means a required field was missing or unusable.
	ErrMalformedEvent = errors.New("ingest: malformed event")
)

// Sink receives validated confirmation events. Enqueue reports false when the
// event could not be accepted (e.g. shutdown in progress).
type Sink interface {
	Enqueue(ev types.ConfirmationEvent) bool
}

// envelope is the wire form of a confirmation callback.
type envelope struct {
	EventName string `json:"event_name"`
	TxHash    string `json:"txHash"`
	EventData struct {
		ProjectID            string `json:"projectId"`
		PayloadCommitID      string `json:"payloadCommitId"`
		SnapshotCID          string `json:"snapshotCid"`
		TentativeBlockHeight int64  `json:"tentativeBlockHeight"`
		Timestamp            int64  `json:"timestamp"`
	} `json:"event_data"`
}

// Handler serves the confirmation webhook endpoint.
type Handler struct {
	secret   string
	validate bool
	sink     Sink
}

func NewHandler(cfg config.WebhookConfig, sink Sink) *Handler {
	return &Handler{
		secret:   cfg.Secret,
		validate: cfg.ValidateSignature,
		sink:     sink,
	}
}

// ServeHTTP accepts a confirmation callback. All drops respond 200 with an
// empty object so the caller never retries events we have decided to ignore.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if h.validate {
		sig := r.Header.Get(constants.HookSignatureHeader)
		if !VerifySignature(body, sig, h.secret) {
			// Dropped silently: no state change, no error surfaced.
			logger.Warnf("dropping event: %v", ErrSignatureInvalid)
			writeEmpty(w)
			return
		}
	}

	ev, err := ParseEvent(body)
	if err != nil {
		logger.Warnf("dropping event: %v", err)
		writeEmpty(w)
		return
	}

	if !h.sink.Enqueue(ev) {
		http.Error(w, "not accepting events", http.StatusServiceUnavailable)
		return
	}

	writeEmpty(w)
}

func writeEmpty(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{}"))
}

// VerifySignature checks the hex HMAC-SHA256 of the exact body bytes against
// the shared secret.
func VerifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseEvent validates the wire payload and returns the event in its
// internal form. Events with an unexpected name or a missing required field
// are rejected as malformed.
func ParseEvent(body []byte) (types.ConfirmationEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return types.ConfirmationEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if env.EventName != constants.EventRecordAppended {
		return types.ConfirmationEvent{}, fmt.Errorf("%w: unexpected event name %q", ErrMalformedEvent, env.EventName)
	}

	switch {
	case env.TxHash == "":
		return types.ConfirmationEvent{}, fmt.Errorf("%w: missing txHash", ErrMalformedEvent)
	case env.EventData.ProjectID == "":
		return types.ConfirmationEvent{}, fmt.Errorf("%w: missing projectId", ErrMalformedEvent)
	case env.EventData.PayloadCommitID == "":
		return types.ConfirmationEvent{}, fmt.Errorf("%w: missing payloadCommitId", ErrMalformedEvent)
	case env.EventData.SnapshotCID == "":
		return types.ConfirmationEvent{}, fmt.Errorf("%w: missing snapshotCid", ErrMalformedEvent)
	case env.EventData.TentativeBlockHeight <= 0:
		return types.ConfirmationEvent{}, fmt.Errorf("%w: invalid tentativeBlockHeight %d", ErrMalformedEvent, env.EventData.TentativeBlockHeight)
	}

	return types.ConfirmationEvent{
		TxID:            env.TxHash,
		ProjectID:       env.EventData.ProjectID,
		PayloadCommitID: env.EventData.PayloadCommitID,
		SnapshotCID:     env.EventData.SnapshotCID,
		TentativeHeight: env.EventData.TentativeBlockHeight,
		Timestamp:       env.EventData.Timestamp,
	}, nil
}
