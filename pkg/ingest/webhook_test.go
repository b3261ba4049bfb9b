/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openanchor-labs/dag-anchor/pkg/config"
	"github.com/openanchor-labs/dag-anchor/pkg/constants"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "hook-secret"

// recordingSink collects enqueued events.
type recordingSink struct {
	events []types.ConfirmationEvent
	reject bool
}

func (s *recordingSink) Enqueue(ev types.ConfirmationEvent) bool {
	if s.reject {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

const validBody = `{
	"event_name": "RecordAppended",
	"txHash": "0xabc",
	"event_data": {
		"projectId": "p1",
		"payloadCommitId": "commit-1",
		"snapshotCid": "cid-1",
		"tentativeBlockHeight": 1,
		"timestamp": 1700000000
	}
}`

func post(t *testing.T, h *Handler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/event", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(constants.HookSignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestValidSignedEventIsEnqueued(t *testing.T) {
	sink := &recordingSink{}
	h := NewHandler(config.WebhookConfig{Secret: testSecret, ValidateSignature: true}, sink)

	w := post(t, h, validBody, sign(validBody, testSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, "0xabc", ev.TxID)
	assert.Equal(t, "p1", ev.ProjectID)
	assert.Equal(t, "commit-1", ev.PayloadCommitID)
	assert.Equal(t, "cid-1", ev.SnapshotCID)
	assert.Equal(t, int64(1), ev.TentativeHeight)
	assert.Equal(t, int64(1700000000), ev.Timestamp)
}

func TestBadSignatureIsDroppedSilently(t *testing.T) {
	sink := &recordingSink{}
	h := NewHandler(config.WebhookConfig{Secret: testSecret, ValidateSignature: true}, sink)

	w := post(t, h, validBody, sign(validBody, "wrong-secret"))

	// Still 200: a forged sender learns nothing, and nothing was enqueued.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sink.events)
}

func TestMissingSignatureIsDropped(t *testing.T) {
	sink := &recordingSink{}
	h := NewHandler(config.WebhookConfig{Secret: testSecret, ValidateSignature: true}, sink)

	w := post(t, h, validBody, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sink.events)
}

func TestValidationDisabledSkipsSignatureCheck(t *testing.T) {
	sink := &recordingSink{}
	h := NewHandler(config.WebhookConfig{ValidateSignature: false}, sink)

	w := post(t, h, validBody, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, sink.events, 1)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	cases := map[string]string{
		"invalid json":       `{not json`,
		"wrong event name":   `{"event_name":"SomethingElse","txHash":"0xabc","event_data":{"projectId":"p1","payloadCommitId":"c","snapshotCid":"s","tentativeBlockHeight":1}}`,
		"missing txHash":     `{"event_name":"RecordAppended","event_data":{"projectId":"p1","payloadCommitId":"c","snapshotCid":"s","tentativeBlockHeight":1}}`,
		"missing projectId":  `{"event_name":"RecordAppended","txHash":"0xabc","event_data":{"payloadCommitId":"c","snapshotCid":"s","tentativeBlockHeight":1}}`,
		"zero height":        `{"event_name":"RecordAppended","txHash":"0xabc","event_data":{"projectId":"p1","payloadCommitId":"c","snapshotCid":"s","tentativeBlockHeight":0}}`,
		"missing event_data": `{"event_name":"RecordAppended","txHash":"0xabc"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			sink := &recordingSink{}
			h := NewHandler(config.WebhookConfig{ValidateSignature: false}, sink)

			w := post(t, h, body, "")

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, sink.events)
		})
	}
}

func TestRejectedEnqueueReturnsUnavailable(t *testing.T) {
	sink := &recordingSink{reject: true}
	h := NewHandler(config.WebhookConfig{ValidateSignature: false}, sink)

	w := post(t, h, validBody, "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestParseEventErrors(t *testing.T) {
	_, err := ParseEvent([]byte(`{"event_name":"Other"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
