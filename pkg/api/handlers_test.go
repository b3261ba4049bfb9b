/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openanchor-labs/dag-anchor/pkg/chain"
	"github.com/openanchor-labs/dag-anchor/pkg/commit"
	"github.com/openanchor-labs/dag-anchor/pkg/contentstore"
	"github.com/openanchor-labs/dag-anchor/pkg/diff"
	"github.com/openanchor-labs/dag-anchor/pkg/statestore"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	store   *statestore.Memory
	content *contentstore.Memory
	builder *chain.Builder
	api     *API
}

type stubLedger struct{ n int }

func (s *stubLedger) Submit(context.Context, string, string) (string, error) {
	s.n++
	return fmt.Sprintf("tx-%d", s.n), nil
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store := statestore.NewMemory()
	content := contentstore.NewMemory()
	differ := diff.New(store, content)
	builder := chain.NewBuilder(store, content, 5*time.Second)
	initiator := commit.NewInitiator(store, content, &stubLedger{}, time.Second)

	return &apiEnv{
		store:   store,
		content: content,
		builder: builder,
		api:     NewAPI(store, content, differ, initiator, http.NotFoundHandler()),
	}
}

// buildChain stores the payloads and builds one confirmed block per payload.
func (env *apiEnv) buildChain(t *testing.T, projectID string, payloads []map[string]any) {
	t.Helper()
	ctx := context.Background()
	for i, payload := range payloads {
		cid, err := env.content.AddJSON(ctx, payload)
		require.NoError(t, err)
		_, _, err = env.builder.BuildBlock(ctx, projectID, int64(i+1), cid,
			fmt.Sprintf("tx-%d", i+1), 1700000000+int64(i))
		require.NoError(t, err)
	}
}

func get(t *testing.T, a *API, target string, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	w := httptest.NewRecorder()
	switch {
	case strings.HasSuffix(target, "/payloads/height"):
		a.GetHeight(w, req)
	case strings.Contains(target, "/payloads"):
		a.GetPayloadsInRange(w, req)
	case strings.HasSuffix(target, "/data"):
		a.GetBlockDataAtHeight(w, req)
	default:
		a.GetBlockAtHeight(w, req)
	}
	return w
}

func TestGetHeight(t *testing.T) {
	env := newAPIEnv(t)
	env.buildChain(t, "p1", []map[string]any{{"v": 1}, {"v": 2}})

	w := get(t, env.api, "/projects/p1/payloads/height", map[string]string{"project_id": "p1"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp types.HeightResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(2), resp.Height)
}

func TestGetHeightEmptyProject(t *testing.T) {
	env := newAPIEnv(t)

	w := get(t, env.api, "/projects/p1/payloads/height", map[string]string{"project_id": "p1"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp types.HeightResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Zero(t, resp.Height)
}

func TestGetBlockAtHeight(t *testing.T) {
	env := newAPIEnv(t)
	env.buildChain(t, "p1", []map[string]any{{"v": 1}, {"v": 2}})

	w := get(t, env.api, "/projects/p1/payload/2", map[string]string{
		"project_id": "p1", "height": "2",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp types.BlockResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.DagCID)
	assert.Equal(t, int64(2), resp.Block.Height)
	assert.NotEmpty(t, resp.Block.PrevID)
	require.NotNil(t, resp.PayloadChanged)
	assert.True(t, *resp.PayloadChanged)
	assert.Contains(t, resp.Diff, "v")
	assert.Nil(t, resp.Payload)
}

func TestGetBlockAtHeightNotFound(t *testing.T) {
	env := newAPIEnv(t)
	env.buildChain(t, "p1", []map[string]any{{"v": 1}})

	w := get(t, env.api, "/projects/p1/payload/5", map[string]string{
		"project_id": "p1", "height": "5",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBlockAtHeightInvalid(t *testing.T) {
	env := newAPIEnv(t)

	w := get(t, env.api, "/projects/p1/payload/abc", map[string]string{
		"project_id": "p1", "height": "abc",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBlockDataAtHeight(t *testing.T) {
	env := newAPIEnv(t)
	env.buildChain(t, "p1", []map[string]any{{"v": 1}})

	w := get(t, env.api, "/projects/p1/payload/1/data", map[string]string{
		"project_id": "p1", "height": "1",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp types.BlockResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.JSONEq(t, `{"v":1}`, string(resp.Payload))
}

func TestGetPayloadsInRange(t *testing.T) {
	env := newAPIEnv(t)
	env.buildChain(t, "p1", []map[string]any{{"v": 1}, {"v": 1}, {"v": 2}})

	w := get(t, env.api, "/projects/p1/payloads?from_height=1&to_height=3", map[string]string{
		"project_id": "p1",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp []types.BlockResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp, 3)

	// Newest first.
	assert.Equal(t, int64(3), resp[0].Block.Height)
	assert.Equal(t, int64(1), resp[2].Block.Height)

	// Height 3 changed the payload, height 2 repeated it.
	require.NotNil(t, resp[0].PayloadChanged)
	assert.True(t, *resp[0].PayloadChanged)
	require.NotNil(t, resp[1].PayloadChanged)
	assert.False(t, *resp[1].PayloadChanged)
	assert.Nil(t, resp[2].PayloadChanged)
}

func TestGetPayloadsInRangeInvalidRanges(t *testing.T) {
	env := newAPIEnv(t)
	env.buildChain(t, "p1", []map[string]any{{"v": 1}, {"v": 2}})

	cases := map[string]string{
		"beyond confirmed height": "/projects/p1/payloads?from_height=1&to_height=10",
		"from greater than to":    "/projects/p1/payloads?from_height=2&to_height=1",
		"non-numeric from_height": "/projects/p1/payloads?from_height=abc&to_height=2",
		"non-numeric to_height":   "/projects/p1/payloads?to_height=xyz",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			w := get(t, env.api, target, map[string]string{"project_id": "p1"})

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp types.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestGetPayloadsInRangeWithData(t *testing.T) {
	env := newAPIEnv(t)
	env.buildChain(t, "p1", []map[string]any{{"v": 1}, {"v": 2}})

	w := get(t, env.api, "/projects/p1/payloads?from_height=1&to_height=2&data=true", map[string]string{
		"project_id": "p1",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp []types.BlockResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp, 2)
	assert.JSONEq(t, `{"v":2}`, string(resp[0].Payload))
	assert.JSONEq(t, `{"v":1}`, string(resp[1].Payload))
}

func TestGetDiffSnapshots(t *testing.T) {
	env := newAPIEnv(t)
	env.buildChain(t, "p1", []map[string]any{{"v": 1}, {"v": 2}, {"v": 3}})
	ctx := context.Background()
	require.NoError(t, env.store.AddDiffSnapshot(ctx, "p1", 2, []byte(`{"h":2}`)))
	require.NoError(t, env.store.AddDiffSnapshot(ctx, "p1", 3, []byte(`{"h":3}`)))

	req := httptest.NewRequest("GET", "/projects/p1/payloads/cachedDiffs", nil)
	req.SetPathValue("project_id", "p1")
	w := httptest.NewRecorder()
	env.api.GetDiffSnapshots(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp []json.RawMessage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp, 2)
	// Newest first.
	assert.JSONEq(t, `{"h":3}`, string(resp[0]))
	assert.JSONEq(t, `{"h":2}`, string(resp[1]))
}

func TestGetLatestDiffs(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.SetLatestDiff(ctx, "p1", []byte(`{"h":5}`)))
	require.NoError(t, env.store.SetLatestDiff(ctx, "p2", []byte(`{"h":9}`)))

	req := httptest.NewRequest("GET", "/payloads/cachedDiffs/latest", nil)
	w := httptest.NewRecorder()
	env.api.GetLatestDiffs(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp, 2)
	assert.JSONEq(t, `{"h":5}`, string(resp["p1"]))
	assert.JSONEq(t, `{"h":9}`, string(resp["p2"]))
}

func TestCommitEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	body := `{"projectId":"p1","payload":{"v":1}}`
	req := httptest.NewRequest("POST", "/commit", strings.NewReader(body))
	w := httptest.NewRecorder()
	env.api.Commit(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp types.CommitResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.SnapshotCID)
	assert.Equal(t, int64(1), resp.TentativeHeight)
}

func TestCommitEndpointRejectsBadBody(t *testing.T) {
	env := newAPIEnv(t)

	for name, body := range map[string]string{
		"invalid json":    `{`,
		"missing project": `{"payload":{"v":1}}`,
		"missing payload": `{"projectId":"p1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/commit", strings.NewReader(body))
			w := httptest.NewRecorder()
			env.api.Commit(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHealthHandler(t *testing.T) {
	env := newAPIEnv(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	env.api.HealthHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRouterWiresEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	env.buildChain(t, "p1", []map[string]any{{"v": 1}})
	srv := httptest.NewServer(env.api.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/projects/p1/payloads/height")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var hr types.HeightResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hr))
	assert.Equal(t, int64(1), hr.Height)
}
