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
	"strconv"
	"time"

	"github.com/openanchor-labs/dag-anchor/pkg/commit"
	"github.com/openanchor-labs/dag-anchor/pkg/constants"
	"github.com/openanchor-labs/dag-anchor/pkg/contentstore"
	"github.com/openanchor-labs/dag-anchor/pkg/diff"
	"github.com/openanchor-labs/dag-anchor/pkg/logging"
	"github.com/openanchor-labs/dag-anchor/pkg/statestore"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
)

var logger = logging.New("api")

type API struct {
	store     statestore.Store
	content   contentstore.Store
	diffs     *diff.Engine
	initiator *commit.Initiator
	ingest    http.Handler
}

func NewAPI(store statestore.Store, content contentstore.Store, diffs *diff.Engine, initiator *commit.Initiator, ingest http.Handler) *API {
	return &API{
		store:     store,
		content:   content,
		diffs:     diffs,
		initiator: initiator,
		ingest:    ingest,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg})
}

// GetHeight returns the project's confirmed chain height.
func (a *API) GetHeight(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	height, err := a.store.ConfirmedHeight(r.Context(), projectID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, types.HeightResponse{Height: height})
}

// GetBlockAtHeight returns the single confirmed block at the given height.
func (a *API) GetBlockAtHeight(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	height, err := strconv.ParseInt(r.PathValue("height"), 10, 64)
	if err != nil || height <= 0 {
		writeError(w, "invalid height", http.StatusBadRequest)
		return
	}

	resp, err := a.blockResponse(r.Context(), projectID, height, false)
	if err != nil {
		if err == statestore.ErrNotFound {
			writeError(w, "no block at height "+strconv.FormatInt(height, 10), http.StatusNotFound)
			return
		}
		logger.Errorf("project %s: fetch block at height %d: %v", projectID, height, err)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resp)
}

// GetBlockDataAtHeight returns the block at the given height together with
// its resolved payload bytes.
func (a *API) GetBlockDataAtHeight(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	height, err := strconv.ParseInt(r.PathValue("height"), 10, 64)
	if err != nil || height <= 0 {
		writeError(w, "invalid height", http.StatusBadRequest)
		return
	}

	resp, err := a.blockResponse(r.Context(), projectID, height, true)
	if err != nil {
		if err == statestore.ErrNotFound {
			writeError(w, "no block at height "+strconv.FormatInt(height, 10), http.StatusNotFound)
			return
		}
		logger.Errorf("project %s: fetch block data at height %d: %v", projectID, height, err)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resp)
}

// GetPayloadsInRange walks confirmed blocks from to_height down to
// from_height, newest first, attaching payloadChanged and the field diff for
// each transition.
func (a *API) GetPayloadsInRange(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	confirmed, err := a.store.ConfirmedHeight(r.Context(), projectID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	to, err := parseInt64(r, "to_height", confirmed)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, err := parseInt64(r, "from_height", to-constants.DefaultRangeLimit+1)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if from < 1 {
		from = 1
	}
	withData := r.URL.Query().Get("data") == "true"

	switch {
	case to > confirmed:
		writeError(w, "to_height exceeds confirmed height", http.StatusBadRequest)
		return
	case from > to:
		writeError(w, "from_height exceeds to_height", http.StatusBadRequest)
		return
	case to-from+1 > constants.MaxRangeLimit:
		writeError(w, "range exceeds maximum of "+strconv.Itoa(constants.MaxRangeLimit), http.StatusBadRequest)
		return
	}

	entries, err := a.store.BlocksInRange(r.Context(), projectID, from, to)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make([]types.BlockResponse, 0, len(entries))
	// Newest first.
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		item, err := a.rangeItem(r.Context(), entry, withData)
		if err != nil {
			logger.Errorf("project %s: resolve block %s at height %d: %v",
				projectID, entry.BlockID, entry.Height, err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp = append(resp, item)
	}

	writeJSON(w, resp)
}

func (a *API) rangeItem(ctx context.Context, entry statestore.HeightBlockID, withData bool) (types.BlockResponse, error) {
	var blk types.DagBlock
	if err := a.content.GetDAG(ctx, entry.BlockID, &blk); err != nil {
		return types.BlockResponse{}, err
	}

	item := types.BlockResponse{DagCID: entry.BlockID, Block: blk}

	if withData {
		raw, err := a.content.Cat(ctx, blk.Data.SnapshotCID)
		if err != nil {
			return types.BlockResponse{}, err
		}
		item.Payload = json.RawMessage(raw)
	}

	if blk.PrevID != "" {
		var prev types.DagBlock
		if err := a.content.GetDAG(ctx, blk.PrevID, &prev); err != nil {
			return types.BlockResponse{}, err
		}
		changed := prev.Data.SnapshotCID != blk.Data.SnapshotCID
		item.PayloadChanged = &changed
		if changed {
			// Diff failures degrade the response, they do not fail it.
			d, err := a.diffs.GetOrCompute(ctx, prev.Data.SnapshotCID, blk.Data.SnapshotCID)
			if err != nil {
				logger.Warnf("diff %s -> %s: %v", prev.Data.SnapshotCID, blk.Data.SnapshotCID, err)
			} else {
				item.Diff = d
			}
		}
	}

	return item, nil
}

func (a *API) blockResponse(ctx context.Context, projectID string, height int64, withData bool) (types.BlockResponse, error) {
	blockID, err := a.store.BlockIDAtHeight(ctx, projectID, height)
	if err != nil {
		return types.BlockResponse{}, err
	}
	if blockID == "" {
		return types.BlockResponse{}, statestore.ErrNotFound
	}
	return a.rangeItem(ctx, statestore.HeightBlockID{Height: height, BlockID: blockID}, withData)
}

// GetDiffSnapshots returns the project's recorded diff history over a height
// range, newest first. Only transitions where the payload changed have an
// entry.
func (a *API) GetDiffSnapshots(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	confirmed, err := a.store.ConfirmedHeight(r.Context(), projectID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	to, err := parseInt64(r, "to_height", confirmed)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, err := parseInt64(r, "from_height", to-constants.DefaultRangeLimit+1)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if from < 1 {
		from = 1
	}
	if from > to {
		writeError(w, "from_height exceeds to_height", http.StatusBadRequest)
		return
	}

	snaps, err := a.store.DiffSnapshotsInRange(r.Context(), projectID, from, to)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make([]json.RawMessage, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		resp = append(resp, json.RawMessage(snaps[i]))
	}
	writeJSON(w, resp)
}

// GetLatestDiffs returns the most recent diff snapshot of every project that
// has one.
func (a *API) GetLatestDiffs(w http.ResponseWriter, r *http.Request) {
	latest, err := a.store.LatestDiffs(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make(map[string]json.RawMessage, len(latest))
	for projectID, snap := range latest {
		resp[projectID] = json.RawMessage(snap)
	}
	writeJSON(w, resp)
}

// commitRequest is the body of POST /commit.
type commitRequest struct {
	ProjectID string         `json:"projectId"`
	Payload   map[string]any `json:"payload"`
}

// Commit runs the optimistic commit path: store the payload, allocate a
// tentative height, submit the anchor transaction.
func (a *API) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" || req.Payload == nil {
		writeError(w, "projectId and payload are required", http.StatusBadRequest)
		return
	}

	receipt, err := a.initiator.Submit(r.Context(), req.ProjectID, req.Payload)
	if err != nil {
		logger.Errorf("project %s: commit failed: %v", req.ProjectID, err)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, types.CommitResponse{
		SnapshotCID:     receipt.SnapshotCID,
		TentativeHeight: receipt.TentativeHeight,
		PayloadChanged:  receipt.PayloadChanged,
	})
}

func parseInt64(r *http.Request, key string, def int64) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

type HealthResponse struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// HealthHandler implements a combined liveness/readiness check.
func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, HealthResponse{
			Status:  "unavailable",
			Details: "db ping failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, HealthResponse{Status: "ok"})
}
