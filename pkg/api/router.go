/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package api

import (
	"net/http"
)

// Router returns the HTTP handler for the API.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()

	// -------------------------
	// REST API routes
	// -------------------------
	mux.HandleFunc("GET /projects/{project_id}/payloads/height", a.GetHeight)
	mux.HandleFunc("GET /projects/{project_id}/payloads", a.GetPayloadsInRange)
	mux.HandleFunc("GET /projects/{project_id}/payload/{height}", a.GetBlockAtHeight)
	mux.HandleFunc("GET /projects/{project_id}/payload/{height}/data", a.GetBlockDataAtHeight)
	mux.HandleFunc("GET /projects/{project_id}/payloads/cachedDiffs", a.GetDiffSnapshots)
	mux.HandleFunc("GET /payloads/cachedDiffs/latest", a.GetLatestDiffs)
	mux.HandleFunc("POST /commit", a.Commit)
	mux.HandleFunc("GET /healthz", a.HealthHandler)

	// Confirmation callbacks from the anchor chain listener.
	mux.Handle("POST /event", a.ingest)

	return mux
}
