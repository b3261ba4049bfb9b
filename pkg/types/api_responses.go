/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types

import "encoding/json"

// ----------------------------
// API Response Types
// ----------------------------

type CommitResponse struct {
	SnapshotCID     string `json:"cid"`
	TentativeHeight int64  `json:"tentativeHeight"`
	PayloadChanged  bool   `json:"payloadChanged"`
}

type HeightResponse struct {
	Height int64 `json:"height"`
}

type BlockResponse struct {
	DagCID         string          `json:"dagCid"`
	Block          DagBlock        `json:"block"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	PayloadChanged *bool           `json:"payloadChanged,omitempty"`
	Diff           DiffMap         `json:"diff,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
