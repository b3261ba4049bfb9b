/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types

import "encoding/json"

// SnapshotType marks the storage class of a block's payload reference.
const SnapshotType = "snapshot"

// BlockData is the payload reference carried inside a DagBlock.
type BlockData struct {
	SnapshotCID string `json:"cid"`
	Type        string `json:"type"`
}

// DagBlock is one immutable entry of a project's commitment chain. Its
// identity is the content id of its canonical serialized bytes, so any
// alteration to a persisted block breaks every descendant's PrevID link.
type DagBlock struct {
	Height    int64     `json:"height"`
	PrevID    string    `json:"prevCid"`
	Data      BlockData `json:"data"`
	TxID      string    `json:"txHash"`
	Timestamp int64     `json:"timestamp"`
}

// CanonicalBytes serializes the block with a stable field order. These are
// the bytes submitted to the content store; the returned content id is the
// block's identity.
func (b *DagBlock) CanonicalBytes() ([]byte, error) {
	return json.Marshal(b)
}

// ConfirmationEvent is the validated form of a ledger confirmation callback.
type ConfirmationEvent struct {
	TxID            string
	ProjectID       string
	PayloadCommitID string
	SnapshotCID     string
	TentativeHeight int64
	Timestamp       int64
}

// FieldChange records one field-level delta between consecutive payloads.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// DiffMap is the full field-level delta between two payload snapshots.
type DiffMap map[string]FieldChange

// DiffSide identifies one end of a diffed block transition.
type DiffSide struct {
	Height     int64  `json:"height"`
	PayloadCID string `json:"payloadCid"`
	DagCID     string `json:"dagCid"`
	TxID       string `json:"txHash,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// DiffSnapshot is the cached delta record for one block transition where the
// payload content changed.
type DiffSnapshot struct {
	Cur  DiffSide `json:"cur"`
	Prev DiffSide `json:"prev"`
	Diff DiffMap  `json:"diff"`
}
