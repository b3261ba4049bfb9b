/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package commit accepts new payloads, stores them in the content store,
// allocates a tentative chain height and submits the commitment to the
// ledger. The response is optimistic: confirmation arrives later via the
// webhook, or never.
package commit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/openanchor-labs/dag-anchor/pkg/contentstore"
	"github.com/openanchor-labs/dag-anchor/pkg/ledger"
	"github.com/openanchor-labs/dag-anchor/pkg/logging"
	"github.com/openanchor-labs/dag-anchor/pkg/statestore"
	"github.com/openanchor-labs/dag-anchor/pkg/types"
)

var logger = logging.New("commit")

// Receipt is returned to the caller immediately, before any confirmation.
type Receipt struct {
	SnapshotCID     string
	PayloadCommitID string
	TentativeHeight int64
	PayloadChanged  bool
}

// Initiator implements the optimistic commit path.
type Initiator struct {
	store         statestore.Store
	content       contentstore.Store
	ledger        ledger.Ledger
	submitTimeout time.Duration
}

func NewInitiator(store statestore.Store, content contentstore.Store, lg ledger.Ledger, submitTimeout time.Duration) *Initiator {
	if submitTimeout <= 0 {
		submitTimeout = 5 * time.Second
	}
	return &Initiator{
		store:         store,
		content:       content,
		ledger:        lg,
		submitTimeout: submitTimeout,
	}
}

// Submit stores the payload, allocates the next tentative height for the
// project and submits the commitment to the ledger. The tentative height is
// returned even when the ledger submission fails; in that case no pending
// record is created, so a confirmation for it can never arrive and the caller
// discovers non-confirmation only by polling.
func (i *Initiator) Submit(ctx context.Context, projectID string, payload map[string]any) (*Receipt, error) {
	snapshotCID, err := i.content.AddJSON(ctx, payload)
	if err != nil {
		return nil, err
	}

	changed, err := i.payloadChanged(ctx, projectID, snapshotCID)
	if err != nil {
		logger.Warnf("project %s: could not compare against previous payload: %v", projectID, err)
	}

	// Two concurrent submissions for the same project must never receive the
	// same tentative height; allocation is a single atomic increment.
	height, err := i.store.AllocateTentativeHeight(ctx, projectID)
	if err != nil {
		return nil, err
	}

	commitID := uuid.NewString()
	receipt := &Receipt{
		SnapshotCID:     snapshotCID,
		PayloadCommitID: commitID,
		TentativeHeight: height,
		PayloadChanged:  changed,
	}

	token := snapshotToken(snapshotCID)

	submitCtx, cancel := context.WithTimeout(ctx, i.submitTimeout)
	defer cancel()

	txID, err := i.ledger.Submit(submitCtx, snapshotCID, token)
	if err != nil {
		// Accepted trade-off: the caller keeps the allocated height, but
		// without a pending record this commit can never confirm.
		logger.Errorf("project %s: ledger submission for height %d failed: %v", projectID, height, err)
		return receipt, nil
	}

	if err := i.store.AddPendingTx(ctx, projectID, txID, height); err != nil {
		return receipt, err
	}
	if err := i.store.SaveEvent(ctx, commitID, statestore.EventRecord{
		ProjectID:       projectID,
		TxID:            txID,
		SnapshotCID:     snapshotCID,
		TentativeHeight: height,
		Timestamp:       time.Now().Unix(),
	}); err != nil {
		return receipt, err
	}

	logger.Infof("project %s: committed snapshot %s at tentative height %d, tx %s",
		projectID, snapshotCID, height, txID)

	return receipt, nil
}

// payloadChanged reports whether the new snapshot's content id differs from
// the one referenced by the project's latest block.
func (i *Initiator) payloadChanged(ctx context.Context, projectID, snapshotCID string) (bool, error) {
	lastBlockID, err := i.store.LastBlockID(ctx, projectID)
	if err != nil || lastBlockID == "" {
		return false, err
	}

	var last types.DagBlock
	if err := i.content.GetDAG(ctx, lastBlockID, &last); err != nil {
		return false, err
	}
	return last.Data.SnapshotCID != snapshotCID, nil
}

// snapshotToken is the content-authentication token submitted alongside the
// content id.
func snapshotToken(snapshotCID string) string {
	snap := types.BlockData{SnapshotCID: snapshotCID, Type: types.SnapshotType}
	raw, _ := json.Marshal(snap)
	sum := sha256.Sum256(raw)
	return "0x" + hex.EncodeToString(sum[:])
}
