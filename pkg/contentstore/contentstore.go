/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package contentstore provides access to the content-addressed store that
// holds payload snapshots and serialized chain blocks. Identical bytes always
// yield the identical content id.
package contentstore

import "context"

// Store is the minimal surface the engine needs from the content store.
type Store interface {
	// AddJSON stores v as canonical JSON and returns its content id.
	AddJSON(ctx context.Context, v any) (string, error)
	// PutDAG stores raw serialized bytes as a linked-data node and returns
	// its content id.
	PutDAG(ctx context.Context, raw []byte) (string, error)
	// GetDAG fetches a linked-data node by id and decodes it into out.
	GetDAG(ctx context.Context, id string, out any) error
	// Cat returns the raw bytes stored under id.
	Cat(ctx context.Context, id string) ([]byte, error)
}
