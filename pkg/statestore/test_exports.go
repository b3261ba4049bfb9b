/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openanchor-labs/dag-anchor/pkg/statestore/dbtest"
	"github.com/stretchr/testify/require"
)

// DatabaseTestEnv provides a test database environment.
type DatabaseTestEnv struct {
	Pool  *pgxpool.Pool
	Store *Postgres
	tc    *dbtest.TestContainer
}

// NewDatabaseTestEnv creates a new test environment backed by a PostgreSQL
// testcontainer (or a local instance when DB_DEPLOYMENT=local). The schema is
// applied automatically and cleanup is registered with t.Cleanup().
func NewDatabaseTestEnv(t *testing.T) *DatabaseTestEnv {
	t.Helper()

	tc := dbtest.PrepareTestEnv(t)

	store := NewPostgresFromPool(tc.Pool)
	err := store.InitSchema(context.Background())
	require.NoError(t, err, "failed to apply schema")

	env := &DatabaseTestEnv{
		Pool:  tc.Pool,
		Store: store,
		tc:    tc,
	}

	t.Cleanup(func() {
		tc.Close(t)
	})

	return env
}
