/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openanchor-labs/dag-anchor/pkg/config"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool against the configured database, verifies the
// connection and applies the schema.
func NewPostgres(ctx context.Context, cfg config.DBConfig) (*Postgres, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &Postgres{pool: pool}
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresFromPool wraps an existing pool; the caller owns its lifecycle.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// InitSchema applies the embedded schema. All statements are idempotent.
func (s *Postgres) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool for health checks and shutdown.
func (s *Postgres) Pool() *pgxpool.Pool { return s.pool }

func (s *Postgres) Close() { s.pool.Close() }

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) ConfirmedHeight(ctx context.Context, projectID string) (int64, error) {
	var h int64
	err := s.pool.QueryRow(ctx,
		`SELECT confirmed_height FROM projects WHERE project_id = $1`, projectID).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return h, err
}

func (s *Postgres) TentativeHeight(ctx context.Context, projectID string) (int64, error) {
	var h int64
	err := s.pool.QueryRow(ctx,
		`SELECT tentative_height FROM projects WHERE project_id = $1`, projectID).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return h, err
}

// AllocateTentativeHeight atomically assigns the next tentative height. The
// counter never falls behind the confirmed height, so the assigned height is
// always greater than it.
func (s *Postgres) AllocateTentativeHeight(ctx context.Context, projectID string) (int64, error) {
	var h int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO projects (project_id, tentative_height) VALUES ($1, 1)
		ON CONFLICT (project_id) DO UPDATE
		SET tentative_height = GREATEST(projects.tentative_height, projects.confirmed_height) + 1
		RETURNING tentative_height`, projectID).Scan(&h)
	return h, err
}

func (s *Postgres) ResetTentativeHeight(ctx context.Context, projectID string, lastAssigned int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (project_id, tentative_height) VALUES ($1, $2)
		ON CONFLICT (project_id) DO UPDATE SET tentative_height = $2`,
		projectID, lastAssigned)
	return err
}

func (s *Postgres) RecordBlock(ctx context.Context, projectID string, height int64, blockID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Idempotent under redelivery: the block at a height is always rebuilt
	// from the same bytes, so its id cannot differ.
	if _, err := tx.Exec(ctx, `
		INSERT INTO blocks (project_id, height, block_id) VALUES ($1, $2, $3)
		ON CONFLICT (project_id, height) DO UPDATE SET block_id = $3`,
		projectID, height, blockID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO projects (project_id, confirmed_height, last_block_id, tentative_height)
		VALUES ($1, $2, $3, $2)
		ON CONFLICT (project_id) DO UPDATE SET
			confirmed_height = $2,
			last_block_id    = $3,
			tentative_height = GREATEST(projects.tentative_height, $2)`,
		projectID, height, blockID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Postgres) BlockIDAtHeight(ctx context.Context, projectID string, height int64) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT block_id FROM blocks WHERE project_id = $1 AND height = $2`,
		projectID, height).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *Postgres) LastBlockID(ctx context.Context, projectID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT last_block_id FROM projects WHERE project_id = $1`, projectID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *Postgres) BlocksInRange(ctx context.Context, projectID string, from, to int64) ([]HeightBlockID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT height, block_id FROM blocks
		WHERE project_id = $1 AND height BETWEEN $2 AND $3
		ORDER BY height`, projectID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HeightBlockID
	for rows.Next() {
		var e HeightBlockID
		if err := rows.Scan(&e.Height, &e.BlockID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) AddPendingTx(ctx context.Context, projectID, txID string, height int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_transactions (project_id, tx_id, height) VALUES ($1, $2, $3)
		ON CONFLICT (project_id, tx_id) DO UPDATE SET height = $3`,
		projectID, txID, height)
	return err
}

func (s *Postgres) PendingTxHeight(ctx context.Context, projectID, txID string) (int64, error) {
	var h int64
	err := s.pool.QueryRow(ctx,
		`SELECT height FROM pending_transactions WHERE project_id = $1 AND tx_id = $2`,
		projectID, txID).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return h, err
}

func (s *Postgres) RemovePendingTxsAt(ctx context.Context, projectID string, height int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM pending_transactions WHERE project_id = $1 AND height = $2`,
		projectID, height)
	return err
}

func (s *Postgres) PendingTxsInRange(ctx context.Context, projectID string, from, to int64) ([]PendingTx, error) {
	return s.txRange(ctx, "pending_transactions", projectID, from, to)
}

func (s *Postgres) MaxPendingTxHeight(ctx context.Context, projectID string) (int64, error) {
	var h int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(height), 0) FROM pending_transactions WHERE project_id = $1`,
		projectID).Scan(&h)
	return h, err
}

func (s *Postgres) AddDiscardedTx(ctx context.Context, projectID, txID string, height int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO discarded_transactions (project_id, tx_id, height) VALUES ($1, $2, $3)
		ON CONFLICT (project_id, tx_id) DO UPDATE SET height = $3`,
		projectID, txID, height)
	return err
}

func (s *Postgres) DiscardedTxsInRange(ctx context.Context, projectID string, from, to int64) ([]PendingTx, error) {
	return s.txRange(ctx, "discarded_transactions", projectID, from, to)
}

func (s *Postgres) txRange(ctx context.Context, table, projectID string, from, to int64) ([]PendingTx, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT tx_id, height FROM %s
		WHERE project_id = $1 AND height BETWEEN $2 AND $3
		ORDER BY height`, table), projectID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingTx
	for rows.Next() {
		var e PendingTx
		if err := rows.Scan(&e.TxID, &e.Height); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) AddPendingBlock(ctx context.Context, projectID, commitID string, height int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_blocks (project_id, commit_id, height) VALUES ($1, $2, $3)
		ON CONFLICT (project_id, commit_id) DO UPDATE SET height = $3`,
		projectID, commitID, height)
	return err
}

func (s *Postgres) PendingBlockAt(ctx context.Context, projectID string, height int64) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT commit_id FROM pending_blocks
		WHERE project_id = $1 AND height = $2
		ORDER BY commit_id LIMIT 1`, projectID, height).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

func (s *Postgres) RemovePendingBlock(ctx context.Context, projectID, commitID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM pending_blocks WHERE project_id = $1 AND commit_id = $2`,
		projectID, commitID)
	return err
}

func (s *Postgres) PendingBlockCount(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM pending_blocks WHERE project_id = $1`, projectID).Scan(&n)
	return n, err
}

func (s *Postgres) PendingBlocksInRange(ctx context.Context, projectID string, from, to int64) ([]PendingBlock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT commit_id, height FROM pending_blocks
		WHERE project_id = $1 AND height BETWEEN $2 AND $3
		ORDER BY height`, projectID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingBlock
	for rows.Next() {
		var e PendingBlock
		if err := rows.Scan(&e.PayloadCommitID, &e.Height); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) SaveEvent(ctx context.Context, commitID string, rec EventRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_records (commit_id, project_id, tx_id, snapshot_cid, height, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (commit_id) DO UPDATE SET
			tx_id = $3, snapshot_cid = $4, height = $5, ts = $6`,
		commitID, rec.ProjectID, rec.TxID, rec.SnapshotCID, rec.TentativeHeight, rec.Timestamp)
	return err
}

func (s *Postgres) Event(ctx context.Context, commitID string) (EventRecord, error) {
	var rec EventRecord
	err := s.pool.QueryRow(ctx, `
		SELECT project_id, tx_id, snapshot_cid, height, ts
		FROM event_records WHERE commit_id = $1`, commitID).
		Scan(&rec.ProjectID, &rec.TxID, &rec.SnapshotCID, &rec.TentativeHeight, &rec.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return EventRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *Postgres) DeleteEvent(ctx context.Context, commitID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM event_records WHERE commit_id = $1`, commitID)
	return err
}

func (s *Postgres) AddDiffSnapshot(ctx context.Context, projectID string, height int64, snapshot []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO diff_snapshots (project_id, height, snapshot) VALUES ($1, $2, $3)
		ON CONFLICT (project_id, height) DO UPDATE SET snapshot = $3`,
		projectID, height, snapshot)
	return err
}

func (s *Postgres) DiffSnapshotsInRange(ctx context.Context, projectID string, from, to int64) ([][]byte, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snapshot FROM diff_snapshots
		WHERE project_id = $1 AND height BETWEEN $2 AND $3
		ORDER BY height`, projectID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var snap []byte
		if err := rows.Scan(&snap); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Postgres) SetLatestDiff(ctx context.Context, projectID string, snapshot []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO latest_diffs (project_id, snapshot) VALUES ($1, $2)
		ON CONFLICT (project_id) DO UPDATE SET snapshot = $2`,
		projectID, snapshot)
	return err
}

func (s *Postgres) LatestDiffs(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx, `SELECT project_id, snapshot FROM latest_diffs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id string
		var snap []byte
		if err := rows.Scan(&id, &snap); err != nil {
			return nil, err
		}
		out[id] = snap
	}
	return out, rows.Err()
}

func (s *Postgres) CachedDiff(ctx context.Context, prevCID, curCID string) ([]byte, error) {
	var diff []byte
	err := s.pool.QueryRow(ctx,
		`SELECT diff FROM diff_cache WHERE prev_cid = $1 AND cur_cid = $2`,
		prevCID, curCID).Scan(&diff)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return diff, err
}

func (s *Postgres) CacheDiff(ctx context.Context, prevCID, curCID string, diff []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO diff_cache (prev_cid, cur_cid, diff) VALUES ($1, $2, $3)
		ON CONFLICT (prev_cid, cur_cid) DO NOTHING`,
		prevCID, curCID, diff)
	return err
}
