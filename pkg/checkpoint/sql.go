// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/origin/pkg/observability"
)

// SQLStore persists checkpoints in a SQL database (sqlite, postgres, mysql).
type SQLStore struct {
	db     *sql.DB
	driver string
	locks  *threadLocks
}

// NewSQLStore creates the store and its schema.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: driver, locks: newThreadLocks()}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate checkpoint schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	stateType := "TEXT"
	if s.driver == "mysql" {
		stateType = "MEDIUMTEXT"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id     VARCHAR(128) NOT NULL,
			checkpoint_id BIGINT       NOT NULL,
			state         %s           NOT NULL,
			created_at    TIMESTAMP    NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_id)
		)`, stateType),
		`CREATE TABLE IF NOT EXISTS checkpoint_writes (
			thread_id     VARCHAR(128) NOT NULL,
			checkpoint_id BIGINT       NOT NULL,
			channel       VARCHAR(64)  NOT NULL,
			path          VARCHAR(255) NOT NULL,
			value         TEXT         NOT NULL,
			created_at    TIMESTAMP    NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Put persists a new checkpoint with a monotone id and clears any pending
// interrupts superseded by it.
func (s *SQLStore) Put(ctx context.Context, threadID string, state []byte) (int64, error) {
	unlock := s.locks.acquire(threadID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin checkpoint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	row := tx.QueryRowContext(ctx,
		s.rebind(`SELECT MAX(checkpoint_id) FROM checkpoints WHERE thread_id = ?`), threadID)
	if err := row.Scan(&latest); err != nil {
		return 0, fmt.Errorf("failed to read latest checkpoint id: %w", err)
	}
	next := latest.Int64 + 1

	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO checkpoints (thread_id, checkpoint_id, state, created_at) VALUES (?, ?, ?, ?)`),
		threadID, next, string(state), time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM checkpoint_writes WHERE thread_id = ?`), threadID); err != nil {
		return 0, fmt.Errorf("failed to clear superseded writes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	observability.CheckpointWritesTotal.Inc()
	slog.Debug("Saved checkpoint", "thread_id", threadID, "checkpoint_id", next)
	return next, nil
}

// GetLatest returns the newest checkpoint for the thread.
func (s *SQLStore) GetLatest(ctx context.Context, threadID string) (*Tuple, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT checkpoint_id, state FROM checkpoints
		 WHERE thread_id = ? ORDER BY checkpoint_id DESC LIMIT 1`), threadID)

	var t Tuple
	var state string
	if err := row.Scan(&t.CheckpointID, &state); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest checkpoint: %w", err)
	}
	t.State = []byte(state)
	return &t, nil
}

// PutInterrupt records a pending interrupt in the modern schema.
func (s *SQLStore) PutInterrupt(ctx context.Context, threadID string, w *InterruptWrite) error {
	unlock := s.locks.acquire(threadID)
	defer unlock()

	value, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode interrupt: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO checkpoint_writes (thread_id, checkpoint_id, channel, path, value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		threadID, w.CheckpointID, InterruptChannel, "", string(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert interrupt write: %w", err)
	}
	return nil
}

// PendingInterrupts lists unresolved interrupts bound to the checkpoint.
// Both schemas are supported: modern rows tag the interrupt through the
// channel column; legacy rows leave the channel empty and tag through a
// path string containing the interrupt marker.
func (s *SQLStore) PendingInterrupts(ctx context.Context, threadID string, checkpointID int64) ([]*InterruptWrite, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT value FROM checkpoint_writes
		 WHERE thread_id = ? AND checkpoint_id = ?
		   AND (channel = ? OR path LIKE ?)`),
		threadID, checkpointID, InterruptChannel, "%"+InterruptChannel+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query pending interrupts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*InterruptWrite
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		var w InterruptWrite
		if err := json.Unmarshal([]byte(value), &w); err != nil {
			slog.Warn("Skipping undecodable interrupt write", "thread_id", threadID, "error", err)
			continue
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// ClearInterrupts removes all pending interrupts for the thread.
func (s *SQLStore) ClearInterrupts(ctx context.Context, threadID string) error {
	unlock := s.locks.acquire(threadID)
	defer unlock()

	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM checkpoint_writes WHERE thread_id = ?`), threadID)
	return err
}

// Clear removes all state for the thread.
func (s *SQLStore) Clear(ctx context.Context, threadID string) error {
	unlock := s.locks.acquire(threadID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM checkpoints WHERE thread_id = ?`), threadID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM checkpoint_writes WHERE thread_id = ?`), threadID); err != nil {
		return err
	}
	return tx.Commit()
}

// Close is a no-op: the pool is owned by config.DBPool.
func (s *SQLStore) Close() error { return nil }
