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

package notes

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLStore persists notes in a SQL database (sqlite, postgres, mysql).
// Writes are last-writer-wins at the row level.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore creates the store and its schema.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate notes schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	bodyType := "TEXT"
	if s.driver == "mysql" {
		bodyType = "MEDIUMTEXT"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS notes (
			id              VARCHAR(64)  PRIMARY KEY,
			title           VARCHAR(512) NOT NULL,
			content         %s           NOT NULL,
			markdown_source %s           NOT NULL,
			plain_text      %s           NOT NULL,
			category_id     VARCHAR(64)  NOT NULL DEFAULT '',
			deleted         INTEGER      NOT NULL DEFAULT 0,
			created_at      TIMESTAMP    NOT NULL,
			updated_at      TIMESTAMP    NOT NULL
		)`, bodyType, bodyType, bodyType),
		`CREATE TABLE IF NOT EXISTS categories (
			id   VARCHAR(64)  PRIMARY KEY,
			name VARCHAR(255) NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

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

// Create inserts a new note with a generated timestamped id.
func (s *SQLStore) Create(ctx context.Context, title, content, markdownSource, categoryID string) (*Note, error) {
	now := time.Now().UTC()
	n := &Note{
		ID:             NewNoteID(),
		Title:          title,
		Content:        content,
		MarkdownSource: markdownSource,
		PlainText:      HTMLToEditableText(content),
		CategoryID:     categoryID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO notes (id, title, content, markdown_source, plain_text, category_id, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`),
		n.ID, n.Title, n.Content, n.MarkdownSource, n.PlainText, n.CategoryID, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}
	return n, nil
}

// Get returns a note by id, or nil when absent or trashed.
func (s *SQLStore) Get(ctx context.Context, id string) (*Note, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, title, content, markdown_source, plain_text, category_id, created_at, updated_at
		 FROM notes WHERE id = ? AND deleted = 0`), id)

	n := &Note{}
	err := row.Scan(&n.ID, &n.Title, &n.Content, &n.MarkdownSource, &n.PlainText, &n.CategoryID, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read note: %w", err)
	}
	return n, nil
}

// Update applies a partial update; plain text is kept in sync with content.
func (s *SQLStore) Update(ctx context.Context, id string, req *UpdateRequest) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if req.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *req.Title)
	}
	if req.Content != nil {
		sets = append(sets, "content = ?", "plain_text = ?")
		args = append(args, *req.Content, HTMLToEditableText(*req.Content))
	}
	if req.MarkdownSource != nil {
		sets = append(sets, "markdown_source = ?")
		args = append(args, *req.MarkdownSource)
	}
	if req.CategoryID != nil {
		sets = append(sets, "category_id = ?")
		args = append(args, *req.CategoryID)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, s.rebind(
		fmt.Sprintf(`UPDATE notes SET %s WHERE id = ? AND deleted = 0`, strings.Join(sets, ", "))), args...)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("note %s not found", id)
	}
	return nil
}

// Delete moves a note to trash.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE notes SET deleted = 1, updated_at = ? WHERE id = ? AND deleted = 0`),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("note %s not found", id)
	}
	return nil
}

// ListRecent returns the most recently updated notes.
func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]*Note, error) {
	if limit <= 0 {
		limit = 8
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, title, content, markdown_source, plain_text, category_id, created_at, updated_at
		 FROM notes WHERE deleted = 0 ORDER BY updated_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Note
	for rows.Next() {
		n := &Note{}
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.MarkdownSource, &n.PlainText, &n.CategoryID, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Categories returns all categories.
func (s *SQLStore) Categories(ctx context.Context) ([]*Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Category
	for rows.Next() {
		c := &Category{}
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCategory assigns or clears (empty categoryID) a note's category.
func (s *SQLStore) SetCategory(ctx context.Context, id, categoryID string) error {
	return s.Update(ctx, id, &UpdateRequest{CategoryID: &categoryID})
}
