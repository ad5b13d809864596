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

// Package notes provides the note store the agent tools operate on.
//
// Notes carry three renditions of their body: the editor's HTML content,
// the markdown source it was generated from, and a whitespace-collapsed
// plain text used for previews. Edits always prefer markdown source as the
// baseline; plain text destroys structure.
package notes

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
)

// Note is one stored note.
type Note struct {
	ID             string
	Title          string
	Content        string // HTML rendition
	MarkdownSource string
	PlainText      string
	CategoryID     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Category is one organizational bucket.
type Category struct {
	ID   string
	Name string
}

// UpdateRequest is a partial note update; nil fields are left unchanged.
type UpdateRequest struct {
	Title          *string
	Content        *string
	MarkdownSource *string
	CategoryID     *string
}

// Store is the CRUD contract the tools depend on.
type Store interface {
	Create(ctx context.Context, title, content, markdownSource, categoryID string) (*Note, error)
	Get(ctx context.Context, id string) (*Note, error)
	Update(ctx context.Context, id string, req *UpdateRequest) error
	Delete(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]*Note, error)
	Categories(ctx context.Context) ([]*Category, error)
	SetCategory(ctx context.Context, id, categoryID string) error
}

// NewNoteID generates a timestamped note id: millisecond epoch, dash,
// 9 random hex chars. Matches the editor's id shape.
func NewNoteID() string {
	buf := make([]byte, 5)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf)[:9])
}

// EditableText returns the best editing baseline for a note: markdown
// source when present, else a readable text rendition of the HTML.
func EditableText(n *Note) string {
	if n.MarkdownSource != "" {
		return n.MarkdownSource
	}
	if text := HTMLToEditableText(n.Content); text != "" {
		return text
	}
	return n.PlainText
}

var (
	brPattern    = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockPattern = regexp.MustCompile(`(?i)</(p|div|li|tr|h[1-6]|blockquote|pre|table|ul|ol)>`)
	tagPattern   = regexp.MustCompile(`<[^>]+>`)
	spacePattern = regexp.MustCompile(`[ \t\f\v]+`)
	blankPattern = regexp.MustCompile(`\n{3,}`)
)

// HTMLToEditableText converts stored HTML into a readable multiline text
// fallback for editing and matching. Only used when markdown source is
// missing.
func HTMLToEditableText(htmlContent string) string {
	if htmlContent == "" {
		return ""
	}
	text := brPattern.ReplaceAllString(htmlContent, "\n")
	text = blockPattern.ReplaceAllString(text, "\n")
	text = tagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spacePattern.ReplaceAllString(text, " ")
	text = blankPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
