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

// Package knowledge provides the semantic note index backing the
// search_knowledge tool. The index is embedded (chromem) and embeddings are
// produced through the LLM provider contract with tight timeouts: indexing
// runs as fire-and-forget background work and never blocks note CRUD.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/origin/pkg/config"
	"github.com/kadirpekel/origin/pkg/notes"
)

// Embedder produces embedding vectors. Satisfied by llms.Provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Result is one search hit.
type Result struct {
	ID      string
	Title   string
	Content string
	Score   float32
}

// Index is the semantic note index.
type Index struct {
	mu         sync.Mutex
	collection *chromem.Collection
	topK       int
}

// NewIndex opens (or creates) the collection.
func NewIndex(cfg *config.KnowledgeConfig, embedder Embedder) (*Index, error) {
	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open knowledge db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("embedder returned no vectors")
		}
		return vecs[0], nil
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge collection: %w", err)
	}
	return &Index{collection: collection, topK: cfg.TopK}, nil
}

// UpsertNote indexes one note synchronously.
func (i *Index) UpsertNote(ctx context.Context, n *notes.Note) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	content := notes.EditableText(n)
	return i.collection.AddDocument(ctx, chromem.Document{
		ID:       n.ID,
		Content:  n.Title + "\n" + content,
		Metadata: map[string]string{"title": n.Title},
	})
}

// UpsertNoteAsync indexes one note in the background with a bounded
// deadline. Failures are logged, never propagated to the caller.
func (i *Index) UpsertNoteAsync(n *notes.Note) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := i.UpsertNote(ctx, n); err != nil {
			slog.Warn("Failed to index note", "note_id", n.ID, "error", err)
		}
	}()
}

// RemoveNote drops a note from the index.
func (i *Index) RemoveNote(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.collection.Delete(ctx, nil, nil, id)
}

// Search runs a semantic query.
func (i *Index) Search(ctx context.Context, query string, topK int) ([]*Result, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if topK <= 0 {
		topK = i.topK
	}
	// chromem rejects nResults larger than the collection.
	if count := i.collection.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	hits, err := i.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("knowledge query failed: %w", err)
	}
	out := make([]*Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, &Result{
			ID:      h.ID,
			Title:   h.Metadata["title"],
			Content: h.Content,
			Score:   h.Similarity,
		})
	}
	return out, nil
}
