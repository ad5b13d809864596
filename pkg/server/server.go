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

// Package server exposes the agent over HTTP: the streaming chat endpoint
// (SSE-framed JSON lines terminated by a [DONE] sentinel), health, and
// metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/origin/pkg/agent"
	"github.com/kadirpekel/origin/pkg/attachments"
	"github.com/kadirpekel/origin/pkg/config"
	"github.com/kadirpekel/origin/pkg/graph"
	"github.com/kadirpekel/origin/pkg/observability"
	"github.com/kadirpekel/origin/pkg/stream"
)

// chatRequest is the wire form of one turn request.
type chatRequest struct {
	Message          string                    `json:"message"`
	SessionID        string                    `json:"session_id"`
	NoteContext      string                    `json:"note_context,omitempty"`
	SelectedText     string                    `json:"selected_text,omitempty"`
	ActiveNoteID     string                    `json:"active_note_id,omitempty"`
	ActiveNoteTitle  string                    `json:"active_note_title,omitempty"`
	ContextNoteID    string                    `json:"context_note_id,omitempty"`
	ContextNoteTitle string                    `json:"context_note_title,omitempty"`
	UseKnowledge     bool                      `json:"use_knowledge,omitempty"`
	AutoAcceptWrites *bool                     `json:"auto_accept_writes,omitempty"`
	AgentMode        string                    `json:"agent_mode,omitempty"`
	Attachments      []*attachments.Attachment `json:"attachments,omitempty"`
	Resume           any                       `json:"resume,omitempty"`
	ModelProviderID  string                    `json:"model_provider_id,omitempty"`
	ModelName        string                    `json:"model_name,omitempty"`
}

// Server is the HTTP front of the agent service.
type Server struct {
	cfg     *config.Config
	service *agent.Service
	http    *http.Server
}

// New creates the server and its routes.
func New(cfg *config.Config, service *agent.Service) *Server {
	s := &Server{cfg: cfg, service: service}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Minute))

	r.Post("/api/chat/stream", s.handleChatStream)
	r.Get("/healthz", s.handleHealth)
	if cfg.Server.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	s.http = &http.Server{Addr: cfg.Server.Addr(), Handler: r}
	return s
}

// ListenAndServe runs until the context is cancelled, then shuts down
// gracefully within the configured grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		grace := time.Duration(s.cfg.Server.ShutdownGraceSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleChatStream runs one turn and streams events as SSE data lines.
// A client disconnect cancels the request context; the adapter treats that
// as clean shutdown while in-flight checkpoint writes complete.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid request: %v"}`, err), http.StatusBadRequest)
		return
	}

	autoAccept := true
	if req.AutoAcceptWrites != nil {
		autoAccept = *req.AutoAcceptWrites
	}
	turn := &agent.TurnRequest{
		Message:          req.Message,
		ThreadID:         req.SessionID,
		NoteContext:      req.NoteContext,
		SelectedText:     req.SelectedText,
		ActiveNoteID:     req.ActiveNoteID,
		ActiveNoteTitle:  req.ActiveNoteTitle,
		ContextNoteID:    req.ContextNoteID,
		ContextNoteTitle: req.ContextNoteTitle,
		UseKnowledge:     req.UseKnowledge,
		AutoAcceptWrites: autoAccept,
		AgentMode:        req.AgentMode,
		Attachments:      req.Attachments,
		Resume:           req.Resume,
		ModelProviderID:  req.ModelProviderID,
		ModelName:        req.ModelName,
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	lines, err := s.service.HandleTurn(ctx, turn, func(ctx context.Context, isResume bool, events <-chan graph.Event) <-chan []byte {
		adapter := stream.NewAdapter(s.cfg.Agent)
		adapter.IsResume = isResume
		return adapter.Pipe(ctx, events)
	})
	if err != nil {
		slog.Error("Turn failed before streaming", "error", err)
		fmt.Fprintf(w, "data: %s\n\n", stream.ErrorLine(err.Error()))
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
		return
	}

	outcome := "end"
	for line := range lines {
		if ctx.Err() != nil {
			// Client gone; drain quietly so the turn finishes persisting.
			outcome = "cancelled"
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", line)
		flusher.Flush()
	}
	if ctx.Err() == nil {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
	observability.TurnsTotal.WithLabelValues(outcome).Inc()
}
