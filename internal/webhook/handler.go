// Copyright (c) 2026 John Earle
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

// Package webhook accepts raw messages from a mail transfer agent over HTTP
// and hands them to the receiver. A message the receiver rejects is still
// answered 200 so the MTA does not retry it; only internal failures return
// 503.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/mdheller/discourse/internal/models"
	"github.com/mdheller/discourse/internal/receiver"
)

// TokenHeader carries the shared secret.
const TokenHeader = "X-Ingest-Token"

// DefaultMaxBytes caps a submitted message.
const DefaultMaxBytes = 25 << 20

// Processor runs one ingestion attempt.
type Processor interface {
	Process(ctx context.Context, raw []byte) (*models.Outcome, error)
}

// Checker is a dependency probed by the health endpoint.
type Checker interface {
	Ping(ctx context.Context) error
}

// Config configures the handler.
type Config struct {
	// Token is compared with the TokenHeader value. Empty disables the check.
	Token string
	// MaxConcurrent bounds attempts in flight.
	MaxConcurrent int64
	MaxBytes      int64
}

// Response is the JSON body returned for a submitted message.
type Response struct {
	Outcome *models.Outcome `json:"outcome"`
	Kind    string          `json:"error_kind,omitempty"`
}

// Handler serves the intake endpoints.
type Handler struct {
	proc     Processor
	checks   map[string]Checker
	token    []byte
	sem      *semaphore.Weighted
	maxBytes int64
}

// NewHandler creates a handler.
func NewHandler(proc Processor, cfg Config, checks map[string]Checker) *Handler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Handler{
		proc:     proc,
		checks:   checks,
		token:    []byte(cfg.Token),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		maxBytes: cfg.MaxBytes,
	}
}

// Routes returns the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", h.ServeHealth)
	r.With(h.authenticate).Post("/incoming", h.ServeIncoming)
	return r
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.token) > 0 && subtle.ConstantTimeCompare([]byte(r.Header.Get(TokenHeader)), h.token) != 1 {
			slog.Warn("rejected intake request with bad token", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeIncoming processes one message. The body is either the raw message
// or a form with the message in an "email" field, optionally base64.
func (h *Handler) ServeIncoming(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	raw, err := readMessage(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
			return
		}
		slog.Warn("failed to read incoming message", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.sem.Acquire(r.Context(), 1); err != nil {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	defer h.sem.Release(1)

	outcome, err := h.proc.Process(r.Context(), raw)
	resp := Response{Outcome: outcome}
	status := http.StatusOK
	if err != nil {
		kind := receiver.KindOf(err)
		resp.Kind = string(kind)
		if kind == receiver.KindInternal {
			w.Header().Set("Retry-After", "60")
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func readMessage(r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/x-www-form-urlencoded") && !strings.HasPrefix(ct, "multipart/form-data") {
		return io.ReadAll(r.Body)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}
	email := r.FormValue("email")
	if email == "" {
		return nil, errors.New("missing email field")
	}
	if r.FormValue("encoding") == "base64" {
		return base64.StdEncoding.DecodeString(email)
	}
	return []byte(email), nil
}

// ServeHealth reports 200 when every checker answers.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]string{}
	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			result[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}

// Serve starts the intake HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind intake port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("intake server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("intake server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("intake server error", "error", err)
		}
	}()

	return ready, nil
}
