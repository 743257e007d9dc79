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
// Package config loads configuration from config.yaml and environment variables.
package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdheller/discourse/internal/config"
	"github.com/mdheller/discourse/internal/models"
	"github.com/mdheller/discourse/internal/receiver"
)

// stubForum answers the lookups a new-topic attempt needs and records
// created posts. Unknown routes answer 404.
type stubForum struct {
	mu        sync.Mutex
	posts     []map[string]any
	destroyed int
}

func (f *stubForum) router() http.Handler {
	send := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	r := chi.NewRouter()
	r.Get("/receiver/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/receiver/screened", func(w http.ResponseWriter, _ *http.Request) {
		send(w, http.StatusOK, map[string]bool{"screened": false})
	})
	r.Get("/receiver/identities", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("email") != "alice@example.com" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		send(w, http.StatusOK, models.Identity{ID: 1, Address: "alice@example.com", Active: true, TrustLevel: 2})
	})
	r.Post("/receiver/identities/staged", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		send(w, http.StatusCreated, models.Identity{ID: 50, Address: in["email"], Staged: true})
	})
	r.Get("/receiver/identities/{id}/content", func(w http.ResponseWriter, _ *http.Request) {
		send(w, http.StatusOK, map[string]int{"post_count": 0})
	})
	r.Delete("/receiver/identities/{id}", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		f.destroyed++
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/receiver/categories", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("email") != "support@forum.test" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		send(w, http.StatusOK, models.Category{ID: 3, Name: "Support", Address: "support@forum.test", AllowStrangers: true})
	})
	r.Post("/receiver/posts", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		f.posts = append(f.posts, in)
		f.mu.Unlock()
		send(w, http.StatusCreated, models.Post{ID: 11, TopicID: 12, PostNumber: 1})
	})
	return r
}

func testConfig(t *testing.T, redisURL, forumURL string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
audit:
  driver: sqlite
  dsn: "` + filepath.Join(t.TempDir(), "audit.db") + `"
forum:
  base_url: ` + forumURL + `
  requests_per_second: 100
receiver:
  reply_by_email_address: "reply+%{reply_key}@forum.test"
`))
	require.NoError(t, err)
	cfg.RedisURL = redisURL
	return cfg
}

func TestBuild_ProcessesMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	forum := &stubForum{}
	srv := httptest.NewServer(forum.router())
	defer srv.Close()

	cfg := testConfig(t, "redis://"+mr.Addr()+"/0", srv.URL)
	ctx := context.Background()

	a, err := Build(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	for name, c := range a.Checks {
		assert.NoError(t, c.Ping(ctx), name)
	}

	raw := []byte("Message-ID: <wired@example.com>\r\n" +
		"From: Alice <alice@example.com>\r\n" +
		"To: support@forum.test\r\n" +
		"Subject: Printer on fire\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"It is still burning.\r\n")

	outcome, err := a.Receiver.Process(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, outcome.Kind)
	assert.Equal(t, int64(11), outcome.PostID)

	require.Len(t, forum.posts, 1)
	assert.Equal(t, "Printer on fire", forum.posts[0]["title"])
	assert.EqualValues(t, 3, forum.posts[0]["category"])

	events, err := mr.List(cfg.OutcomesQueue)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	again, err := a.Receiver.Process(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDuplicate, again.Kind)
	assert.Len(t, forum.posts, 1)
}

func TestBuild_Rejection(t *testing.T) {
	mr := miniredis.RunT(t)
	forum := &stubForum{}
	srv := httptest.NewServer(forum.router())
	defer srv.Close()

	a, err := Build(context.Background(), testConfig(t, "redis://"+mr.Addr()+"/0", srv.URL))
	require.NoError(t, err)
	defer a.Close()

	raw := []byte("From: stranger@example.com\r\nTo: nowhere@forum.test\r\nSubject: hi\r\n\r\nhello\r\n")
	_, err = a.Receiver.Process(context.Background(), raw)
	assert.ErrorIs(t, err, receiver.ErrBadDestinationAddress)
	assert.Equal(t, 1, forum.destroyed, "staged sender rolled back")
}

func TestBuild_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Build(context.Background(), testConfig(t, "redis://"+addr+"/0", "http://127.0.0.1:1"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	assert.True(t, NewLogger("debug").Enabled(context.Background(), -4))
	assert.False(t, NewLogger("bogus").Enabled(context.Background(), -4))
}
