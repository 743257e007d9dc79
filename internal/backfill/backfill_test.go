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
// Package backfill replays archived mail from mbox files through the
package backfill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdheller/discourse/internal/models"
	"github.com/mdheller/discourse/internal/receiver"
)

// --- Mock processor ---

type mockProcessor struct {
	mu   sync.Mutex
	seen map[string]bool
	raws []string
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{seen: make(map[string]bool)}
}

// Process keys on the Subject line and reacts to markers in it.
func (m *mockProcessor) Process(_ context.Context, raw []byte) (*models.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raws = append(m.raws, string(raw))

	subject := ""
	for _, line := range strings.Split(string(raw), "\n") {
		if v, ok := strings.CutPrefix(line, "Subject: "); ok {
			subject = strings.TrimSpace(v)
		}
	}
	out := &models.Outcome{MessageID: subject}
	switch {
	case strings.Contains(subject, "reject"):
		out.Kind = models.OutcomeFailed
		return out, receiver.ErrUserNotFound
	case strings.Contains(subject, "boom"):
		out.Kind = models.OutcomeFailed
		return out, errors.New("database down")
	case m.seen[subject]:
		out.Kind = models.OutcomeDuplicate
		return out, nil
	}
	m.seen[subject] = true
	out.Kind = models.OutcomeCreated
	return out, nil
}

func writeMbox(t *testing.T, subjects ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := mbox.NewWriter(&buf)
	for i, s := range subjects {
		mw, err := w.CreateMessage("sender@example.com", time.Date(2026, 1, 2, 3, 4, i, 0, time.UTC))
		require.NoError(t, err)
		_, err = fmt.Fprintf(mw, "From: sender@example.com\nTo: support@forum.test\nSubject: %s\n\nbody %d\n", s, i)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRunReader_Counts(t *testing.T) {
	proc := newMockProcessor()
	r := NewRunner(RunnerConfig{Processor: proc, Concurrency: 1})

	data := writeMbox(t, "one", "two", "one", "please reject", "boom")
	var fr FileResult
	require.NoError(t, r.RunReader(context.Background(), bytes.NewReader(data), &fr))

	assert.Equal(t, 5, fr.Messages)
	assert.Equal(t, 2, fr.Processed)
	assert.Equal(t, 1, fr.Duplicates)
	assert.Equal(t, 1, fr.Rejected)
	assert.Equal(t, 1, fr.Errors)
	require.Len(t, proc.raws, 5)
	assert.NotContains(t, proc.raws[0], "From sender@example.com", "mbox separator must be stripped")
}

func TestRun_Files(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.mbox")
	second := filepath.Join(dir, "b.mbox")
	require.NoError(t, os.WriteFile(first, writeMbox(t, "alpha", "beta"), 0o600))
	require.NoError(t, os.WriteFile(second, writeMbox(t, "alpha", "gamma"), 0o600))

	r := NewRunner(RunnerConfig{Processor: newMockProcessor(), Concurrency: 2})
	res, err := r.Run(context.Background(), []string{first, second, filepath.Join(dir, "missing.mbox")})
	require.NoError(t, err)

	require.Len(t, res.Files, 3)
	assert.Equal(t, 4, res.TotalMessages)
	assert.Equal(t, 3, res.TotalProcessed)
	assert.Equal(t, 1, res.Files[1].Duplicates, "rerun of a message is a duplicate")
	assert.Equal(t, 1, res.Files[2].Errors, "missing file is recorded")
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mbox")
	require.NoError(t, os.WriteFile(path, writeMbox(t, "alpha", "beta", "gamma"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(RunnerConfig{Processor: newMockProcessor()})
	_, err := r.Run(ctx, []string{path})
	assert.ErrorIs(t, err, context.Canceled)
}
