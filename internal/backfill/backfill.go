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
// receiver. The receiver's idempotency makes a rerun over the same archive
// report duplicates instead of creating content twice.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/emersion/go-mbox"
	"golang.org/x/sync/errgroup"

	"github.com/mdheller/discourse/internal/models"
	"github.com/mdheller/discourse/internal/receiver"
)

// Processor runs one ingestion attempt.
type Processor interface {
	Process(ctx context.Context, raw []byte) (*models.Outcome, error)
}

// FileResult tracks per-file progress.
type FileResult struct {
	Path     string
	Messages int
	// Processed counts successful outcomes other than duplicates.
	Processed  int
	Duplicates int
	Rejected   int
	Errors     int
}

// Result summarises a completed run.
type Result struct {
	Files          []FileResult
	TotalMessages  int
	TotalProcessed int
	TotalErrors    int
	Elapsed        time.Duration
}

// RunnerConfig holds dependencies for the backfill runner.
type RunnerConfig struct {
	Processor Processor
	// Concurrency bounds attempts in flight per file.
	Concurrency int
	// Delay pauses between messages to spare the forum.
	Delay time.Duration
}

// Runner performs mbox backfill.
type Runner struct {
	proc        Processor
	concurrency int
	delay       time.Duration
}

// NewRunner creates a backfill runner.
func NewRunner(cfg RunnerConfig) *Runner {
	n := cfg.Concurrency
	if n <= 0 {
		n = 4
	}
	return &Runner{proc: cfg.Processor, concurrency: n, delay: cfg.Delay}
}

// Run processes every file in turn. A file that cannot be opened is
// recorded and skipped.
func (r *Runner) Run(ctx context.Context, paths []string) (*Result, error) {
	start := time.Now()
	slog.Info("starting mbox backfill", "files", len(paths))

	result := &Result{}
	for _, path := range paths {
		fr, err := r.runFile(ctx, path)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		if err != nil {
			slog.Error("backfill failed for file", "path", path, "error", err)
			fr.Errors++
		}
		result.Files = append(result.Files, fr)
		result.TotalMessages += fr.Messages
		result.TotalProcessed += fr.Processed
		result.TotalErrors += fr.Errors
	}
	result.Elapsed = time.Since(start)

	slog.Info("mbox backfill complete",
		"messages", result.TotalMessages,
		"processed", result.TotalProcessed,
		"errors", result.TotalErrors,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (r *Runner) runFile(ctx context.Context, path string) (FileResult, error) {
	fr := FileResult{Path: path}
	f, err := os.Open(path)
	if err != nil {
		return fr, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	err = r.RunReader(ctx, f, &fr)
	slog.Info("file backfill complete",
		"path", path,
		"messages", fr.Messages,
		"processed", fr.Processed,
		"duplicates", fr.Duplicates,
		"rejected", fr.Rejected,
		"errors", fr.Errors,
	)
	return fr, err
}

// RunReader processes every message of one mbox stream, accumulating
// counts into fr.
func (r *Runner) RunReader(ctx context.Context, src io.Reader, fr *FileResult) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	mr := mbox.NewReader(src)
	for i := 0; ; i++ {
		msg, err := mr.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			g.Wait()
			return fmt.Errorf("read message %d: %w", i, err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			g.Wait()
			return fmt.Errorf("read message %d: %w", i, err)
		}

		if i > 0 && r.delay > 0 {
			select {
			case <-gctx.Done():
			case <-time.After(r.delay):
			}
		}
		if gctx.Err() != nil {
			break
		}

		i := i
		g.Go(func() error {
			outcome, err := r.proc.Process(gctx, raw)
			mu.Lock()
			defer mu.Unlock()
			fr.Messages++
			switch {
			case err != nil && receiver.KindOf(err) == receiver.KindInternal:
				fr.Errors++
				slog.Warn("backfill: message failed", "index", i, "message_id", outcome.MessageID, "error", err)
			case err != nil:
				fr.Rejected++
			case outcome.Kind == models.OutcomeDuplicate:
				fr.Duplicates++
			default:
				fr.Processed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
