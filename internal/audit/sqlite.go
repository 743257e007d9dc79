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

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/mdheller/discourse/internal/models"
)

// SQLiteStore keeps audit records in a SQLite file. It suits single-node
// deployments and the mbox backfill.
type SQLiteStore struct {
	db *sqlx.DB
}

// sqliteRow mirrors incoming_emails. Timestamps are unix milliseconds.
type sqliteRow struct {
	ID              int64  `db:"id"`
	MessageID       string `db:"message_id"`
	Raw             string `db:"raw"`
	Subject         string `db:"subject"`
	FromAddress     string `db:"from_address"`
	ToAddresses     string `db:"to_addresses"`
	CcAddresses     string `db:"cc_addresses"`
	Outcome         string `db:"outcome"`
	Error           string `db:"error"`
	IsBounce        bool   `db:"is_bounce"`
	IsAutoGenerated bool   `db:"is_auto_generated"`
	IdentityID      int64  `db:"user_id"`
	PostID          int64  `db:"post_id"`
	TopicID         int64  `db:"topic_id"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

// OpenSQLite opens (or creates) the database at dsn. Use ":memory:" in
// tests.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS incoming_emails (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id        TEXT NOT NULL UNIQUE,
			raw               TEXT NOT NULL DEFAULT '',
			subject           TEXT NOT NULL DEFAULT '',
			from_address      TEXT NOT NULL DEFAULT '',
			to_addresses      TEXT NOT NULL DEFAULT '',
			cc_addresses      TEXT NOT NULL DEFAULT '',
			outcome           TEXT NOT NULL DEFAULT '',
			error             TEXT NOT NULL DEFAULT '',
			is_bounce         INTEGER NOT NULL DEFAULT 0,
			is_auto_generated INTEGER NOT NULL DEFAULT 0,
			user_id           INTEGER NOT NULL DEFAULT 0,
			post_id           INTEGER NOT NULL DEFAULT 0,
			topic_id          INTEGER NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL DEFAULT 0,
			updated_at        INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create incoming_emails: %w", err)
	}
	slog.Info("audit store initialised", "driver", "sqlite", "dsn", dsn)
	return &SQLiteStore{db: db}, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Find retrieves the record for a message id.
func (s *SQLiteStore) Find(ctx context.Context, messageID string) (*Record, error) {
	var row sqliteRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM incoming_emails WHERE message_id = ?`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find incoming email: %w", err)
	}
	return row.record(), nil
}

// Create inserts r and sets its id and timestamps.
func (s *SQLiteStore) Create(ctx context.Context, r *Record) error {
	now := time.Now().UTC()
	row := toRow(r)
	row.CreatedAt = now.UnixMilli()
	row.UpdatedAt = row.CreatedAt

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO incoming_emails
			(message_id, raw, subject, from_address, to_addresses, cc_addresses,
			 outcome, error, is_bounce, is_auto_generated, user_id, post_id, topic_id,
			 created_at, updated_at)
		VALUES
			(:message_id, :raw, :subject, :from_address, :to_addresses, :cc_addresses,
			 :outcome, :error, :is_bounce, :is_auto_generated, :user_id, :post_id, :topic_id,
			 :created_at, :updated_at)
	`, row)
	if err != nil {
		return fmt.Errorf("insert incoming email: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert incoming email: %w", err)
	}
	r.ID = id
	r.CreatedAt = time.UnixMilli(row.CreatedAt).UTC()
	r.UpdatedAt = r.CreatedAt
	return nil
}

// Update writes the mutable fields of r.
func (s *SQLiteStore) Update(ctx context.Context, r *Record) error {
	row := toRow(r)
	row.UpdatedAt = time.Now().UTC().UnixMilli()

	_, err := s.db.NamedExecContext(ctx, `
		UPDATE incoming_emails
		SET from_address = :from_address, outcome = :outcome, error = :error,
		    is_bounce = :is_bounce, is_auto_generated = :is_auto_generated,
		    user_id = :user_id, post_id = :post_id, topic_id = :topic_id,
		    updated_at = :updated_at
		WHERE message_id = :message_id
	`, row)
	if err != nil {
		return fmt.Errorf("update incoming email: %w", err)
	}
	r.UpdatedAt = time.UnixMilli(row.UpdatedAt).UTC()
	return nil
}

func toRow(r *Record) sqliteRow {
	return sqliteRow{
		ID:              r.ID,
		MessageID:       r.MessageID,
		Raw:             r.Raw,
		Subject:         r.Subject,
		FromAddress:     r.FromAddress,
		ToAddresses:     r.ToAddresses,
		CcAddresses:     r.CcAddresses,
		Outcome:         string(r.Outcome),
		Error:           r.Error,
		IsBounce:        r.IsBounce,
		IsAutoGenerated: r.IsAutoGenerated,
		IdentityID:      r.IdentityID,
		PostID:          r.PostID,
		TopicID:         r.TopicID,
	}
}

func (row sqliteRow) record() *Record {
	return &Record{
		ID:              row.ID,
		MessageID:       row.MessageID,
		Raw:             row.Raw,
		Subject:         row.Subject,
		FromAddress:     row.FromAddress,
		ToAddresses:     row.ToAddresses,
		CcAddresses:     row.CcAddresses,
		Outcome:         models.OutcomeKind(row.Outcome),
		Error:           row.Error,
		IsBounce:        row.IsBounce,
		IsAutoGenerated: row.IsAutoGenerated,
		IdentityID:      row.IdentityID,
		PostID:          row.PostID,
		TopicID:         row.TopicID,
		CreatedAt:       time.UnixMilli(row.CreatedAt).UTC(),
		UpdatedAt:       time.UnixMilli(row.UpdatedAt).UTC(),
	}
}
