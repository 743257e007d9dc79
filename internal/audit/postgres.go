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
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdheller/discourse/internal/models"
)

// PostgresStore keeps audit records in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the given pool.
// It ensures the incoming_emails table exists on creation.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	slog.Info("audit store initialised", "driver", "postgres")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS incoming_emails (
			id                BIGSERIAL PRIMARY KEY,
			message_id        TEXT NOT NULL UNIQUE,
			raw               TEXT NOT NULL DEFAULT '',
			subject           TEXT NOT NULL DEFAULT '',
			from_address      TEXT NOT NULL DEFAULT '',
			to_addresses      TEXT NOT NULL DEFAULT '',
			cc_addresses      TEXT NOT NULL DEFAULT '',
			outcome           TEXT NOT NULL DEFAULT '',
			error             TEXT NOT NULL DEFAULT '',
			is_bounce         BOOLEAN NOT NULL DEFAULT FALSE,
			is_auto_generated BOOLEAN NOT NULL DEFAULT FALSE,
			user_id           BIGINT NOT NULL DEFAULT 0,
			post_id           BIGINT NOT NULL DEFAULT 0,
			topic_id          BIGINT NOT NULL DEFAULT 0,
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_incoming_emails_error ON incoming_emails(error);
		CREATE INDEX IF NOT EXISTS idx_incoming_emails_created ON incoming_emails(created_at);
	`)
	return err
}

// Find retrieves the record for a message id.
func (s *PostgresStore) Find(ctx context.Context, messageID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, message_id, raw, subject, from_address, to_addresses,
		       cc_addresses, outcome, error, is_bounce, is_auto_generated,
		       user_id, post_id, topic_id, created_at, updated_at
		FROM incoming_emails
		WHERE message_id = $1
	`, messageID)
	return scanRecord(row)
}

// Create inserts r and sets its id and timestamps.
func (s *PostgresStore) Create(ctx context.Context, r *Record) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO incoming_emails
			(message_id, raw, subject, from_address, to_addresses, cc_addresses,
			 outcome, error, is_bounce, is_auto_generated, user_id, post_id, topic_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`, r.MessageID, r.Raw, r.Subject, r.FromAddress, r.ToAddresses, r.CcAddresses,
		string(r.Outcome), r.Error, r.IsBounce, r.IsAutoGenerated, r.IdentityID, r.PostID, r.TopicID,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert incoming email: %w", err)
	}
	return nil
}

// Update writes the mutable fields of r.
func (s *PostgresStore) Update(ctx context.Context, r *Record) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE incoming_emails
		SET from_address = $1, outcome = $2, error = $3, is_bounce = $4,
		    is_auto_generated = $5, user_id = $6, post_id = $7, topic_id = $8,
		    updated_at = NOW()
		WHERE message_id = $9
	`, r.FromAddress, string(r.Outcome), r.Error, r.IsBounce, r.IsAutoGenerated,
		r.IdentityID, r.PostID, r.TopicID, r.MessageID)
	if err != nil {
		return fmt.Errorf("update incoming email: %w", err)
	}
	return nil
}

// scanRecord scans a single row into a Record.
func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r       Record
		outcome string
	)
	err := row.Scan(
		&r.ID, &r.MessageID, &r.Raw, &r.Subject, &r.FromAddress, &r.ToAddresses,
		&r.CcAddresses, &outcome, &r.Error, &r.IsBounce, &r.IsAutoGenerated,
		&r.IdentityID, &r.PostID, &r.TopicID, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Outcome = models.OutcomeKind(outcome)
	return &r, nil
}
