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

// Package audit persists one record per ingested message id: the parsed
// headers, the outcome and the error that ended the attempt, if any.
// The record's existence is what makes redelivery of a message a no-op.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/mdheller/discourse/internal/models"
)

// Record is the audit row of one message.
type Record struct {
	ID              int64
	MessageID       string
	Raw             string
	Subject         string
	FromAddress     string
	ToAddresses     string
	CcAddresses     string
	Outcome         models.OutcomeKind
	Error           string
	IsBounce        bool
	IsAutoGenerated bool
	IdentityID      int64
	PostID          int64
	TopicID         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store reads and writes audit records. Find returns (nil, nil) when no
// record exists for the message id.
type Store interface {
	Find(ctx context.Context, messageID string) (*Record, error)
	Create(ctx context.Context, r *Record) error
	Update(ctx context.Context, r *Record) error
}

// NewRecord fills a record from a parsed message.
func NewRecord(msg *models.IncomingMessage) *Record {
	return &Record{
		MessageID:   msg.MessageID,
		Raw:         string(msg.Raw),
		Subject:     msg.Subject,
		FromAddress: msg.From,
		ToAddresses: strings.Join(msg.To, ", "),
		CcAddresses: strings.Join(msg.Cc, ", "),
	}
}
