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

// Package receiver turns one raw e-mail into one forum action: a new
// topic, a reply, a reaction, a subscription change or a bounce.
//
// Each call to Process is an attempt that moves through
//
//	received → locked → parsed → validated → routed → persisted | failed
//
// Attempts for the same Message-Id are serialised by a shared lock and an
// audit record per Message-Id makes redelivery a no-op. Identities staged
// during a failed attempt are removed again unless they own content.
package receiver

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mdheller/discourse/internal/attachment"
	"github.com/mdheller/discourse/internal/audit"
	"github.com/mdheller/discourse/internal/body"
	"github.com/mdheller/discourse/internal/destination"
	"github.com/mdheller/discourse/internal/models"
	"github.com/mdheller/discourse/internal/parser"
)

// Forwarded e-mail behaviours.
const (
	ForwardCreateReplies = "create_replies"
	ForwardHide          = "hide"
)

// TemplateConfirmUnsubscribe is the system message sent for an
// "unsubscribe" e-mail.
const TemplateConfirmUnsubscribe = "confirm_unsubscribe"

// Config holds the receiver settings.
type Config struct {
	ReplyTemplate             string
	AlternativeReplyTemplates []string

	EmailIn                bool
	EnableStagedUsers      bool
	MinTrustToCreateTopic  int
	MaxStagedUsersPerEmail int
	BlockedEmailDomains    []string

	AttachmentDenyContentTypes string
	AttachmentDenyFilenames    string

	SoftBounceScore float64
	HardBounceScore float64

	BlockAutoGenerated     bool
	AutoGeneratedAllowList []string

	PreferHTML       bool
	AlwaysShowElided bool
	SkipTrimming     bool
	ConvertPlaintext bool

	UnsubscribeViaEmail    bool
	IgnoreByTitle          string
	FindRelatedPostWithKey bool
	ForwardedEmails        string
}

// Receiver processes incoming e-mail.
type Receiver struct {
	cfg         Config
	deps        Deps
	pattern     *destination.ReplyKeyPattern
	resolver    *destination.Resolver
	inliner     *attachment.Inliner
	ignoreTitle *regexp.Regexp
	now         func() time.Time
}

// New validates cfg and wires the collaborators.
func New(cfg Config, deps Deps) (*Receiver, error) {
	pattern, err := destination.CompileReplyKeyPattern(cfg.ReplyTemplate, cfg.AlternativeReplyTemplates)
	if err != nil {
		return nil, fmt.Errorf("reply address template: %w", err)
	}
	inliner, err := attachment.NewInliner(deps.Uploads, attachment.Config{
		DenyContentTypes: cfg.AttachmentDenyContentTypes,
		DenyFilenames:    cfg.AttachmentDenyFilenames,
	})
	if err != nil {
		return nil, fmt.Errorf("attachment deny patterns: %w", err)
	}

	var ignoreTitle *regexp.Regexp
	if cfg.IgnoreByTitle != "" {
		if ignoreTitle, err = regexp.Compile("(?i)" + cfg.IgnoreByTitle); err != nil {
			return nil, fmt.Errorf("ignore by title: %w", err)
		}
	}
	if cfg.ForwardedEmails == "" {
		cfg.ForwardedEmails = ForwardCreateReplies
	}

	return &Receiver{
		cfg:     cfg,
		deps:    deps,
		pattern: pattern,
		resolver: destination.NewResolver(deps.Conversations, destination.Config{
			EmailIn: cfg.EmailIn,
			Pattern: pattern,
		}),
		inliner:     inliner,
		ignoreTitle: ignoreTitle,
		now:         time.Now,
	}, nil
}

// States of an attempt.
const (
	stateReceived  = "received"
	stateLocked    = "locked"
	stateParsed    = "parsed"
	stateValidated = "validated"
	stateRouted    = "routed"
	statePersisted = "persisted"
	stateFailed    = "failed"
)

// attempt is the mutable state of one Process call.
type attempt struct {
	msg    *models.IncomingMessage
	record *audit.Record
	state  string

	sender   *models.Address
	identity *models.Identity
	body     *body.Result

	destinations []models.Destination
	mirror       bool
	toGroup      bool

	// staged lists identities created by this attempt.
	staged []int64
}

func (a *attempt) enter(state string) {
	a.state = state
	slog.Debug("receiver state", "message_id", a.msg.MessageID, "state", state)
}

func (a *attempt) stagedHere(identityID int64) bool {
	for _, id := range a.staged {
		if id == identityID {
			return true
		}
	}
	return false
}

// LockKey is the mutex name for a Message-Id.
func LockKey(messageID string) string {
	sum := sha1.Sum([]byte(messageID))
	return "process_email:" + hex.EncodeToString(sum[:])
}

// Process runs one attempt over raw. The returned outcome is never nil; on
// failure it carries the error kind and err is the rejection.
func (r *Receiver) Process(ctx context.Context, raw []byte) (*models.Outcome, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return failedOutcome("", ErrEmptyEmail), ErrEmptyEmail
	}
	msg, err := parser.Parse(raw)
	if errors.Is(err, parser.ErrEmptyMessage) {
		return failedOutcome("", ErrEmptyEmail), ErrEmptyEmail
	}
	var unreadable error
	if err != nil {
		// Still audited under the digest id so redelivery is a duplicate.
		slog.Warn("message unreadable", "error", err)
		unreadable = reject(KindNoBodyDetected, fmt.Errorf("parse message: %w", err))
		msg = &models.IncomingMessage{Raw: raw, MessageID: parser.MessageID("", raw)}
	}

	if r.ignoreTitle != nil && r.ignoreTitle.MatchString(msg.Subject) {
		slog.Info("message ignored by title", "message_id", msg.MessageID, "subject", msg.Subject)
		return &models.Outcome{MessageID: msg.MessageID, Kind: models.OutcomeIgnored}, nil
	}

	unlock, err := r.deps.Locker.Lock(ctx, LockKey(msg.MessageID))
	if err != nil {
		err = fmt.Errorf("lock message %s: %w", msg.MessageID, err)
		return failedOutcome(msg.MessageID, err), err
	}
	defer unlock()

	existing, err := r.deps.Audit.Find(ctx, msg.MessageID)
	if err != nil {
		err = fmt.Errorf("find audit record: %w", err)
		return failedOutcome(msg.MessageID, err), err
	}
	if existing != nil && !retryable(existing) {
		slog.Info("duplicate message skipped", "message_id", msg.MessageID, "outcome", existing.Outcome)
		return &models.Outcome{
			MessageID:  msg.MessageID,
			Kind:       models.OutcomeDuplicate,
			PostID:     existing.PostID,
			TopicID:    existing.TopicID,
			IdentityID: existing.IdentityID,
		}, nil
	}

	a := &attempt{msg: msg, record: audit.NewRecord(msg), state: stateReceived}
	if existing != nil {
		// An internal failure is retried in place on redelivery.
		slog.Info("retrying failed message", "message_id", msg.MessageID, "error", existing.Error)
		a.record.ID = existing.ID
		a.record.CreatedAt = existing.CreatedAt
		err = r.deps.Audit.Update(ctx, a.record)
	} else {
		err = r.deps.Audit.Create(ctx, a.record)
	}
	if err != nil {
		err = fmt.Errorf("save audit record: %w", err)
		return failedOutcome(msg.MessageID, err), err
	}
	a.enter(stateLocked)

	if unreadable != nil {
		return r.fail(ctx, a, unreadable), unreadable
	}

	outcome, err := r.run(ctx, a)
	if err != nil {
		return r.fail(ctx, a, err), err
	}
	r.finish(ctx, a, outcome)
	return outcome, nil
}

// finish records a successful outcome.
func (r *Receiver) finish(ctx context.Context, a *attempt, outcome *models.Outcome) {
	a.enter(statePersisted)
	outcome.MessageID = a.msg.MessageID

	rec := a.record
	rec.Outcome = outcome.Kind
	rec.PostID = outcome.PostID
	rec.TopicID = outcome.TopicID
	if outcome.IdentityID != 0 {
		rec.IdentityID = outcome.IdentityID
	}
	if err := r.deps.Audit.Update(ctx, rec); err != nil {
		slog.Error("failed to update audit record", "message_id", a.msg.MessageID, "error", err)
	}
	r.publish(ctx, outcome)

	slog.Info("message processed",
		"message_id", a.msg.MessageID,
		"outcome", outcome.Kind,
		"post_id", outcome.PostID,
		"topic_id", outcome.TopicID,
	)
}

// fail records the rejection, removes identities staged by this attempt
// that own no content and publishes a failed outcome.
func (r *Receiver) fail(ctx context.Context, a *attempt, cause error) *models.Outcome {
	failedIn := a.state
	a.enter(stateFailed)
	// Compensation runs to completion even if the caller gave up.
	ctx = context.WithoutCancel(ctx)

	r.rollback(ctx, a)

	outcome := failedOutcome(a.msg.MessageID, cause)
	rec := a.record
	rec.Outcome = models.OutcomeFailed
	rec.Error = outcome.Error
	if a.identity != nil && !a.stagedHere(a.identity.ID) {
		rec.IdentityID = a.identity.ID
	}
	if err := r.deps.Audit.Update(ctx, rec); err != nil {
		slog.Error("failed to update audit record", "message_id", a.msg.MessageID, "error", err)
	}
	r.publish(ctx, outcome)

	if KindOf(cause) == KindInternal {
		slog.Error("message processing failed", "message_id", a.msg.MessageID, "state", failedIn, "error", cause)
	} else {
		slog.Warn("message rejected", "message_id", a.msg.MessageID, "state", failedIn, "error", cause)
	}
	return outcome
}

func (r *Receiver) rollback(ctx context.Context, a *attempt) {
	for _, id := range a.staged {
		owns, err := r.deps.Identities.OwnsContent(ctx, id)
		if err != nil {
			slog.Warn("cannot check staged identity content", "identity_id", id, "error", err)
			continue
		}
		if owns {
			continue
		}
		if err := r.deps.Identities.DestroyStaged(ctx, id); err != nil {
			slog.Warn("failed to remove staged identity", "identity_id", id, "error", err)
			continue
		}
		slog.Info("removed staged identity", "message_id", a.msg.MessageID, "identity_id", id)
	}
}

func (r *Receiver) publish(ctx context.Context, outcome *models.Outcome) {
	if r.deps.Publisher == nil {
		return
	}
	if err := r.deps.Publisher.PublishOutcome(ctx, outcome); err != nil {
		slog.Warn("failed to publish outcome", "message_id", outcome.MessageID, "error", err)
	}
}

// retryable reports a record whose attempt ended in an internal failure.
// Rejections store their kind; internal failures store the error text.
func retryable(rec *audit.Record) bool {
	return rec.Outcome == models.OutcomeFailed && !knownKind(rec.Error)
}

func failedOutcome(messageID string, err error) *models.Outcome {
	kind := KindOf(err)
	msg := string(kind)
	if kind == KindInternal {
		msg = err.Error()
	}
	return &models.Outcome{MessageID: messageID, Kind: models.OutcomeFailed, Error: msg}
}

func createdOutcome(post *models.Post, authorID int64) *models.Outcome {
	return &models.Outcome{
		Kind:       models.OutcomeCreated,
		PostID:     post.ID,
		TopicID:    post.TopicID,
		IdentityID: authorID,
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}
