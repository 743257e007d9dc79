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

package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mdheller/discourse/internal/body"
	"github.com/mdheller/discourse/internal/models"
)

// maxRelatedMessageIDs bounds the thread headers used to find a post.
const maxRelatedMessageIDs = 5

func (r *Receiver) extractOptions(mirror bool) body.Options {
	return body.Options{
		PreferHTML:        r.cfg.PreferHTML,
		SkipTrimming:      r.cfg.SkipTrimming,
		ConvertPlaintext:  r.cfg.ConvertPlaintext,
		MailingListMirror: mirror,
	}
}

func (r *Receiver) route(ctx context.Context, a *attempt) (*models.Outcome, error) {
	res, err := body.Extract(a.msg, r.extractOptions(a.mirror))
	if errors.Is(err, body.ErrNoBody) {
		return nil, reject(KindNoBodyDetected, err)
	}
	if err != nil {
		return nil, fmt.Errorf("extract body: %w", err)
	}
	a.body = res

	if r.cfg.UnsubscribeViaEmail && !a.mirror && isUnsubscribe(a.msg.Subject, res.Content) {
		return r.unsubscribe(ctx, a)
	}

	if a.identity == nil {
		identity, err := r.stage(ctx, a, *a.sender)
		if err != nil {
			return nil, err
		}
		a.identity = identity
	}
	a.record.IdentityID = a.identity.ID
	a.enter(stateRouted)

	if !r.cfg.FindRelatedPostWithKey || a.mirror {
		post, err := r.deps.Conversations.FindPostByMessageIDs(ctx, relatedMessageIDs(a.msg))
		if err != nil {
			return nil, fmt.Errorf("find related post: %w", err)
		}
		if post != nil {
			return r.reply(ctx, a, a.identity, post, draft{body: res.ExtractedBody, attachments: a.msg.Attachments})
		}
	}

	var firstErr error
	for _, d := range a.destinations {
		outcome, err := r.deliver(ctx, a, d)
		if err == nil {
			return outcome, nil
		}
		slog.Debug("destination failed", "message_id", a.msg.MessageID, "address", d.Address, "kind", d.Kind, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrBadDestinationAddress
}

func isUnsubscribe(subject, content string) bool {
	return strings.EqualFold(strings.TrimSpace(subject), "unsubscribe") ||
		strings.EqualFold(strings.TrimSpace(content), "unsubscribe")
}

func (r *Receiver) unsubscribe(ctx context.Context, a *attempt) (*models.Outcome, error) {
	if a.identity == nil || a.identity.Staged {
		return nil, ErrUnsubscribeNotAllowed
	}
	if err := r.deps.Mailer.SendSystemMessage(ctx, a.identity.ID, TemplateConfirmUnsubscribe); err != nil {
		return nil, fmt.Errorf("send %s: %w", TemplateConfirmUnsubscribe, err)
	}
	a.enter(stateRouted)
	return &models.Outcome{Kind: models.OutcomeSubscriptionHandled, IdentityID: a.identity.ID}, nil
}

// relatedMessageIDs returns In-Reply-To then References ids, deduplicated.
func relatedMessageIDs(msg *models.IncomingMessage) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, id := range append(append([]string{}, msg.InReplyTo...), msg.References...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		if len(ids) == maxRelatedMessageIDs {
			break
		}
	}
	return ids
}

// stage finds or creates an identity for addr, tracking it for rollback
// when it is new.
func (r *Receiver) stage(ctx context.Context, a *attempt, addr models.Address) (*models.Identity, error) {
	if r.blockedDomain(addr.Domain()) {
		return nil, ErrEmailNotAllowed
	}
	identity, created, err := r.deps.Identities.FindOrCreateStaged(ctx, addr.Address, addr.Name)
	if err != nil {
		return nil, fmt.Errorf("stage identity %s: %w", addr.Address, err)
	}
	if created {
		a.staged = append(a.staged, identity.ID)
		slog.Info("staged identity", "message_id", a.msg.MessageID, "identity_id", identity.ID, "address", addr.Address)
	}
	return identity, nil
}

func (r *Receiver) blockedDomain(domain string) bool {
	domain = strings.ToLower(domain)
	for _, d := range r.cfg.BlockedEmailDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && (domain == d || strings.HasSuffix(domain, "."+d)) {
			return true
		}
	}
	return false
}

func (r *Receiver) deliver(ctx context.Context, a *attempt, d models.Destination) (*models.Outcome, error) {
	switch d.Kind {
	case models.DestinationGroup:
		return r.toGroup(ctx, a, d)
	case models.DestinationCategory:
		return r.toCategory(ctx, a, d.Category)
	case models.DestinationReply:
		return r.toReplyKey(ctx, a, d.ReplyKey)
	}
	return nil, ErrBadDestinationAddress
}

func (r *Receiver) toGroup(ctx context.Context, a *attempt, d models.Destination) (*models.Outcome, error) {
	a.toGroup = true
	base := PostRequest{
		Archetype:       models.ArchetypePrivateMessage,
		TargetGroup:     d.Group.Name,
		SkipValidations: true,
	}
	if outcome, ok, err := r.forwarded(ctx, a, base); ok || err != nil {
		return outcome, err
	}

	req := base
	req.Title = a.msg.Subject
	post, err := r.createPost(ctx, a, a.identity, req, draft{body: a.body.ExtractedBody, attachments: a.msg.Attachments})
	if err != nil {
		return nil, err
	}
	r.inviteRecipients(ctx, a, post.TopicID)
	return createdOutcome(post, a.identity.ID), nil
}

func (r *Receiver) toCategory(ctx context.Context, a *attempt, c *models.Category) (*models.Outcome, error) {
	identity := a.identity
	if (identity.Staged || a.stagedHere(identity.ID)) && !c.AllowStrangers {
		return nil, ErrStrangersNotAllowed
	}
	if !a.mirror && !c.AllowStrangers && !identity.HasTrustLevel(r.cfg.MinTrustToCreateTopic) {
		return nil, ErrInsufficientTrustLevel
	}

	base := PostRequest{
		Archetype:       models.ArchetypeRegular,
		CategoryID:      c.ID,
		SkipValidations: identity.Staged || a.mirror,
	}
	if outcome, ok, err := r.forwarded(ctx, a, base); ok || err != nil {
		return outcome, err
	}

	req := base
	req.Title = a.msg.Subject
	post, err := r.createPost(ctx, a, identity, req, draft{body: a.body.ExtractedBody, attachments: a.msg.Attachments})
	if err != nil {
		return nil, err
	}
	return createdOutcome(post, identity.ID), nil
}

func (r *Receiver) toReplyKey(ctx context.Context, a *attempt, key *models.ReplyKeyRecord) (*models.Outcome, error) {
	identity := a.identity
	// Reply addresses never stage senders.
	if a.stagedHere(identity.ID) {
		return nil, ErrBadDestinationAddress
	}

	post, err := r.deps.Conversations.FindPost(ctx, key.PostID)
	if err != nil {
		return nil, fmt.Errorf("find post %d: %w", key.PostID, err)
	}
	if post == nil || post.Topic == nil || post.Topic.Deleted {
		return nil, ErrTopicNotFound
	}

	ok, err := r.deps.Content.CanReply(ctx, identity.ID, post.Topic)
	if err != nil {
		return nil, fmt.Errorf("check reply permission: %w", err)
	}
	if !ok {
		return nil, ErrReplyNotAllowed
	}
	if key.IdentityID != identity.ID {
		return nil, reject(KindReplyUserNotMatching,
			fmt.Errorf("reply key issued to identity %d, sent by %d", key.IdentityID, identity.ID))
	}

	return r.reply(ctx, a, identity, post, draft{body: a.body.ExtractedBody, attachments: a.msg.Attachments})
}
