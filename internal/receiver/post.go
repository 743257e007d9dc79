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

	"github.com/mdheller/discourse/internal/address"
	"github.com/mdheller/discourse/internal/body"
	"github.com/mdheller/discourse/internal/forward"
	"github.com/mdheller/discourse/internal/models"
)

// ReactionLike is the reaction recorded for like tokens.
const ReactionLike = "like"

var likeTokens = map[string]bool{
	"+1":           true,
	"<3":           true,
	"\u2764":       true,
	"\u2764\ufe0f": true,
	"like":         true,
}

// IsLike reports whether content is only a like token.
func IsLike(content string) bool {
	return likeTokens[strings.ToLower(strings.TrimSpace(content))]
}

// draft is content about to be posted.
type draft struct {
	body        models.ExtractedBody
	attachments []models.Attachment
}

// ElidedBlock wraps elided content in a collapsed details element.
func ElidedBlock(elided string) string {
	return "<details class='elided'>\n" +
		"<summary title='Show trimmed content'>&#183;&#183;&#183;</summary>\n\n" +
		strings.TrimSpace(elided) +
		"\n\n</details>"
}

func (r *Receiver) createPost(ctx context.Context, a *attempt, author *models.Identity, req PostRequest, d draft) (*models.Post, error) {
	raw := d.body.Content
	if r.deps.Uploads != nil && len(d.attachments) > 0 {
		raw = r.inliner.Inline(ctx, raw, d.attachments, author.ID)
	}
	if strings.TrimSpace(d.body.Elided) != "" && (r.cfg.AlwaysShowElided || a.toGroup) {
		raw = strings.TrimRight(raw, "\n") + "\n\n" + ElidedBlock(d.body.Elided)
	}

	req.AuthorID = author.ID
	req.Raw = raw
	req.ViaEmail = true
	req.RawEmail = string(a.msg.Raw)
	if now := r.now(); req.CreatedAt.IsZero() || req.CreatedAt.After(now) {
		if a.msg.Date.IsZero() || a.msg.Date.After(now) {
			req.CreatedAt = now
		} else {
			req.CreatedAt = a.msg.Date
		}
	}

	post, err := r.deps.Content.CreatePost(ctx, req)
	if errors.Is(err, ErrPostRejected) {
		return nil, reject(KindInvalidPost, err)
	}
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

// reply posts into the topic of post, or records a like.
func (r *Receiver) reply(ctx context.Context, a *attempt, author *models.Identity, post *models.Post, d draft) (*models.Outcome, error) {
	topic := post.Topic
	if topic == nil || topic.Deleted {
		return nil, ErrTopicNotFound
	}
	if topic.Closed {
		return nil, ErrTopicClosed
	}

	if IsLike(d.body.Content) {
		err := r.deps.Reactions.React(ctx, author.ID, post.ID, ReactionLike)
		switch {
		case err == nil, errors.Is(err, ErrAlreadyReacted):
			return &models.Outcome{
				Kind:       models.OutcomeReacted,
				PostID:     post.ID,
				TopicID:    topic.ID,
				IdentityID: author.ID,
			}, nil
		case errors.Is(err, ErrReactionDenied):
			return nil, reject(KindInvalidPostAction, err)
		default:
			return nil, fmt.Errorf("record reaction: %w", err)
		}
	}

	created, err := r.createPost(ctx, a, author, PostRequest{
		TopicID:           topic.ID,
		ReplyToPostNumber: post.PostNumber,
		SkipValidations:   author.Staged || a.mirror,
	}, d)
	if err != nil {
		return nil, err
	}
	return createdOutcome(created, author.ID), nil
}

// forwarded creates the topic of a forwarded message as its original
// author. ok is false when the message is not an unwrappable forward.
func (r *Receiver) forwarded(ctx context.Context, a *attempt, base PostRequest) (outcome *models.Outcome, ok bool, err error) {
	if r.cfg.ForwardedEmails == ForwardHide || a.body.Text == "" {
		return nil, false, nil
	}
	fwd, ok := forward.Unwrap(a.msg, a.body.Text)
	if !ok {
		return nil, false, nil
	}
	inner, err := body.Extract(fwd.Message, r.extractOptions(a.mirror))
	if err != nil {
		slog.Debug("forwarded message has no body", "message_id", a.msg.MessageID, "error", err)
		return nil, false, nil
	}

	author, err := r.stage(ctx, a, *fwd.Sender)
	if err != nil {
		return nil, true, err
	}

	req := base
	req.Title = strings.TrimSpace(fwd.Message.Subject)
	if req.Title == "" {
		req.Title = a.msg.Subject
	}
	req.CreatedAt = fwd.Message.Date
	req.SkipValidations = true
	topicPost, err := r.createPost(ctx, a, author, req, draft{body: inner.ExtractedBody, attachments: fwd.Message.Attachments})
	if err != nil {
		return nil, true, err
	}

	if author.ID != a.identity.ID {
		if err := r.deps.Content.AddInvitee(ctx, topicPost.TopicID, a.identity.ID); err != nil {
			slog.Warn("failed to invite forwarder", "message_id", a.msg.MessageID, "topic_id", topicPost.TopicID, "error", err)
		}
	}

	if before := strings.TrimSpace(fwd.Before); before != "" {
		_, err := r.createPost(ctx, a, a.identity, PostRequest{
			TopicID:           topicPost.TopicID,
			ReplyToPostNumber: topicPost.PostNumber,
			SkipValidations:   true,
		}, draft{body: models.ExtractedBody{Content: before, Format: models.FormatPlaintext}, attachments: a.msg.Attachments})
		if err != nil {
			slog.Warn("failed to post forwarder's comment", "message_id", a.msg.MessageID, "topic_id", topicPost.TopicID, "error", err)
		}
	}

	slog.Info("forwarded message unwrapped",
		"message_id", a.msg.MessageID,
		"original_sender", fwd.Sender.Address,
		"topic_id", topicPost.TopicID,
	)
	return createdOutcome(topicPost, author.ID), true, nil
}

// inviteRecipients adds the other To and Cc addresses of a group message to
// its topic, staging at most MaxStagedUsersPerEmail new identities.
func (r *Receiver) inviteRecipients(ctx context.Context, a *attempt, topicID int64) {
	skip := map[string]bool{a.sender.Address: true}
	for _, d := range a.destinations {
		skip[d.Address] = true
	}

	stagedCount := 0
	for _, value := range a.msg.Recipients() {
		for _, addr := range address.ParseList(value) {
			if skip[addr.Address] || r.pattern.Match(addr.Address) {
				continue
			}
			skip[addr.Address] = true

			identity, err := r.deps.Identities.FindIdentity(ctx, addr.Address)
			if err != nil {
				slog.Warn("failed to look up recipient", "address", addr.Address, "error", err)
				continue
			}
			if identity == nil {
				if stagedCount >= r.cfg.MaxStagedUsersPerEmail {
					continue
				}
				if identity, err = r.stage(ctx, a, addr); err != nil {
					slog.Warn("not staging recipient", "address", addr.Address, "error", err)
					continue
				}
				stagedCount++
			}

			if err := r.deps.Content.AddInvitee(ctx, topicID, identity.ID); err != nil {
				slog.Warn("failed to invite recipient", "address", addr.Address, "topic_id", topicID, "error", err)
			}
		}
	}
}
