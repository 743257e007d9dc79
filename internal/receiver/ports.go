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
	"time"

	"github.com/mdheller/discourse/internal/attachment"
	"github.com/mdheller/discourse/internal/audit"
	"github.com/mdheller/discourse/internal/destination"
	"github.com/mdheller/discourse/internal/models"
)

// Errors collaborators return to signal expected refusals.
var (
	// ErrPostRejected is wrapped by ContentCreator when the forum's post
	// validation refuses the content.
	ErrPostRejected = errors.New("post rejected")
	// ErrAlreadyReacted is returned by ReactionRecorder when the reaction
	// exists. The receiver treats it as success.
	ErrAlreadyReacted = errors.New("already reacted")
	// ErrReactionDenied is returned when the identity may not react.
	ErrReactionDenied = errors.New("reaction denied")
)

// IdentityDirectory finds and stages forum accounts.
type IdentityDirectory interface {
	// FindIdentity returns (nil, nil) when no identity owns addr.
	FindIdentity(ctx context.Context, addr string) (*models.Identity, error)
	// FindOrCreateStaged returns the identity owning addr, creating a staged
	// one if none exists. created is true only for a new identity. Two
	// concurrent calls for one address yield one identity.
	FindOrCreateStaged(ctx context.Context, addr, name string) (identity *models.Identity, created bool, err error)
	// DestroyStaged deletes a staged identity.
	DestroyStaged(ctx context.Context, identityID int64) error
	// OwnsContent reports whether the identity authored any post.
	OwnsContent(ctx context.Context, identityID int64) (bool, error)
	// IsScreened reports whether mail from addr is blocked.
	IsScreened(ctx context.Context, addr string) (bool, error)
}

// ConversationDirectory finds inboxes, conversations and tracked e-mails.
type ConversationDirectory interface {
	destination.Directory
	// FindPost returns the post with its topic, or (nil, nil).
	FindPost(ctx context.Context, postID int64) (*models.Post, error)
	// FindPostByMessageIDs returns the post whose outgoing or incoming
	// e-mail carried one of ids, or (nil, nil).
	FindPostByMessageIDs(ctx context.Context, ids []string) (*models.Post, error)
	// FindEmailLog returns the outbound e-mail tracked by bounceKey, or (nil, nil).
	FindEmailLog(ctx context.Context, bounceKey string) (*models.EmailLog, error)
	// MarkBounced flags the tracked e-mail as bounced with a status code.
	MarkBounced(ctx context.Context, emailLogID int64, status string) error
}

// PostRequest describes a topic (TopicID zero) or a reply to create.
type PostRequest struct {
	AuthorID          int64
	Raw               string
	Title             string
	TopicID           int64
	ReplyToPostNumber int
	CategoryID        int64
	TargetGroup       string
	Archetype         string
	CreatedAt         time.Time
	SkipValidations   bool
	ViaEmail          bool
	RawEmail          string
}

// ContentCreator creates posts and manages topic participants.
type ContentCreator interface {
	// CreatePost returns the created post. Validation refusals wrap
	// ErrPostRejected.
	CreatePost(ctx context.Context, req PostRequest) (*models.Post, error)
	// AddInvitee lets identityID take part in a private topic.
	AddInvitee(ctx context.Context, topicID, identityID int64) error
	// CanReply reports whether identityID may post in topic.
	CanReply(ctx context.Context, identityID int64, topic *models.Topic) (bool, error)
}

// ReactionRecorder records reactions such as likes.
type ReactionRecorder interface {
	React(ctx context.Context, identityID, postID int64, kind string) error
}

// Mailer sends named system messages.
type Mailer interface {
	SendSystemMessage(ctx context.Context, identityID int64, template string) error
}

// BounceScorer applies a bounce score to an address at most once a day.
type BounceScorer interface {
	Update(ctx context.Context, address string, score float64) (bool, error)
}

// Locker provides a mutex shared by every receiver process.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// OutcomePublisher announces terminal outcomes.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome *models.Outcome) error
}

// Deps bundles the collaborators a Receiver needs. Publisher may be nil.
type Deps struct {
	Identities    IdentityDirectory
	Conversations ConversationDirectory
	Content       ContentCreator
	Reactions     ReactionRecorder
	Uploads       attachment.Uploader
	Mailer        Mailer
	Bounces       BounceScorer
	Audit         audit.Store
	Locker        Locker
	Publisher     OutcomePublisher
}
