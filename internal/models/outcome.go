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

package models

// Format of an extracted body.
type Format string

const (
	FormatPlaintext Format = "plaintext"
	FormatMarkdown  Format = "markdown"
)

// ExtractedBody is the new content of a message and the quoted or
// signature content that was elided from it.
type ExtractedBody struct {
	Content string `json:"content"`
	Elided  string `json:"elided,omitempty"`
	Format  Format `json:"format"`
}

// DestinationKind says what a recipient address resolved to.
type DestinationKind string

const (
	DestinationGroup    DestinationKind = "group"
	DestinationCategory DestinationKind = "category"
	DestinationReply    DestinationKind = "reply"
)

// Destination is one resolved recipient address. Exactly one of Group,
// Category or ReplyKey is set, matching Kind.
type Destination struct {
	Kind     DestinationKind `json:"kind"`
	Address  string          `json:"address"`
	Group    *Group          `json:"group,omitempty"`
	Category *Category       `json:"category,omitempty"`
	ReplyKey *ReplyKeyRecord `json:"reply_key,omitempty"`
}

// OutcomeKind is the terminal result of one ingestion attempt.
type OutcomeKind string

const (
	OutcomeCreated             OutcomeKind = "created"
	OutcomeReacted             OutcomeKind = "reacted"
	OutcomeBounced             OutcomeKind = "bounced"
	OutcomeSubscriptionHandled OutcomeKind = "subscription_handled"
	OutcomeDuplicate           OutcomeKind = "duplicate"
	OutcomeIgnored             OutcomeKind = "ignored"
	OutcomeFailed              OutcomeKind = "failed"
)

// Outcome is what Process returns and what gets published for consumers.
type Outcome struct {
	MessageID  string      `json:"message_id"`
	Kind       OutcomeKind `json:"kind"`
	PostID     int64       `json:"post_id,omitempty"`
	TopicID    int64       `json:"topic_id,omitempty"`
	IdentityID int64       `json:"user_id,omitempty"`
	Error      string      `json:"error,omitempty"`
}
