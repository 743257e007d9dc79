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

// Entities below are owned by the forum collaborators. The receiver only
// reads them and passes their ids back.

// Identity is a forum account, possibly a staged placeholder.
type Identity struct {
	ID         int64  `json:"id"`
	Address    string `json:"email"`
	Name       string `json:"name,omitempty"`
	Username   string `json:"username,omitempty"`
	Staged     bool   `json:"staged"`
	Active     bool   `json:"active"`
	Silenced   bool   `json:"silenced"`
	TrustLevel int    `json:"trust_level"`
}

// HasTrustLevel reports whether the identity is at or above level.
func (i *Identity) HasTrustLevel(level int) bool {
	return i != nil && i.TrustLevel >= level
}

// Group is a group inbox.
type Group struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"incoming_email"`
}

// Category is a category inbox.
type Category struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Address           string `json:"incoming_email"`
	AllowStrangers    bool   `json:"email_in_allow_strangers"`
	MailingListMirror bool   `json:"mailinglist_mirror"`
}

// ReplyKeyRecord ties a reply key to the post it was issued for and the
// identity it was sent to.
type ReplyKeyRecord struct {
	Key        string `json:"reply_key"`
	PostID     int64  `json:"post_id"`
	TopicID    int64  `json:"topic_id"`
	IdentityID int64  `json:"user_id"`
}

// EmailLog is an outbound e-mail the forum tracks for bounces.
type EmailLog struct {
	ID        int64  `json:"id"`
	BounceKey string `json:"bounce_key"`
	ToAddress string `json:"to_address"`
	PostID    int64  `json:"post_id,omitempty"`
	TopicID   int64  `json:"topic_id,omitempty"`
}

// Archetypes of a topic.
const (
	ArchetypeRegular        = "regular"
	ArchetypePrivateMessage = "private_message"
)

// Topic is a conversation.
type Topic struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Archetype string `json:"archetype"`
	Closed    bool   `json:"closed"`
	Deleted   bool   `json:"deleted"`
}

// IsPrivateMessage reports whether the topic is a private message.
func (t *Topic) IsPrivateMessage() bool {
	return t != nil && t.Archetype == ArchetypePrivateMessage
}

// Post is one post of a topic.
type Post struct {
	ID         int64  `json:"id"`
	TopicID    int64  `json:"topic_id"`
	PostNumber int    `json:"post_number"`
	Topic      *Topic `json:"topic,omitempty"`
}

// Upload is a stored attachment.
type Upload struct {
	ID               int64  `json:"id"`
	URL              string `json:"url"`
	OriginalFilename string `json:"original_filename"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	Size             int64  `json:"filesize"`
}
