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

package forumapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/mdheller/discourse/internal/models"
	"github.com/mdheller/discourse/internal/receiver"
)

// postPayload is the wire form of a receiver.PostRequest.
type postPayload struct {
	UserID            int64     `json:"user_id"`
	Raw               string    `json:"raw"`
	Title             string    `json:"title,omitempty"`
	TopicID           int64     `json:"topic_id,omitempty"`
	ReplyToPostNumber int       `json:"reply_to_post_number,omitempty"`
	CategoryID        int64     `json:"category,omitempty"`
	TargetGroup       string    `json:"target_group_names,omitempty"`
	Archetype         string    `json:"archetype,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	SkipValidations   bool      `json:"skip_validations"`
	ViaEmail          bool      `json:"via_email"`
	RawEmail          string    `json:"raw_email,omitempty"`
}

type apiError struct {
	Errors []string `json:"errors"`
}

// CreatePost creates a topic or reply. A 422 means the forum's validation
// refused the content and wraps receiver.ErrPostRejected.
func (c *Client) CreatePost(ctx context.Context, req receiver.PostRequest) (*models.Post, error) {
	payload, err := json.Marshal(postPayload{
		UserID:            req.AuthorID,
		Raw:               req.Raw,
		Title:             req.Title,
		TopicID:           req.TopicID,
		ReplyToPostNumber: req.ReplyToPostNumber,
		CategoryID:        req.CategoryID,
		TargetGroup:       req.TargetGroup,
		Archetype:         req.Archetype,
		CreatedAt:         req.CreatedAt.UTC(),
		SkipValidations:   req.SkipValidations,
		ViaEmail:          req.ViaEmail,
		RawEmail:          req.RawEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("create post: marshal request: %w", err)
	}

	res, err := c.send(ctx, "create post", http.MethodPost, "/receiver/posts", "application/json", payload)
	if err != nil {
		return nil, err
	}
	switch res.status {
	case http.StatusOK, http.StatusCreated:
		var post models.Post
		if err := json.Unmarshal(res.body, &post); err != nil {
			return nil, fmt.Errorf("create post: decode response: %w", err)
		}
		return &post, nil
	case http.StatusUnprocessableEntity:
		var ae apiError
		_ = json.Unmarshal(res.body, &ae)
		return nil, fmt.Errorf("%w: %v", receiver.ErrPostRejected, ae.Errors)
	}
	return nil, &StatusError{Op: "create post", Status: res.status, Body: string(res.body)}
}

// AddInvitee adds identityID to a private topic.
func (c *Client) AddInvitee(ctx context.Context, topicID, identityID int64) error {
	status, err := c.do(ctx, "add invitee", http.MethodPost, fmt.Sprintf("/receiver/topics/%d/invitees", topicID),
		map[string]int64{"user_id": identityID}, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusConflict:
		return nil
	}
	return unexpected("add invitee", status)
}

// CanReply asks the forum whether identityID may post in topic.
func (c *Client) CanReply(ctx context.Context, identityID int64, topic *models.Topic) (bool, error) {
	if topic == nil {
		return false, nil
	}
	var out struct {
		Allowed bool `json:"allowed"`
	}
	path := fmt.Sprintf("/receiver/topics/%d/permissions?user_id=%d", topic.ID, identityID)
	status, err := c.do(ctx, "reply permission", http.MethodGet, path, nil, &out)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return out.Allowed, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, unexpected("reply permission", status)
}

// React records a reaction of kind on postID.
func (c *Client) React(ctx context.Context, identityID, postID int64, kind string) error {
	status, err := c.do(ctx, "react", http.MethodPost, fmt.Sprintf("/receiver/posts/%d/reactions", postID),
		map[string]any{"user_id": identityID, "kind": kind}, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return receiver.ErrAlreadyReacted
	case http.StatusForbidden:
		return receiver.ErrReactionDenied
	}
	return unexpected("react", status)
}

// SendSystemMessage asks the forum to send a templated message.
func (c *Client) SendSystemMessage(ctx context.Context, identityID int64, template string) error {
	status, err := c.do(ctx, "system message", http.MethodPost, "/receiver/system-messages",
		map[string]any{"user_id": identityID, "template": template}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted && status != http.StatusCreated {
		return unexpected("system message", status)
	}
	return nil
}

// Upload stores an attachment owned by identityID.
func (c *Client) Upload(ctx context.Context, identityID int64, filename, contentType string, data []byte) (*models.Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("user_id", strconv.FormatInt(identityID, 10)); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := mw.WriteField("type", "composer"); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	res, err := c.send(ctx, "upload", http.MethodPost, "/receiver/uploads", mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}
	if res.status != http.StatusOK && res.status != http.StatusCreated {
		return nil, &StatusError{Op: "upload", Status: res.status, Body: string(res.body)}
	}
	var up models.Upload
	if err := json.Unmarshal(res.body, &up); err != nil {
		return nil, fmt.Errorf("upload: decode response: %w", err)
	}
	return &up, nil
}

var (
	_ receiver.IdentityDirectory     = (*Client)(nil)
	_ receiver.ConversationDirectory = (*Client)(nil)
	_ receiver.ContentCreator        = (*Client)(nil)
	_ receiver.ReactionRecorder      = (*Client)(nil)
	_ receiver.Mailer                = (*Client)(nil)
)
