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
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mdheller/discourse/internal/models"
)

// get fetches path into out and reports false on 404.
func (c *Client) get(ctx context.Context, op, path string, out any) (bool, error) {
	status, err := c.do(ctx, op, http.MethodGet, path, nil, out)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, unexpected(op, status)
}

func (c *Client) FindGroupByAddress(ctx context.Context, addr string) (*models.Group, error) {
	var g models.Group
	ok, err := c.get(ctx, "find group", "/receiver/groups?email="+url.QueryEscape(addr), &g)
	if err != nil || !ok {
		return nil, err
	}
	return &g, nil
}

func (c *Client) FindCategoryByAddress(ctx context.Context, addr string) (*models.Category, error) {
	var cat models.Category
	ok, err := c.get(ctx, "find category", "/receiver/categories?email="+url.QueryEscape(addr), &cat)
	if err != nil || !ok {
		return nil, err
	}
	return &cat, nil
}

func (c *Client) FindReplyKey(ctx context.Context, key string) (*models.ReplyKeyRecord, error) {
	var rk models.ReplyKeyRecord
	ok, err := c.get(ctx, "find reply key", "/receiver/reply-keys/"+url.PathEscape(key), &rk)
	if err != nil || !ok {
		return nil, err
	}
	return &rk, nil
}

// FindPost returns the post and its topic, including deleted topics.
func (c *Client) FindPost(ctx context.Context, postID int64) (*models.Post, error) {
	var p models.Post
	ok, err := c.get(ctx, "find post", fmt.Sprintf("/receiver/posts/%d", postID), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// FindPostByMessageIDs returns the post an outbound or earlier inbound
// e-mail with one of ids belongs to.
func (c *Client) FindPostByMessageIDs(ctx context.Context, ids []string) (*models.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var p models.Post
	status, err := c.do(ctx, "find post by message ids", http.MethodPost, "/receiver/posts/lookup",
		map[string][]string{"message_ids": ids}, &p)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return &p, nil
	case http.StatusNotFound:
		return nil, nil
	}
	return nil, unexpected("find post by message ids", status)
}

func (c *Client) FindEmailLog(ctx context.Context, bounceKey string) (*models.EmailLog, error) {
	var l models.EmailLog
	ok, err := c.get(ctx, "find email log", "/receiver/email-logs/"+url.PathEscape(bounceKey), &l)
	if err != nil || !ok {
		return nil, err
	}
	return &l, nil
}

// MarkBounced flags an outbound e-mail as bounced.
func (c *Client) MarkBounced(ctx context.Context, emailLogID int64, status string) error {
	code, err := c.do(ctx, "mark email log bounced", http.MethodPost, fmt.Sprintf("/receiver/email-logs/%d/bounce", emailLogID),
		map[string]string{"status": status}, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK && code != http.StatusNoContent {
		return unexpected("mark email log bounced", code)
	}
	return nil
}
