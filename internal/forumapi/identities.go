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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/mdheller/discourse/internal/models"
)

// FindIdentity looks an identity up by e-mail address.
func (c *Client) FindIdentity(ctx context.Context, addr string) (*models.Identity, error) {
	var identity models.Identity
	status, err := c.do(ctx, "find identity", http.MethodGet, "/receiver/identities?email="+url.QueryEscape(addr), nil, &identity)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return &identity, nil
	case http.StatusNotFound:
		return nil, nil
	}
	return nil, unexpected("find identity", status)
}

// FindOrCreateStaged returns the identity owning addr, creating a staged
// one when there is none. A concurrent creation by another receiver
// surfaces as ErrIdentityConflict, after which the lookup is retried.
func (c *Client) FindOrCreateStaged(ctx context.Context, addr, name string) (*models.Identity, bool, error) {
	identity, err := c.FindIdentity(ctx, addr)
	if err != nil || identity != nil {
		return identity, false, err
	}

	identity, err = c.createStaged(ctx, addr, name)
	if errors.Is(err, ErrIdentityConflict) {
		slog.Debug("staged identity created concurrently, retrying lookup", "address", addr)
		identity, err = c.FindIdentity(ctx, addr)
		if err == nil && identity == nil {
			err = fmt.Errorf("identity %s vanished after conflict", addr)
		}
		return identity, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return identity, true, nil
}

func (c *Client) createStaged(ctx context.Context, addr, name string) (*models.Identity, error) {
	var identity models.Identity
	status, err := c.do(ctx, "create staged identity", http.MethodPost, "/receiver/identities/staged",
		map[string]string{"email": addr, "name": name}, &identity)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		return &identity, nil
	case http.StatusConflict:
		return nil, ErrIdentityConflict
	}
	return nil, unexpected("create staged identity", status)
}

// DestroyStaged deletes a staged identity. The API refuses identities that
// are not staged.
func (c *Client) DestroyStaged(ctx context.Context, identityID int64) error {
	status, err := c.do(ctx, "destroy staged identity", http.MethodDelete, fmt.Sprintf("/receiver/identities/%d", identityID), nil, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return unexpected("destroy staged identity", status)
}

// OwnsContent reports whether the identity authored any post.
func (c *Client) OwnsContent(ctx context.Context, identityID int64) (bool, error) {
	var out struct {
		PostCount int `json:"post_count"`
	}
	status, err := c.do(ctx, "identity content", http.MethodGet, fmt.Sprintf("/receiver/identities/%d/content", identityID), nil, &out)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, unexpected("identity content", status)
	}
	return out.PostCount > 0, nil
}

// IsScreened reports whether the address is on the screened list.
func (c *Client) IsScreened(ctx context.Context, addr string) (bool, error) {
	var out struct {
		Screened bool `json:"screened"`
	}
	status, err := c.do(ctx, "screened address", http.MethodGet, "/receiver/screened?email="+url.QueryEscape(addr), nil, &out)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, unexpected("screened address", status)
	}
	return out.Screened, nil
}

// BounceThresholdReached notifies the forum that an address's bounce score
// crossed a threshold.
func (c *Client) BounceThresholdReached(ctx context.Context, addr string, score float64, deactivate bool) error {
	status, err := c.do(ctx, "bounce threshold", http.MethodPost, "/receiver/bounces", map[string]any{
		"email":      addr,
		"score":      score,
		"deactivate": deactivate,
	}, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return unexpected("bounce threshold", status)
}
