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

// Package attachment uploads message attachments and references them from
// the post body.
package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mdheller/discourse/internal/models"
)

var imagePlaceholder = regexp.MustCompile(`(?i)\[image:[^\]]*\]`)

// Uploader stores attachment bytes for an owning identity.
type Uploader interface {
	Upload(ctx context.Context, identityID int64, filename, contentType string, data []byte) (*models.Upload, error)
}

// Config holds the deny patterns. Empty patterns deny nothing.
type Config struct {
	DenyContentTypes string
	DenyFilenames    string
}

// Inliner filters, uploads and references attachments.
type Inliner struct {
	uploader Uploader
	denyType *regexp.Regexp
	denyName *regexp.Regexp
}

// NewInliner compiles the deny patterns.
func NewInliner(uploader Uploader, cfg Config) (*Inliner, error) {
	in := &Inliner{uploader: uploader}
	var err error
	if in.denyType, err = compile(cfg.DenyContentTypes); err != nil {
		return nil, fmt.Errorf("attachment content type pattern: %w", err)
	}
	if in.denyName, err = compile(cfg.DenyFilenames); err != nil {
		return nil, fmt.Errorf("attachment filename pattern: %w", err)
	}
	return in, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	return regexp.Compile("(?i)" + pattern)
}

// Allowed reports whether a survives both deny patterns.
func (in *Inliner) Allowed(a models.Attachment) bool {
	if in.denyType != nil && in.denyType.MatchString(a.ContentType) {
		return false
	}
	if in.denyName != nil && in.denyName.MatchString(a.Filename) {
		return false
	}
	return true
}

// Filter returns the allowed attachments, in order.
func (in *Inliner) Filter(atts []models.Attachment) []models.Attachment {
	var out []models.Attachment
	for _, a := range atts {
		if in.Allowed(a) {
			out = append(out, a)
		}
	}
	return out
}

// Inline uploads every allowed attachment for identityID and returns
// content with references to them. Attachments that fail to upload are
// left out.
func (in *Inliner) Inline(ctx context.Context, content string, atts []models.Attachment, identityID int64) string {
	for _, a := range in.Filter(atts) {
		up, err := in.uploader.Upload(ctx, identityID, a.Filename, a.ContentType, a.Data)
		if err != nil || up == nil {
			slog.Warn("skipping attachment",
				"filename", a.Filename,
				"content_type", a.ContentType,
				"error", err,
			)
			continue
		}

		if !a.IsImage() {
			content = appendBlock(content, FileMarkdown(a.Filename, up))
			continue
		}

		switch {
		case a.URL() != "" && strings.Contains(content, a.URL()):
			content = strings.Replace(content, a.URL(), up.URL, 1)
		case imagePlaceholder.MatchString(content):
			loc := imagePlaceholder.FindStringIndex(content)
			content = content[:loc[0]] + ImageMarkdown(a.Filename, up) + content[loc[1]:]
		default:
			content = appendBlock(content, ImageMarkdown(a.Filename, up))
		}
	}
	return content
}

// ImageMarkdown is the image reference for an upload.
func ImageMarkdown(name string, up *models.Upload) string {
	return fmt.Sprintf("![%s|%dx%d](%s)", name, up.Width, up.Height, up.URL)
}

// FileMarkdown is the download link for a non-image upload.
func FileMarkdown(name string, up *models.Upload) string {
	return fmt.Sprintf("[%s|attachment](%s) (%s)", name, up.URL, humanize.Bytes(uint64(up.Size)))
}

func appendBlock(content, block string) string {
	if strings.TrimSpace(content) == "" {
		return block
	}
	return strings.TrimRight(content, "\n") + "\n\n" + block
}
