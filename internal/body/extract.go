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

// Package body picks the best body of a message and splits it into new
// content and elided content (quotes, signatures, forwarded history).
//
// Plain-text parts go through a line-based reply trimmer. HTML parts are
// matched against a fixed, ordered table of authoring-tool heuristics; the
// first match decides how the document is segmented. HTML that no heuristic
// recognises is converted to markdown and trimmed like plain text.
package body

import (
	"errors"
	"strings"

	"github.com/mdheller/discourse/internal/models"
)

// ErrNoBody is returned when neither part yields content and the message
// has no attachments.
var ErrNoBody = errors.New("no body detected")

// Options control extraction.
type Options struct {
	// PreferHTML picks the HTML result whenever it produced markdown.
	PreferHTML bool
	// SkipTrimming keeps quoted content inline.
	SkipTrimming bool
	// ConvertPlaintext runs plain-text results through PlainTextToMarkdown.
	ConvertPlaintext bool
	// MailingListMirror forces plain-text conversion.
	MailingListMirror bool
}

// Result is an extracted body plus which path produced it.
type Result struct {
	models.ExtractedBody
	// Heuristic names the HTML heuristic that segmented the document, if any.
	Heuristic string
	// Text is the untrimmed plain-text part with previous replies removed.
	// The forwarded-message unwrapper searches it for an embedded message.
	Text string
}

// Extract selects and segments the body of msg.
func Extract(msg *models.IncomingMessage, opts Options) (*Result, error) {
	var (
		text, textElided string
		rawText          string
	)
	if msg.TextPart != nil && strings.TrimSpace(msg.TextPart.Text) != "" {
		rawText = StripPreviousReplies(normalizeNewlines(msg.TextPart.Text))
		text, textElided = trim(rawText, opts)
		if opts.ConvertPlaintext || opts.MailingListMirror {
			ptOpts := PlainTextOptionsFromHeader(msg.TextPart.ContentTypeHeader)
			text = PlainTextToMarkdown(text, ptOpts)
			textElided = PlainTextToMarkdown(textElided, ptOpts)
		}
	}

	var (
		markdown, markdownElided string
		heuristic                string
	)
	if msg.HTMLPart != nil && strings.TrimSpace(msg.HTMLPart.Text) != "" {
		markdown, markdownElided, heuristic = extractHTML(msg.HTMLPart.Text, opts)
	}

	res := &Result{Heuristic: heuristic, Text: rawText}
	if strings.TrimSpace(text) == "" || (opts.PreferHTML && strings.TrimSpace(markdown) != "") {
		res.ExtractedBody = models.ExtractedBody{
			Content: markdown,
			Elided:  markdownElided,
			Format:  models.FormatMarkdown,
		}
	} else {
		res.ExtractedBody = models.ExtractedBody{
			Content: text,
			Elided:  textElided,
			Format:  models.FormatPlaintext,
		}
		res.Heuristic = ""
	}

	if strings.TrimSpace(res.Content) == "" && len(msg.Attachments) == 0 {
		return nil, ErrNoBody
	}
	return res, nil
}

func extractHTML(raw string, opts Options) (content, elided, heuristic string) {
	if newHTML, elidedHTML, name, ok := Elide(raw); ok {
		content = HTMLToMarkdown(newHTML)
		elided = HTMLToMarkdown(elidedHTML)
		if !opts.SkipTrimming {
			var more string
			content, more = Trim(content)
			elided = joinNonEmpty(more, elided)
		}
		return content, elided, name
	}

	md := StripPreviousReplies(HTMLToMarkdown(raw))
	content, elided = trim(md, opts)
	return content, elided, ""
}

func trim(text string, opts Options) (string, string) {
	if opts.SkipTrimming {
		return strings.TrimSpace(text), ""
	}
	return Trim(text)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
