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

// Package forward detects a forwarded message and recovers the original
// message embedded in its body.
package forward

import (
	"regexp"
	"strings"

	"github.com/mdheller/discourse/internal/address"
	"github.com/mdheller/discourse/internal/body"
	"github.com/mdheller/discourse/internal/models"
	"github.com/mdheller/discourse/internal/parser"
)

var (
	subjectPattern = regexp.MustCompile(`(?i)^[ \t]*(fwd?|tr)[ \t]?:`)
	headerLine     = regexp.MustCompile(`^\*?[A-Za-z][A-Za-z0-9-]*\*?[ \t]*:`)
	boldMarkers    = regexp.MustCompile(`^\*([^*:]+)\*?[ \t]*:\*?`)
)

// Forwarded is an unwrapped forward.
type Forwarded struct {
	// Message is the embedded original, parsed as its own message.
	Message *models.IncomingMessage
	// Sender is the original author.
	Sender *models.Address
	// Before is the forwarder's own text above the embedded message.
	Before string
}

// IsForwardSubject reports whether subject carries a Fwd:, Fw: or Tr: prefix.
func IsForwardSubject(subject string) bool {
	return subjectPattern.MatchString(subject)
}

// Unwrap returns the forwarded original of msg, whose untrimmed plain-text
// body is text. It reports false when the subject is not a forward, no
// embedded message is found or the embedded message has no sender.
func Unwrap(msg *models.IncomingMessage, text string) (*Forwarded, bool) {
	if msg == nil || !IsForwardSubject(msg.Subject) {
		return nil, false
	}
	before, embedded, ok := body.SplitEmbedded(text)
	if !ok {
		return nil, false
	}

	inner, err := parser.Parse(Rebuild(embedded))
	if err != nil {
		return nil, false
	}
	sender, ok := address.Parse(inner.From)
	if !ok {
		return nil, false
	}
	return &Forwarded{Message: inner, Sender: sender, Before: before}, true
}

// Rebuild turns an embedded header block and body into RFC 822 bytes. The
// header ends at the first line that is not a header field.
func Rebuild(embedded string) []byte {
	lines := strings.Split(strings.ReplaceAll(embedded, "\r\n", "\n"), "\n")

	var header []string
	i := 0
	for ; i < len(lines); i++ {
		line := lines[i]
		if headerLine.MatchString(line) {
			header = append(header, boldMarkers.ReplaceAllString(line, "$1:"))
			continue
		}
		if len(header) > 0 && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && strings.TrimSpace(line) != "" {
			header = append(header, line)
			continue
		}
		break
	}
	rest := lines[i:]
	for len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
		rest = rest[1:]
	}

	var b strings.Builder
	for _, h := range header {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(strings.Join(rest, "\r\n"))
	return []byte(b.String())
}
