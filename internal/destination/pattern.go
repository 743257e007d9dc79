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

package destination

import (
	"fmt"
	"regexp"
	"strings"
)

// ReplyKeyPlaceholder marks where the reply key sits in an address template.
const ReplyKeyPlaceholder = "%{reply_key}"

const replyKeyGroup = `([0-9a-f]{32})`

// ReplyKeyPattern matches reply addresses built from any configured
// template and extracts their 32-hex reply keys.
type ReplyKeyPattern struct {
	re *regexp.Regexp
}

// CompileReplyKeyPattern builds the alternation of primary and
// alternatives. Empty templates are ignored; any other template must hold
// exactly one placeholder. The "+" of a subaddress is optional, since some
// relays drop it.
func CompileReplyKeyPattern(primary string, alternatives []string) (*ReplyKeyPattern, error) {
	var parts []string
	for _, tmpl := range append([]string{primary}, alternatives...) {
		tmpl = strings.TrimSpace(tmpl)
		if tmpl == "" {
			continue
		}
		if n := strings.Count(tmpl, ReplyKeyPlaceholder); n != 1 {
			return nil, fmt.Errorf("reply address template %q has %d reply key placeholders, want 1", tmpl, n)
		}
		before, after, _ := strings.Cut(tmpl, ReplyKeyPlaceholder)
		parts = append(parts, quote(before)+replyKeyGroup+quote(after))
	}
	if len(parts) == 0 {
		return &ReplyKeyPattern{}, nil
	}

	re, err := regexp.Compile(`(?i)^(?:` + strings.Join(parts, "|") + `)$`)
	if err != nil {
		return nil, fmt.Errorf("compile reply key pattern: %w", err)
	}
	return &ReplyKeyPattern{re: re}, nil
}

func quote(s string) string {
	return strings.ReplaceAll(regexp.QuoteMeta(s), `\+`, `\+?`)
}

// Match reports whether address is a reply address.
func (p *ReplyKeyPattern) Match(address string) bool {
	return p != nil && p.re != nil && p.re.MatchString(strings.TrimSpace(address))
}

// Keys returns every non-empty reply-key capture of address, lowercased.
func (p *ReplyKeyPattern) Keys(address string) []string {
	if p == nil || p.re == nil {
		return nil
	}
	m := p.re.FindStringSubmatch(strings.TrimSpace(address))
	if m == nil {
		return nil
	}
	var keys []string
	for _, c := range m[1:] {
		if c != "" {
			keys = append(keys, strings.ToLower(c))
		}
	}
	return keys
}

// String returns the compiled expression.
func (p *ReplyKeyPattern) String() string {
	if p == nil || p.re == nil {
		return ""
	}
	return p.re.String()
}
