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

package body

import (
	"regexp"
	"strings"
)

var (
	flowedParam = regexp.MustCompile(`(?i)format\s*=\s*["']?flowed["']?`)
	delSpParam  = regexp.MustCompile(`(?i)delsp\s*=\s*["']?yes["']?`)

	markdownSpecial = regexp.MustCompile("([\\\\`*_])")
	leadingMarkup   = regexp.MustCompile(`^(\s*)([#+]|\d+\.)(\s)`)
	codeLine        = regexp.MustCompile(`^(    |\t)`)
	urlToken        = regexp.MustCompile(`(?i)\b(https?://|mailto:|www\.)\S+`)
)

// PlainTextOptions are the content-type hints for PlainTextToMarkdown.
type PlainTextOptions struct {
	Flowed      bool
	DeleteSpace bool
}

// PlainTextOptionsFromHeader reads format=flowed and delsp=yes from a
// Content-Type value.
func PlainTextOptionsFromHeader(contentType string) PlainTextOptions {
	return PlainTextOptions{
		Flowed:      flowedParam.MatchString(contentType),
		DeleteSpace: delSpParam.MatchString(contentType),
	}
}

// Unflow joins the soft line breaks of a format=flowed body (RFC 3676).
func Unflow(text string, deleteSpace bool) string {
	lines := splitLines(text)
	var (
		out     []string
		current strings.Builder
		depth   = -1
	)
	flush := func() {
		if depth >= 0 {
			out = append(out, strings.Repeat(">", depth)+prefixSpace(depth)+current.String())
		}
		current.Reset()
		depth = -1
	}

	for _, line := range lines {
		d := 0
		for d < len(line) && line[d] == '>' {
			d++
		}
		content := line[d:]
		// Space-stuffing.
		content = strings.TrimPrefix(content, " ")

		if depth >= 0 && d != depth {
			flush()
		}
		depth = d

		soft := strings.HasSuffix(content, " ") && content != "-- "
		if soft && deleteSpace {
			content = strings.TrimSuffix(content, " ")
		}
		current.WriteString(content)
		if !soft {
			flush()
		}
	}
	flush()
	return strings.Join(out, "\n")
}

func prefixSpace(depth int) string {
	if depth > 0 {
		return " "
	}
	return ""
}

// PlainTextToMarkdown turns a plain-text body into markdown that renders
// the way the sender saw it: quotes become blockquotes, characters with a
// markdown meaning are escaped and indented code stays as code.
func PlainTextToMarkdown(text string, opts PlainTextOptions) string {
	if opts.Flowed {
		text = Unflow(text, opts.DeleteSpace)
	}

	lines := splitLines(text)
	out := make([]string, 0, len(lines))
	inCode := false
	for _, line := range lines {
		if codeLine.MatchString(line) && (inCode || len(out) == 0 || strings.TrimSpace(out[len(out)-1]) == "") {
			inCode = true
			out = append(out, line)
			continue
		}
		inCode = false

		depth := 0
		rest := line
		for {
			trimmed := strings.TrimLeft(rest, " ")
			if !strings.HasPrefix(trimmed, ">") {
				break
			}
			depth++
			rest = trimmed[1:]
		}
		rest = strings.TrimPrefix(rest, " ")
		rest = escapeMarkdown(rest)
		if depth > 0 {
			rest = strings.Repeat("> ", depth) + rest
		}
		out = append(out, strings.TrimRight(rest, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// escapeMarkdown escapes emphasis and code characters outside URLs.
func escapeMarkdown(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range urlToken.FindAllStringIndex(s, -1) {
		b.WriteString(markdownSpecial.ReplaceAllString(s[last:loc[0]], `\$1`))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(markdownSpecial.ReplaceAllString(s[last:], `\$1`))
	return leadingMarkup.ReplaceAllString(b.String(), `$1\$2$3`)
}
