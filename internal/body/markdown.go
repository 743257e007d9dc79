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
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var sanitizer = newSanitizer()

func newSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowURLSchemes("http", "https", "mailto", "cid", "data")
	p.AllowDataURIImages()
	p.AllowAttrs("width", "height").OnElements("img")
	return p
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\r\n\f]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
	listIndent = regexp.MustCompile(`^\s+([-*]|\d+\.)\s`)
)

// HTMLToMarkdown sanitizes an HTML fragment and converts it to markdown.
// Images, including cid: images, are kept as image references.
func HTMLToMarkdown(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	clean := sanitizer.Sanitize(fragment)
	nodes, err := html.ParseFragment(strings.NewReader(clean), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return strings.TrimSpace(spaceRun.ReplaceAllString(clean, " "))
	}

	c := &mdConverter{}
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(c.node(n))
	}
	return tidy(b.String())
}

type mdConverter struct {
	pre int
}

func (c *mdConverter) children(n *html.Node) string {
	var b strings.Builder
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		b.WriteString(c.node(ch))
	}
	return b.String()
}

func (c *mdConverter) node(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		if c.pre > 0 {
			return n.Data
		}
		return spaceRun.ReplaceAllString(n.Data, " ")
	case html.DocumentNode:
		return c.children(n)
	case html.ElementNode:
	default:
		return ""
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head, atom.Title:
		return ""
	case atom.Br:
		return "\n"
	case atom.Hr:
		return "\n\n---\n\n"
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Header, atom.Footer, atom.Table:
		return "\n\n" + c.children(n) + "\n\n"
	case atom.Tr:
		return "\n" + c.children(n)
	case atom.Td, atom.Th:
		return c.children(n) + " "
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level, _ := strconv.Atoi(n.Data[1:])
		return "\n\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(c.children(n)) + "\n\n"
	case atom.Strong, atom.B:
		return wrapInline(c.children(n), "**")
	case atom.Em, atom.I:
		return wrapInline(c.children(n), "*")
	case atom.Code:
		if c.pre > 0 {
			return c.children(n)
		}
		return wrapInline(c.children(n), "`")
	case atom.Pre:
		c.pre++
		inner := c.children(n)
		c.pre--
		return "\n\n```\n" + strings.Trim(inner, "\n") + "\n```\n\n"
	case atom.A:
		text := strings.TrimSpace(c.children(n))
		href := attr(n, "href")
		switch {
		case href == "":
			return text
		case text == "" || text == href || "mailto:"+text == href:
			return href
		default:
			return "[" + text + "](" + href + ")"
		}
	case atom.Img:
		src := attr(n, "src")
		if src == "" {
			return ""
		}
		return "![" + attr(n, "alt") + "](" + src + ")"
	case atom.Blockquote:
		inner := tidy(c.children(n))
		lines := strings.Split(inner, "\n")
		for i, l := range lines {
			if l == "" {
				lines[i] = ">"
			} else {
				lines[i] = "> " + l
			}
		}
		return "\n\n" + strings.Join(lines, "\n") + "\n\n"
	case atom.Ul, atom.Ol:
		return "\n\n" + c.list(n) + "\n\n"
	}
	return c.children(n)
}

func (c *mdConverter) list(n *html.Node) string {
	ordered := n.DataAtom == atom.Ol
	var items []string
	i := 0
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type != html.ElementNode || ch.DataAtom != atom.Li {
			continue
		}
		i++
		marker := "- "
		if ordered {
			marker = strconv.Itoa(i) + ". "
		}
		content := tidy(c.children(ch))
		lines := strings.Split(content, "\n")
		for j := 1; j < len(lines); j++ {
			if lines[j] != "" {
				lines[j] = "  " + lines[j]
			}
		}
		items = append(items, marker+strings.Join(lines, "\n"))
	}
	return strings.Join(items, "\n")
}

func wrapInline(s, mark string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	lead := s[:len(s)-len(strings.TrimLeft(s, " "))]
	trail := s[len(strings.TrimRight(s, " ")):]
	return lead + mark + t + mark + trail
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// tidy trims each line and collapses runs of blank lines, leaving fenced
// code and nested list indentation alone.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	fenced := false
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			fenced = !fenced
			lines[i] = strings.TrimSpace(l)
			continue
		}
		if fenced {
			continue
		}
		l = strings.TrimRight(l, " \t")
		if !listIndent.MatchString(l) {
			l = strings.TrimLeft(l, " \t")
		}
		lines[i] = l
	}
	out := strings.Join(lines, "\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(out, "\n\n"))
}
