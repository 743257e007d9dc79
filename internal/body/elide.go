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
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// heuristic recognises the quoting style of one authoring tool. detect runs
// against the raw HTML; split removes the elided nodes from the parsed
// document and returns them in document order, plus the node holding the
// new content when it is narrower than the whole body.
type heuristic struct {
	name   string
	detect *regexp.Regexp
	split  func(body *html.Node) (keep *html.Node, elided []*html.Node)
}

// heuristics are evaluated in order; the first whose detector matches wins.
var heuristics = []heuristic{
	{"gmail", regexp.MustCompile(`class=["'][^"']*\bgmail_(signature|extra|quote)`), splitGmail},
	{"outlook", regexp.MustCompile(`id=["'](divRplyFwdMsg|Signature)["']`), splitOutlook},
	{"word", regexp.MustCompile(`class=["'][^"']*\bWordSection1\b`), splitWord},
	{"exchange", regexp.MustCompile(`name=["']message(Body|Reply)Section["']`), splitExchange},
	{"apple_mail", regexp.MustCompile(`id=["']AppleMailSignature["']`), splitAppleMail},
	{"mozilla", regexp.MustCompile(`class=["'][^"']*\bmoz-(cite|signature|forward)`), classPrefixAndFollowing("moz-cite", "moz-signature", "moz-forward")},
	{"protonmail", regexp.MustCompile(`class=["'][^"']*\bprotonmail_`), classPrefixAndFollowing("protonmail_")},
	{"zimbra", regexp.MustCompile(`data-marker=["']__`), splitZimbra},
	{"newton", regexp.MustCompile(`(id|class)=["']cm_`), splitNewton},
	{"front", regexp.MustCompile(`class=["'][^"']*\bfront-`), classPrefixAndFollowing("front-")},
}

// Elide applies the first matching heuristic to raw HTML. It returns the
// new-content and elided HTML fragments and the heuristic's name, or
// ok=false when no heuristic recognises the document.
func Elide(raw string) (newHTML, elidedHTML, name string, ok bool) {
	for _, h := range heuristics {
		if !h.detect.MatchString(raw) {
			continue
		}
		doc, err := html.Parse(strings.NewReader(raw))
		if err != nil {
			return "", "", "", false
		}
		body := findBody(doc)
		if body == nil {
			return "", "", "", false
		}
		keep, elided := h.split(body)
		removeAll(elided)
		if keep == nil {
			keep = body
		}
		return renderChildren(keep), renderNodes(elided), h.name, true
	}
	return "", "", "", false
}

func splitGmail(body *html.Node) (*html.Node, []*html.Node) {
	return nil, outermost(selectAll(body, func(n *html.Node) bool {
		return hasClassPrefix(n, "gmail_signature", "gmail_extra", "gmail_quote")
	}))
}

func splitOutlook(body *html.Node) (*html.Node, []*html.Node) {
	marked := selectAll(body, func(n *html.Node) bool {
		id := attr(n, "id")
		return id == "Signature" || id == "divRplyFwdMsg" || n.DataAtom == atom.Hr
	})
	return nil, outermost(withFollowing(marked))
}

func splitWord(body *html.Node) (*html.Node, []*html.Node) {
	wrappers := selectAll(body, func(n *html.Node) bool { return hasClass(n, "WordSection1") })
	var elided []*html.Node
	for _, w := range wrappers {
		for ch := w.FirstChild; ch != nil; ch = ch.NextSibling {
			if ch.Type != html.ElementNode {
				continue
			}
			switch ch.DataAtom {
			case atom.P, atom.Ul, atom.Ol:
				continue
			}
			elided = append(elided, withFollowing([]*html.Node{ch})...)
			break
		}
	}
	return nil, outermost(elided)
}

func splitExchange(body *html.Node) (*html.Node, []*html.Node) {
	var keep *html.Node
	if sections := selectAll(body, func(n *html.Node) bool { return attr(n, "name") == "messageBodySection" }); len(sections) > 0 {
		keep = sections[0]
	}
	replies := selectAll(body, func(n *html.Node) bool { return attr(n, "name") == "messageReplySection" })
	return keep, outermost(replies)
}

func splitAppleMail(body *html.Node) (*html.Node, []*html.Node) {
	sigs := selectAll(body, func(n *html.Node) bool { return attr(n, "id") == "AppleMailSignature" })
	if len(sigs) == 0 {
		return nil, nil
	}
	return nil, outermost(withFollowing(sigs[len(sigs)-1:]))
}

func splitZimbra(body *html.Node) (*html.Node, []*html.Node) {
	marked := selectAll(body, func(n *html.Node) bool { return strings.HasPrefix(attr(n, "data-marker"), "__") })
	return nil, outermost(withFollowing(marked))
}

func splitNewton(body *html.Node) (*html.Node, []*html.Node) {
	marked := selectAll(body, func(n *html.Node) bool {
		return strings.HasPrefix(attr(n, "id"), "cm_") || hasClassPrefix(n, "cm_")
	})
	return nil, outermost(withFollowing(marked))
}

func classPrefixAndFollowing(prefixes ...string) func(*html.Node) (*html.Node, []*html.Node) {
	return func(body *html.Node) (*html.Node, []*html.Node) {
		marked := selectAll(body, func(n *html.Node) bool { return hasClassPrefix(n, prefixes...) })
		return nil, outermost(withFollowing(marked))
	}
}

func findBody(doc *html.Node) *html.Node {
	var body *html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if body != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			visit(ch)
		}
	}
	visit(doc)
	return body
}

// selectAll returns the element descendants of root matching pred, in
// document order.
func selectAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			if ch.Type == html.ElementNode && pred(ch) {
				out = append(out, ch)
			}
			visit(ch)
		}
	}
	visit(root)
	return out
}

// withFollowing adds every later sibling of each node.
func withFollowing(nodes []*html.Node) []*html.Node {
	var out []*html.Node
	for _, n := range nodes {
		for s := n; s != nil; s = s.NextSibling {
			out = append(out, s)
		}
	}
	return out
}

// outermost drops duplicates and nodes nested inside another selected
// node, then sorts the rest into document order.
func outermost(nodes []*html.Node) []*html.Node {
	if len(nodes) == 0 {
		return nil
	}
	set := make(map[*html.Node]bool, len(nodes))
	for _, n := range nodes {
		set[n] = true
	}

	var root *html.Node
	for root = nodes[0]; root.Parent != nil; root = root.Parent {
	}

	var out []*html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			if set[ch] {
				out = append(out, ch)
				continue
			}
			visit(ch)
		}
	}
	visit(root)
	return out
}

func removeAll(nodes []*html.Node) {
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

func classes(n *html.Node) []string {
	return strings.Fields(attr(n, "class"))
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range classes(n) {
		if c == class {
			return true
		}
	}
	return false
}

func hasClassPrefix(n *html.Node, prefixes ...string) bool {
	for _, c := range classes(n) {
		for _, p := range prefixes {
			if strings.HasPrefix(c, p) {
				return true
			}
		}
	}
	return false
}

func renderChildren(n *html.Node) string {
	var nodes []*html.Node
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		nodes = append(nodes, ch)
	}
	return renderNodes(nodes)
}

func renderNodes(nodes []*html.Node) string {
	var buf bytes.Buffer
	for _, n := range nodes {
		_ = html.Render(&buf, n)
	}
	return strings.TrimSpace(buf.String())
}
