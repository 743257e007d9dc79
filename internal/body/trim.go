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

// lineKind classifies one line of a plain-text body.
type lineKind byte

const (
	lineEmpty     lineKind = 'e'
	lineText      lineKind = 't'
	lineQuote     lineKind = 'q'
	lineDelimiter lineKind = 'd'
	lineSignature lineKind = 's'
	lineReplyHdr  lineKind = 'h'
	lineEmbedded  lineKind = 'm'
	lineHeaderBlk lineKind = 'b'
)

var (
	quoteLine     = regexp.MustCompile(`^\s*>`)
	delimiterLine = regexp.MustCompile(`^\s*[-_=*~#]{3,}\s*$`)
	signatureLine = regexp.MustCompile(`^--\s?$`)

	replyHeaderLine = regexp.MustCompile(`(?i)^\s*(` +
		`on\b.+\bwrote:|` +
		`le\b.+\ba écrit\s*:|` +
		`am\b.+\bschrieb .+:|am\b.+\bschrieb:|` +
		`el\b.+\bescribió:|` +
		`op\b.+\bschreef .+:|op\b.+\bschreef:|` +
		`il\b.+\bha scritto:|` +
		`em\b.+\bescreveu:|` +
		`w dniu\b.+\bnapisał.*:|` +
		`den\b.+\bskrev.*:|` +
		`.+写道：?|` +
		`.+wrote:` +
		`)\s*$`)

	embeddedMarkerLine = regexp.MustCompile(`(?i)^\s*(` +
		`-{2,}\s*forwarded message\s*-{2,}|` +
		`-{2,}\s*original message\s*-{2,}|` +
		`begin forwarded message:|` +
		`-{2,}\s*message (original|transféré)\s*-{2,}|` +
		`-{2,}\s*(original-nachricht|weitergeleitete nachricht|ursprüngliche nachricht)\s*-{2,}|` +
		`-{2,}\s*(mensaje original|mensaje reenviado)\s*-{2,}|` +
		`-{2,}\s*(messaggio originale|messaggio inoltrato)\s*-{2,}|` +
		`-{2,}\s*(oorspronkelijk bericht|doorgestuurd bericht)\s*-{2,}` +
		`)\s*$`)

	headerFromLine  = regexp.MustCompile(`(?i)^\s*\*?(from|de|von|da|van|från|fra|od)\s*:\*?\s*\S`)
	headerOtherLine = regexp.MustCompile(`(?i)^\s*\*?(sent|date|to|cc|subject|envoyé|objet|à|datum|gesendet|an|betreff|enviado|fecha|para|asunto|inviato|oggetto|verzonden|onderwerp|aan|skickat|ämne|till)\s*:\*?`)

	previousReplies = regexp.MustCompile(`(?ims)^--[ \t]*\n+\**Previous Replies\**.*\z`)
)

// headerBlockLookahead is how many lines after a From: line may hold the
// other header fields of a quoted header block.
const headerBlockLookahead = 4

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

func classify(lines []string) []lineKind {
	kinds := make([]lineKind, len(lines))
	for i, line := range lines {
		switch {
		case strings.TrimSpace(line) == "":
			kinds[i] = lineEmpty
		case embeddedMarkerLine.MatchString(line):
			kinds[i] = lineEmbedded
		case signatureLine.MatchString(line):
			kinds[i] = lineSignature
		case delimiterLine.MatchString(line):
			kinds[i] = lineDelimiter
		case quoteLine.MatchString(line):
			kinds[i] = lineQuote
		case replyHeaderLine.MatchString(line):
			kinds[i] = lineReplyHdr
		case i+1 < len(lines) && replyHeaderLine.MatchString(line+" "+lines[i+1]) && strings.HasSuffix(strings.TrimSpace(lines[i+1]), ":"):
			// "On <date>, <name>" wrapped before "wrote:".
			kinds[i] = lineReplyHdr
		case headerFromLine.MatchString(line) && headerBlockFollows(lines, i):
			kinds[i] = lineHeaderBlk
		default:
			kinds[i] = lineText
		}
	}
	return kinds
}

func headerBlockFollows(lines []string, i int) bool {
	for j := i + 1; j < len(lines) && j <= i+headerBlockLookahead; j++ {
		if headerOtherLine.MatchString(lines[j]) {
			return true
		}
	}
	return false
}

func isMarker(k lineKind) bool {
	switch k {
	case lineDelimiter, lineSignature, lineReplyHdr, lineEmbedded, lineHeaderBlk:
		return true
	}
	return false
}

// Trim splits a plain-text reply into the new content and the quoted or
// signature content after it. It cuts at the first marker line that has
// text above it and then moves trailing quoted lines into the elided half.
// When nothing would remain the whole text is returned as new content.
func Trim(text string) (string, string) {
	if strings.TrimSpace(text) == "" {
		return "", ""
	}
	lines := splitLines(text)
	kinds := classify(lines)

	cut := len(lines)
	seenText := false
	for i, k := range kinds {
		if k == lineText {
			seenText = true
			continue
		}
		if seenText && isMarker(k) {
			cut = i
			break
		}
	}

	// Trailing quotes belong to the elided half.
	end := cut
	for end > 0 && (kinds[end-1] == lineQuote || kinds[end-1] == lineEmpty) {
		end--
	}
	if end < cut && !hasQuote(kinds[end:cut]) {
		end = cut
	}

	reply := strings.TrimSpace(strings.Join(lines[:end], "\n"))
	elided := strings.TrimSpace(strings.Join(lines[end:], "\n"))
	if reply == "" {
		return strings.TrimSpace(text), ""
	}
	return reply, elided
}

func hasQuote(kinds []lineKind) bool {
	for _, k := range kinds {
		if k == lineQuote {
			return true
		}
	}
	return false
}

// StripPreviousReplies removes the "Previous Replies" digest the forum
// appends to outbound notifications.
func StripPreviousReplies(text string) string {
	return strings.TrimRight(previousReplies.ReplaceAllString(text, ""), " \t\r\n")
}

// SplitEmbedded locates a forwarded or quoted original message inside a
// plain-text body. It returns the text before the embedded message and the
// embedded message itself, starting at its first header line, with quote
// markers removed.
func SplitEmbedded(text string) (before, embedded string, ok bool) {
	lines := splitLines(text)
	kinds := classify(unquoteAll(lines))

	for i, k := range kinds {
		if k != lineEmbedded && k != lineHeaderBlk {
			continue
		}
		start := i
		if k == lineEmbedded {
			start = i + 1
			for start < len(lines) && kinds[start] == lineEmpty {
				start++
			}
			if start >= len(lines) || kinds[start] != lineHeaderBlk {
				continue
			}
		}
		rest := unquoteAll(lines[start:])
		before = strings.TrimSpace(strings.Join(lines[:i], "\n"))
		return before, strings.Join(rest, "\n"), true
	}
	return "", "", false
}

var quotePrefix = regexp.MustCompile(`^\s*>\s?`)

func unquoteAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = quotePrefix.ReplaceAllString(l, "")
	}
	return out
}
