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

// Package textenc recovers valid UTF-8 text from message parts whose
// declared character set is missing, wrong or unsupported.
//
// Normalization tries a prioritised list of candidate charsets and returns
// the first one that decodes cleanly. It never fails loudly: callers get
// ok=false and treat the part as empty.
package textenc

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// fallbacks are tried after the declared charset, in this order.
var fallbacks = []string{"utf-8", "windows-1252", "iso-8859-1"}

// Candidates returns the charsets Normalize tries, in order. A part sent
// with an 8bit transfer encoding is tried as UTF-8 first: transports that
// declare 8bit deliver UTF-8 in practice whatever the header says.
func Candidates(declared, transferEncoding string) []string {
	list := make([]string, 0, len(fallbacks)+1)
	if strings.EqualFold(strings.TrimSpace(transferEncoding), "8bit") {
		list = append(list, "utf-8")
	}
	if d := strings.ToLower(strings.TrimSpace(declared)); d != "" {
		list = append(list, d)
	}
	list = append(list, fallbacks...)

	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, c := range list {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Normalize decodes raw using the first candidate charset that yields
// well-formed text.
func Normalize(raw []byte, declared, transferEncoding string) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	for _, cs := range Candidates(declared, transferEncoding) {
		if text, ok := Decode(raw, cs); ok {
			return text, true
		}
	}
	return "", false
}

// Decode converts raw from charset to UTF-8. It reports false when the
// charset is unknown or when raw contains sequences invalid in charset.
func Decode(raw []byte, charset string) (string, bool) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8":
		if !utf8.Valid(raw) {
			return "", false
		}
		return string(raw), true
	case "us-ascii", "ascii":
		for _, b := range raw {
			if b >= utf8.RuneSelf {
				return "", false
			}
		}
		return string(raw), true
	}

	enc, err := Lookup(charset)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	// x/text decoders substitute U+FFFD for undefined bytes instead of
	// failing, so a replacement rune means the bytes did not fit.
	if bytes.ContainsRune(out, utf8.RuneError) || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}

// Lookup resolves a charset label to an encoding.
func Lookup(charset string) (encoding.Encoding, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	switch name {
	case "windows-1252", "cp1252", "x-cp1252":
		return charmap.Windows1252, nil
	case "iso-8859-1", "iso8859-1", "latin1", "l1":
		// htmlindex would map this to windows-1252.
		return charmap.ISO8859_1, nil
	}
	if enc, _ := ianaindex.MIME.Encoding(name); enc != nil {
		return enc, nil
	}
	if enc, _ := ianaindex.IANA.Encoding(name); enc != nil {
		return enc, nil
	}
	if enc, err := htmlindex.Get(name); err == nil && enc != nil {
		return enc, nil
	}
	return nil, fmt.Errorf("unknown charset %q", charset)
}

// WordDecoder decodes RFC 2047 encoded words in any charset Lookup knows.
var WordDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, r io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "", "us-ascii", "utf-8":
			return r, nil
		}
		enc, err := Lookup(charset)
		if err != nil {
			return nil, err
		}
		return enc.NewDecoder().Reader(r), nil
	},
}

// DecodeHeader decodes encoded words in a header value. Undecodable values
// are returned unchanged.
func DecodeHeader(s string) string {
	decoded, err := WordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
