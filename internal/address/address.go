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

// Package address extracts a canonical address and display name from
// sender and recipient header values, tolerating the malformed forms real
// mail clients produce.
package address

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/mdheller/discourse/internal/models"
	"github.com/mdheller/discourse/internal/textenc"
)

var (
	angleAddr  = regexp.MustCompile(`<([^>]+)>`)
	angleName  = regexp.MustCompile(`^([^<]+)`)
	mailtoAddr = regexp.MustCompile(`\[mailto:([^\]]+)\]`)
	mailtoName = regexp.MustCompile(`^([^\[]+)`)
)

var listParser = &mail.AddressParser{WordDecoder: textenc.WordDecoder}

// Parse returns the first address in value that contains an "@".
// It reports false when none can be found; it never fails otherwise.
func Parse(value string) (*models.Address, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, false
	}

	if list, err := listParser.ParseList(value); err == nil {
		for _, a := range list {
			if strings.Contains(a.Address, "@") {
				return canonical(a.Address, a.Name), true
			}
		}
	}

	return parseLenient(value)
}

// ParseList returns every address in value that contains an "@", in order,
// without duplicates.
func ParseList(value string) []models.Address {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	var out []models.Address
	seen := map[string]bool{}
	add := func(a *models.Address) {
		if a == nil || seen[a.Address] {
			return
		}
		seen[a.Address] = true
		out = append(out, *a)
	}

	list, err := listParser.ParseList(value)
	if err != nil {
		// Split on commas that sit outside angle brackets and parse each
		// piece leniently.
		for _, piece := range splitList(value) {
			a, _ := Parse(piece)
			add(a)
		}
		return out
	}

	for _, a := range list {
		if strings.Contains(a.Address, "@") {
			add(canonical(a.Address, a.Name))
		}
	}
	return out
}

func parseLenient(value string) (*models.Address, bool) {
	var addr *models.Address

	if m := angleAddr.FindStringSubmatch(value); m != nil {
		name := ""
		if n := angleName.FindStringSubmatch(value); n != nil {
			name = n[1]
		}
		addr = canonical(m[1], name)
	}

	if addr == nil || !strings.Contains(addr.Address, "@") {
		if m := mailtoAddr.FindStringSubmatch(value); m != nil {
			name := ""
			if n := mailtoName.FindStringSubmatch(value); n != nil {
				name = n[1]
			}
			addr = canonical(m[1], name)
		}
	}

	if addr == nil || !strings.Contains(addr.Address, "@") {
		// A bare address with no display name.
		if !strings.ContainsAny(value, " <>[]") && strings.Contains(value, "@") {
			return canonical(value, ""), true
		}
		return nil, false
	}
	return addr, true
}

func canonical(addr, name string) *models.Address {
	name = strings.TrimSpace(textenc.DecodeHeader(name))
	name = strings.Trim(name, `"'`)
	return &models.Address{
		Address: strings.ToLower(strings.TrimSpace(addr)),
		Name:    strings.TrimSpace(name),
	}
}

func splitList(value string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range value {
		switch r {
		case '<', '[':
			depth++
		case '>', ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, value[start:i])
				start = i + 1
			}
		}
	}
	return append(out, value[start:])
}
