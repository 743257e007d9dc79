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

package textenc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestCandidates(t *testing.T) {
	assert.Equal(t, []string{"utf-8", "windows-1252", "iso-8859-1"}, Candidates("", ""))
	assert.Equal(t, []string{"koi8-r", "utf-8", "windows-1252", "iso-8859-1"}, Candidates("KOI8-R", "quoted-printable"))
	assert.Equal(t, []string{"utf-8", "iso-8859-1", "windows-1252"}, Candidates("ISO-8859-1", "8bit"))
}

// TestNormalize_RoundTrip encodes UTF-8 text into each supported charset
// and checks the original comes back.
func TestNormalize_RoundTrip(t *testing.T) {
	tests := []struct {
		charset string
		text    string
		encode  func(string) ([]byte, error)
	}{
		{"utf-8", "Grüße, naïve café — ok", func(s string) ([]byte, error) { return []byte(s), nil }},
		{"windows-1252", "café € “quoted” naïve", func(s string) ([]byte, error) {
			return charmap.Windows1252.NewEncoder().Bytes([]byte(s))
		}},
		{"iso-8859-1", "Straße déjà vu ±", func(s string) ([]byte, error) {
			return charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
		}},
		{"koi8-r", "Привет мир", func(s string) ([]byte, error) {
			return charmap.KOI8R.NewEncoder().Bytes([]byte(s))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.charset, func(t *testing.T) {
			raw, err := tt.encode(tt.text)
			require.NoError(t, err)

			got, ok := Normalize(raw, tt.charset, "quoted-printable")
			require.True(t, ok)
			assert.Equal(t, tt.text, got)
		})
	}
}

func TestNormalize_WrongDeclaredCharsetFallsBack(t *testing.T) {
	// Latin-1 bytes declared as UTF-8.
	raw := []byte("caf\xe9")

	got, ok := Normalize(raw, "utf-8", "")
	require.True(t, ok)
	assert.Equal(t, "café", got)
}

func TestNormalize_EightBitPrefersUTF8(t *testing.T) {
	raw := []byte("café")

	// Declared latin-1 would turn the two UTF-8 bytes into mojibake.
	got, ok := Normalize(raw, "iso-8859-1", "8bit")
	require.True(t, ok)
	assert.Equal(t, "café", got)

	got, ok = Normalize(raw, "iso-8859-1", "")
	require.True(t, ok)
	assert.Equal(t, "cafÃ©", got)
}

func TestNormalize_UnknownCharsetIsSkipped(t *testing.T) {
	got, ok := Normalize([]byte("plain"), "x-made-up", "")
	require.True(t, ok)
	assert.Equal(t, "plain", got)
}

func TestNormalize_Empty(t *testing.T) {
	_, ok := Normalize(nil, "utf-8", "")
	assert.False(t, ok)
}

func TestDecode_UndefinedWindows1252Byte(t *testing.T) {
	// 0x81 is undefined in windows-1252.
	_, ok := Decode([]byte{'a', 0x81}, "windows-1252")
	assert.False(t, ok)
}

func TestDecodeHeader(t *testing.T) {
	assert.Equal(t, "Invitación", DecodeHeader("=?UTF-8?Q?Invitaci=C3=B3n?="))
	assert.Equal(t, "café", DecodeHeader("=?iso-8859-1?q?caf=E9?="))
	assert.Equal(t, "plain subject", DecodeHeader("plain subject"))
}
