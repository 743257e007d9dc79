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

package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantAddr string
		wantName string
	}{
		{"bare", "Alice@Example.com", "alice@example.com", ""},
		{"named", `"Alice Smith" <Alice@Example.COM>`, "alice@example.com", "Alice Smith"},
		{"encoded name", "=?UTF-8?Q?Jos=C3=A9?= <jose@example.com>", "jose@example.com", "José"},
		{"latin1 encoded name", "=?ISO-8859-1?Q?Jos=E9?= <jose@example.com>", "jose@example.com", "José"},
		{"angle fallback", "Bob Jones, Sales <bob@example.com", "", ""},
		{"broken angle", "Bob (Sales <bob@example.com>", "bob@example.com", "Bob (Sales"},
		{"mailto fallback", "Carol [mailto:Carol@Example.com]", "carol@example.com", "Carol"},
		{"angle without at then mailto", "Dan <dan> [mailto:dan@example.com]", "dan@example.com", "Dan <dan>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.value)
			if tt.wantAddr == "" {
				assert.False(t, ok)
				assert.Nil(t, got)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantAddr, got.Address)
			assert.Equal(t, tt.wantName, got.Name)
		})
	}
}

func TestParse_NothingFound(t *testing.T) {
	for _, v := range []string{"", "   ", "no address here", "Name <local-only>"} {
		got, ok := Parse(v)
		assert.False(t, ok, v)
		assert.Nil(t, got, v)
	}
}

func TestParseList(t *testing.T) {
	got := ParseList(`a@example.com, "B" <B@example.com>, a@example.com`)
	require.Len(t, got, 2)
	assert.Equal(t, "a@example.com", got[0].Address)
	assert.Equal(t, "b@example.com", got[1].Address)
	assert.Equal(t, "B", got[1].Name)
}

func TestParseList_Malformed(t *testing.T) {
	got := ParseList("Team [mailto:team@example.com], Bob (x <bob@example.com>")
	require.Len(t, got, 2)
	assert.Equal(t, "team@example.com", got[0].Address)
	assert.Equal(t, "bob@example.com", got[1].Address)
}
