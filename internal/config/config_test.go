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
// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
audit:
  driver: sqlite
  dsn: "file::memory:"
forum:
  base_url: https://forum.test
receiver:
  reply_by_email_address: "reply+%{reply_key}@forum.test"
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "receiver:outcomes", cfg.OutcomesQueue)
	assert.Equal(t, DriverSQLite, cfg.AuditDriver)
	assert.Equal(t, 60*time.Second, cfg.LockWait)
	assert.Equal(t, "system", cfg.Forum.APIUsername)

	r := cfg.Receiver
	assert.True(t, r.EmailIn)
	assert.True(t, r.EnableStagedUsers)
	assert.True(t, r.BlockAutoGenerated)
	assert.True(t, r.ConvertPlaintext)
	assert.Equal(t, 2, r.MinTrustToCreateTopic)
	assert.Equal(t, 10, r.MaxStagedUsersPerEmail)
	assert.Equal(t, "create_replies", r.ForwardedEmails)
	assert.Equal(t, 1.0, r.SoftBounceScore)
	assert.Equal(t, 2.0, r.HardBounceScore)

	assert.Equal(t, 4.0, cfg.Bounce.Threshold)
	assert.Equal(t, 30.0, cfg.Bounce.DeactivateThreshold)
	assert.Equal(t, 30*24*time.Hour, cfg.Bounce.ResetAfter)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("FORUM_SECRET", "hunter2")
	cfg, err := Parse([]byte(`
server:
  port: 9090
  token: tok
lock:
  timeout: 5s
audit:
  driver: POSTGRES
  dsn: postgres://localhost/receiver
forum:
  base_url: https://forum.test
  token_url: https://forum.test/oauth/token
  client_id: receiver
  client_secret: ${FORUM_SECRET}
receiver:
  reply_by_email_address: "reply+%{reply_key}@forum.test"
  email_in: false
  email_in_min_trust: 0
  blocked_email_domains: [" Spam.Example "]
  forwarded_emails_behaviour: hide
bounce:
  soft_bounce_score: 0.5
  reset_bounce_score_after: 48h
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "tok", cfg.IngestToken)
	assert.Equal(t, 5*time.Second, cfg.LockWait)
	assert.Equal(t, DriverPostgres, cfg.AuditDriver)
	assert.Equal(t, "hunter2", cfg.Forum.ClientSecret)
	assert.False(t, cfg.Receiver.EmailIn)
	assert.Equal(t, 0, cfg.Receiver.MinTrustToCreateTopic)
	assert.Equal(t, []string{"spam.example"}, cfg.Receiver.BlockedEmailDomains)
	assert.Equal(t, "hide", cfg.Receiver.ForwardedEmails)
	assert.Equal(t, 0.5, cfg.Receiver.SoftBounceScore)
	assert.Equal(t, 48*time.Hour, cfg.Bounce.ResetAfter)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing reply address", "audit: {driver: sqlite, dsn: x}\nforum: {base_url: http://f}\n"},
		{"no placeholder", "audit: {driver: sqlite, dsn: x}\nforum: {base_url: http://f}\nreceiver: {reply_by_email_address: reply@f}\n"},
		{"bad driver", "audit: {driver: mysql, dsn: x}\nforum: {base_url: http://f}\nreceiver: {reply_by_email_address: \"r+%{reply_key}@f\"}\n"},
		{"no forum", "audit: {driver: sqlite, dsn: x}\nreceiver: {reply_by_email_address: \"r+%{reply_key}@f\"}\n"},
		{"bad forward mode", "audit: {driver: sqlite, dsn: x}\nforum: {base_url: http://f}\nreceiver: {reply_by_email_address: \"r+%{reply_key}@f\", forwarded_emails_behaviour: quote}\n"},
		{"thresholds inverted", "audit: {driver: sqlite, dsn: x}\nforum: {base_url: http://f}\nreceiver: {reply_by_email_address: \"r+%{reply_key}@f\"}\nbounce: {bounce_score_threshold: 10, bounce_score_threshold_deactivate: 5}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FORUM_BASE_URL", "")
			t.Setenv("DATABASE_URL", "")
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://forum.test", cfg.Forum.BaseURL)

	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}
