// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOptionsYAML = `
issuer_url: https://op.example.com
base_url: https://app.example.com
client_id: client-id
client_secret: client-secret
http_timeout: 10s
authorization_params:
  response_type: code
  scope: openid profile email offline_access
forward_authorization_params: [ui_locales]
custom_routes: [logout]
attempt_silent_login: true
idp_logout: true
session:
  encryption_key: a-session-encryption-key-of-32-chars-or-more
  store: memory
  expire_after: 8h
  cookie:
    same_site: Strict
`

func TestReadOptions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    func(*testing.T, Options)
		wantErr bool
	}{
		{
			name: "complete",
			in:   testOptionsYAML,
			want: func(t *testing.T, opts Options) {
				assert := assert.New(t)
				assert.Equal("https://op.example.com", opts.IssuerURL)
				assert.Equal(10*time.Second, opts.HTTPTimeout)
				assert.Equal("openid profile email offline_access", opts.AuthorizationParams["scope"])
				assert.Equal([]string{"ui_locales"}, opts.ForwardAuthorizationParams)
				assert.Equal([]string{"logout"}, opts.CustomRoutes)
				assert.True(opts.AttemptSilentLogin)
				assert.True(opts.IDPLogout)
				assert.Nil(opts.AuthRequired)
				s := opts.Session.Options()
				assert.Equal(MemorySessionStore, s.Store)
				assert.Equal(8*time.Hour, s.ExpireAfter)
				assert.Equal("Strict", s.Cookie.SameSite)
			},
		},
		{
			name: "empty",
			in:   "",
			want: func(t *testing.T, opts Options) {
				assert.True(t, opts.Session.Enabled())
				assert.Empty(t, opts.IssuerURL)
			},
		},
		{
			name:    "unknown-key",
			in:      "issuer: https://op.example.com\n",
			wantErr: true,
		},
		{
			name:    "bad-duration",
			in:      "http_timeout: soon\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			opts, err := ReadOptions(strings.NewReader(tt.in))
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrInvalidConfig)
				return
			}
			require.NoError(err)
			tt.want(t, opts)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	path := filepath.Join(t.TempDir(), "oidcrp.yaml")
	require.NoError(os.WriteFile(path, []byte(testOptionsYAML), 0o600))

	opts, err := LoadFile(path)
	require.NoError(err)
	c, err := New(opts)
	require.NoError(err)
	assert.True(c.IsCustomRoute("logout"))
	assert.Equal(MemorySessionStore, c.Session.Options().Store)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(err, os.ErrNotExist)
}
