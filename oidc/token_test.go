// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
)

func int64Ptr(i int64) *int64 { return &i }

func Test_newTokenSet(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	expiry := time.Now().Add(time.Hour)
	tk := (&oauth2.Token{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Expiry:       expiry,
		ExpiresIn:    3600,
	}).WithExtra(map[string]interface{}{
		"id_token": "id",
		"scope":    "openid profile",
	})
	got := newTokenSet(tk)
	assert.Equal(&TokenSet{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		IDToken:      "id",
		Scope:        "openid profile",
		ExpiresIn:    int64Ptr(3600),
		Expiry:       expiry,
	}, got)

	noExpiry := newTokenSet(&oauth2.Token{AccessToken: "access"})
	assert.Nil(noExpiry.ExpiresIn)
	assert.Empty(noExpiry.IDToken)
}

func TestTokenSet_Merge(t *testing.T) {
	t.Parallel()
	old := &TokenSet{
		AccessToken:  "old-access",
		TokenType:    "Bearer",
		RefreshToken: "old-refresh",
		IDToken:      "old-id",
		Scope:        "openid",
		ExpiresIn:    int64Ptr(60),
	}
	tests := []struct {
		name string
		t    *TokenSet
		n    *TokenSet
		want *TokenSet
	}{
		{
			name: "new-values-win",
			t:    old,
			n:    &TokenSet{AccessToken: "new-access", ExpiresIn: int64Ptr(120)},
			want: &TokenSet{
				AccessToken:  "new-access",
				TokenType:    "Bearer",
				RefreshToken: "old-refresh",
				IDToken:      "old-id",
				Scope:        "openid",
				ExpiresIn:    int64Ptr(120),
			},
		},
		{
			name: "rotated-refresh-and-id-token",
			t:    old,
			n:    &TokenSet{AccessToken: "new-access", RefreshToken: "new-refresh", IDToken: "new-id"},
			want: &TokenSet{
				AccessToken:  "new-access",
				TokenType:    "Bearer",
				RefreshToken: "new-refresh",
				IDToken:      "new-id",
				Scope:        "openid",
				ExpiresIn:    int64Ptr(60),
			},
		},
		{
			name: "nil-new",
			t:    old,
			n:    nil,
			want: old,
		},
		{
			name: "nil-old",
			t:    nil,
			n:    &TokenSet{AccessToken: "new-access"},
			want: &TokenSet{AccessToken: "new-access"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			got := tt.t.Merge(tt.n)
			assert.Equal(tt.want, got)
			if tt.t != nil {
				assert.NotSame(tt.t, got)
			}
		})
	}
	assert.Equal(t, AccessToken("old-access"), old.AccessToken, "merge must not modify the receiver")
}

func TestTokenSet_Expired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	fixedNow := WithNow(func() time.Time { return now })
	tests := []struct {
		name        string
		t           *TokenSet
		opt         []Option
		wantExpired bool
		wantValid   bool
	}{
		{"nil", nil, nil, false, false},
		{"no-expiry", &TokenSet{AccessToken: "a"}, nil, false, true},
		{"expired", &TokenSet{AccessToken: "a", Expiry: now.Add(-time.Minute)}, []Option{fixedNow}, true, false},
		{"within-skew", &TokenSet{AccessToken: "a", Expiry: now.Add(5 * time.Second)}, []Option{fixedNow}, true, false},
		{"custom-skew", &TokenSet{AccessToken: "a", Expiry: now.Add(5 * time.Second)}, []Option{fixedNow, WithExpirySkew(time.Second)}, false, true},
		{"not-expired", &TokenSet{AccessToken: "a", Expiry: now.Add(time.Hour)}, []Option{fixedNow}, false, true},
		{"no-access-token", &TokenSet{Expiry: now.Add(time.Hour)}, []Option{fixedNow}, false, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			assert.Equal(tt.wantExpired, tt.t.Expired(tt.opt...))
			assert.Equal(tt.wantValid, tt.t.Valid(tt.opt...))
		})
	}
}
