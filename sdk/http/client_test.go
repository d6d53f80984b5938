// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"bytes"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Parallel()
	var gotUA string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))
	caPEM := buf.String()

	tests := []struct {
		name      string
		caPEM     string
		opt       []Option
		wantUA    string
		wantIsErr error
	}{
		{
			name:   "with-ca-and-ua",
			caPEM:  caPEM,
			opt:    []Option{WithUserAgent("oidcrp-test"), WithTimeout(2 * time.Second)},
			wantUA: "oidcrp-test",
		},
		{
			name:      "bad-ca",
			caPEM:     "not a pem",
			wantIsErr: ErrInvalidCertificatePem,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewClient(tt.caPEM, tt.opt...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.Equal(2*time.Second, c.Timeout)
			resp, err := c.Get(srv.URL)
			require.NoError(err)
			defer resp.Body.Close()
			assert.Equal(http.StatusNoContent, resp.StatusCode)
			assert.Equal(tt.wantUA, gotUA)
		})
	}
}
