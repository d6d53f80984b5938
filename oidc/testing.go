// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
	"github.com/yhat/scrape"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TestGenerateKeys will generate a test ECDSA P-256 pub/priv key pair
func TestGenerateKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	require := require.New(t)
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	{
		derBytes, err := x509.MarshalECPrivateKey(privateKey)
		require.NoError(err)
		priv = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: derBytes}))
	}
	{
		derBytes, err := x509.MarshalPKIXPublicKey(privateKey.Public())
		require.NoError(err)
		pub = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes}))
	}
	return pub, priv
}

// TestSignJWT will bundle the provided claims into a test signed JWT. The
// key may be any key go-jose accepts for the alg, including a []byte secret
// for the HS* algs.
func TestSignJWT(t *testing.T, key interface{}, alg Alg, claims jwt.Claims, privateClaims interface{}) string {
	t.Helper()
	require := require.New(t)
	raw, err := signJWT(key, alg, "", claims, privateClaims)
	require.NoError(err)
	return raw
}

func signJWT(key interface{}, alg Alg, keyID string, claims jwt.Claims, privateClaims interface{}) (string, error) {
	opts := (&jose.SignerOptions{}).WithType("JWT")
	if keyID != "" {
		opts = opts.WithHeader(jose.HeaderKey("kid"), keyID)
	}
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key}, opts)
	if err != nil {
		return "", err
	}
	b := jwt.Signed(sig).Claims(claims)
	if privateClaims != nil {
		b = b.Claims(privateClaims)
	}
	return b.Serialize()
}

// TestGenerateCA will generate a test x509 CA cert encoded in a PEM format.
func TestGenerateCA(t *testing.T, hosts []string) string {
	t.Helper()
	require := require.New(t)

	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(err)

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	require.NoError(err)

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Acme Co"},
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(2 * time.Minute),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}))
}

// TestParseFormPost reads a form_post response page and returns the form's
// action and its hidden input values. See:
// https://openid.net/specs/oauth-v2-form-post-response-mode-1_0.html#FormPostResponseExample
func TestParseFormPost(t *testing.T, body io.Reader) (action string, values url.Values) {
	t.Helper()
	require := require.New(t)

	root, err := html.Parse(body)
	require.NoError(err)
	form, ok := scrape.Find(root, scrape.ByTag(atom.Form))
	require.True(ok, "form_post response has no form")
	require.Equal("post", scrape.Attr(form, "method"))
	action = scrape.Attr(form, "action")
	require.NotEmpty(action)

	values = url.Values{}
	for _, n := range scrape.FindAll(form, scrape.ByTag(atom.Input)) {
		if name := scrape.Attr(n, "name"); name != "" {
			values.Set(name, scrape.Attr(n, "value"))
		}
	}
	return action, values
}
