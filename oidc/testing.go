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
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestGenerateKeys will generate a test ECDSA P-256 pub/priv key pair, PEM
// encoded.
func TestGenerateKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	require := require.New(t)
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	privDER, err := x509.MarshalECPrivateKey(k)
	require.NoError(err)
	pubDER, err := x509.MarshalPKIXPublicKey(k.Public())
	require.NoError(err)
	return testEncodePEM("PUBLIC KEY", pubDER), testEncodePEM("EC PRIVATE KEY", privDER)
}

// TestSignJWT will bundle the provided claims into a test ES256 signed JWT
// with a "JWT" typ header. The provided key must be ECDSA P-256.
func TestSignJWT(t *testing.T, ecdsaPrivKeyPEM string, claims interface{}) string {
	t.Helper()
	return TestSignJWTWithType(t, ecdsaPrivKeyPEM, "JWT", claims)
}

// TestSignJWTWithType is TestSignJWT with the given typ header, for example
// "at+jwt" for access tokens.
func TestSignJWTWithType(t *testing.T, ecdsaPrivKeyPEM string, typ jose.ContentType, claims interface{}) string {
	t.Helper()
	require := require.New(t)
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: testParseECPrivateKey(t, ecdsaPrivKeyPEM)},
		(&jose.SignerOptions{}).WithType(typ),
	)
	require.NoError(err)

	raw, err := jwt.Signed(sig).Claims(claims).Serialize()
	require.NoError(err)
	return raw
}

func testParseECPrivateKey(t *testing.T, ecdsaPrivKeyPEM string) *ecdsa.PrivateKey {
	t.Helper()
	require := require.New(t)
	block, _ := pem.Decode([]byte(ecdsaPrivKeyPEM))
	require.NotNil(block, "unable to decode the private key PEM")
	key, err := x509.ParseECPrivateKey(block.Bytes)
	require.NoError(err)
	return key
}

// TestGenerateCA will generate a self-signed test CA cert, valid for the hosts
// (names or IPs) for a couple of minutes, encoded in a PEM format.
func TestGenerateCA(t *testing.T, hosts []string) string {
	t.Helper()
	require := require.New(t)

	k, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(err)
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(err)

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"webid-oidc test CA"}},
		NotBefore:             now,
		NotAfter:              now.Add(2 * time.Minute),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &k.PublicKey, k)
	require.NoError(err)
	return testEncodePEM("CERTIFICATE", der)
}

func testEncodePEM(blockType string, der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
}
