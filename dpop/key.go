// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Algorithm is the only signing algorithm used for proofs.
const Algorithm = jose.ES256

// RedactedKey is the redacted string for a Key
const RedactedKey = "[REDACTED: dpop key]"

// Key is an ECDSA P-256 key pair used to sign DPoP proofs. Its key id is the
// RFC 7638 SHA-256 thumbprint of the public key.
type Key struct {
	private *ecdsa.PrivateKey
	jwk     jose.JSONWebKey
}

// GenerateKey creates a new P-256 Key.
func GenerateKey() (*Key, error) {
	const op = "dpop.GenerateKey"
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrKeyGeneration, err)
	}
	k, err := newKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return k, nil
}

// ParseKey reads a Key from a private JWK, as written by MarshalPrivateJWK.
func ParseKey(privateJWK []byte) (*Key, error) {
	const op = "dpop.ParseKey"
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(privateJWK); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidKey, err)
	}
	priv, ok := jwk.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: %w: expected an EC private key, got %T", op, ErrInvalidKey, jwk.Key)
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%s: %w: curve %s is not P-256", op, ErrInvalidKey, priv.Curve.Params().Name)
	}
	k, err := newKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return k, nil
}

func newKey(priv *ecdsa.PrivateKey) (*Key, error) {
	const op = "newKey"
	pub := jose.JSONWebKey{Key: &priv.PublicKey, Algorithm: string(Algorithm), Use: "sig"}
	tp, err := pub.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to compute thumbprint: %w: %w", op, ErrInvalidKey, err)
	}
	return &Key{
		private: priv,
		jwk: jose.JSONWebKey{
			Key:       priv,
			KeyID:     base64.RawURLEncoding.EncodeToString(tp),
			Algorithm: string(Algorithm),
			Use:       "sig",
		},
	}, nil
}

// KeyID returns the key's thumbprint (jkt).
func (k *Key) KeyID() string {
	if k == nil {
		return ""
	}
	return k.jwk.KeyID
}

// PublicJWK returns the public half of the key, as embedded in proofs.
func (k *Key) PublicJWK() jose.JSONWebKey {
	return k.jwk.Public()
}

// MarshalPrivateJWK returns the private key as a JWK. The result is secret
// material and must only be written to secure storage.
func (k *Key) MarshalPrivateJWK() ([]byte, error) {
	const op = "Key.MarshalPrivateJWK"
	if k == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNilKey)
	}
	b, err := k.jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// String will redact the key
func (k *Key) String() string {
	return RedactedKey
}

// MarshalJSON only writes the public key
func (k *Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.PublicJWK())
}
