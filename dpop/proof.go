// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
)

const (
	// HeaderName is the http request header carrying a proof.
	HeaderName = "DPoP"

	// JWTType is the "typ" header value of a proof.
	// https://www.rfc-editor.org/rfc/rfc9449.html#section-4.2
	JWTType = "dpop+jwt"
)

// ProofClaims are the claims of a DPoP proof JWT.
type ProofClaims struct {
	ID              string           `json:"jti"`
	HTTPMethod      string           `json:"htm"`
	HTTPURI         string           `json:"htu"`
	IssuedAt        *jwt.NumericDate `json:"iat"`
	Nonce           string           `json:"nonce,omitempty"`
	AccessTokenHash string           `json:"ath,omitempty"`
}

// NewProof signs a proof for a single request of method htm to htu. The
// query and fragment of htu are not part of the proof.
//
// Supported options:
//   - WithNonce
//   - WithAccessToken
func NewProof(htu, htm string, key *Key, opt ...Option) (string, error) {
	const op = "dpop.NewProof"
	opts := getProofOpts(opt...)
	switch {
	case key == nil:
		return "", fmt.Errorf("%s: %w", op, ErrNilKey)
	case htm == "":
		return "", fmt.Errorf("%s: %w", op, ErrMissingHTM)
	case opts.withNow == nil:
		return "", fmt.Errorf("%s: %w", op, ErrMissingFuncNow)
	case opts.withGenID == nil:
		return "", fmt.Errorf("%s: %w", op, ErrMissingFuncGenID)
	}
	target, err := normalizeHTU(htu)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	jti, err := opts.withGenID()
	if err != nil {
		return "", fmt.Errorf("%s: failed to generate proof id: %w", op, err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: Algorithm, Key: key.jwk},
		(&jose.SignerOptions{EmbedJWK: true}).WithType(JWTType),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrCreatingSigner, err)
	}

	claims := ProofClaims{
		ID:         jti,
		HTTPMethod: strings.ToUpper(htm),
		HTTPURI:    target,
		IssuedAt:   jwt.NewNumericDate(opts.withNow().UTC()),
		Nonce:      opts.withNonce,
	}
	if opts.withAccessToken != "" {
		sum := sha256.Sum256([]byte(opts.withAccessToken))
		claims.AccessTokenHash = base64.RawURLEncoding.EncodeToString(sum[:])
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: failed to serialize proof: %w", op, err)
	}
	return proof, nil
}

// normalizeHTU drops the query and fragment of an absolute http(s) URI.
func normalizeHTU(htu string) (string, error) {
	const op = "normalizeHTU"
	u, err := url.Parse(htu)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrInvalidHTU, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%s: %w: %q is not an absolute URI", op, ErrInvalidHTU, htu)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// Prover generates a new key and signs proofs with it.  The zero value is
// ready to use.
type Prover struct{}

// GenerateKey creates a new Key. See dpop.GenerateKey.
func (Prover) GenerateKey() (*Key, error) {
	return GenerateKey()
}

// NewProof signs a proof. See dpop.NewProof.
func (Prover) NewProof(htu, htm string, key *Key) (string, error) {
	return NewProof(htu, htm, key)
}

// proofOptions is the set of available options for NewProof.
type proofOptions struct {
	withNonce       string
	withAccessToken string

	// these are overwritten for testing
	withNow   func() time.Time
	withGenID func() (string, error)
}

func proofDefaults() proofOptions {
	return proofOptions{
		withNow:   time.Now,
		withGenID: uuid.GenerateUUID,
	}
}

func getProofOpts(opt ...Option) proofOptions {
	opts := proofDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// Option configures a proof
type Option func(*proofOptions)

// WithNonce sets the server provided "nonce" claim.
func WithNonce(nonce string) Option {
	return func(o *proofOptions) {
		o.withNonce = nonce
	}
}

// WithAccessToken sets the "ath" claim to the hash of the access token the
// proof is presented with, for requests to a resource server.
func WithAccessToken(accessToken string) Option {
	return func(o *proofOptions) {
		o.withAccessToken = accessToken
	}
}
