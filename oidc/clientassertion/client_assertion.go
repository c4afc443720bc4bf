// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
)

const (
	// JWTTypeParam is the proper value for client_assertion_type.
	// https://www.rfc-editor.org/rfc/rfc7523.html#section-2.2
	JWTTypeParam = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// DefaultExpiry is how long a serialized JWT is valid by default.
	DefaultExpiry = 5 * time.Minute
)

// NewJWTWithHMAC creates a new JWT which will be signed with an HMAC client
// secret (client_secret_jwt).
//
// Supported Options:
//   - WithKeyID
//   - WithHeaders
//   - WithExpiry
func NewJWTWithHMAC(clientID string, audience []string, alg HSAlgorithm, secret string, opt ...Option) (*JWT, error) {
	const op = "NewJWTWithHMAC"
	if err := alg.Validate(secret); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	j, err := newJWT(clientID, audience, jose.SignatureAlgorithm(alg), nil, secret, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// NewJWTWithRSAKey creates a new JWT which will be signed with an RSA private
// key (private_key_jwt).
//
// Supported Options:
//   - WithKeyID
//   - WithHeaders
//   - WithExpiry
func NewJWTWithRSAKey(clientID string, audience []string, alg RSAlgorithm, key *rsa.PrivateKey, opt ...Option) (*JWT, error) {
	const op = "NewJWTWithRSAKey"
	if err := alg.Validate(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	j, err := newJWT(clientID, audience, jose.SignatureAlgorithm(alg), key, "", opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

// NewJWTWithECDSAKey creates a new JWT which will be signed with an ECDSA
// private key (private_key_jwt).
//
// Supported Options:
//   - WithKeyID
//   - WithHeaders
//   - WithExpiry
func NewJWTWithECDSAKey(clientID string, audience []string, alg ESAlgorithm, key *ecdsa.PrivateKey, opt ...Option) (*JWT, error) {
	const op = "NewJWTWithECDSAKey"
	if err := alg.Validate(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	j, err := newJWT(clientID, audience, jose.SignatureAlgorithm(alg), key, "", opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return j, nil
}

func newJWT(clientID string, audience []string, alg jose.SignatureAlgorithm, key any, secret string, opt ...Option) (*JWT, error) {
	j := &JWT{
		clientID: clientID,
		audience: audience,
		headers:  make(map[string]string),
		alg:      alg,
		key:      key,
		secret:   secret,
		expiry:   DefaultExpiry,
		genID:    uuid.GenerateUUID,
		now:      time.Now,
	}

	var errs *multierror.Error
	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(j); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	if err := j.validate(); err != nil {
		return nil, err
	}

	// make sure Serialize() works, since not everything can be validated
	// upfront
	if _, err := j.Serialize(); err != nil {
		return nil, err
	}
	return j, nil
}

// JWT is used to create a client assertion JWT, a special JWT used by an OAuth
// 2.0 or OIDC client to authenticate themselves to an authorization server.
// A new JWT (with a new "jti") is signed every time it's serialized.
type JWT struct {
	// for JWT claims
	clientID string
	audience []string
	headers  map[string]string
	expiry   time.Duration

	// for signer
	alg jose.SignatureAlgorithm
	// key may be any key type that jose.SigningKey accepts for its Key
	key any
	// secret may be used instead of key
	secret string

	// these are overwritten for testing
	genID func() (string, error)
	now   func() time.Time
}

// Serialize returns client assertion JWT which can be used by an OAuth 2.0 or
// OIDC client to authenticate themselves to an authorization server
func (j *JWT) Serialize() (string, error) {
	const op = "JWT.Serialize"
	if err := j.validate(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	builder, err := j.builder()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	token, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: failed to serialize token: %w", op, err)
	}
	return token, nil
}

func (j *JWT) validate() error {
	const op = "JWT.validate"
	var errs *multierror.Error
	if j.genID == nil {
		errs = multierror.Append(errs, ErrMissingFuncIDGenerator)
	}
	if j.now == nil {
		errs = multierror.Append(errs, ErrMissingFuncNow)
	}
	// bail early if any internal func is missing
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if j.clientID == "" {
		errs = multierror.Append(errs, ErrMissingClientID)
	}
	if len(j.audience) == 0 {
		errs = multierror.Append(errs, ErrMissingAudience)
	}
	if j.alg == "" {
		errs = multierror.Append(errs, ErrMissingAlgorithm)
	}
	if j.key == nil && j.secret == "" {
		errs = multierror.Append(errs, ErrMissingKeyOrSecret)
	}
	if j.key != nil && j.secret != "" {
		errs = multierror.Append(errs, ErrBothKeyAndSecret)
	}
	if j.expiry <= 0 {
		errs = multierror.Append(errs, ErrInvalidExpiry)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (j *JWT) builder() (jwt.Builder, error) {
	const op = "builder"
	signer, err := j.signer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := j.genID()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to generate token id: %w", op, err)
	}
	return jwt.Signed(signer).Claims(j.claims(id)), nil
}

func (j *JWT) signer() (jose.Signer, error) {
	const op = "signer"
	sKey := jose.SigningKey{
		Algorithm: j.alg,
	}

	// validate() ensures these are mutually exclusive
	if j.secret != "" {
		sKey.Key = []byte(j.secret)
	}
	if j.key != nil {
		sKey.Key = j.key
	}

	sOpts := &jose.SignerOptions{
		ExtraHeaders: make(map[jose.HeaderKey]interface{}, len(j.headers)),
	}
	for k, v := range j.headers {
		sOpts.ExtraHeaders[jose.HeaderKey(k)] = v
	}

	signer, err := jose.NewSigner(sKey, sOpts.WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrCreatingSigner, err)
	}
	return signer, nil
}

func (j *JWT) claims(id string) *jwt.Claims {
	now := j.now().UTC()
	return &jwt.Claims{
		Issuer:    j.clientID,
		Subject:   j.clientID,
		Audience:  j.audience,
		Expiry:    jwt.NewNumericDate(now.Add(j.expiry)),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Second)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        id,
	}
}
