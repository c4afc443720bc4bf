// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// ClaimsDecoder decodes the claims of a JWT.
type ClaimsDecoder interface {
	Decode(token string) (map[string]interface{}, error)
}

// UnverifiedDecoder decodes the claims of a compact JWS JWT without verifying
// its signature.  The zero value is ready to use.
type UnverifiedDecoder struct{}

// ensure that UnverifiedDecoder implements the ClaimsDecoder interface
var _ ClaimsDecoder = UnverifiedDecoder{}

// Decode implements ClaimsDecoder.Decode
func (UnverifiedDecoder) Decode(token string) (map[string]interface{}, error) {
	const op = "UnverifiedDecoder.Decode"
	claims := map[string]interface{}{}
	if err := UnmarshalClaims(token, &claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

// supportedSigningAlgs are the algs a JWT may be signed with to be decoded.
var supportedSigningAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// UnmarshalClaims will retrieve the claims from the provided raw JWT token
// without verifying its signature.
func UnmarshalClaims(rawToken string, claims interface{}) error {
	const op = "UnmarshalClaims"
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	t, err := jwt.ParseSigned(rawToken, supportedSigningAlgs)
	if err != nil {
		return fmt.Errorf("%s: unable to parse jwt: %w: %w", op, ErrMalformedToken, err)
	}
	if err := t.UnsafeClaimsWithoutVerification(claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal jwt payload: %w: %w", op, ErrMalformedToken, err)
	}
	return nil
}
