// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidCACert    = errors.New("invalid CA certificate")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrMalformedToken   = errors.New("malformed jwt")

	// ErrTokenEndpoint is the oauth2 error response of a provider.  The error
	// is always a *TokenErrorResponse.
	ErrTokenEndpoint = errors.New("token endpoint error response")

	ErrMalformedResponse    = errors.New("malformed token endpoint response")
	ErrTokenTypeMismatch    = errors.New("token type mismatch")
	ErrUnsupportedGrant     = errors.New("unsupported grant")
	ErrMissingTokenEndpoint = errors.New("missing token endpoint")
	ErrMissingSessionState  = errors.New("missing session state")
	ErrInvalidIdToken       = errors.New("invalid id_token")
	ErrInvalidWebId         = errors.New("invalid webid")
	ErrBadTokenClaims       = errors.New("bad token claims")
	ErrNetwork              = errors.New("network error")
)

// TokenErrorResponse represents an oauth2 token endpoint error response. See:
// https://www.rfc-editor.org/rfc/rfc6749#section-5.2
type TokenErrorResponse struct {
	Issuer      string
	Code        string
	Description string
	Uri         string
}

// Error implements the error interface
func (e *TokenErrorResponse) Error() string {
	var b strings.Builder
	if e.Issuer != "" {
		fmt.Fprintf(&b, "[%s] ", e.Issuer)
	}
	fmt.Fprintf(&b, "token endpoint returned error [%s]", e.Code)
	if e.Description != "" {
		fmt.Fprintf(&b, ": %s", e.Description)
	}
	if e.Uri != "" {
		fmt.Fprintf(&b, " (see %s)", e.Uri)
	}
	return b.String()
}

// Unwrap makes every TokenErrorResponse match ErrTokenEndpoint.
func (e *TokenErrorResponse) Unwrap() error {
	return ErrTokenEndpoint
}
