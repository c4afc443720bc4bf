// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"github.com/hashicorp/webid-oidc/dpop"
	"golang.org/x/oauth2"
)

// expirySkew is the skew applied when checking if a Token is expired.
const expirySkew = 10 * time.Second

// Token is the result of a successful token exchange or refresh.
type Token struct {
	AccessToken  AccessToken
	IdToken      IdToken
	RefreshToken RefreshToken // empty when the provider didn't issue one
	TokenType    string

	// WebId identifies the subject of the Token.
	WebId string

	// DPoPKey is the key the access_token is bound to. It's nil for bearer
	// tokens.
	DPoPKey *dpop.Key

	// ExpiresIn is the access_token lifetime (in seconds) returned by the
	// provider, or nil.
	ExpiresIn *int64

	// Expiry is the time the access_token expires, or the zero time when
	// unknown.
	Expiry time.Time
}

// Expired will return true if the token is expired.  Implementations may want
// to use the skew to account for clock drift.
func (t *Token) Expired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return t.Expiry.Round(0).Before(time.Now().Add(expirySkew))
}

// Valid will ensure that the access_token is not empty or expired.
func (t *Token) Valid() bool {
	if t == nil {
		return false
	}
	if t.AccessToken == "" {
		return false
	}
	return !t.Expired()
}

// IsDPoPBound reports whether the access_token is bound to a DPoP key.
func (t *Token) IsDPoPBound() bool {
	return t != nil && t.DPoPKey != nil
}

// StaticTokenSource returns a TokenSource that always returns the same token.
// Because the provided token t is never refreshed.  It will return nil, if
// t.Valid() == false.  A DPoP-bound token requires a proof on every request,
// so callers of a DPoP-bound source must add the DPoP header themselves.
func (t *Token) StaticTokenSource() oauth2.TokenSource {
	if !t.Valid() {
		return nil
	}
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken:  string(t.AccessToken),
		TokenType:    tokenType,
		RefreshToken: string(t.RefreshToken),
		Expiry:       t.Expiry,
	})
}
