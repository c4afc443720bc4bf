// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
)

// Grant types supported by the token endpoint requests.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// TokenRequest is the grant specific part of a token endpoint request.
type TokenRequest struct {
	GrantType string

	// authorization_code grant
	RedirectUrl  string
	Code         string
	CodeVerifier string

	// refresh_token grant
	RefreshToken RefreshToken
}

// NewAuthCodeRequest creates an authorization_code grant request.  The
// codeVerifier is the optional PKCE code verifier of the authorization
// request.
func NewAuthCodeRequest(code, redirectUrl, codeVerifier string) (*TokenRequest, error) {
	const op = "NewAuthCodeRequest"
	switch {
	case code == "":
		return nil, fmt.Errorf("%s: code is empty: %w", op, ErrInvalidParameter)
	case redirectUrl == "":
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	return &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectUrl:  redirectUrl,
		CodeVerifier: codeVerifier,
	}, nil
}

// NewRefreshRequest creates a refresh_token grant request.
func NewRefreshRequest(refreshToken RefreshToken) (*TokenRequest, error) {
	const op = "NewRefreshRequest"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	return &TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: refreshToken,
	}, nil
}

// form returns the url-encoded form body of the request for the clientId.
func (r *TokenRequest) form(clientId string) url.Values {
	v := url.Values{}
	if r.GrantType != "" {
		v.Set("grant_type", r.GrantType)
	}
	switch r.GrantType {
	case GrantRefreshToken:
		v.Set("refresh_token", string(r.RefreshToken))
	default:
		if r.RedirectUrl != "" {
			v.Set("redirect_uri", r.RedirectUrl)
		}
		if r.Code != "" {
			v.Set("code", r.Code)
		}
		if r.CodeVerifier != "" {
			v.Set("code_verifier", r.CodeVerifier)
		}
	}
	v.Set("client_id", clientId)
	return v
}
