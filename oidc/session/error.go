// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownState means the redirect's state wasn't issued by Login, or
	// has already been used.
	ErrUnknownState = errors.New("unknown state")
	ErrExpiredState = errors.New("expired state")

	// ErrAuthentication is the authentication error response of a provider.
	// The error is always an *AuthError.
	ErrAuthentication = errors.New("authentication error response")
)

// AuthError represents an oauth2 authentication error response carried by
// the redirect. See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthError struct {
	State       string
	Code        string
	Description string
	Uri         string
}

// Error implements the error interface
func (e *AuthError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "authentication failed with error [%s]", e.Code)
	if e.Description != "" {
		fmt.Fprintf(&b, ": %s", e.Description)
	}
	if e.Uri != "" {
		fmt.Fprintf(&b, " (see %s)", e.Uri)
	}
	return b.String()
}

// Unwrap makes every AuthError match ErrAuthentication.
func (e *AuthError) Unwrap() error {
	return ErrAuthentication
}
