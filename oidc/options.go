// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithStrictDPoPTokenType requires a "DPoP" token_type whenever a DPoP-bound
// token was requested. Providers don't consistently return it, so it's not
// checked by default.  A Refresher uses the strictness of the Requester given
// to it through WithRequester.
//
// Valid for: Requester and ValidateTokenResponse
func WithStrictDPoPTokenType() Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *validateOptions:
			v.withStrictDPoPTokenType = true
		case *requesterOptions:
			v.withStrictDPoPTokenType = true
		}
	}
}

// WithClaimsDecoder provides an optional decoder of JWT claims.  The default
// is UnverifiedDecoder.  A Requester uses it to decode the id_token, a
// Refresher only to decode the "sub" of the refreshed access_token (its
// Requester still decodes the id_token).  It may not be nil.
//
// Valid for: Requester and Refresher
func WithClaimsDecoder(d ClaimsDecoder) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *requesterOptions:
			v.withClaimsDecoder = d
		case *refresherOptions:
			v.withClaimsDecoder = d
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.  It may not be nil.
//
// Valid for: Requester
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*requesterOptions); ok {
			v.withNowFunc = now
		}
	}
}
