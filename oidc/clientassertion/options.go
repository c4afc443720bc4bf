// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"fmt"
	"time"
)

// Option configures the JWT
type Option func(*JWT) error

// WithKeyID sets the "kid" header that providers use to look up the public key
// to check the signed JWT
func WithKeyID(keyID string) Option {
	return func(j *JWT) error {
		j.headers["kid"] = keyID
		return nil
	}
}

// WithHeaders sets extra JWT headers.  The "alg" and "typ" headers are set by
// the signer and can't be overridden.
func WithHeaders(h map[string]string) Option {
	const op = "WithHeaders"
	return func(j *JWT) error {
		for k, v := range h {
			switch k {
			case "alg", "typ":
				return fmt.Errorf("%s: the %q header is reserved", op, k)
			}
			j.headers[k] = v
		}
		return nil
	}
}

// WithExpiry sets how long a serialized JWT is valid.  The default is
// DefaultExpiry.
func WithExpiry(d time.Duration) Option {
	const op = "WithExpiry"
	return func(j *JWT) error {
		if d <= 0 {
			return fmt.Errorf("%s: %w: %s is not greater than zero", op, ErrInvalidExpiry, d)
		}
		j.expiry = d
		return nil
	}
}
