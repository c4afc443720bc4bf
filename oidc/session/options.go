// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/webid-oidc/oidc"
)

// DefaultStateExpiry is how long a login flow may take to complete.
const DefaultStateExpiry = 5 * time.Minute

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

// managerOptions is the set of available options for a Manager
type managerOptions struct {
	withLogger      hclog.Logger
	withRequester   *oidc.Requester
	withScopes      []string
	withDPoP        bool
	withStateExpiry time.Duration
	withNowFunc     func() time.Time
}

// managerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func managerDefaults() managerOptions {
	return managerOptions{
		withLogger:      hclog.NewNullLogger(),
		withDPoP:        true,
		withStateExpiry: DefaultStateExpiry,
		withNowFunc:     time.Now,
	}
}

// getManagerOpts gets the manager defaults and applies the opt overrides
// passed in.
func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.  By default nothing is logged.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withLogger = l
		}
	}
}

// WithRequester provides an optional oidc.Requester used for token requests.
func WithRequester(r *oidc.Requester) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withRequester = r
		}
	}
}

// WithScopes provides optional scopes requested in addition to "openid",
// "offline_access" and "webid".
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithDPoP sets whether the tokens of a login are bound to a DPoP key.  The
// default is true.  Refreshed tokens are always DPoP-bound.
func WithDPoP(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withDPoP = enabled
		}
	}
}

// WithStateExpiry provides an optional duration for how long a login flow may
// take to complete.
func WithStateExpiry(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withStateExpiry = d
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withNowFunc = now
		}
	}
}
