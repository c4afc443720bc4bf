// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

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

// userOptions is the set of available options for the Storage functions
type userOptions struct {
	withSecure      bool
	withErrorIfNull bool
}

func userDefaults() userOptions {
	return userOptions{}
}

func getUserOpts(opt ...Option) userOptions {
	opts := userDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSecure selects the secure backend, which must be used for tokens and
// any other secret material.
func WithSecure() Option {
	return func(o interface{}) {
		if o, ok := o.(*userOptions); ok {
			o.withSecure = true
		}
	}
}

// WithErrorIfNull makes a read of a missing field return ErrNotFound instead
// of an empty value.
func WithErrorIfNull() Option {
	return func(o interface{}) {
		if o, ok := o.(*userOptions); ok {
			o.withErrorIfNull = true
		}
	}
}
