// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IssuerConfigFetcher fetches the configuration of an issuer.
type IssuerConfigFetcher interface {
	FetchConfig(ctx context.Context, issuer string) (*IssuerConfig, error)
}

// ClientRegistrar returns the client registration a session uses with an
// issuer.
type ClientRegistrar interface {
	GetClient(ctx context.Context, sessionId string, issuer *IssuerConfig) (*ClientRegistration, error)
}

// DiscoveryFetcher fetches an issuer's configuration using OIDC discovery.
type DiscoveryFetcher struct {
	providerCA string
}

// ensure that DiscoveryFetcher implements the IssuerConfigFetcher interface
var _ IssuerConfigFetcher = (*DiscoveryFetcher)(nil)

// NewDiscoveryFetcher creates a DiscoveryFetcher.
//
// Supported options:
//   - WithProviderCA
func NewDiscoveryFetcher(opt ...Option) (*DiscoveryFetcher, error) {
	const op = "NewDiscoveryFetcher"
	opts := getFetcherOpts(opt...)
	// fail early on a bad CA rather than on the first fetch
	if _, err := NewHTTPClient(opts.withProviderCA); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &DiscoveryFetcher{providerCA: opts.withProviderCA}, nil
}

// FetchConfig implements IssuerConfigFetcher.FetchConfig.  The returned
// config is validated.
func (f *DiscoveryFetcher) FetchConfig(ctx context.Context, issuer string) (*IssuerConfig, error) {
	const op = "DiscoveryFetcher.FetchConfig"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidIssuer)
	}
	client, err := NewHTTPClient(f.providerCA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p, err := oidc.NewProvider(HttpClientContext(ctx, client), issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover issuer [%s]: %w: %w", op, issuer, ErrInvalidIssuer, err)
	}
	var c IssuerConfig
	if err := p.Claims(&c); err != nil {
		return nil, fmt.Errorf("%s: unable to read the metadata of issuer [%s]: %w: %w", op, issuer, ErrInvalidIssuer, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

// StaticRegistrar is a ClientRegistrar returning the same, pre-registered,
// client for every session and issuer.
type StaticRegistrar struct {
	client ClientRegistration
}

// ensure that StaticRegistrar implements the ClientRegistrar interface
var _ ClientRegistrar = (*StaticRegistrar)(nil)

// NewStaticRegistrar creates a StaticRegistrar.  The clientSecret is empty for
// public clients.
//
// Supported options:
//   - WithClientAssertion
func NewStaticRegistrar(clientId string, clientSecret ClientSecret, opt ...Option) (*StaticRegistrar, error) {
	const op = "NewStaticRegistrar"
	if clientId == "" {
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getRegistrarOpts(opt...)
	return &StaticRegistrar{
		client: ClientRegistration{
			ClientId:     clientId,
			ClientSecret: clientSecret,
			Assertion:    opts.withClientAssertion,
		},
	}, nil
}

// GetClient implements ClientRegistrar.GetClient.  It returns a copy of the
// registration.
func (r *StaticRegistrar) GetClient(_ context.Context, _ string, issuer *IssuerConfig) (*ClientRegistration, error) {
	const op = "StaticRegistrar.GetClient"
	if issuer == nil {
		return nil, fmt.Errorf("%s: issuer config is nil: %w", op, ErrNilParameter)
	}
	c := r.client
	return &c, nil
}

// fetcherOptions is the set of available options for a DiscoveryFetcher
type fetcherOptions struct {
	withProviderCA string
}

func fetcherDefaults() fetcherOptions {
	return fetcherOptions{}
}

func getFetcherOpts(opt ...Option) fetcherOptions {
	opts := fetcherDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// registrarOptions is the set of available options for a StaticRegistrar
type registrarOptions struct {
	withClientAssertion ClientAssertion
}

func registrarDefaults() registrarOptions {
	return registrarOptions{}
}

func getRegistrarOpts(opt ...Option) registrarOptions {
	opts := registrarDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientAssertion provides an optional ClientAssertion which
// authenticates the client at the token endpoint, in place of its secret.
func WithClientAssertion(a ClientAssertion) Option {
	return func(o interface{}) {
		if o, ok := o.(*registrarOptions); ok {
			o.withClientAssertion = a
		}
	}
}
