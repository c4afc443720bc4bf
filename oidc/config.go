// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/webid-oidc/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/webid-oidc/sdk/http"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// IssuerConfig is the subset of an OpenID Provider's metadata used to request
// tokens. See:
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type IssuerConfig struct {
	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string `json:"issuer"`

	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is empty when the provider has no token endpoint.
	TokenEndpoint string `json:"token_endpoint"`

	GrantTypesSupported []string `json:"grant_types_supported"`

	// DPoPSigningAlgValuesSupported is the list of algs the provider
	// supports for DPoP proofs (RFC 9449 section 5.1).
	DPoPSigningAlgValuesSupported []string `json:"dpop_signing_alg_values_supported"`
}

// Validate the issuer config.  All problems found are returned in a single
// error.  It doesn't verify the issuer is reachable.
func (c *IssuerConfig) Validate() error {
	const op = "IssuerConfig.Validate"
	if c == nil {
		return fmt.Errorf("%s: issuer config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("issuer is empty: %w", ErrInvalidIssuer))
	} else {
		u, err := url.Parse(c.Issuer)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("issuer %s is invalid: %w: %w", c.Issuer, ErrInvalidIssuer, err))
		case !strutils.StrListContains([]string{"https", "http"}, u.Scheme):
			result = multierror.Append(result, fmt.Errorf("issuer %s schema is not http or https: %w", c.Issuer, ErrInvalidIssuer))
		}
	}
	for name, endpoint := range map[string]string{
		"authorization_endpoint": c.AuthorizationEndpoint,
		"token_endpoint":         c.TokenEndpoint,
	} {
		if endpoint == "" {
			continue
		}
		if u, err := url.Parse(endpoint); err != nil || !u.IsAbs() {
			result = multierror.Append(result, fmt.Errorf("%s %s is not an absolute URL: %w", name, endpoint, ErrInvalidParameter))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SupportsGrant reports whether the issuer lists grantType among its supported
// grants.
func (c *IssuerConfig) SupportsGrant(grantType string) bool {
	return c != nil && strutils.StrListContains(c.GrantTypesSupported, grantType)
}

// ClientRegistration is a client registered with an issuer.
type ClientRegistration struct {
	// ClientId is the relying party id
	ClientId string

	// ClientSecret is the relying party secret.  It's empty for public
	// clients.
	ClientSecret ClientSecret

	// Assertion optionally authenticates the client with a signed JWT
	// (private_key_jwt or client_secret_jwt) instead of the ClientSecret.
	Assertion ClientAssertion
}

// ClientAssertion creates client assertion JWTs.  A *clientassertion.JWT is a
// ClientAssertion.
type ClientAssertion interface {
	Serialize() (string, error)
}

// NewHTTPClient is a helper function that creates a new http client which
// trusts the optional caPEM.
func NewHTTPClient(caPEM string) (*http.Client, error) {
	const op = "NewHTTPClient"
	client, err := sdkHttp.NewClient(caPEM)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}
