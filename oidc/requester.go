// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/webid-oidc/dpop"
	"github.com/hashicorp/webid-oidc/oidc/clientassertion"
)

// maxResponseSize bounds the size of a token endpoint response body.
const maxResponseSize = 1 << 20

// HTTPDoer sends an http request.  *http.Client implements it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DPoPProver generates DPoP keys and signs DPoP proofs.  dpop.Prover
// implements it.
type DPoPProver interface {
	GenerateKey() (*dpop.Key, error)
	NewProof(htu, htm string, key *dpop.Key) (string, error)
}

// Requester sends token requests to an issuer's token endpoint.  It's safe
// for concurrent use.
type Requester struct {
	client              HTTPDoer
	prover              DPoPProver
	decoder             ClaimsDecoder
	strictDPoPTokenType bool
	now                 func() time.Time
}

// NewRequester creates a new Requester.
//
// Supported options:
//   - WithHTTPClient
//   - WithProviderCA
//   - WithDPoPProver
//   - WithClaimsDecoder
//   - WithStrictDPoPTokenType
//   - WithNow
func NewRequester(opt ...Option) (*Requester, error) {
	const op = "NewRequester"
	opts := getRequesterOpts(opt...)
	if opts.withHTTPClient != nil && opts.withProviderCA != "" {
		return nil, fmt.Errorf("%s: an http client and a provider CA are mutually exclusive: %w", op, ErrInvalidParameter)
	}
	switch {
	case opts.withDPoPProver == nil:
		return nil, fmt.Errorf("%s: DPoP prover is nil: %w", op, ErrNilParameter)
	case opts.withClaimsDecoder == nil:
		return nil, fmt.Errorf("%s: claims decoder is nil: %w", op, ErrNilParameter)
	case opts.withNowFunc == nil:
		return nil, fmt.Errorf("%s: now func is nil: %w", op, ErrNilParameter)
	}
	client := opts.withHTTPClient
	if client == nil {
		c, err := NewHTTPClient(opts.withProviderCA)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		client = c
	}
	return &Requester{
		client:              client,
		prover:              opts.withDPoPProver,
		decoder:             opts.withClaimsDecoder,
		strictDPoPTokenType: opts.withStrictDPoPTokenType,
		now:                 opts.withNowFunc,
	}, nil
}

// Exchange sends a single token request to the issuer's token endpoint on
// behalf of the client, validates the response and derives the WebID from the
// returned id_token. When useDPoP is true the request carries a proof signed
// by a newly generated key, which is returned in Token.DPoPKey.  Otherwise a
// bearer token is requested.
func (r *Requester) Exchange(ctx context.Context, issuer *IssuerConfig, client *ClientRegistration, req *TokenRequest, useDPoP bool) (*Token, error) {
	const op = "Requester.Exchange"
	resp, key, err := r.request(ctx, issuer, client, req, useDPoP)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	webId, err := DeriveWebId(string(resp.IdToken), r.decoder)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r.newToken(resp, key, webId), nil
}

// request runs the token request and returns the validated response along
// with the DPoP key used, if any.
func (r *Requester) request(ctx context.Context, issuer *IssuerConfig, client *ClientRegistration, req *TokenRequest, useDPoP bool) (*TokenResponse, *dpop.Key, error) {
	const op = "Requester.request"
	switch {
	case issuer == nil:
		return nil, nil, fmt.Errorf("%s: issuer config is nil: %w", op, ErrNilParameter)
	case client == nil:
		return nil, nil, fmt.Errorf("%s: client registration is nil: %w", op, ErrNilParameter)
	case req == nil:
		return nil, nil, fmt.Errorf("%s: token request is nil: %w", op, ErrNilParameter)
	}
	if req.GrantType != "" && !issuer.SupportsGrant(req.GrantType) {
		return nil, nil, fmt.Errorf("%s: the issuer [%s] does not support the [%s] grant: %w", op, issuer.Issuer, req.GrantType, ErrUnsupportedGrant)
	}
	if issuer.TokenEndpoint == "" {
		return nil, nil, fmt.Errorf("%s: the issuer [%s] does not have a token endpoint: %w", op, issuer.Issuer, ErrMissingTokenEndpoint)
	}

	form := req.form(client.ClientId)
	if client.Assertion != nil {
		assertion, err := client.Assertion.Serialize()
		if err != nil {
			return nil, nil, fmt.Errorf("%s: unable to create client assertion: %w", op, err)
		}
		form.Set("client_assertion_type", clientassertion.JWTTypeParam)
		form.Set("client_assertion", assertion)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, issuer.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to create token request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	var key *dpop.Key
	if useDPoP {
		if key, err = r.prover.GenerateKey(); err != nil {
			return nil, nil, fmt.Errorf("%s: unable to generate DPoP key: %w", op, err)
		}
		proof, err := r.prover.NewProof(issuer.TokenEndpoint, http.MethodPost, key)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: unable to create DPoP proof: %w", op, err)
		}
		httpReq.Header.Set(dpop.HeaderName, proof)
	}
	if client.Assertion == nil && client.ClientSecret != "" {
		httpReq.SetBasicAuth(client.ClientId, string(client.ClientSecret))
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to reach token endpoint %s: %w: %w", op, issuer.TokenEndpoint, ErrNetwork, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to read token endpoint response: %w: %w", op, ErrNetwork, err)
	}
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, nil, fmt.Errorf("%s: token endpoint response (status %d) is not a JSON object: %w", op, httpResp.StatusCode, ErrMalformedResponse)
	}

	var validateOpts []Option
	if r.strictDPoPTokenType {
		validateOpts = append(validateOpts, WithStrictDPoPTokenType())
	}
	resp, err := ValidateTokenResponse(raw, useDPoP, validateOpts...)
	if err != nil {
		var tokenErr *TokenErrorResponse
		if errors.As(err, &tokenErr) && tokenErr.Issuer == "" {
			tokenErr.Issuer = issuer.Issuer
		}
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, key, nil
}

func (r *Requester) newToken(resp *TokenResponse, key *dpop.Key, webId string) *Token {
	t := &Token{
		AccessToken:  resp.AccessToken,
		IdToken:      resp.IdToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		WebId:        webId,
		DPoPKey:      key,
		ExpiresIn:    resp.ExpiresIn,
	}
	if resp.ExpiresIn != nil {
		t.Expiry = r.now().Add(time.Duration(*resp.ExpiresIn) * time.Second)
	}
	return t
}

// requesterOptions is the set of available options for a Requester
type requesterOptions struct {
	withHTTPClient          HTTPDoer
	withProviderCA          string
	withDPoPProver          DPoPProver
	withClaimsDecoder       ClaimsDecoder
	withStrictDPoPTokenType bool
	withNowFunc             func() time.Time
}

// requesterDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func requesterDefaults() requesterOptions {
	return requesterOptions{
		withDPoPProver:    dpop.Prover{},
		withClaimsDecoder: UnverifiedDecoder{},
		withNowFunc:       time.Now,
	}
}

// getRequesterOpts gets the requester defaults and applies the opt overrides
// passed in.
func getRequesterOpts(opt ...Option) requesterOptions {
	opts := requesterDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides an optional http client for sending token requests.
// It's mutually exclusive with WithProviderCA.
//
// Valid for: Requester
func WithHTTPClient(c HTTPDoer) Option {
	return func(o interface{}) {
		if o, ok := o.(*requesterOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithProviderCA provides an optional CA cert (PEM) trusted when sending
// requests to the provider.
//
// Valid for: Requester and DiscoveryFetcher
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *requesterOptions:
			v.withProviderCA = cert
		case *fetcherOptions:
			v.withProviderCA = cert
		}
	}
}

// WithDPoPProver provides an optional DPoP prover.  The default is
// dpop.Prover.
//
// Valid for: Requester
func WithDPoPProver(p DPoPProver) Option {
	return func(o interface{}) {
		if o, ok := o.(*requesterOptions); ok {
			o.withDPoPProver = p
		}
	}
}
