// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/hashicorp/webid-oidc/storage"
)

// Refresher refreshes the tokens of a stored session.  It's safe for
// concurrent use, but concurrent refreshes of the same session are
// last-write-wins.
type Refresher struct {
	storage   storage.Storage
	fetcher   IssuerConfigFetcher
	registrar ClientRegistrar
	requester *Requester
	decoder   ClaimsDecoder
}

// NewRefresher creates a new Refresher.
//
// Supported options:
//   - WithRequester
//   - WithClaimsDecoder
func NewRefresher(s storage.Storage, f IssuerConfigFetcher, r ClientRegistrar, opt ...Option) (*Refresher, error) {
	const op = "NewRefresher"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	case f == nil:
		return nil, fmt.Errorf("%s: issuer config fetcher is nil: %w", op, ErrNilParameter)
	case r == nil:
		return nil, fmt.Errorf("%s: client registrar is nil: %w", op, ErrNilParameter)
	}
	opts := getRefresherOpts(opt...)
	if opts.withClaimsDecoder == nil {
		return nil, fmt.Errorf("%s: claims decoder is nil: %w", op, ErrNilParameter)
	}
	requester := opts.withRequester
	if requester == nil {
		var err error
		if requester, err = NewRequester(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &Refresher{
		storage:   s,
		fetcher:   f,
		registrar: r,
		requester: requester,
		decoder:   opts.withClaimsDecoder,
	}, nil
}

// Refresh exchanges the stored refresh_token of the session for new
// DPoP-bound tokens and stores them.  The WebID stored is the "sub" of the
// new access_token.
func (r *Refresher) Refresh(ctx context.Context, sessionId string) (*Token, error) {
	const op = "Refresher.Refresh"
	if sessionId == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	storedRefreshToken, err := r.storage.GetForUser(ctx, sessionId, storage.FieldRefreshToken, storage.WithSecure(), storage.WithErrorIfNull())
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read the refresh token of session [%s]: %w: %w", op, sessionId, ErrMissingSessionState, err)
	}
	issuer, err := r.storage.GetForUser(ctx, sessionId, storage.FieldIssuer, storage.WithErrorIfNull())
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read the issuer of session [%s]: %w: %w", op, sessionId, ErrMissingSessionState, err)
	}
	req, err := NewRefreshRequest(RefreshToken(storedRefreshToken))
	if err != nil {
		return nil, fmt.Errorf("%s: session [%s] has an empty refresh token: %w: %w", op, sessionId, ErrMissingSessionState, err)
	}

	issuerConfig, err := r.fetcher.FetchConfig(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to fetch the config of issuer [%s]: %w", op, issuer, err)
	}
	client, err := r.registrar.GetClient(ctx, sessionId, issuerConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to get a client for issuer [%s]: %w", op, issuer, err)
	}

	resp, key, err := r.requester.request(ctx, issuerConfig, client, req, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := r.decoder.Decode(string(resp.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("%s: the authorization server returned a bad token (unable to decode the access token): %w: %w", op, ErrBadTokenClaims, err)
	}
	sub, _ := claims[ClaimSubject].(string)
	if sub == "" {
		return nil, fmt.Errorf("%s: the authorization server returned a bad token (i.e. when decoded we did not find the required 'sub' claim): %w", op, ErrBadTokenClaims)
	}

	t := r.requester.newToken(resp, key, sub)
	if t.RefreshToken == "" {
		t.RefreshToken = RefreshToken(storedRefreshToken)
	}
	if err := r.storage.SetForUser(ctx, sessionId, map[string]string{
		storage.FieldAccessToken:  string(t.AccessToken),
		storage.FieldIdToken:      string(t.IdToken),
		storage.FieldRefreshToken: string(t.RefreshToken),
		storage.FieldWebId:        t.WebId,
		storage.FieldIsLoggedIn:   "true",
	}, storage.WithSecure()); err != nil {
		return nil, fmt.Errorf("%s: unable to store the tokens of session [%s]: %w", op, sessionId, err)
	}
	return t, nil
}

// refresherOptions is the set of available options for a Refresher
type refresherOptions struct {
	withRequester     *Requester
	withClaimsDecoder ClaimsDecoder
}

func refresherDefaults() refresherOptions {
	return refresherOptions{
		withClaimsDecoder: UnverifiedDecoder{},
	}
}

func getRefresherOpts(opt ...Option) refresherOptions {
	opts := refresherDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRequester provides an optional Requester for sending token requests.
//
// Valid for: Refresher
func WithRequester(r *Requester) Option {
	return func(o interface{}) {
		if o, ok := o.(*refresherOptions); ok {
			o.withRequester = r
		}
	}
}
