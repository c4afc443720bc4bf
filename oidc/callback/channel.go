// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/webid-oidc/oidc"
)

// ErrLoginFailed means the user failed to complete the authentication with
// the provider.
var ErrLoginFailed = errors.New("login failed")

// LoginResp is used by RedirectWithChannel.  The callback writes its response
// to the returned <-chan LoginResp.
type LoginResp struct {
	Token *oidc.Token // Token is populated when the callback successfully completes the login.
	Error error       // Error is populated when there's an error during the callback
}

// RedirectWithChannel creates a one-time use callback handler which
// communicates the result of the first redirect it handles by writing a
// LoginResp to a channel, which is then closed.  It's most appropriate when
// implementing a solution that invokes a localhost http listener within the
// same process that kicked off the login (see examples/cli).
//
// The SuccessResponseFunc and ErrorResponseFunc create the http responses,
// as they do for Redirect.
func RedirectWithChannel(ctx context.Context, h RedirectHandler, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (<-chan LoginResp, http.HandlerFunc, error) {
	const op = "callback.RedirectWithChannel"
	if sFn == nil {
		return nil, nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrNilParameter)
	}
	if eFn == nil {
		return nil, nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrNilParameter)
	}

	// buffered, so the handler never waits for a reader
	doneCh := make(chan LoginResp, 1)
	var once sync.Once
	done := func(resp LoginResp) {
		once.Do(func() {
			doneCh <- resp
			close(doneCh)
		})
	}

	handler, err := Redirect(ctx, h,
		func(state string, t *oidc.Token, w http.ResponseWriter, req *http.Request) {
			sFn(state, t, w, req)
			done(LoginResp{Token: t})
		},
		func(state string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
			eFn(state, r, e, w, req)
			if r != nil {
				e = fmt.Errorf("%s: provider returned error [%s]: %s: %w", op, r.Error, r.Description, ErrLoginFailed)
			}
			done(LoginResp{Error: e})
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return doneCh, handler, nil
}
