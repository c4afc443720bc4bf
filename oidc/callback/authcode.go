// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/webid-oidc/oidc"
)

// RedirectHandler completes the login identified by the oauth "state" using
// the authorization code.  A *session.Manager is a RedirectHandler.
type RedirectHandler interface {
	HandleRedirect(ctx context.Context, state, code string) (*oidc.Token, error)
}

// Redirect creates an authorization code callback handler which hands the
// request's "state" and "code" parameters to the RedirectHandler.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func Redirect(ctx context.Context, h RedirectHandler, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.Redirect"
	switch {
	case h == nil:
		return nil, fmt.Errorf("%s: redirect handler is nil: %w", op, oidc.ErrNilParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrNilParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrNilParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found
		reqState := req.FormValue("state")

		if err := req.FormValue("error"); err != "" {
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, nil, w, req)
			return
		}

		reqCode := req.FormValue("code")
		if reqCode == "" {
			eFn(reqState, nil, fmt.Errorf("%s: missing authorization code: %w", op, oidc.ErrInvalidParameter), w, req)
			return
		}

		token, err := h.HandleRedirect(ctx, reqState, reqCode)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to complete login: %w", op, err), w, req)
			return
		}
		sFn(reqState, token, w, req)
	}, nil
}
