// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/webid-oidc/oidc"
	"github.com/hashicorp/webid-oidc/oidc/callback"
)

func successFn() callback.SuccessResponseFunc {
	return func(state string, t *oidc.Token, w http.ResponseWriter, req *http.Request) {
		// Redirect to logged in page
		http.Redirect(w, req, "/success", http.StatusSeeOther)
	}
}

func failedFn() callback.ErrorResponseFunc {
	const op = "failedFn"
	return func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		var responseErr error
		defer func() {
			if _, err := w.Write([]byte(responseErr.Error())); err != nil {
				fmt.Fprintf(os.Stderr, "error writing failed response: %s\n", err)
			}
		}()

		if e != nil {
			fmt.Fprintf(os.Stderr, "callback error: %s\n", e.Error())
			responseErr = e
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r != nil {
			fmt.Fprintf(os.Stderr, "callback error from identity provider: %s\n", r.Error)
			responseErr = fmt.Errorf("%s: callback error from identity provider: %s: %s", op, r.Error, r.Description)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		responseErr = fmt.Errorf("%s: unknown error from callback", op)
	}
}
