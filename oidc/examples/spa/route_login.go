// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/webid-oidc/oidc"
	"github.com/hashicorp/webid-oidc/oidc/session"
)

// LoginHandler starts the login of the browser's session, creating the
// session when the browser doesn't have one yet.  An "issuer" parameter
// overrides the default issuer.
func LoginHandler(ctx context.Context, m *session.Manager, defaultIssuer, redirectURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issuer := r.FormValue("issuer")
		if issuer == "" {
			issuer = defaultIssuer
		}
		sessionId, err := sessionID(r)
		if err != nil {
			id, err := oidc.NewID(oidc.WithPrefix("sess"))
			if err != nil {
				fmt.Fprint(os.Stderr, err.Error())
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			sessionId = id
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sessionId,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		authURL, err := m.Login(ctx, sessionId, issuer, redirectURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error getting auth url: %s", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
	}
}

// sessionID returns the id of the browser's session.
func sessionID(r *http.Request) (string, error) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", err
	}
	if c.Value == "" {
		return "", http.ErrNoCookie
	}
	return c.Value, nil
}
