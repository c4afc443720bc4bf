// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/webid-oidc/oidc/session"
)

// SuccessHandler shows the browser's session.
func SuccessHandler(ctx context.Context, m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionId, err := sessionID(r)
		if err != nil {
			http.Error(w, "not logged in", http.StatusUnauthorized)
			return
		}
		info, err := m.Info(ctx, sessionId)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading session: %s", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, info)
	}
}

// RefreshHandler refreshes the tokens of the browser's session.
func RefreshHandler(ctx context.Context, m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionId, err := sessionID(r)
		if err != nil {
			http.Error(w, "not logged in", http.StatusUnauthorized)
			return
		}
		t, err := m.Refresh(ctx, sessionId)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error refreshing session: %s", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, struct {
			WebId  string
			Expiry time.Time
		}{t.WebId, t.Expiry})
	}
}

// LogoutHandler logs the browser's session out.
func LogoutHandler(ctx context.Context, m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionId, err := sessionID(r)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		if err := m.Logout(ctx, sessionId); err != nil {
			fmt.Fprintf(os.Stderr, "error logging out: %s", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Path: "/", MaxAge: -1})
		_, _ = w.Write([]byte("logged out"))
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		fmt.Fprint(os.Stderr, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		fmt.Fprint(os.Stderr, err)
	}
}
