// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/webid-oidc/oidc"
	"github.com/hashicorp/webid-oidc/oidc/callback"
	"github.com/hashicorp/webid-oidc/oidc/session"
	"github.com/hashicorp/webid-oidc/storage"
)

// List of required configuration environment variables
const (
	clientID     = "OIDC_CLIENT_ID"
	clientSecret = "OIDC_CLIENT_SECRET"
	issuer       = "OIDC_ISSUER"
	port         = "OIDC_PORT"
	attemptExp   = "attemptExp"
)

func envConfig() (map[string]interface{}, error) {
	const op = "envConfig"
	env := map[string]interface{}{
		clientID:     os.Getenv("OIDC_CLIENT_ID"),
		clientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
		issuer:       os.Getenv("OIDC_ISSUER"),
		port:         os.Getenv("OIDC_PORT"),
		attemptExp:   time.Duration(2 * time.Minute),
	}
	for k, v := range env {
		switch t := v.(type) {
		case string:
			switch k {
			case clientSecret:
				// public clients don't have a secret
			default:
				if t == "" {
					return nil, fmt.Errorf("%s: %s is empty", op, k)
				}
			}
		case time.Duration:
			if t == 0 {
				return nil, fmt.Errorf("%s: %s is empty", op, k)
			}
		default:
			return nil, fmt.Errorf("%s: %s is an unhandled type %t", op, k, t)
		}
	}
	return env, nil
}

func main() {
	scopes := flag.String("scopes", "", "comma separated list of additional scopes to requests")
	noDPoP := flag.Bool("no-dpop", false, "request bearer tokens instead of DPoP-bound tokens")
	refresh := flag.Bool("refresh", false, "refresh the tokens once logged in")
	debug := flag.Bool("debug", false, "log debug information")
	flag.Parse()

	var optScopes []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			optScopes = append(optScopes, s)
		}
	}

	env, err := envConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		return
	}

	logLevel := hclog.Info
	if *debug {
		logLevel = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "webid-oidc",
		Level: logLevel,
	})

	// handle ctrl-c while waiting for the callback
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt)
	defer signal.Stop(sigintCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	issuerURL := env[issuer].(string)
	redirectURL := fmt.Sprintf("http://localhost:%s/callback", env[port].(string))

	fetcher, err := oidc.NewDiscoveryFetcher()
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}
	registrar, err := oidc.NewStaticRegistrar(env[clientID].(string), oidc.ClientSecret(env[clientSecret].(string)))
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}
	m, err := session.NewManager(storage.NewInMemory(), fetcher, registrar,
		session.WithLogger(logger),
		session.WithScopes(optScopes...),
		session.WithDPoP(!*noDPoP),
		session.WithStateExpiry(env[attemptExp].(time.Duration)),
	)
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}

	sessionId, err := oidc.NewID(oidc.WithPrefix("sess"))
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}

	doneCh, handler, err := callback.RedirectWithChannel(ctx, m, success, failed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating callback handler: %s", err)
		return
	}

	authURL, err := m.Login(ctx, sessionId, issuerURL, redirectURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error getting auth url: %s", err)
		return
	}

	// Set up callback handler
	http.HandleFunc("/callback", handler)

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%s", env[port]))
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}
	defer listener.Close()

	fmt.Fprintf(os.Stderr, "Complete the login via your Solid identity provider by visiting:\n\n    %s\n\n\n", authURL)

	srvCh := make(chan error)
	// Start local server
	go func() {
		err := http.Serve(listener, nil)
		if err != nil && err != http.ErrServerClosed {
			srvCh <- err
		}
	}()

	// Wait for either the callback to finish, SIGINT to be received or the
	// login to expire
	select {
	case err := <-srvCh:
		fmt.Fprintf(os.Stderr, "server closed with error: %s", err.Error())
		return
	case resp := <-doneCh:
		if resp.Error != nil {
			fmt.Fprintf(os.Stderr, "channel received error: %s", resp.Error)
			return
		}
		printToken(resp.Token)
		printClaims(resp.Token.IdToken)
		if *refresh {
			t, err := m.Refresh(ctx, sessionId)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error refreshing tokens: %s", err)
				return
			}
			fmt.Fprint(os.Stderr, "refreshed.\n")
			printToken(t)
		}
		info, err := m.Info(ctx, sessionId)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading session info: %s", err)
			return
		}
		fmt.Println(info.WebId)
		if err := m.Logout(ctx, sessionId); err != nil {
			fmt.Fprintf(os.Stderr, "error logging out: %s", err)
		}
		return
	case <-sigintCh:
		fmt.Fprintf(os.Stderr, "Interrupted")
		return
	case <-time.After(env[attemptExp].(time.Duration)):
		fmt.Fprintf(os.Stderr, "Timed out waiting for response from provider")
		return
	}
}

func success(state string, t *oidc.Token, w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(successHTML)); err != nil {
		fmt.Fprintf(os.Stderr, "error writing successful response: %s", err)
	}
}

func failed(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	const op = "failed"
	var msg string
	switch {
	case e != nil:
		msg = fmt.Sprintf("%s: callback error: %s", op, e)
		w.WriteHeader(http.StatusInternalServerError)
	case r != nil:
		msg = fmt.Sprintf("%s: callback error from identity provider: %s: %s", op, r.Error, r.Description)
		w.WriteHeader(http.StatusUnauthorized)
	default:
		msg = fmt.Sprintf("%s: unknown error from callback", op)
		w.WriteHeader(http.StatusInternalServerError)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: error writing failed response: %s", op, err)
	}
}

type respToken struct {
	IdToken      string
	AccessToken  string
	RefreshToken string
	TokenType    string
	WebId        string
	DPoPKeyId    string `json:",omitempty"`
	Expiry       time.Time
}

func printClaims(t oidc.IdToken) {
	const op = "printClaims"
	var tokenClaims map[string]interface{}
	if err := t.Claims(&tokenClaims); err != nil {
		fmt.Fprintf(os.Stderr, "IdToken claims: error parsing: %s\n", err)
	} else {
		if idData, err := json.MarshalIndent(tokenClaims, "", "    "); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		} else {
			fmt.Fprintf(os.Stderr, "IdToken claims:%s\n", idData)
		}
	}
}

func printToken(t *oidc.Token) {
	const op = "printToken"
	tokenData, err := json.MarshalIndent(printableToken(t), "", "    ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s", op, err)
		return
	}
	fmt.Fprintf(os.Stderr, "channel received success.\nToken:%s\n", tokenData)
}

// printableToken is needed because the oidc.Token redacts the IdToken,
// AccessToken and RefreshToken
func printableToken(t *oidc.Token) respToken {
	rt := respToken{
		IdToken:      string(t.IdToken),
		AccessToken:  string(t.AccessToken),
		RefreshToken: string(t.RefreshToken),
		TokenType:    t.TokenType,
		WebId:        t.WebId,
		Expiry:       t.Expiry,
	}
	if t.IsDPoPBound() {
		rt.DPoPKeyId = t.DPoPKey.KeyID()
	}
	return rt
}

const successHTML = `
<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>Solid OIDC Login</title>
  </head>
  <body>
    <p>Logged in.  You may close this window and return to the CLI.</p>
  </body>
</html>
`
