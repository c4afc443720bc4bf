// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
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
)

const attemptExp = "attemptExp"

// sessionCookie holds the id of the browser's session.
const sessionCookie = "webid-oidc-session"

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
			if t == "" && k != clientSecret {
				return nil, fmt.Errorf("%s: %s is empty", op, k)
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
	env, err := envConfig()
	if err != nil {
		fmt.Fprint(os.Stderr, err)
		return
	}

	// handle ctrl-c
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt)
	defer signal.Stop(sigintCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "webid-oidc-spa",
		Level: hclog.Debug,
	})
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
		session.WithStateExpiry(env[attemptExp].(time.Duration)),
	)
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}

	callbackHandler, err := callback.Redirect(ctx, m, successFn(), failedFn())
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}

	// Set up the handlers
	http.HandleFunc("/callback", callbackHandler)
	http.HandleFunc("/login", LoginHandler(ctx, m, issuerURL, redirectURL))
	http.HandleFunc("/success", SuccessHandler(ctx, m))
	http.HandleFunc("/refresh", RefreshHandler(ctx, m))
	http.HandleFunc("/logout", LogoutHandler(ctx, m))

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%s", env[port]))
	if err != nil {
		fmt.Fprint(os.Stderr, err.Error())
		return
	}
	defer listener.Close()
	fmt.Fprintf(os.Stderr, "Visit http://localhost:%s/login to login.\n", env[port])

	srvCh := make(chan error)
	// Start local server
	go func() {
		err := http.Serve(listener, nil)
		if err != nil && err != http.ErrServerClosed {
			srvCh <- err
		}
	}()

	// Wait for either the server to fail or SIGINT to be received
	select {
	case err := <-srvCh:
		fmt.Fprintf(os.Stderr, "server closed with error: %s", err.Error())
		return
	case <-sigintCh:
		fmt.Fprintf(os.Stderr, "Interrupted")
		return
	}
}
