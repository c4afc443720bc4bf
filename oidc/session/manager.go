// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/webid-oidc/oidc"
	"github.com/hashicorp/webid-oidc/oidc/internal/strutils"
	"github.com/hashicorp/webid-oidc/storage"
	"golang.org/x/oauth2"
)

// Scopes requested by every login.
var defaultScopes = []string{"openid", "offline_access", "webid"}

// Info describes a session.
type Info struct {
	SessionId  string
	IsLoggedIn bool
	WebId      string
	Issuer     string
}

// Manager logs sessions in and out, and refreshes their tokens.  It's safe for
// concurrent use.
type Manager struct {
	storage   storage.Storage
	fetcher   oidc.IssuerConfigFetcher
	registrar oidc.ClientRegistrar
	requester *oidc.Requester
	refresher *oidc.Refresher

	logger      hclog.Logger
	scopes      []string
	useDPoP     bool
	stateExpiry time.Duration
	now         func() time.Time
}

// NewManager creates a new Manager.
//
// Supported options:
//   - WithLogger
//   - WithRequester
//   - WithScopes
//   - WithDPoP
//   - WithStateExpiry
//   - WithNow
func NewManager(s storage.Storage, f oidc.IssuerConfigFetcher, r oidc.ClientRegistrar, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	opts := getManagerOpts(opt...)

	var result *multierror.Error
	if s == nil {
		result = multierror.Append(result, fmt.Errorf("storage is nil: %w", oidc.ErrNilParameter))
	}
	if f == nil {
		result = multierror.Append(result, fmt.Errorf("issuer config fetcher is nil: %w", oidc.ErrNilParameter))
	}
	if r == nil {
		result = multierror.Append(result, fmt.Errorf("client registrar is nil: %w", oidc.ErrNilParameter))
	}
	if opts.withLogger == nil {
		result = multierror.Append(result, fmt.Errorf("logger is nil: %w", oidc.ErrNilParameter))
	}
	if opts.withNowFunc == nil {
		result = multierror.Append(result, fmt.Errorf("now func is nil: %w", oidc.ErrNilParameter))
	}
	if opts.withStateExpiry <= 0 {
		result = multierror.Append(result, fmt.Errorf("state expiry %s is not greater than zero: %w", opts.withStateExpiry, oidc.ErrInvalidParameter))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	requester := opts.withRequester
	if requester == nil {
		var err error
		if requester, err = oidc.NewRequester(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	refresher, err := oidc.NewRefresher(s, f, r, oidc.WithRequester(requester))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Manager{
		storage:     s,
		fetcher:     f,
		registrar:   r,
		requester:   requester,
		refresher:   refresher,
		logger:      opts.withLogger,
		scopes:      strutils.RemoveDuplicatesStable(append(append([]string{}, defaultScopes...), opts.withScopes...), false),
		useDPoP:     opts.withDPoP,
		stateExpiry: opts.withStateExpiry,
		now:         opts.withNowFunc,
	}, nil
}

// Login starts the login of the session with the issuer and returns the
// authorization URL the user must be sent to.  The provider redirects the
// user to redirectUrl once authenticated, which must then be handed to
// HandleRedirect or HandleRedirectURL.
func (m *Manager) Login(ctx context.Context, sessionId, issuer, redirectUrl string) (string, error) {
	const op = "Manager.Login"
	authURL, err := m.login(ctx, sessionId, issuer, redirectUrl)
	if err != nil {
		m.logger.Error("login failed", "op", op, "session_id", sessionId, "issuer", issuer, "error", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("login started", "op", op, "session_id", sessionId, "issuer", issuer)
	return authURL, nil
}

func (m *Manager) login(ctx context.Context, sessionId, issuer, redirectUrl string) (string, error) {
	switch {
	case sessionId == "":
		return "", fmt.Errorf("session id is empty: %w", oidc.ErrInvalidParameter)
	case issuer == "":
		return "", fmt.Errorf("issuer is empty: %w", oidc.ErrInvalidParameter)
	case redirectUrl == "":
		return "", fmt.Errorf("redirect URL is empty: %w", oidc.ErrInvalidParameter)
	}
	if u, err := url.Parse(redirectUrl); err != nil || !u.IsAbs() {
		return "", fmt.Errorf("redirect URL %s is not an absolute URL: %w", redirectUrl, oidc.ErrInvalidParameter)
	}

	config, err := m.fetcher.FetchConfig(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("unable to fetch the config of issuer [%s]: %w", issuer, err)
	}
	if config.AuthorizationEndpoint == "" {
		return "", fmt.Errorf("the issuer [%s] does not have an authorization endpoint: %w", issuer, oidc.ErrInvalidIssuer)
	}
	client, err := m.registrar.GetClient(ctx, sessionId, config)
	if err != nil {
		return "", fmt.Errorf("unable to get a client for issuer [%s]: %w", issuer, err)
	}

	verifier := oauth2.GenerateVerifier()
	st, err := newState(sessionId, config.Issuer, verifier, redirectUrl, m.now(), m.stateExpiry)
	if err != nil {
		return "", err
	}
	if err := writeState(ctx, m.storage, st); err != nil {
		return "", err
	}
	if err := m.storage.SetForUser(ctx, sessionId, map[string]string{
		storage.FieldIssuer: config.Issuer,
	}); err != nil {
		return "", err
	}

	oauth2Config := oauth2.Config{
		ClientID:     client.ClientId,
		ClientSecret: string(client.ClientSecret),
		Endpoint: oauth2.Endpoint{
			AuthURL:  config.AuthorizationEndpoint,
			TokenURL: config.TokenEndpoint,
		},
		RedirectURL: redirectUrl,
		Scopes:      m.scopes,
	}
	return oauth2Config.AuthCodeURL(st.Id, oauth2.S256ChallengeOption(verifier)), nil
}

// HandleRedirectURL completes a login using the URL the provider redirected
// the user to.  An authentication error response is returned as an
// *AuthError.
func (m *Manager) HandleRedirectURL(ctx context.Context, redirectURL string) (*oidc.Token, error) {
	const op = "Manager.HandleRedirectURL"
	u, err := url.Parse(redirectURL)
	if err != nil {
		m.logger.Error("invalid redirect URL", "op", op, "error", err)
		return nil, fmt.Errorf("%s: unable to parse redirect URL: %w: %w", op, oidc.ErrInvalidParameter, err)
	}
	q := u.Query()
	if code := q.Get("error"); code != "" {
		authErr := &AuthError{
			State:       q.Get("state"),
			Code:        code,
			Description: q.Get("error_description"),
			Uri:         q.Get("error_uri"),
		}
		m.logger.Error("provider returned an authentication error", "op", op, "state", authErr.State, "error", authErr)
		return nil, fmt.Errorf("%s: %w", op, authErr)
	}
	t, err := m.HandleRedirect(ctx, q.Get("state"), q.Get("code"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// HandleRedirect completes the login identified by state, exchanging the
// authorization code for tokens which are stored with the session.  A state
// can only be used once.
func (m *Manager) HandleRedirect(ctx context.Context, state, code string) (*oidc.Token, error) {
	const op = "Manager.HandleRedirect"
	sessionId, t, err := m.handleRedirect(ctx, state, code)
	if err != nil {
		m.logger.Error("unable to complete login", "op", op, "state", state, "session_id", sessionId, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("login completed", "op", op, "session_id", sessionId, "webid", t.WebId, "dpop", t.IsDPoPBound())
	return t, nil
}

func (m *Manager) handleRedirect(ctx context.Context, state, code string) (string, *oidc.Token, error) {
	switch {
	case state == "":
		return "", nil, fmt.Errorf("state is empty: %w", ErrUnknownState)
	case code == "":
		return "", nil, fmt.Errorf("code is empty: %w", oidc.ErrInvalidParameter)
	}
	st, err := readState(ctx, m.storage, state)
	if err != nil {
		return "", nil, err
	}
	// the state is single use, whatever the outcome of the exchange
	if err := m.storage.DeleteAllUserData(ctx, st.Id); err != nil {
		return st.SessionId, nil, err
	}
	if st.IsExpired(m.now()) {
		return st.SessionId, nil, fmt.Errorf("login of state [%s] expired at %s: %w", st.Id, st.Expiration, ErrExpiredState)
	}

	config, err := m.fetcher.FetchConfig(ctx, st.Issuer)
	if err != nil {
		return st.SessionId, nil, fmt.Errorf("unable to fetch the config of issuer [%s]: %w", st.Issuer, err)
	}
	client, err := m.registrar.GetClient(ctx, st.SessionId, config)
	if err != nil {
		return st.SessionId, nil, fmt.Errorf("unable to get a client for issuer [%s]: %w", st.Issuer, err)
	}
	req, err := oidc.NewAuthCodeRequest(code, st.RedirectUrl, st.CodeVerifier)
	if err != nil {
		return st.SessionId, nil, err
	}
	t, err := m.requester.Exchange(ctx, config, client, req, m.useDPoP)
	if err != nil {
		return st.SessionId, nil, err
	}

	secure := map[string]string{
		storage.FieldAccessToken: string(t.AccessToken),
		storage.FieldIdToken:     string(t.IdToken),
		storage.FieldWebId:       t.WebId,
		storage.FieldIsLoggedIn:  "true",
	}
	if t.RefreshToken != "" {
		secure[storage.FieldRefreshToken] = string(t.RefreshToken)
	}
	if err := m.storage.SetForUser(ctx, st.SessionId, secure, storage.WithSecure()); err != nil {
		return st.SessionId, nil, err
	}
	if err := m.storage.SetForUser(ctx, st.SessionId, map[string]string{
		storage.FieldIssuer: st.Issuer,
	}); err != nil {
		return st.SessionId, nil, err
	}
	return st.SessionId, t, nil
}

// Refresh exchanges the session's refresh_token for new DPoP-bound tokens.
// See oidc.Refresher.Refresh
func (m *Manager) Refresh(ctx context.Context, sessionId string) (*oidc.Token, error) {
	const op = "Manager.Refresh"
	t, err := m.refresher.Refresh(ctx, sessionId)
	if err != nil {
		m.logger.Error("unable to refresh tokens", "op", op, "session_id", sessionId, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("tokens refreshed", "op", op, "session_id", sessionId, "webid", t.WebId)
	return t, nil
}

// Info returns the session's login status.  An unknown session is not logged
// in.
func (m *Manager) Info(ctx context.Context, sessionId string) (*Info, error) {
	const op = "Manager.Info"
	if sessionId == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, oidc.ErrInvalidParameter)
	}
	info := &Info{SessionId: sessionId}
	isLoggedIn, err := m.storage.GetForUser(ctx, sessionId, storage.FieldIsLoggedIn, storage.WithSecure())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	info.IsLoggedIn = isLoggedIn == "true"
	if info.WebId, err = m.storage.GetForUser(ctx, sessionId, storage.FieldWebId, storage.WithSecure()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if info.Issuer, err = m.storage.GetForUser(ctx, sessionId, storage.FieldIssuer); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return info, nil
}

// Logout removes all the data of the session.
func (m *Manager) Logout(ctx context.Context, sessionId string) error {
	const op = "Manager.Logout"
	if sessionId == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if err := m.storage.DeleteAllUserData(ctx, sessionId); err != nil {
		m.logger.Error("unable to logout", "op", op, "session_id", sessionId, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("logged out", "op", op, "session_id", sessionId)
	return nil
}
