// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/webid-oidc/oidc"
	"github.com/hashicorp/webid-oidc/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFetcher returns a fixed issuer config, or fails with err.
type testFetcher struct {
	config *oidc.IssuerConfig
	err    error
}

func (f *testFetcher) FetchConfig(context.Context, string) (*oidc.IssuerConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.config, nil
}

// testRegistrar returns a fixed client, or fails with err.
type testRegistrar struct {
	client *oidc.ClientRegistration
	err    error
}

func (r *testRegistrar) GetClient(context.Context, string, *oidc.IssuerConfig) (*oidc.ClientRegistration, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.client, nil
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testRedirectURL = "https://my.app/callback"

// testManager returns a Manager logging into tp.
func testManager(t *testing.T, tp *oidc.TestProvider, s storage.Storage, opt ...Option) *Manager {
	t.Helper()
	require := require.New(t)
	tp.SetClientCreds("test-client", "test-secret")
	tp.SetExpectedAuthCode("test-code")
	tp.SetAllowedRedirectURIs([]string{testRedirectURL})

	fetcher, err := oidc.NewDiscoveryFetcher(oidc.WithProviderCA(tp.CACert()))
	require.NoError(err)
	registrar, err := oidc.NewStaticRegistrar("test-client", "test-secret")
	require.NoError(err)
	requester, err := oidc.NewRequester(oidc.WithHTTPClient(tp.HttpClient()))
	require.NoError(err)
	m, err := NewManager(s, fetcher, registrar, append([]Option{WithRequester(requester)}, opt...)...)
	require.NoError(err)
	return m
}

// testAuthorize follows the authorization URL and returns the URL the
// provider redirects to.
func testAuthorize(t *testing.T, tp *oidc.TestProvider, authURL string) string {
	t.Helper()
	require := require.New(t)
	resp, err := tp.HttpClient().Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := resp.Location()
	require.NoError(err)
	return loc.String()
}

func TestNewManager(t *testing.T) {
	t.Parallel()
	s := storage.NewInMemory()
	f := &testFetcher{}
	r := &testRegistrar{}
	tests := []struct {
		name      string
		s         storage.Storage
		f         oidc.IssuerConfigFetcher
		r         oidc.ClientRegistrar
		opts      []Option
		wantIsErr error
	}{
		{name: "valid", s: s, f: f, r: r},
		{name: "nil-storage", f: f, r: r, wantIsErr: oidc.ErrNilParameter},
		{name: "nil-fetcher", s: s, r: r, wantIsErr: oidc.ErrNilParameter},
		{name: "nil-registrar", s: s, f: f, wantIsErr: oidc.ErrNilParameter},
		{name: "nil-logger", s: s, f: f, r: r, opts: []Option{WithLogger(nil)}, wantIsErr: oidc.ErrNilParameter},
		{name: "nil-now", s: s, f: f, r: r, opts: []Option{WithNow(nil)}, wantIsErr: oidc.ErrNilParameter},
		{name: "zero-state-expiry", s: s, f: f, r: r, opts: []Option{WithStateExpiry(0)}, wantIsErr: oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewManager(tt.s, tt.f, tt.r, tt.opts...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Nil(got)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.NotNil(got.requester)
			assert.NotNil(got.refresher)
			assert.Equal([]string{"openid", "offline_access", "webid"}, got.scopes)
			assert.True(got.useDPoP)
			assert.Equal(DefaultStateExpiry, got.stateExpiry)
		})
	}
	t.Run("all-errors-reported", func(t *testing.T) {
		_, err := NewManager(nil, nil, nil, WithStateExpiry(-1))
		require.Error(t, err)
		for _, want := range []string{"storage is nil", "fetcher is nil", "registrar is nil", "state expiry"} {
			assert.Contains(t, err.Error(), want)
		}
	})
	t.Run("extra-scopes", func(t *testing.T) {
		got, err := NewManager(s, f, r, WithScopes("profile", "webid", "email"))
		require.NoError(t, err)
		assert.Equal(t, []string{"openid", "offline_access", "webid", "profile", "email"}, got.scopes)
	})
}

func TestManager_Login(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	s := storage.NewInMemory()
	m := testManager(t, tp, s, WithScopes("profile"))

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		authURL, err := m.Login(ctx, "alice-session", tp.Addr(), testRedirectURL)
		require.NoError(err)

		u, err := url.Parse(authURL)
		require.NoError(err)
		assert.Equal(tp.Addr()+"/auth", u.Scheme+"://"+u.Host+u.Path)
		q := u.Query()
		assert.Equal("code", q.Get("response_type"))
		assert.Equal("test-client", q.Get("client_id"))
		assert.Equal(testRedirectURL, q.Get("redirect_uri"))
		assert.Equal("openid offline_access webid profile", q.Get("scope"))
		assert.Equal("S256", q.Get("code_challenge_method"))
		assert.NotEmpty(q.Get("code_challenge"))
		assert.NotContains(authURL, "test-secret")

		st, err := readState(ctx, s, q.Get("state"))
		require.NoError(err)
		assert.Equal("alice-session", st.SessionId)
		assert.Equal(tp.Addr(), st.Issuer)
		assert.Equal(testRedirectURL, st.RedirectUrl)
		assert.NotEmpty(st.CodeVerifier)
		assert.NotEqual(st.CodeVerifier, q.Get("code_challenge"))

		issuer, err := s.GetForUser(ctx, "alice-session", storage.FieldIssuer)
		require.NoError(err)
		assert.Equal(tp.Addr(), issuer)
	})
	t.Run("states-differ", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		first, err := m.Login(ctx, "bob-session", tp.Addr(), testRedirectURL)
		require.NoError(err)
		second, err := m.Login(ctx, "bob-session", tp.Addr(), testRedirectURL)
		require.NoError(err)
		f, err := url.Parse(first)
		require.NoError(err)
		sec, err := url.Parse(second)
		require.NoError(err)
		assert.NotEqual(f.Query().Get("state"), sec.Query().Get("state"))
		assert.NotEqual(f.Query().Get("code_challenge"), sec.Query().Get("code_challenge"))
	})

	errTestFetcher := errors.New("test fetcher error")
	errTestRegistrar := errors.New("test registrar error")
	client := &testRegistrar{client: &oidc.ClientRegistration{ClientId: "some-client"}}
	tests := []struct {
		name        string
		sessionId   string
		issuer      string
		redirectUrl string
		fetcher     *testFetcher
		registrar   *testRegistrar
		wantIsErr   error
	}{
		{name: "empty-session", issuer: "https://idp.example", redirectUrl: testRedirectURL, wantIsErr: oidc.ErrInvalidParameter},
		{name: "empty-issuer", sessionId: "s", redirectUrl: testRedirectURL, wantIsErr: oidc.ErrInvalidParameter},
		{name: "empty-redirect", sessionId: "s", issuer: "https://idp.example", wantIsErr: oidc.ErrInvalidParameter},
		{name: "relative-redirect", sessionId: "s", issuer: "https://idp.example", redirectUrl: "/callback", wantIsErr: oidc.ErrInvalidParameter},
		{
			name:        "fetcher-error",
			sessionId:   "s",
			issuer:      "https://idp.example",
			redirectUrl: testRedirectURL,
			fetcher:     &testFetcher{err: errTestFetcher},
			wantIsErr:   errTestFetcher,
		},
		{
			name:        "no-authorization-endpoint",
			sessionId:   "s",
			issuer:      "https://idp.example",
			redirectUrl: testRedirectURL,
			fetcher:     &testFetcher{config: &oidc.IssuerConfig{Issuer: "https://idp.example", TokenEndpoint: "https://idp.example/token"}},
			wantIsErr:   oidc.ErrInvalidIssuer,
		},
		{
			name:        "registrar-error",
			sessionId:   "s",
			issuer:      "https://idp.example",
			redirectUrl: testRedirectURL,
			registrar:   &testRegistrar{err: errTestRegistrar},
			wantIsErr:   errTestRegistrar,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			fetcher := tt.fetcher
			if fetcher == nil {
				fetcher = &testFetcher{config: &oidc.IssuerConfig{
					Issuer:                "https://idp.example",
					AuthorizationEndpoint: "https://idp.example/auth",
					TokenEndpoint:         "https://idp.example/token",
				}}
			}
			registrar := tt.registrar
			if registrar == nil {
				registrar = client
			}
			m, err := NewManager(storage.NewInMemory(), fetcher, registrar)
			require.NoError(err)
			got, err := m.Login(ctx, tt.sessionId, tt.issuer, tt.redirectUrl)
			require.Error(err)
			assert.Empty(got)
			assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
		})
	}
}

func TestManager_HandleRedirectURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("login-refresh-logout", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		s := storage.NewInMemory()
		var logs bytes.Buffer
		logger := hclog.New(&hclog.LoggerOptions{
			Name:   "test",
			Level:  hclog.Trace,
			Output: &logs,
		})
		m := testManager(t, tp, s, WithLogger(logger))

		authURL, err := m.Login(ctx, "alice-session", tp.Addr(), testRedirectURL)
		require.NoError(err)
		redirect := testAuthorize(t, tp, authURL)

		tk, err := m.HandleRedirectURL(ctx, redirect)
		require.NoError(err)
		assert.Equal("https://alice.example/profile/card#me", tk.WebId)
		assert.True(tk.IsDPoPBound())
		assert.Equal(tp.LastDPoPKeyThumbprint(), tk.DPoPKey.KeyID())
		assert.Equal(oidc.RefreshToken("test-refresh-token"), tk.RefreshToken)
		assert.Equal(oidc.GrantAuthorizationCode, tp.LastTokenRequest().Form.Get("grant_type"))
		assert.Equal(testRedirectURL, tp.LastTokenRequest().Form.Get("redirect_uri"))

		info, err := m.Info(ctx, "alice-session")
		require.NoError(err)
		assert.Equal(&Info{
			SessionId:  "alice-session",
			IsLoggedIn: true,
			WebId:      "https://alice.example/profile/card#me",
			Issuer:     tp.Addr(),
		}, info)
		at, err := s.GetForUser(ctx, "alice-session", storage.FieldAccessToken, storage.WithSecure())
		require.NoError(err)
		assert.Equal(string(tk.AccessToken), at)

		// a state can only be used once
		_, err = m.HandleRedirectURL(ctx, redirect)
		assert.ErrorIs(err, ErrUnknownState)
		assert.Equal(1, tp.TokenRequests())

		tp.SetExpectedRefreshToken("test-refresh-token", "rotated-refresh-token")
		refreshed, err := m.Refresh(ctx, "alice-session")
		require.NoError(err)
		assert.Equal(oidc.RefreshToken("rotated-refresh-token"), refreshed.RefreshToken)
		assert.Equal(oidc.GrantRefreshToken, tp.LastTokenRequest().Form.Get("grant_type"))

		require.NoError(m.Logout(ctx, "alice-session"))
		info, err = m.Info(ctx, "alice-session")
		require.NoError(err)
		assert.Equal(&Info{SessionId: "alice-session"}, info)

		for _, secret := range []string{string(tk.AccessToken), string(tk.IdToken), "test-refresh-token", "test-secret"} {
			assert.NotContains(logs.String(), secret)
		}
		assert.Contains(logs.String(), "login completed")
	})
	t.Run("bearer", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		m := testManager(t, tp, storage.NewInMemory(), WithDPoP(false))
		authURL, err := m.Login(ctx, "carol-session", tp.Addr(), testRedirectURL)
		require.NoError(err)
		tk, err := m.HandleRedirectURL(ctx, testAuthorize(t, tp, authURL))
		require.NoError(err)
		assert.False(tk.IsDPoPBound())
		assert.Empty(tp.LastTokenRequest().Header.Get("DPoP"))
	})
	t.Run("auth-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		m := testManager(t, tp, storage.NewInMemory())
		tp.SetExpectedAuthCode("")
		authURL, err := m.Login(ctx, "dave-session", tp.Addr(), testRedirectURL)
		require.NoError(err)
		_, err = m.HandleRedirectURL(ctx, testAuthorize(t, tp, authURL))
		require.Error(err)
		assert.ErrorIs(err, ErrAuthentication)
		var authErr *AuthError
		require.True(errors.As(err, &authErr))
		assert.Equal("access_denied", authErr.Code)
		assert.NotEmpty(authErr.State)
		assert.Equal(0, tp.TokenRequests())
	})
	t.Run("expired-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		clock := &testClock{now: time.Now()}
		m := testManager(t, tp, storage.NewInMemory(), WithNow(clock.Now), WithStateExpiry(time.Minute))
		authURL, err := m.Login(ctx, "erin-session", tp.Addr(), testRedirectURL)
		require.NoError(err)
		redirect := testAuthorize(t, tp, authURL)
		clock.Add(2 * time.Minute)
		_, err = m.HandleRedirectURL(ctx, redirect)
		assert.ErrorIs(err, ErrExpiredState)
		assert.Equal(0, tp.TokenRequests())

		// an expired state is removed too
		_, err = m.HandleRedirectURL(ctx, redirect)
		assert.ErrorIs(err, ErrUnknownState)
	})
	t.Run("token-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		s := storage.NewInMemory()
		m := testManager(t, tp, s)
		authURL, err := m.Login(ctx, "frank-session", tp.Addr(), testRedirectURL)
		require.NoError(err)
		tp.SetTokenError(&oidc.TokenErrorResponse{Code: "invalid_grant", Description: "code expired"})
		_, err = m.HandleRedirectURL(ctx, testAuthorize(t, tp, authURL))
		require.Error(err)
		var tokenErr *oidc.TokenErrorResponse
		require.True(errors.As(err, &tokenErr))
		assert.Equal("invalid_grant", tokenErr.Code)
		assert.Equal(tp.Addr(), tokenErr.Issuer)

		info, err := m.Info(ctx, "frank-session")
		require.NoError(err)
		assert.False(info.IsLoggedIn)
	})
	t.Run("invalid-params", func(t *testing.T) {
		m, err := NewManager(storage.NewInMemory(), &testFetcher{}, &testRegistrar{})
		require.NoError(t, err)
		_, err = m.HandleRedirectURL(ctx, "%zz")
		assert.ErrorIs(t, err, oidc.ErrInvalidParameter)
		_, err = m.HandleRedirectURL(ctx, testRedirectURL+"?code=some-code")
		assert.ErrorIs(t, err, ErrUnknownState)
		_, err = m.HandleRedirect(ctx, "st_some-state", "")
		assert.ErrorIs(t, err, oidc.ErrInvalidParameter)
		_, err = m.HandleRedirect(ctx, "st_unknown", "some-code")
		assert.ErrorIs(t, err, ErrUnknownState)
	})
}

func TestManager_Refresh(t *testing.T) {
	t.Parallel()
	m, err := NewManager(storage.NewInMemory(), &testFetcher{}, &testRegistrar{})
	require.NoError(t, err)
	_, err = m.Refresh(context.Background(), "unknown-session")
	assert.ErrorIs(t, err, oidc.ErrMissingSessionState)
}

func TestManager_Info_Logout(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	m, err := NewManager(storage.NewInMemory(), &testFetcher{}, &testRegistrar{})
	require.NoError(err)

	_, err = m.Info(ctx, "")
	assert.ErrorIs(err, oidc.ErrInvalidParameter)
	assert.ErrorIs(m.Logout(ctx, ""), oidc.ErrInvalidParameter)

	info, err := m.Info(ctx, "unknown-session")
	require.NoError(err)
	assert.False(info.IsLoggedIn)
	assert.Empty(info.WebId)
	assert.NoError(m.Logout(ctx, "unknown-session"))
}
