// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/webid-oidc/dpop"
	"github.com/hashicorp/webid-oidc/oidc/clientassertion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDoer replies to every request with body, or fails with err.  It
// records the requests it receives.
type testDoer struct {
	body     string
	err      error
	requests []*http.Request
	forms    []url.Values
}

func (d *testDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		v, _ := url.ParseQuery(string(b))
		d.forms = append(d.forms, v)
	}
	if d.err != nil {
		return nil, d.err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(d.body)),
	}, nil
}

// testProver returns a fixed key and proof, or fails with err.
type testProver struct {
	key   *dpop.Key
	proof string
	err   error

	htu, htm string
}

func (p *testProver) GenerateKey() (*dpop.Key, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.key, nil
}

func (p *testProver) NewProof(htu, htm string, key *dpop.Key) (string, error) {
	p.htu, p.htm = htu, htm
	return p.proof, nil
}

func testIssuer(grants ...string) *IssuerConfig {
	return &IssuerConfig{
		Issuer:              "https://idp.example",
		TokenEndpoint:       "https://idp.example/token",
		GrantTypesSupported: grants,
	}
}

func testTokenBody(t *testing.T, tokenType string, extra map[string]interface{}) string {
	t.Helper()
	_, priv := TestGenerateKeys(t)
	body := map[string]interface{}{
		"access_token": "some-access-token",
		"id_token": TestSignJWT(t, priv, map[string]interface{}{
			"iss":   "https://idp.example",
			"sub":   "alice",
			"webid": "https://alice.example/profile#me",
		}),
		"token_type": tokenType,
	}
	for k, v := range extra {
		body[k] = v
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return string(b)
}

func TestNewRequester(t *testing.T) {
	t.Parallel()
	t.Run("defaults", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		r, err := NewRequester()
		require.NoError(err)
		assert.NotNil(r.client)
		assert.Equal(dpop.Prover{}, r.prover)
		assert.Equal(UnverifiedDecoder{}, r.decoder)
		assert.False(r.strictDPoPTokenType)
	})
	t.Run("client-and-ca", func(t *testing.T) {
		_, err := NewRequester(WithHTTPClient(&testDoer{}), WithProviderCA(TestGenerateCA(t, []string{"localhost"})))
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("bad-ca", func(t *testing.T) {
		_, err := NewRequester(WithProviderCA("not a pem"))
		assert.ErrorIs(t, err, ErrInvalidCACert)
	})
	t.Run("nil-options", func(t *testing.T) {
		for _, opt := range []Option{WithDPoPProver(nil), WithClaimsDecoder(nil), WithNow(nil)} {
			r, err := NewRequester(opt)
			assert.ErrorIs(t, err, ErrNilParameter)
			assert.Nil(t, r)
		}
	})
}

func TestRequester_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	testKey, err := dpop.GenerateKey()
	require.NoError(t, err)
	testNow := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	refreshReq, err := NewRefreshRequest("some-refresh-token")
	require.NoError(t, err)
	codeReq, err := NewAuthCodeRequest("some-code", "https://my.app/callback", "some-verifier")
	require.NoError(t, err)

	tests := []struct {
		name       string
		issuer     *IssuerConfig
		client     *ClientRegistration
		req        *TokenRequest
		useDPoP    bool
		body       string
		doErr      error
		opt        []Option
		wantErr    error
		wantErrMsg string
		wantCalls  int
		check      func(*testing.T, *Token, *testDoer, *testProver)
	}{
		{
			name:      "refresh-supported",
			issuer:    testIssuer(GrantRefreshToken),
			client:    &ClientRegistration{ClientId: "some-client"},
			req:       refreshReq,
			useDPoP:   true,
			body:      testTokenBody(t, "DPoP", map[string]interface{}{"refresh_token": "new-refresh-token", "expires_in": 1800}),
			wantCalls: 1,
			check: func(t *testing.T, tk *Token, d *testDoer, p *testProver) {
				assert := assert.New(t)
				assert.Equal(AccessToken("some-access-token"), tk.AccessToken)
				assert.Equal(RefreshToken("new-refresh-token"), tk.RefreshToken)
				assert.Equal("https://alice.example/profile#me", tk.WebId)
				assert.Equal(testKey, tk.DPoPKey)
				assert.True(tk.IsDPoPBound())
				require.NotNil(t, tk.ExpiresIn)
				assert.Equal(int64(1800), *tk.ExpiresIn)
				assert.Equal(testNow.Add(30*time.Minute), tk.Expiry)

				req := d.requests[0]
				assert.Equal(http.MethodPost, req.Method)
				assert.Equal("https://idp.example/token", req.URL.String())
				assert.Equal("application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
				assert.Equal("some-proof", req.Header.Get(dpop.HeaderName))
				assert.Empty(req.Header.Get("Authorization"))
				assert.Equal("https://idp.example/token", p.htu)
				assert.Equal(http.MethodPost, p.htm)
				assert.Equal(url.Values{
					"grant_type":    {"refresh_token"},
					"refresh_token": {"some-refresh-token"},
					"client_id":     {"some-client"},
				}, d.forms[0])
			},
		},
		{
			name:       "unsupported-grant",
			issuer:     testIssuer("id_token"),
			client:     &ClientRegistration{ClientId: "some-client"},
			req:        refreshReq,
			useDPoP:    true,
			wantErr:    ErrUnsupportedGrant,
			wantErrMsg: "the issuer [https://idp.example] does not support the [refresh_token] grant",
		},
		{
			name:       "no-supported-grants",
			issuer:     testIssuer(),
			client:     &ClientRegistration{ClientId: "some-client"},
			req:        refreshReq,
			wantErr:    ErrUnsupportedGrant,
			wantErrMsg: "[refresh_token]",
		},
		{
			name: "missing-token-endpoint",
			issuer: &IssuerConfig{
				Issuer:              "https://idp.example",
				GrantTypesSupported: []string{GrantRefreshToken},
			},
			client:     &ClientRegistration{ClientId: "some-client"},
			req:        refreshReq,
			useDPoP:    true,
			wantErr:    ErrMissingTokenEndpoint,
			wantErrMsg: "the issuer [https://idp.example] does not have a token endpoint",
		},
		{
			name:       "missing-access-token",
			issuer:     testIssuer(GrantRefreshToken),
			client:     &ClientRegistration{ClientId: "some-client"},
			req:        refreshReq,
			useDPoP:    true,
			body:       `{"id_token":"x"}`,
			wantErr:    ErrMalformedResponse,
			wantErrMsg: "access_token",
			wantCalls:  1,
		},
		{
			name:   "basic-auth",
			issuer: testIssuer(GrantAuthorizationCode),
			client: &ClientRegistration{ClientId: "abcde", ClientSecret: "12345"},
			req:    codeReq,
			body:   testTokenBody(t, "Bearer", nil),
			check: func(t *testing.T, tk *Token, d *testDoer, p *testProver) {
				assert := assert.New(t)
				req := d.requests[0]
				assert.Equal("Basic YWJjZGU6MTIzNDU=", req.Header.Get("Authorization"))
				assert.Empty(req.Header.Get(dpop.HeaderName))
				assert.Nil(tk.DPoPKey)
				assert.False(tk.IsDPoPBound())
				assert.Nil(tk.ExpiresIn)
				assert.True(tk.Expiry.IsZero())
				assert.Empty(tk.RefreshToken)
				assert.Equal(url.Values{
					"grant_type":    {"authorization_code"},
					"code":          {"some-code"},
					"redirect_uri":  {"https://my.app/callback"},
					"code_verifier": {"some-verifier"},
					"client_id":     {"abcde"},
				}, d.forms[0])
			},
			wantCalls: 1,
		},
		{
			name:       "bearer-requested-dpop-returned",
			issuer:     testIssuer(GrantAuthorizationCode),
			client:     &ClientRegistration{ClientId: "some-client"},
			req:        codeReq,
			body:       testTokenBody(t, "DPoP", nil),
			wantErr:    ErrTokenTypeMismatch,
			wantCalls:  1,
		},
		{
			name:      "dpop-requested-bearer-returned",
			issuer:    testIssuer(GrantAuthorizationCode),
			client:    &ClientRegistration{ClientId: "some-client"},
			req:       codeReq,
			useDPoP:   true,
			body:      testTokenBody(t, "Bearer", nil),
			wantCalls: 1,
		},
		{
			name:      "strict-dpop-requested-bearer-returned",
			issuer:    testIssuer(GrantAuthorizationCode),
			client:    &ClientRegistration{ClientId: "some-client"},
			req:       codeReq,
			useDPoP:   true,
			body:      testTokenBody(t, "Bearer", nil),
			opt:       []Option{WithStrictDPoPTokenType()},
			wantErr:   ErrTokenTypeMismatch,
			wantCalls: 1,
		},
		{
			name:       "error-response",
			issuer:     testIssuer(GrantAuthorizationCode),
			client:     &ClientRegistration{ClientId: "some-client"},
			req:        codeReq,
			body:       `{"error":"invalid_grant","error_description":"code was already used"}`,
			wantErr:    ErrTokenEndpoint,
			wantErrMsg: "[https://idp.example] token endpoint returned error [invalid_grant]: code was already used",
			wantCalls:  1,
		},
		{
			name:      "not-json",
			issuer:    testIssuer(GrantAuthorizationCode),
			client:    &ClientRegistration{ClientId: "some-client"},
			req:       codeReq,
			body:      `<html>oops</html>`,
			wantErr:   ErrMalformedResponse,
			wantCalls: 1,
		},
		{
			name:      "json-null",
			issuer:    testIssuer(GrantAuthorizationCode),
			client:    &ClientRegistration{ClientId: "some-client"},
			req:       codeReq,
			body:      `null`,
			wantErr:   ErrMalformedResponse,
			wantCalls: 1,
		},
		{
			name:      "network-error",
			issuer:    testIssuer(GrantAuthorizationCode),
			client:    &ClientRegistration{ClientId: "some-client"},
			req:       codeReq,
			doErr:     errors.New("connection refused"),
			wantErr:   ErrNetwork,
			wantCalls: 1,
		},
		{
			name:   "invalid-webid",
			issuer: testIssuer(GrantAuthorizationCode),
			client: &ClientRegistration{ClientId: "some-client"},
			req:    codeReq,
			body: func() string {
				_, priv := TestGenerateKeys(t)
				b, _ := json.Marshal(map[string]interface{}{
					"access_token": "at",
					"token_type":   "Bearer",
					"id_token":     TestSignJWT(t, priv, map[string]interface{}{"iss": "https://idp.example", "sub": "alice"}),
				})
				return string(b)
			}(),
			wantErr:    ErrInvalidWebId,
			wantErrMsg: "[https://idp.example]",
			wantCalls:  1,
		},
		{
			name:      "nil-issuer",
			client:    &ClientRegistration{ClientId: "some-client"},
			req:       codeReq,
			wantErr:   ErrNilParameter,
		},
		{
			name:    "nil-client",
			issuer:  testIssuer(GrantAuthorizationCode),
			req:     codeReq,
			wantErr: ErrNilParameter,
		},
		{
			name:    "nil-request",
			issuer:  testIssuer(GrantAuthorizationCode),
			client:  &ClientRegistration{ClientId: "some-client"},
			wantErr: ErrNilParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			doer := &testDoer{body: tt.body, err: tt.doErr}
			prover := &testProver{key: testKey, proof: "some-proof"}
			opts := append([]Option{
				WithHTTPClient(doer),
				WithDPoPProver(prover),
				WithNow(func() time.Time { return testNow }),
			}, tt.opt...)
			r, err := NewRequester(opts...)
			require.NoError(err)

			got, err := r.Exchange(ctx, tt.issuer, tt.client, tt.req, tt.useDPoP)
			assert.Len(doer.requests, tt.wantCalls)
			if tt.wantErr != nil {
				require.Error(err)
				assert.Nil(got)
				assert.Truef(errors.Is(err, tt.wantErr), "wanted \"%s\" but got \"%s\"", tt.wantErr, err)
				if tt.wantErrMsg != "" {
					assert.Contains(err.Error(), tt.wantErrMsg)
				}
				return
			}
			require.NoError(err)
			require.NotNil(got)
			if tt.check != nil {
				tt.check(t, got, doer, prover)
			}
		})
	}
}

func TestRequester_Exchange_ProverError(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	doer := &testDoer{}
	r, err := NewRequester(WithHTTPClient(doer), WithDPoPProver(&testProver{err: errors.New("no entropy")}))
	require.NoError(err)
	req, err := NewRefreshRequest("rt")
	require.NoError(err)
	_, err = r.Exchange(context.Background(), testIssuer(GrantRefreshToken), &ClientRegistration{ClientId: "c"}, req, true)
	require.Error(err)
	assert.Contains(err.Error(), "no entropy")
	assert.Empty(doer.requests)
}

func TestRequester_Exchange_TestProvider(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	tp.SetClientCreds("test-client", "test-secret")
	tp.SetExpectedAuthCode("test-code")
	tp.SetAllowedRedirectURIs([]string{"https://my.app/callback"})
	tp.SetCustomClaims(map[string]interface{}{"webid": "https://alice.example/profile#me"})

	r, err := NewRequester(WithHTTPClient(tp.HttpClient()))
	require.NoError(t, err)
	client := &ClientRegistration{ClientId: "test-client", ClientSecret: "test-secret"}

	t.Run("dpop", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req, err := NewAuthCodeRequest("test-code", "https://my.app/callback", "")
		require.NoError(err)
		got, err := r.Exchange(context.Background(), tp.IssuerConfig(), client, req, true)
		require.NoError(err)
		assert.Equal("DPoP", got.TokenType)
		assert.Equal("https://alice.example/profile#me", got.WebId)
		require.NotNil(got.DPoPKey)
		assert.Equal(tp.LastDPoPKeyThumbprint(), got.DPoPKey.KeyID())
		assert.True(got.Valid())

		var claims map[string]interface{}
		require.NoError(UnmarshalClaims(string(got.AccessToken), &claims))
		assert.Equal(map[string]interface{}{"jkt": got.DPoPKey.KeyID()}, claims["cnf"])
	})
	t.Run("new-key-per-request", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req, err := NewAuthCodeRequest("test-code", "https://my.app/callback", "")
		require.NoError(err)
		first, err := r.Exchange(context.Background(), tp.IssuerConfig(), client, req, true)
		require.NoError(err)
		firstJkt := tp.LastDPoPKeyThumbprint()
		second, err := r.Exchange(context.Background(), tp.IssuerConfig(), client, req, true)
		require.NoError(err)
		require.NotNil(first.DPoPKey)
		require.NotNil(second.DPoPKey)
		assert.NotEqual(first.DPoPKey.KeyID(), second.DPoPKey.KeyID())
		assert.NotEqual(firstJkt, tp.LastDPoPKeyThumbprint())
		assert.Equal(tp.LastDPoPKeyThumbprint(), second.DPoPKey.KeyID())
	})
	t.Run("bearer", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req, err := NewAuthCodeRequest("test-code", "https://my.app/callback", "")
		require.NoError(err)
		got, err := r.Exchange(context.Background(), tp.IssuerConfig(), client, req, false)
		require.NoError(err)
		assert.Equal("Bearer", got.TokenType)
		assert.Nil(got.DPoPKey)
	})
	t.Run("bad-secret", func(t *testing.T) {
		req, err := NewAuthCodeRequest("test-code", "https://my.app/callback", "")
		require.NoError(t, err)
		_, err = r.Exchange(context.Background(), tp.IssuerConfig(), &ClientRegistration{ClientId: "test-client", ClientSecret: "wrong"}, req, true)
		var tokenErr *TokenErrorResponse
		require.True(t, errors.As(err, &tokenErr))
		assert.Equal(t, "invalid_client", tokenErr.Code)
		assert.Equal(t, tp.Addr(), tokenErr.Issuer)
	})
}

// testAssertion returns a fixed client assertion, or fails with err.
type testAssertion struct {
	jwt string
	err error
}

func (a *testAssertion) Serialize() (string, error) {
	return a.jwt, a.err
}

func TestRequester_Exchange_ClientAssertion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	req, err := NewRefreshRequest("rt")
	require.NoError(t, err)

	t.Run("signed-jwt", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(err)
		j, err := clientassertion.NewJWTWithECDSAKey("c", []string{"https://idp.example"}, clientassertion.ES256, key)
		require.NoError(err)
		registrar, err := NewStaticRegistrar("c", "ignored-secret", WithClientAssertion(j))
		require.NoError(err)
		client, err := registrar.GetClient(ctx, "some-session", testIssuer(GrantRefreshToken))
		require.NoError(err)

		doer := &testDoer{body: testTokenBody(t, "Bearer", nil)}
		r, err := NewRequester(WithHTTPClient(doer))
		require.NoError(err)
		_, err = r.Exchange(ctx, testIssuer(GrantRefreshToken), client, req, false)
		require.NoError(err)
		require.Len(doer.forms, 1)
		assert.Equal(clientassertion.JWTTypeParam, doer.forms[0].Get("client_assertion_type"))
		assertion := doer.forms[0].Get("client_assertion")
		var claims map[string]interface{}
		require.NoError(UnmarshalClaims(assertion, &claims))
		assert.Equal("c", claims["iss"])
		assert.Equal("c", claims["sub"])
		assert.Empty(doer.requests[0].Header.Get("Authorization"))
	})
	t.Run("assertion-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		doer := &testDoer{}
		r, err := NewRequester(WithHTTPClient(doer))
		require.NoError(err)
		client := &ClientRegistration{ClientId: "c", Assertion: &testAssertion{err: errors.New("no signing key")}}
		_, err = r.Exchange(ctx, testIssuer(GrantRefreshToken), client, req, false)
		require.Error(err)
		assert.Contains(err.Error(), "no signing key")
		assert.Empty(doer.requests)
	})
}
