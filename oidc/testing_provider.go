// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/webid-oidc/dpop"
	"github.com/hashicorp/webid-oidc/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
)

// TestProvider is a local OpenID Provider which supports the discovery,
// authorization and token endpoints needed to test a DPoP-bound token
// exchange and refresh.  The tokens it issues are ES256 signed JWTs.
// It's derived from Consul's oauthtest package.  A big thanks to the original
// contributors to Consul's oauthtest package.
//
// The /token endpoint verifies: the grant, the client's Basic credentials
// (when a secret is set), the PKCE code_verifier (when /auth received a
// code_challenge) and the DPoP proof (when present or required).  DPoP-bound
// access_tokens carry a "cnf" claim with the proof key's thumbprint.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	client     *http.Client

	jwks *jose.JSONWebKeySet

	mu                    sync.Mutex
	clientID              string
	clientSecret          string
	expectedAuthCode      string
	expectedRefreshToken  string
	replyRefreshToken     string
	codeChallenge         string
	codeChallengeMethod   string
	allowedRedirectURIs   []string
	supportedGrants       []string
	replySubject          string
	customClaims          map[string]interface{}
	replyTokenType        string
	replyExpiresIn        int64
	tokenError            *TokenErrorResponse
	requireDPoP           bool
	omitIDToken           bool
	omitRefreshToken      bool
	disableTokenEndpoint  bool
	tokenRequests         int
	lastTokenRequest      *TestTokenRequest
	lastDPoPKeyThumbprint string

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// TestTokenRequest is a token request received by a TestProvider.
type TestTokenRequest struct {
	Form   url.Values
	Header http.Header
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test completes.
//
// Supported options:
//   - WithTestPort
func StartTestProvider(t *testing.T, opt ...Option) *TestProvider {
	t.Helper()
	require := require.New(t)
	opts := getTestProviderOpts(opt...)

	p := &TestProvider{
		t: t,
		allowedRedirectURIs: []string{
			"https://example.com",
		},
		supportedGrants:      []string{GrantAuthorizationCode, GrantRefreshToken},
		replySubject:         "https://alice.example/profile/card#me",
		replyExpiresIn:       300,
		expectedRefreshToken: "test-refresh-token",
		replyRefreshToken:    "test-refresh-token",
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	if opts.withPort != 0 {
		p.httpServer = httptestNewUnstartedServerWithPort(t, p, opts.withPort)
	} else {
		p.httpServer = httptest.NewUnstartedServer(p)
	}
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	p.client, err = NewHTTPClient(p.caCert)
	require.NoError(err)

	return p
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.  An empty clientSecret means the client is public and no
// Basic credentials are required.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// ClientCreds returns the configured client credentials.
func (p *TestProvider) ClientCreds() (clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID, p.clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetPKCEChallenge configures the code challenge /token verifies the
// code_verifier against, as if /auth had received it.
func (p *TestProvider) SetPKCEChallenge(challenge, method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codeChallenge = challenge
	p.codeChallengeMethod = method
}

// SetExpectedRefreshToken configures the refresh_token allowed by /token and
// the refresh_token it returns.  An empty reply omits the refresh_token from
// refresh responses.
func (p *TestProvider) SetExpectedRefreshToken(expected, reply string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = expected
	p.replyRefreshToken = reply
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured a sample of "https://example.com" is
// used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSupportedGrants configures the grant_types_supported of the provider's
// discovery document.
func (p *TestProvider) SetSupportedGrants(grants ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.supportedGrants = grants
}

// SetReplySubject configures the "sub" claim of the issued tokens.  An empty
// subject omits the claim.
func (p *TestProvider) SetReplySubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetCustomClaims lets you set claims to return in the id_token issued by the
// OIDC workflow.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetTokenType overrides the token_type returned by /token.  By default it's
// "DPoP" for requests with a proof and "Bearer" otherwise.
func (p *TestProvider) SetTokenType(tokenType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyTokenType = tokenType
}

// SetExpiresIn configures the expires_in returned by /token.  Zero omits it.
func (p *TestProvider) SetExpiresIn(secs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiresIn = secs
}

// SetTokenError forces /token to return the oauth error response.  A nil
// error restores normal responses.
func (p *TestProvider) SetTokenError(e *TokenErrorResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = e
}

// SetRequireDPoP makes /token reject requests without a DPoP proof.
func (p *TestProvider) SetRequireDPoP(required bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requireDPoP = required
}

// SetOmitIDTokens forces an error state where the /token endpoint does not
// return id_token.
func (p *TestProvider) SetOmitIDTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// SetOmitRefreshTokens makes /token never return a refresh_token.
func (p *TestProvider) SetOmitRefreshTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = omit
}

// SetDisableTokenEndpoint omits the token_endpoint from the discovery
// document.
func (p *TestProvider) SetDisableTokenEndpoint(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableTokenEndpoint = disable
}

// TokenRequests returns the number of requests received by /token.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// LastTokenRequest returns the last request received by /token, or nil.
func (p *TestProvider) LastTokenRequest() *TestTokenRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenRequest
}

// LastDPoPKeyThumbprint returns the thumbprint of the key of the last valid
// DPoP proof received by /token.
func (p *TestProvider) LastDPoPKeyThumbprint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastDPoPKeyThumbprint
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HttpClient returns an http.Client which trusts the test provider's CA.
func (p *TestProvider) HttpClient() *http.Client { return p.client }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// IssuerConfig returns the provider's configuration, as DiscoveryFetcher
// would return it.
func (p *TestProvider) IssuerConfig() *IssuerConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issuerConfig()
}

func (p *TestProvider) issuerConfig() *IssuerConfig {
	c := &IssuerConfig{
		Issuer:                        p.Addr(),
		AuthorizationEndpoint:         p.Addr() + "/auth",
		TokenEndpoint:                 p.Addr() + "/token",
		GrantTypesSupported:           append([]string(nil), p.supportedGrants...),
		DPoPSigningAlgValuesSupported: []string{string(dpop.Algorithm)},
	}
	if p.disableTokenEndpoint {
		c.TokenEndpoint = ""
	}
	return c
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, redirectURL, state, errorCode, errorMessage string) {
	redirectURI := redirectURL +
		"?state=" + url.QueryEscape(state) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		c := p.issuerConfig()
		reply := struct {
			Issuer                        string   `json:"issuer"`
			AuthEndpoint                  string   `json:"authorization_endpoint"`
			TokenEndpoint                 string   `json:"token_endpoint,omitempty"`
			JWKSURI                       string   `json:"jwks_uri"`
			GrantTypesSupported           []string `json:"grant_types_supported,omitempty"`
			DPoPSigningAlgValuesSupported []string `json:"dpop_signing_alg_values_supported"`
			ScopesSupported               []string `json:"scopes_supported"`
			IDTokenSigningAlgs            []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:                        c.Issuer,
			AuthEndpoint:                  c.AuthorizationEndpoint,
			TokenEndpoint:                 c.TokenEndpoint,
			JWKSURI:                       p.Addr() + "/certs",
			GrantTypesSupported:           c.GrantTypesSupported,
			DPoPSigningAlgValuesSupported: c.DPoPSigningAlgValuesSupported,
			ScopesSupported:               []string{"openid", "offline_access", "webid"},
			IDTokenSigningAlgs:            []string{string(jose.ES256)},
		}
		_ = p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		redirectURI := qv.Get("redirect_uri")
		state := qv.Get("state")

		switch {
		case redirectURI == "":
			w.WriteHeader(http.StatusBadRequest)
			return
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, redirectURI, state, "unsupported_response_type", "")
			return
		case !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid"):
			p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_scope", "")
			return
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, redirectURI, state, "access_denied", "")
			return
		case state == "":
			p.writeAuthErrorResponse(w, req, redirectURI, state, "invalid_request", "missing state parameter")
			return
		}
		p.codeChallenge = qv.Get("code_challenge")
		p.codeChallengeMethod = qv.Get("code_challenge_method")

		http.Redirect(w, req, redirectURI+"?state="+url.QueryEscape(state)+"&code="+url.QueryEscape(p.expectedAuthCode), http.StatusFound)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.tokenRequests++
		if err := req.ParseForm(); err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "unable to parse form")
			return
		}
		p.lastTokenRequest = &TestTokenRequest{
			Form:   cloneValues(req.PostForm),
			Header: req.Header.Clone(),
		}
		p.handleToken(w, req)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleToken serves /token.  p.mu must be held.
func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	if p.tokenError != nil {
		body := map[string]string{"error": p.tokenError.Code}
		if p.tokenError.Description != "" {
			body["error_description"] = p.tokenError.Description
		}
		if p.tokenError.Uri != "" {
			body["error_uri"] = p.tokenError.Uri
		}
		w.WriteHeader(http.StatusBadRequest)
		_ = p.writeJSON(w, body)
		return
	}

	if req.PostForm.Get("client_id") != p.clientID {
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client_id")
		return
	}
	if p.clientSecret != "" {
		id, secret, ok := req.BasicAuth()
		if !ok || id != p.clientID || secret != p.clientSecret {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
			return
		}
	}

	var jkt string
	if proof := req.Header.Get(dpop.HeaderName); proof != "" {
		var err error
		if jkt, err = p.verifyDPoPProof(proof); err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_dpop_proof", err.Error())
			return
		}
		p.lastDPoPKeyThumbprint = jkt
	} else if p.requireDPoP {
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_dpop_proof", "missing DPoP proof")
		return
	}

	issueRefreshToken := !p.omitRefreshToken
	switch req.PostForm.Get("grant_type") {
	case GrantAuthorizationCode:
		switch {
		case !strutils.StrListContains(p.allowedRedirectURIs, req.PostForm.Get("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case p.expectedAuthCode == "" || req.PostForm.Get("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		case !p.verifyCodeVerifier(req.PostForm.Get("code_verifier")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match the code_challenge")
			return
		}
	case GrantRefreshToken:
		if req.PostForm.Get("refresh_token") != p.expectedRefreshToken {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected refresh token")
			return
		}
		issueRefreshToken = issueRefreshToken && p.replyRefreshToken != ""
	default:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	}

	now := time.Now()
	stdClaims := jwt.Claims{
		Subject:  p.replySubject,
		Issuer:   p.Addr(),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(5 * time.Minute)),
		Audience: jwt.Audience{p.clientID},
	}

	accessClaims := map[string]interface{}{}
	if jkt != "" {
		accessClaims["cnf"] = map[string]string{"jkt": jkt}
	}
	idClaims := map[string]interface{}{}
	for k, v := range p.customClaims {
		idClaims[k] = v
	}

	reply := map[string]interface{}{
		"access_token": TestSignJWTWithType(p.t, p.ecdsaPrivateKey, "at+jwt", mergeClaims(p.t, stdClaims, accessClaims)),
	}
	if !p.omitIDToken {
		reply["id_token"] = TestSignJWT(p.t, p.ecdsaPrivateKey, mergeClaims(p.t, stdClaims, idClaims))
	}
	switch {
	case p.replyTokenType != "":
		reply["token_type"] = p.replyTokenType
	case jkt != "":
		reply["token_type"] = "DPoP"
	default:
		reply["token_type"] = "Bearer"
	}
	if p.replyExpiresIn != 0 {
		reply["expires_in"] = p.replyExpiresIn
	}
	if issueRefreshToken {
		reply["refresh_token"] = p.replyRefreshToken
	}
	_ = p.writeJSON(w, reply)
}

// verifyDPoPProof verifies the proof was signed by its embedded key for a
// POST to /token, and returns the key's thumbprint.
func (p *TestProvider) verifyDPoPProof(proof string) (string, error) {
	jws, err := jose.ParseSigned(proof, []jose.SignatureAlgorithm{dpop.Algorithm})
	if err != nil {
		return "", fmt.Errorf("unable to parse proof: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return "", fmt.Errorf("proof must have exactly one signature")
	}
	hdr := jws.Signatures[0].Protected
	if typ, _ := hdr.ExtraHeaders[jose.HeaderType].(string); typ != dpop.JWTType {
		return "", fmt.Errorf("proof typ is %q", typ)
	}
	if hdr.JSONWebKey == nil || !hdr.JSONWebKey.IsPublic() {
		return "", fmt.Errorf("proof has no public jwk")
	}
	payload, err := jws.Verify(hdr.JSONWebKey)
	if err != nil {
		return "", fmt.Errorf("proof signature is invalid: %w", err)
	}
	var claims dpop.ProofClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("unable to unmarshal proof claims: %w", err)
	}
	switch {
	case claims.ID == "":
		return "", fmt.Errorf("proof has no jti")
	case claims.HTTPMethod != http.MethodPost:
		return "", fmt.Errorf("proof htm is %q", claims.HTTPMethod)
	case claims.HTTPURI != p.Addr()+"/token":
		return "", fmt.Errorf("proof htu is %q", claims.HTTPURI)
	case claims.IssuedAt == nil:
		return "", fmt.Errorf("proof has no iat")
	}
	thumb, err := hdr.JSONWebKey.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("unable to compute jwk thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumb), nil
}

// verifyCodeVerifier checks the PKCE code_verifier against the recorded
// challenge.  Without a challenge any verifier is accepted.
func (p *TestProvider) verifyCodeVerifier(verifier string) bool {
	switch {
	case p.codeChallenge == "":
		return true
	case p.codeChallengeMethod == "S256":
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]) == p.codeChallenge
	default:
		return verifier == p.codeChallenge
	}
}

// mergeClaims flattens the standard and private claims into a single map.
func mergeClaims(t *testing.T, std jwt.Claims, private map[string]interface{}) map[string]interface{} {
	t.Helper()
	require := require.New(t)
	b, err := json.Marshal(std)
	require.NoError(err)
	merged := map[string]interface{}{}
	require.NoError(json.Unmarshal(b, &merged))
	for k, v := range private {
		merged[k] = v
	}
	return merged
}

func cloneValues(v url.Values) url.Values {
	c := make(url.Values, len(v))
	for k, vals := range v {
		c[k] = append([]string(nil), vals...)
	}
	return c
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	input := block.Bytes

	pub, err := x509.ParsePKIXPublicKey(input)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but allows the caller to explicitly choose the
// port if desired.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	require := require.New(t)
	require.NotEmpty(port)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
}

// testProviderOptions is the set of available options for TestProvider
// functions
type testProviderOptions struct {
	withPort int
}

// testProviderDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func testProviderDefaults() testProviderOptions {
	return testProviderOptions{}
}

// getTestProviderOpts gets the test provider defaults and applies the opt
// overrides passed in
func getTestProviderOpts(opt ...Option) testProviderOptions {
	opts := testProviderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTestPort provides an optional port for the test provider.
//
// Valid for: TestProvider.StartTestProvider
func WithTestPort(port int) Option {
	return func(o interface{}) {
		if o, ok := o.(*testProviderOptions); ok {
			o.withPort = port
		}
	}
}
