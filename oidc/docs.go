// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for writing Solid OIDC client integrations using the
authorization code and refresh token grants

Primary types provided by the package

* Requester: sends a token request (authorization_code or refresh_token) to an
issuer's token endpoint.  By default it generates a DPoP key per request and
attaches a DPoP proof, then validates the response and derives the WebID of
the subject.

* Refresher: refreshes the tokens of a session, using the refresh token,
issuer and client data kept in a storage.Storage.

* Token: represents an OIDC id_token, as well as an OAuth2 access_token and
refresh_token (including the access_token expiry and the DPoP key it's bound
to)

* IssuerConfig and ClientRegistration: the issuer metadata and the client
credentials used for a token request.  They're provided by an
IssuerConfigFetcher and a ClientRegistrar.

* TokenResponse: a validated token endpoint response.

The oidc.session package

The session package includes a Manager which orchestrates a login: it builds
the authorization URL (with PKCE), handles the provider's redirect, keeps the
session's tokens in storage and refreshes them.

The oidc.callback package

The callback package includes the ability to create a http.HandlerFunc which
can be used for the 3rd leg of the OIDC flow where the authorization code is
exchanged for tokens.

The oidc.clientassertion package

The clientassertion package creates signed JWTs which authenticate a client
to the token endpoint (private_key_jwt and client_secret_jwt).

Examples

* Solid OIDC authentication CLI: oidc/examples/cli

* Solid OIDC authentication SPA: oidc/examples/spa
*/
package oidc
