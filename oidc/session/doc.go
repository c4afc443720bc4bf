// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package session orchestrates the login of a Solid OIDC session.  A Manager
// builds the authorization URL (with PKCE) and handles the provider's
// redirect by exchanging the authorization code for DPoP-bound tokens.  The
// tokens are kept in a storage.Storage until the session logs out.
package session
