// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package oidc provides support for exchanging authorization codes and refresh
// tokens for DPoP-bound tokens with a Solid OIDC provider, as specified in
// OpenID Connect Core 1.0 and RFC 9449. The user's WebID is derived from the
// resulting id_token.
package oidc
