// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// webid-oidc provides a collection of related packages which enable a Solid
// OIDC client to exchange authorization codes and refresh tokens for
// DPoP-bound tokens, and to derive the user's WebID from the result.
//
// See README.md
package webidoidc
