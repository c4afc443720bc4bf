// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package clientassertion signs JWTs with a private key or client secret for
// use in token request client_assertion parameters, A.K.A. private_key_jwt and
// client_secret_jwt. See: https://www.rfc-editor.org/rfc/rfc7523.html
//
// Example usage:
//
//	j, err := clientassertion.NewJWTWithECDSAKey("client-id", []string{"https://idp.example"},
//		clientassertion.ES256, ecdsaPrivateKey,
//		clientassertion.WithKeyID("jwks-key-id"),
//	)
//	registrar, err := oidc.NewStaticRegistrar("client-id", "", oidc.WithClientAssertion(j))
package clientassertion
