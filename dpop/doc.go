// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package dpop generates proof-of-possession keys and signs DPoP proof JWTs
// as described in RFC 9449 (OAuth 2.0 Demonstrating Proof of Possession).
//
// A proof binds a single http request (method and URI) to a key pair. A new
// Key should be generated for each token request, and the resulting access
// token is then bound to that Key.
//
// Example usage:
//
//	key, err := dpop.GenerateKey()
//	proof, err := dpop.NewProof("https://op.example/token", "POST", key)
//	req.Header.Set(dpop.HeaderName, proof)
package dpop
