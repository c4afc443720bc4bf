// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
)

// Claims used to derive a WebID.
const (
	ClaimIssuer  = "iss"
	ClaimSubject = "sub"
	ClaimWebId   = "webid"
)

// DeriveWebId extracts the WebID of the subject of an id_token.  The
// id_token's signature is not verified.  A non-empty "webid" claim is the
// WebID.  Otherwise the "sub" claim is the WebID when it's an absolute URI.
func DeriveWebId(idToken string, decoder ClaimsDecoder) (string, error) {
	const op = "DeriveWebId"
	if decoder == nil {
		return "", fmt.Errorf("%s: claims decoder is nil: %w", op, ErrNilParameter)
	}
	claims, err := decoder.Decode(idToken)
	if err != nil {
		return "", fmt.Errorf("%s: unable to decode id_token: %w: %w", op, ErrInvalidIdToken, err)
	}
	sub, subIsString := claims[ClaimSubject].(string)
	iss, issIsString := claims[ClaimIssuer].(string)
	webId, webIdIsString := claims[ClaimWebId].(string)

	if !webIdIsString && !(subIsString && issIsString && !truthy(claims[ClaimWebId])) {
		return "", fmt.Errorf("%s: id_token is missing the required claims (iss=%v, sub=%v, webid=%v): %w",
			op, claims[ClaimIssuer], claims[ClaimSubject], claims[ClaimWebId], ErrInvalidIdToken)
	}
	if webId != "" {
		return webId, nil
	}
	if subIsString {
		if u, err := url.Parse(sub); err == nil && u.IsAbs() {
			return sub, nil
		}
	}
	return "", fmt.Errorf("%s: cannot extract WebID from id_token: the id_token returned by [%s] has no 'webid' claim, nor an IRI-like 'sub' claim: [%v]: %w",
		op, iss, claims[ClaimSubject], ErrInvalidWebId)
}

// truthy reports whether a decoded JSON value is neither absent, null, false,
// zero nor an empty string.
func truthy(v interface{}) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return true
	}
}
