// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Token response parameters. See:
// https://www.rfc-editor.org/rfc/rfc6749#section-5.1
const (
	paramAccessToken      = "access_token"
	paramIdToken          = "id_token"
	paramTokenType        = "token_type"
	paramRefreshToken     = "refresh_token"
	paramExpiresIn        = "expires_in"
	paramError            = "error"
	paramErrorDescription = "error_description"
	paramErrorUri         = "error_uri"
)

// Token types
const (
	TokenTypeBearer = "bearer"
	TokenTypeDPoP   = "dpop"
)

// TokenResponse is a validated token endpoint response.
type TokenResponse struct {
	AccessToken  AccessToken
	IdToken      IdToken
	TokenType    string
	RefreshToken RefreshToken // empty when the provider didn't issue one

	// ExpiresIn is the lifetime of the access_token in seconds, or nil when
	// the provider didn't say.
	ExpiresIn *int64

	// Raw is the decoded response, including any extra parameters.
	Raw map[string]interface{}
}

// ValidateTokenResponse validates a decoded token endpoint response.  A
// response carrying an "error" is returned as a *TokenErrorResponse.  When
// dpopRequested is false the token_type must be "bearer" (case-insensitive).
// When dpopRequested is true the token_type is not checked unless
// WithStrictDPoPTokenType is used.  The raw response is never modified.
//
// Supported options:
//   - WithStrictDPoPTokenType
func ValidateTokenResponse(raw map[string]interface{}, dpopRequested bool, opt ...Option) (*TokenResponse, error) {
	const op = "ValidateTokenResponse"
	if raw == nil {
		return nil, fmt.Errorf("%s: response is nil: %w", op, ErrNilParameter)
	}
	opts := getValidateOpts(opt...)

	if code, ok := raw[paramError].(string); ok {
		tokenErr := &TokenErrorResponse{Code: code}
		tokenErr.Description, _ = raw[paramErrorDescription].(string)
		tokenErr.Uri, _ = raw[paramErrorUri].(string)
		return nil, tokenErr
	}

	var resp TokenResponse
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{paramAccessToken, (*string)(&resp.AccessToken)},
		{paramIdToken, (*string)(&resp.IdToken)},
		{paramTokenType, &resp.TokenType},
	} {
		v, ok := raw[f.name].(string)
		if !ok {
			return nil, fmt.Errorf("%s: missing or non-string %s (got %v): %w", op, f.name, raw[f.name], ErrMalformedResponse)
		}
		*f.dst = v
	}

	if v, ok := raw[paramRefreshToken]; ok && v != nil {
		rt, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: non-string %s: %w", op, paramRefreshToken, ErrMalformedResponse)
		}
		resp.RefreshToken = RefreshToken(rt)
	}

	if v, ok := raw[paramExpiresIn]; ok {
		secs, ok := toSeconds(v)
		if !ok {
			return nil, fmt.Errorf("%s: %s is not a whole number of seconds between 0 and %d (got %v): %w", op, paramExpiresIn, maxExpiresIn, v, ErrMalformedResponse)
		}
		resp.ExpiresIn = &secs
	}

	switch {
	case !dpopRequested && !strings.EqualFold(resp.TokenType, TokenTypeBearer):
		return nil, fmt.Errorf("%s: requested a bearer token but got a token of type [%s]: %w", op, resp.TokenType, ErrTokenTypeMismatch)
	case dpopRequested && opts.withStrictDPoPTokenType && !strings.EqualFold(resp.TokenType, TokenTypeDPoP):
		return nil, fmt.Errorf("%s: requested a DPoP-bound token but got a token of type [%s]: %w", op, resp.TokenType, ErrTokenTypeMismatch)
	}
	resp.Raw = raw
	return &resp, nil
}

// maxExpiresIn is the largest expires_in which fits in a time.Duration.
const maxExpiresIn = int64(math.MaxInt64 / int64(time.Second))

// toSeconds converts an expires_in value to seconds.  It must be a whole,
// non-negative number no larger than maxExpiresIn.
func toSeconds(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return floatSeconds(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return intSeconds(i)
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatSeconds(f)
	case int:
		return intSeconds(int64(n))
	case int64:
		return intSeconds(n)
	case int32:
		return intSeconds(int64(n))
	default:
		return 0, false
	}
}

func intSeconds(i int64) (int64, bool) {
	if i < 0 || i > maxExpiresIn {
		return 0, false
	}
	return i, true
}

func floatSeconds(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < 0 || f > float64(maxExpiresIn) {
		return 0, false
	}
	return int64(f), true
}

// validateOptions is the set of available options for ValidateTokenResponse
type validateOptions struct {
	withStrictDPoPTokenType bool
}

func validateDefaults() validateOptions {
	return validateOptions{}
}

func getValidateOpts(opt ...Option) validateOptions {
	opts := validateDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
