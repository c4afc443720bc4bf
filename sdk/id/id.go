// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// DefaultLen is the number of random bytes used for an id. The encoded id is
// longer (see EncodedLen).
const DefaultLen = 24

// EncodedLen is the length of an id without a prefix.
var EncodedLen = base64.RawURLEncoding.EncodedLen(DefaultLen)

// New generates an url-safe random ID with an optional prefix. The ID is
// suitable for an oauth state value.
func New(optionalPrefix string) (string, error) {
	b, err := uuid.GenerateRandomBytes(DefaultLen)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	id := base64.RawURLEncoding.EncodeToString(b)
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
