// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package dpop

import "errors"

var (
	ErrNilKey           = errors.New("nil key")
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidHTU       = errors.New("invalid htu")
	ErrMissingHTM       = errors.New("missing htm")
	ErrKeyGeneration    = errors.New("unable to generate key")
	ErrCreatingSigner   = errors.New("error creating proof signer")
	ErrMissingFuncNow   = errors.New("missing now func")
	ErrMissingFuncGenID = errors.New("missing id generator func")
)
