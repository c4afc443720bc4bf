// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import "errors"

var (
	ErrMissingClientID    = errors.New("missing client ID")
	ErrMissingAudience    = errors.New("missing audience")
	ErrMissingAlgorithm   = errors.New("missing signing algorithm")
	ErrMissingKeyOrSecret = errors.New("missing private key or client secret")
	ErrBothKeyAndSecret   = errors.New("both private key and client secret provided")
	ErrInvalidExpiry      = errors.New("invalid expiry")

	// ErrMissingFuncIDGenerator and ErrMissingFuncNow mean the JWT wasn't
	// created by one of the NewJWT funcs.
	ErrMissingFuncIDGenerator = errors.New("missing id generator func")
	ErrMissingFuncNow         = errors.New("missing now func")
	ErrCreatingSigner         = errors.New("error creating jwt signer")

	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidSecretLength  = errors.New("invalid secret length for algorithm")
	ErrNilPrivateKey        = errors.New("nil private key")
)
