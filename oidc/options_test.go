// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyOpts(t *testing.T) {
	// ApplyOpts testing is covered by other tests but we do have just more
	// more test to add here.
	// Let's make sure we don't panic on nil options
	anonymousOpts := struct {
		Names []string
	}{
		nil,
	}
	ApplyOpts(anonymousOpts, nil)
}

func Test_WithStrictDPoPTokenType(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	opts := getValidateOpts(WithStrictDPoPTokenType())
	testOpts := validateDefaults()
	testOpts.withStrictDPoPTokenType = true
	assert.Equal(opts, testOpts)

	rOpts := getRequesterOpts(WithStrictDPoPTokenType())
	assert.True(rOpts.withStrictDPoPTokenType)
}

func Test_WithClaimsDecoder(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	d := testClaimsDecoder{}
	assert.Equal(d, getRequesterOpts(WithClaimsDecoder(d)).withClaimsDecoder)
	assert.Equal(d, getRefresherOpts(WithClaimsDecoder(d)).withClaimsDecoder)
}

func Test_WithNow(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	opts := getRequesterOpts(WithNow(func() time.Time { return fixed }))
	assert.Equal(fixed, opts.withNowFunc())
}
