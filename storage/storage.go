// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// KeyPrefix prefixes the backend key of every session record.
const KeyPrefix = "solidClientAuthenticationUser:"

// Well-known record fields.
const (
	FieldIssuer       = "issuer"
	FieldAccessToken  = "accessToken"
	FieldIdToken      = "idToken"
	FieldRefreshToken = "refreshToken"
	FieldWebId        = "webId"
	FieldIsLoggedIn   = "isLoggedIn"

	// login bookkeeping, stored under the oauth state value
	FieldSessionId    = "sessionId"
	FieldCodeVerifier = "codeVerifier"
	FieldRedirectUrl  = "redirectUrl"
)

// Storage reads and writes the fields of a session (user) record.
type Storage interface {
	// GetForUser returns a field of the user's record.  A missing field is
	// returned as "" unless WithErrorIfNull is used.  Supports WithSecure.
	GetForUser(ctx context.Context, userId, field string, opt ...Option) (string, error)

	// SetForUser merges values into the user's record. Supports WithSecure.
	SetForUser(ctx context.Context, userId string, values map[string]string, opt ...Option) error

	// DeleteForUser removes a field from the user's record. Supports WithSecure.
	DeleteForUser(ctx context.Context, userId, field string, opt ...Option) error

	// DeleteAllUserData removes the user's record from both backends.
	DeleteAllUserData(ctx context.Context, userId string) error
}

// KeyValue is a string key/value backend.  Implementations must be
// concurrently safe.
type KeyValue interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Utility implements Storage over a secure and an insecure KeyValue.
type Utility struct {
	secure   KeyValue
	insecure KeyValue

	// mu serializes the read-modify-write of records.
	mu sync.Mutex
}

// ensure that Utility implements the Storage interface
var _ Storage = (*Utility)(nil)

// NewUtility creates a Utility. The same KeyValue may be used for both
// backends, since the record keys don't depend on the backend.
func NewUtility(secure, insecure KeyValue) (*Utility, error) {
	const op = "storage.NewUtility"
	switch {
	case secure == nil:
		return nil, fmt.Errorf("%s: secure backend is nil: %w", op, ErrNilParameter)
	case insecure == nil:
		return nil, fmt.Errorf("%s: insecure backend is nil: %w", op, ErrNilParameter)
	}
	return &Utility{
		secure:   secure,
		insecure: insecure,
	}, nil
}

// NewInMemory returns a Utility with distinct in-memory backends.
func NewInMemory() *Utility {
	u, _ := NewUtility(NewMemory(), NewMemory())
	return u
}

// GetForUser implements Storage.GetForUser
func (u *Utility) GetForUser(ctx context.Context, userId, field string, opt ...Option) (string, error) {
	const op = "Utility.GetForUser"
	if userId == "" {
		return "", fmt.Errorf("%s: user id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getUserOpts(opt...)
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, err := u.read(ctx, u.backend(opts), userId)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	v, ok := rec[field]
	if !ok && opts.withErrorIfNull {
		return "", fmt.Errorf("%s: field [%s] of user [%s] is not set: %w", op, field, userId, ErrNotFound)
	}
	return v, nil
}

// SetForUser implements Storage.SetForUser
func (u *Utility) SetForUser(ctx context.Context, userId string, values map[string]string, opt ...Option) error {
	const op = "Utility.SetForUser"
	if userId == "" {
		return fmt.Errorf("%s: user id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getUserOpts(opt...)
	kv := u.backend(opts)
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, err := u.read(ctx, kv, userId)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for k, v := range values {
		rec[k] = v
	}
	if err := u.write(ctx, kv, userId, rec); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteForUser implements Storage.DeleteForUser
func (u *Utility) DeleteForUser(ctx context.Context, userId, field string, opt ...Option) error {
	const op = "Utility.DeleteForUser"
	if userId == "" {
		return fmt.Errorf("%s: user id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getUserOpts(opt...)
	kv := u.backend(opts)
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, err := u.read(ctx, kv, userId)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	delete(rec, field)
	if err := u.write(ctx, kv, userId, rec); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteAllUserData implements Storage.DeleteAllUserData.  Both backends are
// always attempted.
func (u *Utility) DeleteAllUserData(ctx context.Context, userId string) error {
	const op = "Utility.DeleteAllUserData"
	if userId == "" {
		return fmt.Errorf("%s: user id is empty: %w", op, ErrInvalidParameter)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	var retErr *multierror.Error
	if err := u.secure.Delete(ctx, KeyPrefix+userId); err != nil {
		retErr = multierror.Append(retErr, fmt.Errorf("%s: secure backend: %w", op, err))
	}
	if err := u.insecure.Delete(ctx, KeyPrefix+userId); err != nil {
		retErr = multierror.Append(retErr, fmt.Errorf("%s: insecure backend: %w", op, err))
	}
	return retErr.ErrorOrNil()
}

func (u *Utility) backend(opts userOptions) KeyValue {
	if opts.withSecure {
		return u.secure
	}
	return u.insecure
}

func (u *Utility) read(ctx context.Context, kv KeyValue, userId string) (map[string]string, error) {
	const op = "read"
	raw, found, err := kv.Get(ctx, KeyPrefix+userId)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read record of user [%s]: %w", op, userId, err)
	}
	rec := map[string]string{}
	if !found || raw == "" {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%s: record of user [%s] is not a JSON object of strings: %w: %w", op, userId, ErrCorruptRecord, err)
	}
	return rec, nil
}

func (u *Utility) write(ctx context.Context, kv KeyValue, userId string, rec map[string]string) error {
	const op = "write"
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := kv.Set(ctx, KeyPrefix+userId, string(b)); err != nil {
		return fmt.Errorf("%s: unable to write record of user [%s]: %w", op, userId, err)
	}
	return nil
}
