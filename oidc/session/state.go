// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/webid-oidc/oidc"
	"github.com/hashicorp/webid-oidc/storage"
)

// DefaultStateExpirySkew defines a default time skew when checking a State's
// expiration.
const DefaultStateExpirySkew = 1 * time.Second

// fieldExpiration is the state record field holding the State's expiration
// (unix seconds).
const fieldExpiration = "expiration"

// State represents one login flow of a session.  Its Id is the oauth "state"
// value which identifies the flow across the authorization request and the
// provider's redirect.
type State struct {
	Id           string
	SessionId    string
	Issuer       string
	CodeVerifier string
	RedirectUrl  string
	Expiration   time.Time
}

// newState creates a new State which expires after expireIn.
func newState(sessionId, issuer, codeVerifier, redirectUrl string, now time.Time, expireIn time.Duration) (*State, error) {
	const op = "session.newState"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, oidc.ErrInvalidParameter)
	}
	id, err := oidc.NewID(oidc.WithPrefix("st"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a state's id: %w", op, err)
	}
	return &State{
		Id:           id,
		SessionId:    sessionId,
		Issuer:       issuer,
		CodeVerifier: codeVerifier,
		RedirectUrl:  redirectUrl,
		// unix seconds are stored, so drop the sub-second part now
		Expiration: now.Add(expireIn).Truncate(time.Second),
	}, nil
}

// IsExpired returns true if the state has expired at now, allowing for the
// DefaultStateExpirySkew.
func (s *State) IsExpired(now time.Time) bool {
	return s.Expiration.Before(now.Add(DefaultStateExpirySkew))
}

// writeState stores the State in the insecure storage under its Id.
func writeState(ctx context.Context, s storage.Storage, st *State) error {
	const op = "session.writeState"
	if err := s.SetForUser(ctx, st.Id, map[string]string{
		storage.FieldSessionId:    st.SessionId,
		storage.FieldIssuer:       st.Issuer,
		storage.FieldCodeVerifier: st.CodeVerifier,
		storage.FieldRedirectUrl:  st.RedirectUrl,
		fieldExpiration:           strconv.FormatInt(st.Expiration.Unix(), 10),
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// readState reads the State stored under id.  ErrUnknownState is returned when
// there's no such State.
func readState(ctx context.Context, s storage.Storage, id string) (*State, error) {
	const op = "session.readState"
	st := &State{Id: id}
	for field, dst := range map[string]*string{
		storage.FieldSessionId:   &st.SessionId,
		storage.FieldIssuer:      &st.Issuer,
		storage.FieldRedirectUrl: &st.RedirectUrl,
	} {
		v, err := s.GetForUser(ctx, id, field, storage.WithErrorIfNull())
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%s: no login is pending for state [%s]: %w", op, id, ErrUnknownState)
		case err != nil:
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		*dst = v
	}
	var err error
	if st.CodeVerifier, err = s.GetForUser(ctx, id, storage.FieldCodeVerifier); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	exp, err := s.GetForUser(ctx, id, fieldExpiration)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	secs, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: state [%s] has an invalid expiration %q: %w", op, id, exp, storage.ErrCorruptRecord)
	}
	st.Expiration = time.Unix(secs, 0)
	return st, nil
}
