package auth

import (
	"context"
	"errors"
	"fmt"
)

// Chain tries verifiers in order and accepts the first success
type Chain []Verifier

// Verify implements Verifier
func (c Chain) Verify(ctx context.Context, credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, ErrMissingCredential
	}
	for _, v := range c {
		if v == nil {
			continue
		}
		if p, err := v.Verify(ctx, credential); err == nil {
			return p, nil
		}
	}
	return Principal{}, ErrInvalidToken
}

// Gate runs the admission sequence for a session: credential, principal,
// session lookup, then permission. Each step stops the sequence.
type Gate struct {
	Verifier     Verifier
	Directory    Directory
	Authorizer   Authorizer
	Entitlements Entitlements
}

// Admit authenticates credential and checks perm on sessionID
func (g *Gate) Admit(ctx context.Context, credential, sessionID string, perm Permission) (Principal, SessionInfo, error) {
	if credential == "" {
		return Principal{}, SessionInfo{}, ErrMissingCredential
	}

	p, err := g.Verifier.Verify(ctx, credential)
	if err != nil {
		return Principal{}, SessionInfo{}, err
	}

	info, err := g.Directory.Session(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return p, SessionInfo{}, err
		}
		return p, SessionInfo{}, fmt.Errorf("session lookup: %w", err)
	}

	ok, err := g.Authorizer.Authorize(ctx, p, sessionID, perm)
	if err != nil {
		return p, info, fmt.Errorf("authorize: %w", err)
	}
	if !ok {
		return p, info, ErrForbidden
	}
	return p, info, nil
}

// AssistantEntitled reports the principal's plan check. A gate without an
// entitlement source grants nothing.
func (g *Gate) AssistantEntitled(ctx context.Context, p Principal) (bool, error) {
	if g.Entitlements == nil {
		return false, nil
	}
	return g.Entitlements.AssistantEntitled(ctx, p.UserID)
}
