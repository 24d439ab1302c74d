// Package identity resolves handshake credentials to authenticated principals.
//
// Token issuance lives in the account service; this package only verifies
// credentials and looks identities up. The gateway treats Identity as an
// immutable value carried on a connection.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Identity is an authenticated principal recognized by the gateway.
type Identity struct {
	ID   int64
	Name string
	Role string
}

// Sentinel errors shared by verifier and directory implementations.
var (
	// ErrBadCredential covers malformed, unsigned, or expired tokens.
	ErrBadCredential = errors.New("identity: bad credential")
	// ErrNotFound reports an unknown user id.
	ErrNotFound = errors.New("identity: user not found")
	// ErrInactive reports a disabled account.
	ErrInactive = errors.New("identity: user inactive")
)

// TokenVerifier verifies a handshake credential and returns the embedded user id.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (int64, error)
}

// Directory looks up users by id. It is the read side of the external account
// service: this core never creates or mutates users.
type Directory interface {
	// Lookup returns the identity for id, ErrNotFound if unknown,
	// ErrInactive if the account is disabled.
	Lookup(ctx context.Context, id int64) (Identity, error)
}

// Authenticator combines credential verification with directory lookup.
// It resolves a handshake credential to an active identity.
type Authenticator struct {
	verifier  TokenVerifier
	directory Directory
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(verifier TokenVerifier, directory Directory) (*Authenticator, error) {
	if verifier == nil {
		return nil, errors.New("identity: nil verifier")
	}
	if directory == nil {
		return nil, errors.New("identity: nil directory")
	}
	return &Authenticator{verifier: verifier, directory: directory}, nil
}

// Authenticate verifies the credential and resolves a currently-active identity.
// Any failure maps onto the sentinel errors above so callers can classify it.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrBadCredential)
	}

	userID, err := a.verifier.Verify(ctx, credential)
	if err != nil {
		return Identity{}, err
	}

	return a.directory.Lookup(ctx, userID)
}
