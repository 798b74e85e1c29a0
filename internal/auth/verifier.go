package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredential is returned when a connection presents no credential.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential is returned when a credential fails verification.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Identity is the verified user behind a realtime connection.
type Identity struct {
	UserID   string
	Username string
}

// Verifier authenticates connection credentials. It holds no mutable state and
// is safe for concurrent use.
type Verifier struct {
	cfg *JWTConfig
}

// NewVerifier creates a verifier for tokens signed with cfg.
func NewVerifier(cfg *JWTConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// Authenticate validates credential and extracts the identity it carries.
// Failure is terminal: the caller must close the connection attempt.
func (v *Verifier) Authenticate(credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, ErrMissingCredential
	}

	claims, err := ValidateToken(v.cfg, credential)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	name := claims.Username
	if name == "" {
		name = claims.UserID
	}
	return Identity{UserID: claims.UserID, Username: name}, nil
}
