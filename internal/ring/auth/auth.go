// Package auth provides the NodeAuthenticator capability the
// coordinator consults when admitting a JoinRequest.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/google/uuid"
)

// Authenticator validates a joining node's credentials. Implementations
// must not block on network I/O; authentication is local and fast by
// design.
type Authenticator interface {
	Authenticate(nodeID uuid.UUID, credential []byte) bool
}

// AllowAll accepts every join, the default when no authenticator is
// configured.
type AllowAll struct{}

var _ Authenticator = AllowAll{}

// Authenticate always succeeds.
func (AllowAll) Authenticate(uuid.UUID, []byte) bool { return true }

// SharedSecret authenticates a joiner by comparing an HMAC-SHA256 of
// its node id, keyed with a cluster-wide shared secret, against the
// credential it presents.
type SharedSecret struct {
	key []byte
}

var _ Authenticator = SharedSecret{}

// NewSharedSecret returns a SharedSecret authenticator keyed by key.
func NewSharedSecret(key []byte) SharedSecret {
	return SharedSecret{key: key}
}

// Sign computes the credential a joining node should present for nodeID.
func (s SharedSecret) Sign(nodeID uuid.UUID) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(nodeID[:])
	return mac.Sum(nil)
}

// Authenticate reports whether credential matches Sign(nodeID), using a
// constant-time comparison to avoid leaking timing information about
// the expected MAC.
func (s SharedSecret) Authenticate(nodeID uuid.UUID, credential []byte) bool {
	want := s.Sign(nodeID)
	return subtle.ConstantTimeCompare(want, credential) == 1
}
