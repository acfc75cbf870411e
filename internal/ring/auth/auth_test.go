package auth

import (
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestAllowAllAlwaysSucceeds(t *testing.T) {
	a := AllowAll{}
	assert.Assert(t, a.Authenticate(uuid.New(), nil))
}

func TestSharedSecretAcceptsCorrectSignature(t *testing.T) {
	s := NewSharedSecret([]byte("cluster-secret"))
	id := uuid.New()
	assert.Assert(t, s.Authenticate(id, s.Sign(id)))
}

func TestSharedSecretRejectsWrongSignature(t *testing.T) {
	s := NewSharedSecret([]byte("cluster-secret"))
	other := NewSharedSecret([]byte("other-secret"))
	id := uuid.New()
	assert.Assert(t, !s.Authenticate(id, other.Sign(id)))
}

func TestSharedSecretRejectsWrongNodeID(t *testing.T) {
	s := NewSharedSecret([]byte("cluster-secret"))
	assert.Assert(t, !s.Authenticate(uuid.New(), s.Sign(uuid.New())))
}
