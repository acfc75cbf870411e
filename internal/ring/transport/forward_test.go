package transport

import (
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"

	"ringmesh/internal/ring/wire"
)

func TestClassifyAbsorbsOwnMessage(t *testing.T) {
	self := uuid.New()
	env := wire.Envelope{Creator: self}

	assert.Equal(t, classify(env, self), VerdictAbsorb)
}

func TestClassifyForwardsOtherwise(t *testing.T) {
	self := uuid.New()
	creator := uuid.New()
	env := wire.Envelope{Creator: creator}

	assert.Equal(t, classify(env, self), VerdictForward)
}
