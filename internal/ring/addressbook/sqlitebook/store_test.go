package sqlitebook

import (
	"context"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestStoreRegisterAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresses.db")
	s, err := Open(path)
	assert.NilError(t, err)
	defer s.Close()

	ctx := context.Background()
	assert.NilError(t, s.Register(ctx, "10.0.0.1:47500"))
	assert.NilError(t, s.Register(ctx, "10.0.0.2:47500"))

	addrs, err := s.Addresses(ctx)
	assert.NilError(t, err)
	assert.DeepEqual(t, addrs, []string{"10.0.0.1:47500", "10.0.0.2:47500"})
}

func TestStorePrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresses.db")
	s, err := Open(path)
	assert.NilError(t, err)
	defer s.Close()

	ctx := context.Background()
	assert.NilError(t, s.Register(ctx, "10.0.0.1:47500"))
	assert.NilError(t, s.Register(ctx, "10.0.0.2:47500"))

	assert.NilError(t, s.Prune(ctx, []string{"10.0.0.1:47500"}))

	addrs, err := s.Addresses(ctx)
	assert.NilError(t, err)
	assert.DeepEqual(t, addrs, []string{"10.0.0.1:47500"})
}
