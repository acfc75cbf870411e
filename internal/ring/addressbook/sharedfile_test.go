package addressbook

import (
	"context"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestSharedFileProviderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.txt")
	p := NewSharedFile(path)

	assert.NilError(t, p.Append("10.0.0.1:47500"))
	assert.NilError(t, p.Append("10.0.0.2:47500"))

	addrs, err := p.Addresses(context.Background())
	assert.NilError(t, err)
	assert.DeepEqual(t, addrs, []string{"10.0.0.1:47500", "10.0.0.2:47500"})
}

func TestSharedFileProviderSkipsBlankAndComment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.txt")
	p := NewSharedFile(path)
	assert.NilError(t, p.Append("# comment"))
	assert.NilError(t, p.Append(""))
	assert.NilError(t, p.Append("10.0.0.1:47500"))

	addrs, err := p.Addresses(context.Background())
	assert.NilError(t, err)
	assert.DeepEqual(t, addrs, []string{"10.0.0.1:47500"})
}

func TestSharedFileProviderRegisterIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.txt")
	p := NewSharedFile(path)

	ctx := context.Background()
	assert.NilError(t, p.Register(ctx, "10.0.0.1:47500"))
	assert.NilError(t, p.Register(ctx, "10.0.0.1:47500"))

	addrs, err := p.Addresses(ctx)
	assert.NilError(t, err)
	assert.DeepEqual(t, addrs, []string{"10.0.0.1:47500"})
}

func TestSharedFileProviderCleanStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.txt")
	p := NewSharedFile(path)
	assert.NilError(t, p.Append("10.0.0.1:47500"))
	assert.NilError(t, p.Append("10.0.0.2:47500"))

	assert.NilError(t, p.CleanStale([]string{"10.0.0.1:47500"}))

	addrs, err := p.Addresses(context.Background())
	assert.NilError(t, err)
	assert.DeepEqual(t, addrs, []string{"10.0.0.1:47500"})
}
