package addressbook

import (
	"context"
	"sort"
	"testing"

	"gotest.tools/v3/assert"
)

func TestResolvedAddressesDedupAndPortRewrite(t *testing.T) {
	provider := NewStatic("10.0.0.1:0", "10.0.0.1", "10.0.0.2:47500")
	book := New(provider, 47500, false)

	addrs, err := book.ResolvedAddresses(context.Background())
	assert.NilError(t, err)

	sort.Strings(addrs)
	assert.DeepEqual(t, addrs, []string{"10.0.0.1:47500", "10.0.0.2:47500"})
}

func TestResolvedAddressesExcludesLocal(t *testing.T) {
	provider := NewStatic("10.0.0.1:47500", "10.0.0.2:47500")
	book := New(provider, 47500, false, WithLocalAddrs("10.0.0.1:47500"))

	addrs, err := book.ResolvedAddresses(context.Background())
	assert.NilError(t, err)
	assert.DeepEqual(t, addrs, []string{"10.0.0.2:47500"})
}

func TestResolvedAddressesEmptyWithoutErrorOnNoCandidates(t *testing.T) {
	provider := NewStatic()
	book := New(provider, 47500, false)

	addrs, err := book.ResolvedAddresses(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(addrs), 0)
}

func TestClientDefaultPortUsedForClientNode(t *testing.T) {
	provider := NewStatic("10.0.0.1:0")
	book := New(provider, 47500, true, WithClientDefaultPort(47600))

	addrs, err := book.ResolvedAddresses(context.Background())
	assert.NilError(t, err)
	assert.DeepEqual(t, addrs, []string{"10.0.0.1:47600"})
}
