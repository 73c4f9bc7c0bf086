package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/backend/backendtest"
)

func TestContract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend {
		b, d, err := Open(filepath.Join(t.TempDir(), "wiki.db"))
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		return b
	})
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wiki.db")
	b, d, err := Open(path)
	require.NoError(t, err)
	backendtest.Put(t, ctx, b, "Page", "persisted", backend.Metadata{"comment": "c"})
	require.NoError(t, d.Close())

	b, d, err = Open(path)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, "persisted", backendtest.Body(t, ctx, b, "Page", -1))
	revs, err := d.ListRevisions(ctx, mustLookup(t, d, "Page"))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, revs)
}

func TestRevnoOrder(t *testing.T) {
	assert.Equal(t, 258, unmarshalRevno(marshalRevno(258)))
	// big endian keys sort numerically in bbolt cursors
	assert.Less(t, string(marshalRevno(9)), string(marshalRevno(10)))
}

func mustLookup(t *testing.T, d *Driver, name string) string {
	id, err := d.LookupItem(context.Background(), name)
	require.NoError(t, err)
	return id
}
