// Package backendtest checks that a backend.Backend honors the storage
// contract. Physical backends run it from their own tests.
package backendtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/wikistore/backend"
)

// Commit creates revision revno of item with the given body and revision
// metadata and commits it.
func Commit(t testing.TB, ctx context.Context, item backend.Item, revno int, body string, md backend.Metadata) {
	t.Helper()
	rev, err := item.CreateRevision(ctx, revno)
	require.NoError(t, err)
	_, err = rev.Write([]byte(body))
	require.NoError(t, err)
	for k, v := range md {
		require.NoError(t, rev.SetMetadata(k, v))
	}
	require.NoError(t, item.Commit(ctx))
}

// Put creates the item called name if needed and commits body as its next
// revision. It returns the new revision number.
func Put(t testing.TB, ctx context.Context, b backend.Backend, name, body string, md backend.Metadata) int {
	t.Helper()
	item, err := b.GetItem(ctx, name)
	if errors.Is(err, backend.ErrNoSuchItem) {
		item, err = b.CreateItem(ctx, name)
	}
	require.NoError(t, err)
	revs, err := item.ListRevisions(ctx)
	require.NoError(t, err)
	revno := len(revs)
	if revno > 0 {
		revno = revs[len(revs)-1] + 1
	}
	Commit(t, ctx, item, revno, body, md)
	return revno
}

// Body returns the body of revision revno of the item called name.
func Body(t testing.TB, ctx context.Context, b backend.Backend, name string, revno int) string {
	t.Helper()
	item, err := b.GetItem(ctx, name)
	require.NoError(t, err)
	rev, err := item.GetRevision(ctx, revno)
	require.NoError(t, err)
	data, err := backend.ReadAll(rev)
	require.NoError(t, err)
	return string(data)
}

// Run exercises every part of the contract on a fresh, empty backend
// returned by newBackend.
func Run(t *testing.T, newBackend func(t *testing.T) backend.Backend) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newBackend(t)) })
	t.Run("Immutable", func(t *testing.T) { testImmutable(t, newBackend(t)) })
	t.Run("RevisionNumbers", func(t *testing.T) { testRevisionNumbers(t, newBackend(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, newBackend(t)) })
	t.Run("Metadata", func(t *testing.T) { testMetadata(t, newBackend(t)) })
	t.Run("RenameDestroy", func(t *testing.T) { testRenameDestroy(t, newBackend(t)) })
	t.Run("Iterate", func(t *testing.T) { testIterate(t, newBackend(t)) })
}

func testRoundTrip(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	item, err := b.CreateItem(ctx, "FrontPage")
	require.NoError(t, err)
	assert.False(t, b.HasItem(ctx, "FrontPage"), "item visible before commit")

	Commit(t, ctx, item, 0, "Hello\n", backend.Metadata{backend.KeyMimetype: "text/x.moin.wiki"})

	item, err = b.GetItem(ctx, "FrontPage")
	require.NoError(t, err)
	rev, err := item.GetRevision(ctx, -1)
	require.NoError(t, err)
	data, err := backend.ReadAll(rev)
	require.NoError(t, err)
	assert.Equal(t, "Hello\n", string(data))
	assert.Equal(t, 0, rev.Revno())
	assert.EqualValues(t, 6, rev.Size())
	assert.Equal(t, "text/x.moin.wiki", rev.Metadata()[backend.KeyMimetype])
	assert.False(t, rev.Timestamp().IsZero())

	revs, err := item.ListRevisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, revs)

	_, err = b.CreateItem(ctx, "FrontPage")
	assert.ErrorIs(t, err, backend.ErrItemExists)
	_, err = b.GetItem(ctx, "NoSuchPage")
	assert.ErrorIs(t, err, backend.ErrNoSuchItem)
	_, err = item.GetRevision(ctx, 7)
	assert.ErrorIs(t, err, backend.ErrNoSuchRevision)
}

func testImmutable(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	ts := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	item, err := b.CreateItem(ctx, "Page")
	require.NoError(t, err)
	rev, err := item.CreateRevision(ctx, 0)
	require.NoError(t, err)
	rev.Write([]byte("zero"))
	rev.SetMetadata("comment", "first")
	rev.SetTimestamp(ts)
	require.NoError(t, item.Commit(ctx))

	_, err = rev.Write([]byte("more"))
	assert.ErrorIs(t, err, backend.ErrImmutable)
	assert.ErrorIs(t, rev.SetMetadata("comment", "changed"), backend.ErrImmutable)

	for i := 1; i < 4; i++ {
		Put(t, ctx, b, "Page", "later", backend.Metadata{"comment": "later"})
	}
	item, err = b.GetItem(ctx, "Page")
	require.NoError(t, err)
	r0, err := item.GetRevision(ctx, 0)
	require.NoError(t, err)
	data, _ := backend.ReadAll(r0)
	assert.Equal(t, "zero", string(data))
	assert.Equal(t, "first", r0.Metadata()["comment"])
	assert.True(t, ts.Equal(r0.Timestamp()))

	// a revision can be read twice
	data, _ = backend.ReadAll(r0)
	assert.Equal(t, "zero", string(data))
}

func testRevisionNumbers(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	Put(t, ctx, b, "Page", "0", nil)
	Put(t, ctx, b, "Page", "1", nil)
	item, err := b.GetItem(ctx, "Page")
	require.NoError(t, err)

	_, err = item.CreateRevision(ctx, 1)
	assert.ErrorIs(t, err, backend.ErrRevisionExists)
	_, err = item.CreateRevision(ctx, 5)
	var be *backend.BackendError
	assert.ErrorAs(t, err, &be)

	// a rolled back reservation leaves no gap
	rev, err := item.CreateRevision(ctx, 2)
	require.NoError(t, err)
	rev.Write([]byte("never"))
	require.NoError(t, item.Rollback(ctx))
	revs, err := item.ListRevisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, revs)

	Commit(t, ctx, item, 2, "2", nil)
	revs, err = item.ListRevisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, revs)
	assert.Equal(t, "2", Body(t, ctx, b, "Page", -1))
}

func testConcurrentCreate(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	Put(t, ctx, b, "Page", "0", nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item, err := b.GetItem(ctx, "Page")
			if err != nil {
				errs[i] = err
				return
			}
			rev, err := item.CreateRevision(ctx, 1)
			if err != nil {
				errs[i] = err
				return
			}
			rev.Write([]byte("writer"))
			errs[i] = item.Commit(ctx)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, backend.ErrRevisionExists)
	}
	assert.Equal(t, 1, ok)
	item, err := b.GetItem(ctx, "Page")
	require.NoError(t, err)
	revs, err := item.ListRevisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, revs)
}

func testMetadata(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	item, err := b.CreateItem(ctx, "Meta")
	require.NoError(t, err)
	assert.ErrorIs(t, item.SetMetadata("a", "b"), backend.ErrImmutable)

	require.NoError(t, item.ChangeMetadata(ctx))
	require.NoError(t, item.SetMetadata("color", "blue"))
	require.NoError(t, item.SetMetadata("shape", "round"))
	require.NoError(t, item.DeleteMetadata("shape"))
	require.NoError(t, item.PublishMetadata(ctx))
	assert.True(t, b.HasItem(ctx, "Meta"), "publishing stores the item")

	other, err := b.GetItem(ctx, "Meta")
	require.NoError(t, err)
	assert.Equal(t, backend.Metadata{"color": "blue"}, other.Metadata())

	// the metadata lock is exclusive
	require.NoError(t, other.ChangeMetadata(ctx))
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, item.ChangeMetadata(short))
	require.NoError(t, other.SetMetadata("color", "red"))
	require.NoError(t, other.PublishMetadata(ctx))

	require.NoError(t, item.ChangeMetadata(ctx))
	assert.Equal(t, "red", item.Metadata()["color"])
	require.NoError(t, item.PublishMetadata(ctx))
}

func testRenameDestroy(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	Put(t, ctx, b, "Old", "body", nil)
	Put(t, ctx, b, "Taken", "other", nil)

	item, err := b.GetItem(ctx, "Old")
	require.NoError(t, err)
	assert.ErrorIs(t, item.Rename(ctx, "Taken"), backend.ErrItemExists)
	assert.ErrorIs(t, item.Rename(ctx, " bad"), backend.ErrInvalidName)
	require.NoError(t, item.Rename(ctx, "New"))
	assert.Equal(t, "New", item.Name())
	assert.False(t, b.HasItem(ctx, "Old"))
	assert.Equal(t, "body", Body(t, ctx, b, "New", 0))

	require.NoError(t, item.Destroy(ctx))
	assert.False(t, b.HasItem(ctx, "New"))
	assert.True(t, b.HasItem(ctx, "Taken"))

	// the name can be reused and starts again at revision 0
	assert.Equal(t, 0, Put(t, ctx, b, "New", "again", nil))
}

func testIterate(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	for _, name := range []string{"B", "A", "C/sub"} {
		Put(t, ctx, b, name, name, nil)
	}
	names, err := backend.Names(b.IterItems(ctx))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C/sub"}, names)

	names, err = backend.Names(b.SearchItems(ctx, nameIn{"A", "C/sub"}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "C/sub"}, names)
}

// nameIn matches items with one of the given names.
type nameIn []string

func (n nameIn) Evaluate(ctx context.Context, item backend.Item) (bool, error) {
	for _, name := range n {
		if item.Name() == name {
			return true, nil
		}
	}
	return false, nil
}

func (n nameIn) Reset() {}
