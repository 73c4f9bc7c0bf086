package cache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "wiki"), filepath.Join(dir, "farm"), []byte("secret"))
	s.LockTimeout = 200 * time.Millisecond
	return s
}

func TestScopes(t *testing.T) {
	s := newStore(t)
	var table = []struct {
		scope, arena, key string
		prefix            string
	}{
		{Farm, "i18n", "de", s.FarmDir},
		{Wiki, "users", "name2id", filepath.Join(s.WikiDir, "wiki")},
		{Item, "Some/Page", "html", filepath.Join(s.WikiDir, "item")},
	}
	for _, tab := range table {
		e, err := s.Entry(tab.scope, tab.arena, tab.key)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(e.Path(), tab.prefix), e.Path())
		assert.NotContains(t, strings.TrimPrefix(e.Path(), tab.prefix), "Some/Page")
	}
	_, err := s.Entry("galaxy", "a", "b")
	assert.True(t, errors.Is(err, ErrBadScope))
}

func TestEscape(t *testing.T) {
	var table = []struct{ in, out string }{
		{"plain", "plain"},
		{"a/b", "a%2fb"},
		{"..", "%.."},
		{"", "%"},
		{"x.lock", "x.lock%"},
		{"50%", "50%25"},
	}
	for _, tab := range table {
		assert.Equal(t, tab.out, escape(tab.in))
		assert.Equal(t, tab.in, unescape(tab.out))
	}
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	keys, err := s.Keys(Wiki, "drafts")
	require.NoError(t, err)
	assert.Empty(t, keys)
	for _, k := range []string{"JoeDoe", "a/b", ".hidden"} {
		e, err := s.Entry(Wiki, "drafts", k)
		require.NoError(t, err)
		require.NoError(t, e.UpdateString(ctx, "x", "id"))
	}
	keys, err = s.Keys(Wiki, "drafts")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"JoeDoe", "a/b", ".hidden"}, keys)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	e, err := s.Entry(Item, "FrontPage", "html")
	require.NoError(t, err)
	assert.True(t, e.NeedsUpdate("rev-1"))
	_, err = e.Content(ctx)
	assert.True(t, os.IsNotExist(errors.Cause(err)))

	require.NoError(t, e.UpdateString(ctx, "<p>one</p>", "rev-1"))
	assert.False(t, e.NeedsUpdate("rev-1"))
	assert.True(t, e.NeedsUpdate("rev-2"))
	data, err := e.Content(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<p>one</p>", string(data))

	require.NoError(t, e.UpdateFrom(ctx, strings.NewReader("<p>two</p>"), "rev-2"))
	assert.False(t, e.NeedsUpdate("rev-2"))

	require.NoError(t, e.UpdateJSON(ctx, map[string]interface{}{"title": "Front", "links": 3}))
	obj, err := e.Object(ctx)
	require.NoError(t, err)
	title, err := obj.GetString("title")
	require.NoError(t, err)
	assert.Equal(t, "Front", title)

	require.NoError(t, e.Remove(ctx))
	assert.False(t, e.Exists())
	assert.True(t, e.NeedsUpdate())
	entries, err := os.ReadDir(filepath.Dir(e.Path()))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOlderThan(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	e, _ := s.Entry(Wiki, "a", "b")
	assert.True(t, e.OlderThan(time.Now()))
	require.NoError(t, e.Update(ctx, []byte("x")))
	assert.False(t, e.OlderThan(time.Now().Add(-time.Hour)))
	assert.True(t, e.OlderThan(time.Now().Add(time.Hour)))
}

func TestWriterExcludesWriter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a, _ := s.Entry(Wiki, "a", "b")
	b, _ := s.Entry(Wiki, "a", "b")
	require.NoError(t, a.Open(ctx, WriteMode))
	err := b.Update(ctx, []byte("other"))
	assert.True(t, errors.Is(err, ErrCache))
	_, err = a.Write([]byte("mine"))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	data, err := b.Content(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mine", string(data))
}

func TestAbort(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	e, _ := s.Entry(Wiki, "a", "b")
	require.NoError(t, e.UpdateString(ctx, "old"))
	require.NoError(t, e.Open(ctx, WriteMode))
	e.Write([]byte("half"))
	require.NoError(t, e.Abort())
	data, err := e.Content(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

// Readers racing a writer see a complete old or new value.
func TestAtomicReplace(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	s.LockTimeout = 5 * time.Second
	old := bytes.Repeat([]byte("a"), 256*1024)
	neu := bytes.Repeat([]byte("b"), 256*1024)
	w, _ := s.Entry(Item, "Big", "data")
	require.NoError(t, w.Update(ctx, old))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, _ := s.Entry(Item, "Big", "data")
			for j := 0; j < 20; j++ {
				data, err := r.Content(ctx)
				if !assert.NoError(t, err) {
					return
				}
				assert.True(t, bytes.Equal(data, old) || bytes.Equal(data, neu))
			}
		}()
	}
	for j := 0; j < 10; j++ {
		if j%2 == 0 {
			require.NoError(t, w.Update(ctx, neu))
		} else {
			require.NoError(t, w.Update(ctx, old))
		}
	}
	wg.Wait()
}

func TestIDsFollowContent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	s.LockTimeout = 5 * time.Second

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			e, _ := s.Entry(Item, "Page", "html")
			for j := 0; j < 10; j++ {
				assert.NoError(t, e.UpdateString(ctx, id, id))
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	e, _ := s.Entry(Item, "Page", "html")
	data, err := e.Content(ctx)
	require.NoError(t, err)
	assert.False(t, e.NeedsUpdate(string(data)))
	keys, err := s.Keys(Item, "Page")
	require.NoError(t, err)
	assert.Equal(t, []string{"html"}, keys)
}

func TestKey(t *testing.T) {
	s := newStore(t)
	k1 := s.Key(map[string]string{"item": "Logo", "w": "100"})
	k2 := s.Key(map[string]string{"w": "100", "item": "Logo"})
	k3 := s.Key(map[string]string{"item": "Logo", "w": "200"})
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 40)

	other := newStore(t)
	other.Secret = []byte("different")
	assert.NotEqual(t, k1, other.Key(map[string]string{"item": "Logo", "w": "100"}))
}

func TestFUID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	assert.Equal(t, "", FUID(path))
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))
	first := FUID(path)
	assert.NotEmpty(t, first)
	require.NoError(t, os.WriteFile(path, []byte("ab"), 0644))
	assert.NotEqual(t, first, FUID(path))
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mock := clock.NewMock()
	mock.Add(time.Since(mock.Now()))
	s.Clock = mock

	old, _ := s.Entry(Item, "Old", "html")
	require.NoError(t, old.UpdateString(ctx, "old", "1"))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Path(), past, past))
	fresh, _ := s.Entry(Wiki, "users", "list")
	require.NoError(t, fresh.UpdateString(ctx, "fresh"))

	n, err := s.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, old.Exists())
	assert.True(t, fresh.Exists())
}
