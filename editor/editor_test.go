package editor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/wikistore/acl"
	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/backend/backendtest"
	"github.com/ndlib/wikistore/backend/memory"
	"github.com/ndlib/wikistore/cache"
	"github.com/ndlib/wikistore/editlog"
	"github.com/ndlib/wikistore/events"
	"github.com/ndlib/wikistore/index"
)

type fixture struct {
	ed   *Editor
	log  *editlog.EditLog
	mock *clock.Mock
	seen []events.Event
}

func newFixture(t *testing.T, b backend.Backend) *fixture {
	f := &fixture{mock: clock.NewMock()}
	f.mock.Add(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Sub(f.mock.Now()))
	f.ed = New(b)
	f.ed.Clock = f.mock
	f.ed.Locks.Clock = f.mock
	f.log = editlog.Open(filepath.Join(t.TempDir(), "edit-log"))
	f.ed.Log = f.log
	f.ed.Bus.Subscribe(func(ctx context.Context, e events.Event) (events.Result, error) {
		f.seen = append(f.seen, e)
		return nil, nil
	})
	return f
}

func (f *fixture) names() []string {
	var names []string
	for _, e := range f.seen {
		names = append(names, e.Name())
	}
	return names
}

func (f *fixture) actions(t *testing.T) []string {
	recs, err := f.log.Tail(100)
	require.NoError(t, err)
	var actions []string
	for i := len(recs) - 1; i >= 0; i-- {
		actions = append(actions, recs[i].PageName+" "+recs[i].Action)
	}
	return actions
}

func latestMeta(t *testing.T, b backend.Backend, name string) backend.Metadata {
	t.Helper()
	item, err := b.GetItem(context.Background(), name)
	require.NoError(t, err)
	rev, err := backend.Latest(context.Background(), item)
	require.NoError(t, err)
	return rev.Metadata()
}

func TestSave(t *testing.T) {
	b := memory.New()
	f := newFixture(t, b)
	joe := editorCtx("JoeDoe", "10.0.0.1")

	res, err := f.ed.Save(joe, SaveRequest{Name: "FrontPage", Text: "Hello", OrigRev: -1, Comment: "first"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Revno)
	assert.False(t, res.Merged)
	assert.Equal(t, "Hello\n", backendtest.Body(t, joe, b, "FrontPage", -1))
	md := latestMeta(t, b, "FrontPage")
	assert.Equal(t, editlog.ActionSaveNew, md[backend.KeyAction])
	assert.Equal(t, "JoeDoe", md[backend.KeyUserID])
	assert.Equal(t, "10.0.0.1", md[backend.KeyAddr])
	assert.Equal(t, "10.0.0.1", md[backend.KeyHostname])
	assert.Equal(t, "first", md[backend.KeyComment])
	assert.Equal(t, DefaultMimetype, md[backend.KeyMimetype])

	res, err = f.ed.Save(joe, SaveRequest{Name: "FrontPage", Text: "Hello\r\nworld\r\n", OrigRev: 0, Trivial: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Revno)
	assert.Equal(t, "Hello\nworld\n", backendtest.Body(t, joe, b, "FrontPage", -1))
	assert.Equal(t, editlog.ActionSave, latestMeta(t, b, "FrontPage")[backend.KeyAction])

	assert.Equal(t, []string{
		events.NamePagePreSave, events.NamePageSaved,
		events.NamePagePreSave, events.NameTrivialPageSaved,
	}, f.names())
	assert.Equal(t, []string{"FrontPage SAVENEW", "FrontPage SAVE"}, f.actions(t))

	recs, err := f.log.Tail(1)
	require.NoError(t, err)
	assert.Equal(t, 1, recs[0].Revno)
	assert.Equal(t, "JoeDoe", recs[0].UserID)
	assert.True(t, f.mock.Now().Equal(recs[0].Time))
}

func TestSaveRejects(t *testing.T) {
	b := memory.New()
	f := newFixture(t, b)
	ctx := editorCtx("", "10.0.0.1")
	_, err := f.ed.Save(ctx, SaveRequest{Name: "Page", Text: " \n\n", OrigRev: -1})
	assert.True(t, errors.Is(err, ErrEmptyPage))

	_, err = f.ed.Save(ctx, SaveRequest{Name: "Page", Text: "same\n", OrigRev: -1})
	require.NoError(t, err)
	_, err = f.ed.Save(ctx, SaveRequest{Name: "Page", Text: "same", OrigRev: 0})
	assert.True(t, errors.Is(err, ErrUnchanged))

	_, err = f.ed.Save(ctx, SaveRequest{Name: "Bad//Name", Text: "x", OrigRev: -1})
	assert.True(t, errors.Is(err, backend.ErrInvalidName))
}

func TestSaveExpandsVariables(t *testing.T) {
	b := memory.New()
	f := newFixture(t, b)
	f.ed.Email = func(user string) string { return "joe@example.org" }
	joe := editorCtx("JoeDoe", "10.0.0.1")

	_, err := f.ed.Save(joe, SaveRequest{Name: "Notes", Text: "on @PAGE@ @SIG@", OrigRev: -1})
	require.NoError(t, err)
	assert.Equal(t, "on Notes -- JoeDoe <<DateTime(2024-03-01T12:00:00Z)>>\n", backendtest.Body(t, joe, b, "Notes", -1))

	_, err = f.ed.Save(joe, SaveRequest{Name: "HomepageTemplate", Text: "by @SIG@", OrigRev: -1})
	require.NoError(t, err)
	assert.Equal(t, "by @SIG@\n", backendtest.Body(t, joe, b, "HomepageTemplate", -1))
}

func TestEditConflict(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	for _, body := range []string{"zero\n", "one\n", "two\n", "x\n"} {
		backendtest.Put(t, ctx, b, "Page", body, nil)
	}
	f := newFixture(t, b)
	writerA := editorCtx("WriterA", "10.0.0.1")
	writerB := editorCtx("WriterB", "10.0.0.2")

	res, err := f.ed.Save(writerA, SaveRequest{Name: "Page", Text: "A", OrigRev: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Revno)

	_, err = f.ed.Save(writerB, SaveRequest{Name: "Page", Text: "B", OrigRev: 3})
	require.True(t, errors.Is(err, ErrEditConflict))
	var conflict *EditConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 4, conflict.Current)
	assert.Equal(t, 1, conflict.Conflicts)
	assert.Equal(t, MarkerOther+"A\n"+MarkerMine+"B\n"+MarkerEnd, conflict.Merged)

	res, err = f.ed.Save(writerB, SaveRequest{Name: "Page", Text: conflict.Merged, OrigRev: conflict.Current})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Revno)
	assert.True(t, HasConflictMarkers(backendtest.Body(t, ctx, b, "Page", 5)))
}

func TestCleanMerge(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	backendtest.Put(t, ctx, b, "Page", "a\nb\nc\n", nil)
	f := newFixture(t, b)

	_, err := f.ed.Save(editorCtx("WriterA", "10.0.0.1"), SaveRequest{Name: "Page", Text: "A\nb\nc\n", OrigRev: 0})
	require.NoError(t, err)
	res, err := f.ed.Save(editorCtx("WriterB", "10.0.0.2"), SaveRequest{Name: "Page", Text: "a\nb\nC\n", OrigRev: 0})
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, 2, res.Revno)
	assert.Equal(t, "A\nb\nC\n", backendtest.Body(t, ctx, b, "Page", -1))
}

func TestACLChangeNeedsAdmin(t *testing.T) {
	inner := memory.New()
	backendtest.Put(t, context.Background(), inner, "Page", "text\n", nil)
	guarded := acl.Wrap(inner, acl.NewChecker("WikiAdmin:read,write,create,destroy,admin", "Known:read,write,create", "", nil))
	f := newFixture(t, guarded)
	f.ed.Perms = guarded

	_, err := f.ed.Save(editorCtx("JoeDoe", "10.0.0.1"), SaveRequest{Name: "Page", Text: "#acl All:read\ntext\n", OrigRev: 0})
	assert.True(t, errors.Is(err, ErrNoAdmin))

	_, err = f.ed.Save(editorCtx("", "10.0.0.9"), SaveRequest{Name: "Page", Text: "changed\n", OrigRev: 0})
	assert.True(t, errors.Is(err, backend.ErrAccessDenied))

	res, err := f.ed.Save(editorCtx("WikiAdmin", "10.0.0.2"), SaveRequest{Name: "Page", Text: "#acl All:read\ntext\n", OrigRev: 0})
	require.NoError(t, err)
	assert.Equal(t, "All:read", latestMeta(t, inner, "Page")[backend.KeyACL])

	// keeping the acl is a plain write, but JoeDoe lost it
	_, err = f.ed.Save(editorCtx("JoeDoe", "10.0.0.1"), SaveRequest{Name: "Page", Text: "#acl All:read\nmore\n", OrigRev: res.Revno})
	assert.True(t, errors.Is(err, backend.ErrAccessDenied))
}

func TestDeleteKeepsACL(t *testing.T) {
	inner := memory.New()
	backendtest.Put(t, context.Background(), inner, "Page", "#acl JaneDoe:read,write,create\ntext\n",
		backend.Metadata{backend.KeyACL: "JaneDoe:read,write,create"})
	guarded := acl.Wrap(inner, acl.NewChecker("WikiAdmin:read,write,create,destroy,admin", "Known:read,write,create", "", nil))
	f := newFixture(t, guarded)
	f.ed.Perms = guarded
	jane := editorCtx("JaneDoe", "10.0.0.2")

	revno, err := f.ed.Delete(jane, "Page", "")
	require.NoError(t, err)
	assert.Equal(t, "JaneDoe:read,write,create", latestMeta(t, inner, "Page")[backend.KeyACL])
	_, err = f.ed.Save(editorCtx("JoeDoe", "10.0.0.1"), SaveRequest{Name: "Page", Text: "mine\n", OrigRev: revno})
	assert.True(t, errors.Is(err, backend.ErrAccessDenied))

	// the acl of the deleted text still stands
	_, err = f.ed.Save(jane, SaveRequest{Name: "Page", Text: "back\n", OrigRev: revno})
	assert.True(t, errors.Is(err, ErrNoAdmin))
	res, err := f.ed.Save(jane, SaveRequest{Name: "Page", Text: "#acl JaneDoe:read,write,create\nback\n", OrigRev: revno})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Revno)
	assert.Equal(t, "JaneDoe:read,write,create", latestMeta(t, inner, "Page")[backend.KeyACL])
}

func TestPreSaveAbort(t *testing.T) {
	b := memory.New()
	f := newFixture(t, b)
	f.ed.Bus.Subscribe(func(ctx context.Context, e events.Event) (events.Result, error) {
		if strings.Contains(e.(*events.PagePreSave).Text, "spam") {
			return &events.Abort{Reason: "no spam"}, nil
		}
		return nil, nil
	}, events.NamePagePreSave)

	_, err := f.ed.Save(editorCtx("", "10.0.0.1"), SaveRequest{Name: "Page", Text: "buy spam", OrigRev: -1})
	var abort *events.Abort
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, "no spam", abort.Reason)
	assert.False(t, b.HasItem(context.Background(), "Page"))
}

func TestRecipients(t *testing.T) {
	b := memory.New()
	f := newFixture(t, b)
	f.ed.Bus.Subscribe(func(ctx context.Context, e events.Event) (events.Result, error) {
		return &events.Success{Recipients: mapset.NewSet("jane@example.org")}, nil
	}, events.NamePageSaved)
	res, err := f.ed.Save(editorCtx("", "10.0.0.1"), SaveRequest{Name: "Page", Text: "x", OrigRev: -1})
	require.NoError(t, err)
	assert.True(t, res.Recipients.Equal(mapset.NewSet("jane@example.org")))
}

func TestStrictLockBlocksSave(t *testing.T) {
	b := memory.New()
	backendtest.Put(t, context.Background(), b, "Page", "text\n", nil)
	f := newFixture(t, b)
	f.ed.Locks.Policy = Policy{Mode: ModeLock, Timeout: 10 * time.Minute}
	joe := editorCtx("JoeDoe", "10.0.0.1")
	jane := editorCtx("JaneDoe", "10.0.0.2")

	s, err := f.ed.Open(joe, "Page")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Revno)
	assert.Equal(t, "text\n", s.Text)
	assert.True(t, s.Lock.Granted)

	_, err = f.ed.Open(jane, "Page")
	assert.True(t, errors.Is(err, ErrLocked))
	_, err = f.ed.Save(jane, SaveRequest{Name: "Page", Text: "jane", OrigRev: 0})
	assert.True(t, errors.Is(err, ErrLocked))

	_, err = f.ed.Save(joe, SaveRequest{Name: "Page", Text: "joe", OrigRev: 0})
	require.NoError(t, err)
	rec, err := f.ed.Locks.Status(joe, "Page")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = f.ed.Open(jane, "Page")
	require.NoError(t, err)
	require.NoError(t, f.ed.Cancel(jane, "Page", 1, ""))
	rec, err = f.ed.Locks.Status(jane, "Page")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDraftRecovery(t *testing.T) {
	b := memory.New()
	backendtest.Put(t, context.Background(), b, "Page", "text\n", nil)
	f := newFixture(t, b)
	f.ed.Drafts = NewDrafts(cache.New(t.TempDir(), t.TempDir(), nil))
	f.ed.Drafts.Clock = f.mock
	joe := editorCtx("JoeDoe", "10.0.0.1")

	s, err := f.ed.Open(joe, "Page")
	require.NoError(t, err)
	assert.Nil(t, s.Draft)

	assert.Equal(t, "text\nmore\n", f.ed.Preview(joe, "Page", s.Revno, "text\nmore"))

	// the browser crashed; the next visit offers the draft
	s, err = f.ed.Open(joe, "Page")
	require.NoError(t, err)
	require.NotNil(t, s.Draft)
	assert.Equal(t, "text\nmore", s.Draft.Text)
	assert.Equal(t, 0, s.Draft.Revno)
	assert.True(t, f.mock.Now().Equal(s.Draft.Time))

	// drafts belong to their user
	s, err = f.ed.Open(editorCtx("JaneDoe", "10.0.0.2"), "Page")
	require.NoError(t, err)
	assert.Nil(t, s.Draft)

	require.NoError(t, f.ed.Drafts.Discard(joe, "JoeDoe", "Page"))
	s, err = f.ed.Open(joe, "Page")
	require.NoError(t, err)
	assert.Nil(t, s.Draft)

	f.ed.Preview(joe, "Page", 0, "again")
	_, err = f.ed.Save(joe, SaveRequest{Name: "Page", Text: "again", OrigRev: 0})
	require.NoError(t, err)
	d, err := f.ed.Drafts.Load(joe, "JoeDoe", "Page")
	require.NoError(t, err)
	assert.Nil(t, d)

	// a failed save keeps the text
	_, err = f.ed.Save(joe, SaveRequest{Name: "Page", Text: "again", OrigRev: 1})
	assert.True(t, errors.Is(err, ErrUnchanged))
	d, err = f.ed.Drafts.Load(joe, "JoeDoe", "Page")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Revno)
}

func TestDraftSweep(t *testing.T) {
	d := NewDrafts(cache.New(t.TempDir(), t.TempDir(), nil))
	mock := clock.NewMock()
	d.Clock = mock
	ctx := context.Background()
	require.NoError(t, d.Save(ctx, "JoeDoe", "Old", 0, "old"))
	mock.Add(48 * time.Hour)
	require.NoError(t, d.Save(ctx, "JoeDoe", "New", 0, "new"))
	require.NoError(t, d.Save(ctx, "JaneDoe", "Old", 0, "old too"))

	n, err := d.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	items, err := d.Items(ctx, "JoeDoe")
	require.NoError(t, err)
	assert.Equal(t, []string{"New"}, items)
}

func TestConcurrentDrafts(t *testing.T) {
	d := NewDrafts(cache.New(t.TempDir(), t.TempDir(), nil))
	ctx := context.Background()
	require.NoError(t, d.Save(ctx, "JoeDoe", "Keep", 0, "kept"))

	var wg sync.WaitGroup
	var want []string
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("Page%d", i)
		want = append(want, name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Save(ctx, "JoeDoe", name, 0, "text of "+name))
			assert.NoError(t, d.Discard(ctx, "JoeDoe", "Gone"))
		}()
	}
	wg.Wait()

	items, err := d.Items(ctx, "JoeDoe")
	require.NoError(t, err)
	assert.Equal(t, append([]string{"Keep"}, want...), items)
}

func TestRenameCascade(t *testing.T) {
	x, err := index.Open("ql-mem")
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	b := index.Wrap(memory.New(), x)
	ctx := context.Background()
	backendtest.Put(t, ctx, b, "Foo", "foo\n", backend.Metadata{backend.KeyMimetype: DefaultMimetype})
	backendtest.Put(t, ctx, b, "Foo/a.txt", "a\n", backend.Metadata{backend.KeyMimetype: "text/plain"})
	backendtest.Put(t, ctx, b, "Foo/b.txt", "b\n", backend.Metadata{backend.KeyMimetype: "text/plain"})
	backendtest.Put(t, ctx, b, "Foobar", "other\n", nil)
	f := newFixture(t, b)
	joe := editorCtx("JoeDoe", "10.0.0.1")

	require.NoError(t, f.ed.Rename(joe, "Foo", "Bar", "moved"))

	names, err := backend.Names(b.IterItems(ctx))
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar", "Bar/a.txt", "Bar/b.txt", "Foobar"}, names)
	assert.Equal(t, "a\n", backendtest.Body(t, ctx, b, "Bar/a.txt", -1))

	md := latestMeta(t, b, "Bar/a.txt")
	assert.Equal(t, editlog.ActionRename, md[backend.KeyAction])
	assert.Equal(t, "Foo/a.txt", md[backend.KeyOldName])
	assert.Equal(t, "Bar/a.txt", md[backend.KeyName])
	assert.Equal(t, "text/plain", md[backend.KeyMimetype])

	for _, name := range []string{"Bar", "Bar/a.txt", "Bar/b.txt"} {
		rec, err := x.Lookup(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, 1, rec.Revno, name)
	}
	_, err = x.Lookup(ctx, "Foo/a.txt")
	assert.True(t, errors.Is(err, index.ErrNotIndexed))

	assert.Equal(t, []string{"Bar SAVE/RENAME", "Bar/a.txt SAVE/RENAME", "Bar/b.txt SAVE/RENAME"}, f.actions(t))
	assert.Equal(t, events.NamePageRenamed, f.names()[0])

	err = f.ed.Rename(joe, "Bar", "Foobar", "")
	assert.True(t, errors.Is(err, backend.ErrItemExists))
	err = f.ed.Rename(joe, "Bar", "Bar/Sub", "")
	assert.True(t, errors.Is(err, backend.ErrInvalidName))
}

func TestCascadeWithHiddenItems(t *testing.T) {
	inner := memory.New()
	ctx := context.Background()
	backendtest.Put(t, ctx, inner, "Foo", "foo\n", nil)
	backendtest.Put(t, ctx, inner, "Foo/Open", "open\n", nil)
	backendtest.Put(t, ctx, inner, "Foo/Secret", "hush\n", backend.Metadata{backend.KeyACL: "JaneDoe:read,write"})
	guarded := acl.Wrap(inner, acl.NewChecker("", "Known:read,write,create", "", nil))
	f := newFixture(t, guarded)
	f.ed.Perms = guarded
	joe := editorCtx("JoeDoe", "10.0.0.1")

	err := f.ed.Rename(joe, "Foo", "Bar", "")
	assert.True(t, errors.Is(err, backend.ErrAccessDenied))
	err = f.ed.Copy(joe, "Foo", "Bar", "")
	assert.True(t, errors.Is(err, backend.ErrAccessDenied))
	names, err := backend.Names(inner.IterItems(ctx))
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo", "Foo/Open", "Foo/Secret"}, names)

	// JaneDoe sees the whole family
	require.NoError(t, f.ed.Rename(editorCtx("JaneDoe", "10.0.0.2"), "Foo", "Bar", ""))
	names, err = backend.Names(inner.IterItems(ctx))
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar", "Bar/Open", "Bar/Secret"}, names)
	assert.Equal(t, "JaneDoe:read,write", latestMeta(t, inner, "Bar/Secret")[backend.KeyACL])
}

func TestDeleteAndRevert(t *testing.T) {
	b := memory.New()
	f := newFixture(t, b)
	ctx := editorCtx("JoeDoe", "10.0.0.1")
	_, err := f.ed.Save(ctx, SaveRequest{Name: "Page", Text: "first", OrigRev: -1})
	require.NoError(t, err)
	_, err = f.ed.Save(ctx, SaveRequest{Name: "Page", Text: "second", OrigRev: 0})
	require.NoError(t, err)

	revno, err := f.ed.Delete(ctx, "Page", "gone")
	require.NoError(t, err)
	assert.Equal(t, 2, revno)
	md := latestMeta(t, b, "Page")
	assert.Equal(t, "true", md[backend.KeyDeleted])
	assert.Equal(t, DefaultMimetype, md[backend.KeyMimetype])
	_, err = f.ed.Delete(ctx, "Page", "")
	assert.True(t, errors.Is(err, backend.ErrNoSuchItem))

	res, err := f.ed.Revert(ctx, "Page", 0, "back")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Revno)
	assert.Equal(t, "first\n", backendtest.Body(t, ctx, b, "Page", -1))
	md = latestMeta(t, b, "Page")
	assert.Equal(t, editlog.ActionRevert, md[backend.KeyAction])
	assert.Equal(t, "00000000", md[backend.KeyExtra])

	assert.Equal(t, []string{"Page SAVENEW", "Page SAVE", "Page SAVE", "Page SAVE/REVERT"}, f.actions(t))
	last := f.seen[len(f.seen)-1]
	require.IsType(t, &events.PageReverted{}, last)
	assert.Equal(t, 0, last.(*events.PageReverted).Restored)
}

func TestCopy(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	backendtest.Put(t, ctx, b, "Src", "one\n", nil)
	backendtest.Put(t, ctx, b, "Src", "two\n", nil)
	backendtest.Put(t, ctx, b, "Src/pic.png", "png", backend.Metadata{backend.KeyMimetype: "image/png"})
	f := newFixture(t, b)
	joe := editorCtx("JoeDoe", "10.0.0.1")

	require.NoError(t, f.ed.Copy(joe, "Src", "Dst", "copied"))
	item, err := b.GetItem(ctx, "Dst")
	require.NoError(t, err)
	revs, err := item.ListRevisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, revs)
	assert.Equal(t, "one\n", backendtest.Body(t, ctx, b, "Dst", 0))
	assert.Equal(t, "two\n", backendtest.Body(t, ctx, b, "Dst", 2))
	md := latestMeta(t, b, "Dst")
	assert.Equal(t, editlog.ActionSaveNew, md[backend.KeyAction])
	assert.Equal(t, "Src", md[backend.KeyExtra])
	assert.Equal(t, "image/png", latestMeta(t, b, "Dst/pic.png")[backend.KeyMimetype])
	assert.Equal(t, "two\n", backendtest.Body(t, ctx, b, "Src", -1))

	assert.True(t, errors.Is(f.ed.Copy(joe, "Src", "Dst", ""), backend.ErrItemExists))
}

func TestAttachments(t *testing.T) {
	b := memory.New()
	f := newFixture(t, b)
	ctx := editorCtx("JoeDoe", "10.0.0.1")
	_, err := f.ed.Save(ctx, SaveRequest{Name: "Page", Text: "see attachment", OrigRev: -1})
	require.NoError(t, err)

	revno, err := f.ed.Attach(ctx, "Page", "a.txt", strings.NewReader("data"), "text/plain", false)
	require.NoError(t, err)
	assert.Equal(t, 0, revno)
	assert.Equal(t, "data", backendtest.Body(t, ctx, b, "Page/a.txt", -1))

	_, err = f.ed.Attach(ctx, "Page", "a.txt", strings.NewReader("other"), "", false)
	assert.True(t, errors.Is(err, backend.ErrItemExists))
	revno, err = f.ed.Attach(ctx, "Page", "a.txt", strings.NewReader("other"), "", true)
	require.NoError(t, err)
	assert.Equal(t, 1, revno)
	assert.Equal(t, "application/octet-stream", latestMeta(t, b, "Page/a.txt")[backend.KeyMimetype])

	_, err = f.ed.Attach(ctx, "Page", "x/y", strings.NewReader(""), "", false)
	assert.True(t, errors.Is(err, backend.ErrInvalidName))

	require.NoError(t, f.ed.DeleteAttachment(ctx, "Page", "a.txt"))
	md := latestMeta(t, b, "Page/a.txt")
	assert.Equal(t, "true", md[backend.KeyDeleted])
	assert.NotEqual(t, DefaultMimetype, md[backend.KeyMimetype])

	assert.Equal(t, []string{"Page SAVENEW", "Page ATTNEW", "Page ATTNEW", "Page ATTDEL"}, f.actions(t))
	recs, err := f.log.Tail(1)
	require.NoError(t, err)
	assert.Equal(t, editlog.AttachmentRevno, recs[0].Revno)
	assert.Equal(t, "a.txt", recs[0].Extra)
}
