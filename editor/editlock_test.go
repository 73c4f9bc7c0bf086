package editor

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/wikistore/acl"
	"github.com/ndlib/wikistore/backend"
	"github.com/ndlib/wikistore/backend/backendtest"
	"github.com/ndlib/wikistore/backend/memory"
)

func TestParsePolicy(t *testing.T) {
	var table = []struct {
		in   string
		want Policy
		bad  bool
	}{
		{"", Policy{ModeNone, DefaultLockTimeout}, false},
		{"none", Policy{ModeNone, DefaultLockTimeout}, false},
		{"warn", Policy{ModeWarn, DefaultLockTimeout}, false},
		{"warn 5", Policy{ModeWarn, 5 * time.Minute}, false},
		{"Lock 20", Policy{ModeLock, 20 * time.Minute}, false},
		{"lock 0", Policy{Mode: ModeNone}, false},
		{"lock -1", Policy{}, true},
		{"shout 5", Policy{}, true},
		{"warn 5 6", Policy{}, true},
	}
	for _, tab := range table {
		p, err := ParsePolicy(tab.in)
		if tab.bad {
			assert.Error(t, err, tab.in)
			continue
		}
		require.NoError(t, err, tab.in)
		assert.Equal(t, tab.want, p, tab.in)
	}
	assert.Equal(t, "warn 5", Policy{ModeWarn, 5 * time.Minute}.String())
	assert.Equal(t, "none", Policy{}.String())
}

func TestLockRecord(t *testing.T) {
	r := LockRecord{Time: time.Unix(1709294400, 0).UTC(), Addr: "10.0.0.1", Hostname: "box", UserID: "JoeDoe"}
	assert.Equal(t, "1709294400\t10.0.0.1\tbox\tJoeDoe", r.String())
	back, err := ParseLockRecord(r.String())
	require.NoError(t, err)
	assert.Equal(t, r, back)
	assert.Equal(t, "JoeDoe", r.Owner())
	r.UserID = ""
	assert.Equal(t, "10.0.0.1", r.Owner())
	_, err = ParseLockRecord("garbage")
	assert.Error(t, err)
}

// editorCtx returns the context of a request by a known user, or of an
// anonymous one when name is empty.
func editorCtx(name, addr string) context.Context {
	ctx := WithOrigin(context.Background(), Origin{Addr: addr})
	if name != "" {
		ctx = acl.WithPrincipal(ctx, acl.Principal{Name: name, Valid: true})
	}
	return ctx
}

func newLocks(t *testing.T, mode string) (*EditLocks, *clock.Mock) {
	b := memory.New()
	backendtest.Put(t, context.Background(), b, "Page", "text\n", nil)
	p, err := ParsePolicy(mode)
	require.NoError(t, err)
	l := NewEditLocks(b, p)
	mock := clock.NewMock()
	mock.Add(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Sub(mock.Now()))
	l.Clock = mock
	return l, mock
}

func TestLockTransitions(t *testing.T) {
	l, mock := newLocks(t, "lock 10")
	joe := editorCtx("JoeDoe", "10.0.0.1")
	jane := editorCtx("JaneDoe", "10.0.0.2")

	st, err := l.Acquire(joe, "Page")
	require.NoError(t, err)
	assert.True(t, st.Granted)
	assert.Equal(t, "JoeDoe", st.Owner)
	rec, err := l.Status(joe, "Page")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "JoeDoe", rec.Owner())

	// the owner extends its lock
	mock.Add(4 * time.Minute)
	st, err = l.Acquire(joe, "Page")
	require.NoError(t, err)
	assert.Equal(t, mock.Now().UTC().Add(10*time.Minute), st.Until)

	// a strict lock keeps others out
	mock.Add(5 * time.Minute)
	_, err = l.Acquire(jane, "Page")
	assert.True(t, errors.Is(err, ErrLocked))
	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, "JoeDoe", locked.Owner)
	assert.Equal(t, 5*time.Minute, locked.Left)

	// after expiry it is taken over with a notice
	mock.Add(30 * time.Minute)
	st, err = l.Acquire(jane, "Page")
	require.NoError(t, err)
	assert.Equal(t, "JoeDoe", st.TookOver)
	assert.Equal(t, 25*time.Minute, st.ExpiredAgo)
	rec, err = l.Status(jane, "Page")
	require.NoError(t, err)
	assert.Equal(t, "JaneDoe", rec.Owner())

	// releasing someone else's lock needs force
	require.NoError(t, l.Release(joe, "Page", false))
	rec, _ = l.Status(joe, "Page")
	assert.NotNil(t, rec)
	require.NoError(t, l.Release(joe, "Page", true))
	rec, _ = l.Status(joe, "Page")
	assert.Nil(t, rec)
}

func TestLockWarnAndOldTakeover(t *testing.T) {
	l, mock := newLocks(t, "warn 10")
	anon := editorCtx("", "10.0.0.9")
	jane := editorCtx("JaneDoe", "10.0.0.2")

	_, err := l.Acquire(anon, "Page")
	require.NoError(t, err)
	st, err := l.Acquire(jane, "Page")
	require.NoError(t, err)
	assert.True(t, st.Warning)
	assert.Equal(t, "10.0.0.9", st.Owner)
	rec, _ := l.Status(jane, "Page")
	assert.Equal(t, "10.0.0.9", rec.Owner())

	// a lock that ran out long ago is replaced without a notice
	mock.Add(4 * time.Hour)
	st, err = l.Acquire(jane, "Page")
	require.NoError(t, err)
	assert.False(t, st.Warning)
	assert.Equal(t, "", st.TookOver)
}

func TestLockDisabledAndNewItems(t *testing.T) {
	l, _ := newLocks(t, "lock 0")
	joe := editorCtx("JoeDoe", "10.0.0.1")
	st, err := l.Acquire(joe, "Page")
	require.NoError(t, err)
	assert.False(t, st.Granted)
	rec, _ := l.Status(joe, "Page")
	assert.Nil(t, rec)

	l, _ = newLocks(t, "lock 10")
	st, err = l.Acquire(joe, "NoSuchPage")
	require.NoError(t, err)
	assert.True(t, st.Granted)
	assert.False(t, l.Backend.HasItem(joe, "NoSuchPage"))
}

func TestLockSweep(t *testing.T) {
	l, mock := newLocks(t, "lock 10")
	backendtest.Put(t, context.Background(), l.Backend, "Other", "text\n", nil)
	_, err := l.Acquire(editorCtx("JoeDoe", "10.0.0.1"), "Page")
	require.NoError(t, err)
	mock.Add(2 * time.Hour)
	_, err = l.Acquire(editorCtx("JaneDoe", "10.0.0.2"), "Other")
	require.NoError(t, err)

	mock.Add(2 * time.Hour)
	n, err := l.Sweep(context.Background(), 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	item, err := l.Backend.GetItem(context.Background(), "Page")
	require.NoError(t, err)
	_, ok := item.Metadata()[backend.KeyEditLock]
	assert.False(t, ok)
}
