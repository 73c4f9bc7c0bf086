package lock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "lock")
	a := NewExclusive(path, time.Hour)
	b := NewExclusive(path, time.Hour)

	require.NoError(t, a.Acquire(context.Background()))
	assert.True(t, a.IsLocked())
	assert.True(t, b.Exists())

	ok, err := b.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok)
	err = b.Acquire(shortCtx(t))
	assert.True(t, errors.Is(err, ErrCouldNotLock))

	require.NoError(t, a.Release())
	require.NoError(t, a.Release())
	require.NoError(t, b.Acquire(shortCtx(t)))
	require.NoError(t, b.Release())
	assert.False(t, b.Exists())
}

func TestStaleByAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	a := NewExclusive(path, time.Minute)
	require.NoError(t, a.Acquire(context.Background()))

	mock := clock.NewMock()
	mock.Add(time.Since(mock.Now()) + 2*time.Minute)
	b := NewExclusive(path, time.Minute)
	b.Clock = mock
	assert.True(t, b.IsExpired())
	ok, err := b.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseAfterBreak(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	a := NewExclusive(path, time.Minute)
	require.NoError(t, a.Acquire(context.Background()))

	mock := clock.NewMock()
	mock.Add(time.Since(mock.Now()) + 2*time.Minute)
	b := NewExclusive(path, time.Minute)
	b.Clock = mock
	ok, err := b.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	// a was too slow; its release must leave b's lock alone
	require.NoError(t, a.Release())
	assert.True(t, b.Exists())
	require.NoError(t, b.Release())
	assert.False(t, b.Exists())
}

func TestStaleByOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	require.NoError(t, os.Mkdir(path, 0755))
	// pid numbers this large are not handed out
	require.NoError(t, os.WriteFile(filepath.Join(path, ownerFile), []byte("2147483646"), 0644))

	e := NewExclusive(path, 0)
	assert.True(t, e.IsExpired())
	require.NoError(t, e.Acquire(shortCtx(t)))
	assert.Equal(t, os.Getpid(), ownerPid(path))
}

func TestReadersShare(t *testing.T) {
	rw := NewRW(t.TempDir(), time.Hour, time.Hour)
	r1, r2 := rw.ReadLock(), rw.ReadLock()
	require.NoError(t, r1.Acquire(context.Background()))
	require.NoError(t, r2.Acquire(context.Background()))
	assert.Equal(t, 2, rw.Readers())

	w := rw.WriteLock()
	err := w.Acquire(shortCtx(t))
	assert.True(t, errors.Is(err, ErrCouldNotLock))
	assert.False(t, w.IsLocked())

	require.NoError(t, r1.Release())
	require.NoError(t, r2.Release())
	assert.Equal(t, 0, rw.Readers())
	require.NoError(t, w.Acquire(shortCtx(t)))

	r3 := rw.ReadLock()
	err = r3.Acquire(shortCtx(t))
	assert.True(t, errors.Is(err, ErrCouldNotLock))
	require.NoError(t, w.Release())
	require.NoError(t, r3.Acquire(shortCtx(t)))
	require.NoError(t, r3.Release())
}

func TestWriterWaitsForReader(t *testing.T) {
	rw := NewRW(t.TempDir(), time.Hour, time.Hour)
	r := rw.ReadLock()
	require.NoError(t, r.Acquire(context.Background()))

	done := make(chan error)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w := rw.WriteLock()
		err := w.Acquire(ctx)
		if err == nil {
			err = w.Release()
		}
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Release())
	require.NoError(t, <-done)
}

func TestStaleReaders(t *testing.T) {
	dir := t.TempDir()
	rw := NewRW(dir, time.Hour, time.Minute)
	require.NoError(t, rw.ReadLock().Acquire(context.Background()))
	assert.Equal(t, 1, rw.Readers())

	mock := clock.NewMock()
	mock.Add(time.Since(mock.Now()) + 2*time.Minute)
	rw.Clock = mock
	assert.Equal(t, 0, rw.Readers())
}

func TestLazyReadLock(t *testing.T) {
	dir := t.TempDir()
	rw := NewRW(dir, time.Hour, time.Hour)
	r := rw.LazyReadLock()
	require.NoError(t, r.Acquire(context.Background()))
	require.NoError(t, r.Release())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	w := rw.WriteLock()
	require.NoError(t, w.Acquire(context.Background()))
	err = rw.LazyReadLock().Acquire(shortCtx(t))
	assert.True(t, errors.Is(err, ErrCouldNotLock))
	require.NoError(t, w.Release())
}
