package lock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
)

// A Locker is a lock that can be taken and given up.
type Locker interface {
	Acquire(ctx context.Context) error
	Release() error
}

// RW is a readers-writer lock kept in the directory Dir. Writers hold the
// mutex for the whole time they are locked. Readers pass through the mutex
// to register, so no reader enters while a writer holds it. The reader
// count has its own small mutex so leaving readers never wait for a writer.
type RW struct {
	Dir             string
	Timeout         time.Duration // staleness of the mutex
	ReadLockTimeout time.Duration // staleness of the reader count
	Clock           clock.Clock
}

// NewRW returns a readers-writer lock in dir.
func NewRW(dir string, timeout, readLockTimeout time.Duration) *RW {
	return &RW{Dir: dir, Timeout: timeout, ReadLockTimeout: readLockTimeout, Clock: clock.New()}
}

func (rw *RW) mutex() *Exclusive {
	return &Exclusive{Path: filepath.Join(rw.Dir, mutexDir), Timeout: rw.Timeout, Clock: rw.Clock}
}

func (rw *RW) countMutex() *Exclusive {
	return &Exclusive{Path: filepath.Join(rw.Dir, countDir), Timeout: rw.Timeout, Clock: rw.Clock}
}

// addReaders changes the reader count by delta.
func (rw *RW) addReaders(ctx context.Context, delta int) error {
	c := rw.countMutex()
	if err := c.Acquire(ctx); err != nil {
		return err
	}
	defer c.Release()
	return rw.setReaders(rw.readers() + delta)
}

// readers returns the number of live readers. A count that has not changed
// within ReadLockTimeout belongs to crashed readers and counts as zero.
func (rw *RW) readers() int {
	name := filepath.Join(rw.Dir, readersFile)
	fi, err := os.Stat(name)
	if err != nil {
		return 0
	}
	if rw.ReadLockTimeout > 0 && rw.Clock.Now().Sub(fi.ModTime()) > rw.ReadLockTimeout {
		return 0
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return n
}

func (rw *RW) setReaders(n int) error {
	name := filepath.Join(rw.Dir, readersFile)
	if n <= 0 {
		err := os.Remove(name)
		if os.IsNotExist(err) {
			err = nil
		}
		return err
	}
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(n)), 0644); err != nil {
		return err
	}
	now := rw.Clock.Now()
	os.Chtimes(tmp, now, now)
	return os.Rename(tmp, name)
}

// Readers returns the current number of readers.
func (rw *RW) Readers() int { return rw.readers() }

// WriteLock returns an exclusive handle on rw.
func (rw *RW) WriteLock() *WriteLock {
	return &WriteLock{rw: rw, m: rw.mutex()}
}

// ReadLock returns a shared handle on rw.
func (rw *RW) ReadLock() *ReadLock {
	return &ReadLock{rw: rw}
}

// LazyReadLock returns a shared handle that touches the file system only
// when a writer is present.
func (rw *RW) LazyReadLock() *ReadLock {
	return &ReadLock{rw: rw, lazy: true}
}

// WriteLock excludes all readers and other writers.
type WriteLock struct {
	rw *RW
	m  *Exclusive
}

// Acquire takes the mutex and waits for the readers to leave.
func (w *WriteLock) Acquire(ctx context.Context) error {
	if w.m.IsLocked() {
		return nil
	}
	if err := w.m.Acquire(ctx); err != nil {
		return err
	}
	for w.rw.readers() > 0 {
		select {
		case <-ctx.Done():
			w.m.Release()
			return errors.Wrap(ErrCouldNotLock, w.rw.Dir)
		case <-w.rw.Clock.After(PollInterval):
		}
	}
	return nil
}

// Release gives up the lock.
func (w *WriteLock) Release() error { return w.m.Release() }

// IsLocked reports whether this handle holds the lock.
func (w *WriteLock) IsLocked() bool { return w.m.IsLocked() }

// ReadLock is shared with other readers.
type ReadLock struct {
	rw      *RW
	lazy    bool
	counted bool
}

// Acquire registers a reader. The mutex is held only while the reader
// registers.
func (r *ReadLock) Acquire(ctx context.Context) error {
	if r.counted {
		return nil
	}
	m := r.rw.mutex()
	if r.lazy && !m.Exists() {
		return nil
	}
	if err := m.Acquire(ctx); err != nil {
		return err
	}
	defer m.Release()
	if err := r.rw.addReaders(ctx, 1); err != nil {
		return err
	}
	r.counted = true
	return nil
}

// Release unregisters the reader.
func (r *ReadLock) Release() error {
	if !r.counted {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), maxDuration(r.rw.Timeout, time.Second))
	defer cancel()
	r.counted = false
	return r.rw.addReaders(ctx, -1)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
