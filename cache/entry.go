package cache

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"

	"github.com/ndlib/wikistore/lock"
)

// Mode is the way an entry is opened.
type Mode int

const (
	ReadMode Mode = iota
	WriteMode
)

const copyBufferSize = 64 * 1024

// Entry is a single cached value. An Entry is not safe for concurrent use;
// separate Entry values for the same file coordinate through the lock.
type Entry struct {
	s    *Store
	path string
	rw   *lock.RW

	mode   Mode
	locker lock.Locker
	f      *os.File // open file while reading, temp file while writing
}

func newEntry(s *Store, path string) *Entry {
	rw := lock.NewRW(path+lockSuffix, s.StaleTimeout, s.ReadLockTimeout)
	rw.Clock = s.Clock
	return &Entry{s: s, path: path, rw: rw}
}

// Path returns the file name of the entry.
func (e *Entry) Path() string { return e.path }

func (e *Entry) lock(ctx context.Context, mode Mode) (lock.Locker, error) {
	var l lock.Locker
	if mode == WriteMode {
		l = e.rw.WriteLock()
	} else {
		l = e.rw.LazyReadLock()
	}
	if _, ok := ctx.Deadline(); !ok && e.s.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.s.LockTimeout)
		defer cancel()
	}
	if err := l.Acquire(ctx); err != nil {
		return nil, errors.Wrapf(ErrCache, "lock %s: %s", e.path, err)
	}
	return l, nil
}

// Open locks the entry for reading or writing. A write goes to a temporary
// file that replaces the entry on Close.
func (e *Entry) Open(ctx context.Context, mode Mode) error {
	if e.locker != nil {
		return errors.Wrapf(ErrCache, "%s is already open", e.path)
	}
	l, err := e.lock(ctx, mode)
	if err != nil {
		return err
	}
	var f *os.File
	if mode == WriteMode {
		dir := filepath.Dir(e.path)
		if err = os.MkdirAll(dir, 0755); err == nil {
			f, err = os.CreateTemp(dir, tmpPrefix+filepath.Base(e.path)+"-")
		}
	} else {
		f, err = os.Open(e.path)
	}
	if err != nil {
		l.Release()
		if mode == ReadMode && os.IsNotExist(err) {
			return err
		}
		return errors.Wrap(ErrCache, err.Error())
	}
	e.mode, e.locker, e.f = mode, l, f
	return nil
}

func (e *Entry) Read(p []byte) (int, error) {
	if e.f == nil || e.mode != ReadMode {
		return 0, errors.Wrap(ErrCache, "entry not open for reading")
	}
	return e.f.Read(p)
}

func (e *Entry) Write(p []byte) (int, error) {
	if e.f == nil || e.mode != WriteMode {
		return 0, errors.Wrap(ErrCache, "entry not open for writing")
	}
	return e.f.Write(p)
}

// Close publishes a write and releases the lock.
func (e *Entry) Close() error {
	if e.locker == nil {
		return nil
	}
	defer e.release()
	if e.mode == ReadMode {
		return e.f.Close()
	}
	return e.publish()
}

// publish moves the temporary file of a write over the entry.
func (e *Entry) publish() error {
	tmp := e.f.Name()
	err := e.f.Close()
	if err == nil {
		err = os.Rename(tmp, e.path)
	}
	if err != nil {
		os.Remove(tmp)
		return errors.Wrap(ErrCache, err.Error())
	}
	return nil
}

// Abort drops an unfinished write and releases the lock.
func (e *Entry) Abort() error {
	if e.locker == nil {
		return nil
	}
	defer e.release()
	e.f.Close()
	if e.mode == WriteMode {
		return os.Remove(e.f.Name())
	}
	return nil
}

func (e *Entry) release() {
	e.locker.Release()
	e.locker, e.f = nil, nil
}

// Exists reports whether the entry has content.
func (e *Entry) Exists() bool {
	_, err := os.Stat(e.path)
	return err == nil
}

// ModTime returns the time the entry was last written, or the zero time.
func (e *Entry) ModTime() time.Time {
	fi, err := os.Stat(e.path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// NeedsUpdate reports whether the entry is missing or was computed from
// sources other than ids. A source id is any string that changes when the
// source does, such as a FUID or an item uuid with a revision number.
func (e *Entry) NeedsUpdate(ids ...string) bool {
	if !e.Exists() {
		return true
	}
	data, err := os.ReadFile(e.path + idSuffix)
	if err != nil {
		return len(ids) > 0
	}
	return string(data) != strings.Join(ids, "\n")
}

// OlderThan reports whether the entry is missing or older than any of
// times.
func (e *Entry) OlderThan(times ...time.Time) bool {
	mtime := e.ModTime()
	if mtime.IsZero() {
		return true
	}
	for _, t := range times {
		if t.After(mtime) {
			return true
		}
	}
	return false
}

// Update replaces the content of the entry in one step and records the
// source ids for NeedsUpdate.
func (e *Entry) Update(ctx context.Context, content []byte, ids ...string) error {
	return e.update(ctx, func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	}, ids)
}

// UpdateString stores s as UTF-8 text.
func (e *Entry) UpdateString(ctx context.Context, s string, ids ...string) error {
	return e.Update(ctx, []byte(s), ids...)
}

// UpdateFrom streams r into the entry.
func (e *Entry) UpdateFrom(ctx context.Context, r io.Reader, ids ...string) error {
	return e.update(ctx, func(w io.Writer) error {
		_, err := io.CopyBuffer(w, r, make([]byte, copyBufferSize))
		return err
	}, ids)
}

// UpdateJSON stores v encoded as JSON.
func (e *Entry) UpdateJSON(ctx context.Context, v interface{}, ids ...string) error {
	return e.update(ctx, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(v)
	}, ids)
}

func (e *Entry) update(ctx context.Context, fill func(io.Writer) error, ids []string) error {
	if err := e.Open(ctx, WriteMode); err != nil {
		return err
	}
	if err := fill(e); err != nil {
		e.Abort()
		return errors.Wrap(ErrCache, err.Error())
	}
	defer e.release()
	// drop the old ids first so new content is never paired with them
	os.Remove(e.path + idSuffix)
	if err := e.publish(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return e.writeIDs(ids)
}

// writeIDs replaces the ids file in one step. The write lock must be held.
func (e *Entry) writeIDs(ids []string) error {
	f, err := os.CreateTemp(filepath.Dir(e.path), tmpPrefix+filepath.Base(e.path)+idSuffix+"-")
	if err != nil {
		return errors.Wrap(ErrCache, err.Error())
	}
	_, err = f.WriteString(strings.Join(ids, "\n"))
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err == nil {
		err = os.Rename(f.Name(), e.path+idSuffix)
	}
	if err != nil {
		os.Remove(f.Name())
		return errors.Wrap(ErrCache, err.Error())
	}
	return nil
}

// Modify replaces the content of the entry with what fn makes of the
// current content, holding the write lock from the read to the write. old
// is nil when the entry does not exist. fn reports whether it changed
// anything; a nil result removes the entry.
func (e *Entry) Modify(ctx context.Context, fn func(old []byte) ([]byte, bool, error)) error {
	if err := e.Open(ctx, WriteMode); err != nil {
		return err
	}
	old, err := os.ReadFile(e.path)
	if err != nil && !os.IsNotExist(err) {
		e.Abort()
		return errors.Wrap(ErrCache, err.Error())
	}
	data, changed, err := fn(old)
	if err != nil || !changed {
		e.Abort()
		return err
	}
	if data == nil {
		defer e.release()
		e.f.Close()
		os.Remove(e.f.Name())
		os.Remove(e.path + idSuffix)
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(ErrCache, err.Error())
		}
		return nil
	}
	if _, err := e.f.Write(data); err != nil {
		e.Abort()
		return errors.Wrap(ErrCache, err.Error())
	}
	defer e.release()
	os.Remove(e.path + idSuffix)
	return e.publish()
}

// Content returns the whole entry.
func (e *Entry) Content(ctx context.Context) ([]byte, error) {
	if err := e.Open(ctx, ReadMode); err != nil {
		return nil, err
	}
	defer e.Close()
	return io.ReadAll(e)
}

// Object returns the entry decoded as a JSON object.
func (e *Entry) Object(ctx context.Context) (*jason.Object, error) {
	data, err := e.Content(ctx)
	if err != nil {
		return nil, err
	}
	return jason.NewObjectFromBytes(data)
}

// Remove deletes the entry under the write lock.
func (e *Entry) Remove(ctx context.Context) error {
	l, err := e.lock(ctx, WriteMode)
	if err != nil {
		return err
	}
	defer func() {
		l.Release()
		os.Remove(e.path + lockSuffix)
	}()
	os.Remove(e.path + idSuffix)
	err = os.Remove(e.path)
	if os.IsNotExist(err) {
		err = nil
	}
	return err
}
