// Package store provides a simple, goroutine safe key-value interface whose
// values are byte streams. It is the substrate the blob backend keeps wiki
// revisions and item records in.
//
// Keys are created exactly once. To change a value the key must be deleted
// and created again, so callers that need replace semantics must serialize
// the delete and the create themselves.
package store

import (
	"bytes"
	"errors"
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store defines the basic stream based key-value store.
//
// Since the FileSystem store uses the key as file names, keys should not
// contain forbidden filesystem characters, such as '/'.
type Store interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

var (
	// ErrKeyExists indicates an attempt to create a key which already exists
	ErrKeyExists = errors.New("Key already exists")

	// ErrNotExist is returned when opening a key that is not in the store.
	ErrNotExist = errors.New("Key does not exist")
)

// NewReader converts a ReaderAt into a io.Reader. It is here as a utility to
// help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for
		// an io.Reader
		err = nil
	}
	return
}

// ReadAll returns the entire contents of key.
func ReadAll(s Store, key string) ([]byte, error) {
	rac, size, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer rac.Close()
	buf := bytes.NewBuffer(make([]byte, 0, int(size)))
	_, err = io.Copy(buf, NewReader(rac))
	return buf.Bytes(), err
}

// WriteAll creates key and stores data in it. It fails with ErrKeyExists if
// the key is already present.
func WriteAll(s Store, key string, data []byte) error {
	w, err := s.Create(key)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	if err != nil {
		w.Close()
		s.Delete(key)
		return err
	}
	return w.Close()
}

// Replace deletes key and then stores data under it.
// The two steps are not atomic with respect to other writers.
func Replace(s Store, key string, data []byte) error {
	if err := s.Delete(key); err != nil {
		return err
	}
	return WriteAll(s, key, data)
}
