package store

import (
	"io"
	"strings"
)

// NewWithPrefix wraps s so that every key is stored with prefix prepended.
// Several physical backends, e.g. one per router mount, can share a single
// directory or bucket this way.
func NewWithPrefix(s Store, prefix string) Store {
	return prefixed{inner: s, prefix: prefix}
}

type prefixed struct {
	inner  Store
	prefix string
}

func (p prefixed) key(k string) string { return p.prefix + k }

func (p prefixed) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for k := range p.inner.List() {
			if strings.HasPrefix(k, p.prefix) {
				out <- k[len(p.prefix):]
			}
		}
	}()
	return out
}

func (p prefixed) ListPrefix(prefix string) ([]string, error) {
	keys, err := p.inner.ListPrefix(p.key(prefix))
	for i := range keys {
		keys[i] = keys[i][len(p.prefix):]
	}
	return keys, err
}

func (p prefixed) Open(key string) (ReadAtCloser, int64, error) {
	return p.inner.Open(p.key(key))
}

func (p prefixed) Create(key string) (io.WriteCloser, error) {
	return p.inner.Create(p.key(key))
}

func (p prefixed) Delete(key string) error {
	return p.inner.Delete(p.key(key))
}
