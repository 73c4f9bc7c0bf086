// Package compress holds the codecs revision payloads may be stored with.
// The codec name is recorded next to each payload so a backend can hold data
// written with different codecs.
package compress

import (
	"github.com/pkg/errors"
)

// A Codec encodes and decodes whole payloads.
type Codec interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// ErrUnknownCodec is returned by Lookup for names it does not know.
var ErrUnknownCodec = errors.New("unknown compression codec")

// Lookup returns the codec registered under name. The empty name is the
// no-op codec.
func Lookup(name string) (Codec, error) {
	switch name {
	case "", "none":
		return NewNop(), nil
	case "gzip":
		return NewGZip(), nil
	case "lz4":
		return NewLZ4(), nil
	case "brotli":
		return NewBrotli(), nil
	}
	return nil, errors.Wrap(ErrUnknownCodec, name)
}
