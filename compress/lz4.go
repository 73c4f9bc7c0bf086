package compress

import (
	"bytes"

	"github.com/pierrec/lz4/v4"
)

// LZ4 trades ratio for speed. It is the default for the file system backend.
type LZ4 struct {
}

func NewLZ4() LZ4 {
	return LZ4{}
}

func (l LZ4) Name() string { return "lz4" }

func (l LZ4) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	return finish(&buf, lz4.NewWriter(&buf), data)
}

func (l LZ4) Decode(data []byte) ([]byte, error) {
	return drain(lz4.NewReader(bytes.NewReader(data)))
}
