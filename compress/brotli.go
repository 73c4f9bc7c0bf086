package compress

import (
	"bytes"

	"github.com/andybalholm/brotli"
)

type Brotli struct {
	Level int
}

func NewBrotli() Brotli {
	return Brotli{Level: brotli.DefaultCompression}
}

func (b Brotli) Name() string { return "brotli" }

func (b Brotli) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	return finish(&buf, brotli.NewWriterLevel(&buf, b.Level), data)
}

func (b Brotli) Decode(data []byte) ([]byte, error) {
	return drain(brotli.NewReader(bytes.NewReader(data)))
}
