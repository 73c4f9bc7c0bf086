package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	page := bytes.Repeat([]byte("= FrontPage =\nHello wiki world.\n"), 200)
	for _, name := range []string{"", "none", "gzip", "lz4", "brotli"} {
		codec, err := Lookup(name)
		require.NoError(t, err, name)

		encoded, err := codec.Encode(page)
		require.NoError(t, err, name)
		if name != "" && name != "none" {
			assert.Less(t, len(encoded), len(page), name)
		}
		decoded, err := codec.Decode(encoded)
		require.NoError(t, err, name)
		assert.Equal(t, page, decoded, name)
	}
}

func TestEmptyPayload(t *testing.T) {
	for _, codec := range []Codec{NewGZip(), NewLZ4(), NewBrotli()} {
		encoded, err := codec.Encode(nil)
		require.NoError(t, err)
		decoded, err := codec.Decode(encoded)
		require.NoError(t, err)
		assert.Empty(t, decoded, codec.Name())
	}
}

func TestUnknownCodec(t *testing.T) {
	_, err := Lookup("zstd")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}
