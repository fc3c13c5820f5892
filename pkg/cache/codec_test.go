package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec(t *testing.T) {
	codec, err := NewCodec(32)
	require.NoError(t, err)
	defer codec.Close()

	t.Run("small payloads stay raw", func(t *testing.T) {
		payload, err := codec.Encode(map[string]int{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, formatRaw, payload[0])

		var got map[string]int
		require.NoError(t, codec.Decode(payload, &got))
		assert.Equal(t, map[string]int{"a": 1}, got)
	})

	t.Run("large payloads are compressed", func(t *testing.T) {
		in := strings.Repeat("template ", 50)
		payload, err := codec.Encode(in)
		require.NoError(t, err)
		assert.Equal(t, formatZstd, payload[0])

		var got string
		require.NoError(t, codec.Decode(payload, &got))
		assert.Equal(t, in, got)
	})

	t.Run("rejects empty and unknown payloads", func(t *testing.T) {
		var got string
		assert.Error(t, codec.Decode(nil, &got))
		assert.Error(t, codec.Decode([]byte{0x7f, '"', '"'}, &got))
		assert.Error(t, codec.Decode([]byte{formatZstd, 0x01, 0x02}, &got))
	})
}

func TestCodec_CompressionDisabled(t *testing.T) {
	codec, err := NewCodec(0)
	require.NoError(t, err)
	defer codec.Close()

	payload, err := codec.Encode(strings.Repeat("x", 4096))
	require.NoError(t, err)
	assert.Equal(t, formatRaw, payload[0])
}
