package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	formatRaw  byte = 0x00
	formatZstd byte = 0x01
)

var errEmptyPayload = errors.New("empty payload")

// Codec serializes cache values as JSON and compresses large payloads with zstd.
// Every payload carries a one byte format header.
type Codec struct {
	minCompressSize int
	encoder         *zstd.Encoder
	decoder         *zstd.Decoder
}

// NewCodec creates a codec. Payloads of at least minCompressSize bytes are
// compressed; a value <= 0 disables compression.
func NewCodec(minCompressSize int) (*Codec, error) {
	c := &Codec{minCompressSize: minCompressSize}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	c.encoder = encoder

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	c.decoder = decoder

	return c, nil
}

// Encode serializes v
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	if c.minCompressSize > 0 && len(data) >= c.minCompressSize {
		out := make([]byte, 1, len(data)/2+1)
		out[0] = formatZstd
		return c.encoder.EncodeAll(data, out), nil
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, formatRaw)
	return append(out, data...), nil
}

// Decode deserializes payload into dst, which must be a pointer
func (c *Codec) Decode(payload []byte, dst interface{}) error {
	if len(payload) == 0 {
		return errEmptyPayload
	}

	data := payload[1:]
	switch payload[0] {
	case formatRaw:
	case formatZstd:
		decoded, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("failed to decompress payload: %w", err)
		}
		data = decoded
	default:
		return fmt.Errorf("unknown payload format 0x%02x", payload[0])
	}

	return json.Unmarshal(data, dst)
}

// Close releases encoder resources
func (c *Codec) Close() {
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
