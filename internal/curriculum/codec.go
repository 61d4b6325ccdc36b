package curriculum

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec shrinks entry sequences for storage. Round trips are lossless and
// keep entry order.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a zstd-backed codec. The codec is safe for concurrent use.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Compress encodes entries into a compressed blob.
func (c *Codec) Compress(entries []LessonEntry) ([]byte, error) {
	if entries == nil {
		entries = []LessonEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("marshal entries: %w", err)
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decompress restores the entries encoded by Compress.
func (c *Codec) Decompress(blob []byte) ([]LessonEntry, error) {
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress entries: %w", err)
	}
	var entries []LessonEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	return entries, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
