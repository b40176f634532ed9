package swap

import (
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses record payloads.
type Codec interface {
	// ID is the byte stored in each record header.
	ID() byte
	// Name is the configuration name of the codec.
	Name() string
	// Encode appends the encoded form of src to dst[:0] and returns it.
	Encode(dst, src []byte) []byte
	// Decode decodes src, reusing dst's storage when large enough.
	Decode(dst, src []byte) ([]byte, error)
}

// Codec identifiers as stored on disk.
const (
	codecRaw    byte = 0
	codecZstd   byte = 1
	codecSnappy byte = 2
)

// Codec names accepted by CodecByName.
const (
	CodecNone   = "none"
	CodecZstd   = "zstd"
	CodecSnappy = "snappy"
)

// CodecByName returns the codec registered under name.
// An empty name selects the uncompressed codec.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecNone:
		return rawCodec{}, nil
	case CodecZstd:
		if _, _, err := zstdCoders(); err != nil {
			return nil, fmt.Errorf("swap: zstd: %w", err)
		}
		return zstdCodec{}, nil
	case CodecSnappy:
		return snappyCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

func codecByID(id byte) (Codec, error) {
	switch id {
	case codecRaw:
		return rawCodec{}, nil
	case codecZstd:
		return zstdCodec{}, nil
	case codecSnappy:
		return snappyCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: codec id %d", ErrCorrupt, id)
	}
}

type rawCodec struct{}

func (rawCodec) ID() byte     { return codecRaw }
func (rawCodec) Name() string { return CodecNone }

func (rawCodec) Encode(dst, src []byte) []byte {
	return append(dst[:0], src...)
}

func (rawCodec) Decode(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}

// zstd encoders and decoders are expensive to build; one of each is shared
// by every store. EncodeAll/DecodeAll are safe for concurrent use.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return zstdEnc, zstdDec, zstdErr
}

type zstdCodec struct{}

func (zstdCodec) ID() byte     { return codecZstd }
func (zstdCodec) Name() string { return CodecZstd }

func (zstdCodec) Encode(dst, src []byte) []byte {
	// CodecByName has already built the shared encoder.
	enc, _, _ := zstdCoders()
	return enc.EncodeAll(src, dst[:0])
}

func (zstdCodec) Decode(dst, src []byte) ([]byte, error) {
	_, dec, err := zstdCoders()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return out, nil
}

type snappyCodec struct{}

func (snappyCodec) ID() byte     { return codecSnappy }
func (snappyCodec) Name() string { return CodecSnappy }

func (snappyCodec) Encode(dst, src []byte) []byte {
	return snappy.Encode(dst[:cap(dst)], src)
}

func (snappyCodec) Decode(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(dst[:cap(dst)], src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return out, nil
}
