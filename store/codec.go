package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec transforms encoded JSON before it reaches disk.
type Codec interface {
	// Ext is appended to the artifact file name.
	Ext() string
	Encode(b []byte) ([]byte, error)
	Decode(b []byte) ([]byte, error)
}

// ParseCodec maps a configuration name to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "zstd":
		return Zstd{}, nil
	default:
		return nil, fmt.Errorf("unknown store codec: %q", name)
	}
}

// JSON stores artifacts as plain JSON.
type JSON struct{}

func (JSON) Ext() string                     { return ".json" }
func (JSON) Encode(b []byte) ([]byte, error) { return b, nil }
func (JSON) Decode(b []byte) ([]byte, error) { return b, nil }

// Zstd stores artifacts as zstd-compressed JSON. Chat transcripts compress well.
type Zstd struct{}

// zstd.Encoder and zstd.Decoder are safe for concurrent use through EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

func (Zstd) Ext() string { return ".json.zst" }

func (Zstd) Encode(b []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(b, make([]byte, 0, len(b)/3)), nil
}

func (Zstd) Decode(b []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
