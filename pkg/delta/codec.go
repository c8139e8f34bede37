package delta

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Codec compresses delta patches before they hit the store
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Name() string
}

// NewCodec creates a patch codec based on the configured name
func NewCodec(name string) (Codec, error) {
	switch name {
	case "zstd":
		return &zstdCodec{}, nil
	case "xz":
		return &xzCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported delta codec: %s (must be 'zstd' or 'xz')", name)
	}
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(data, nil), nil
}

func (zstdCodec) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

type xzCodec struct{}

func (xzCodec) Name() string { return "xz" }

func (xzCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("init xz writer: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("xz compress: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize xz stream: %w", err)
	}

	return buf.Bytes(), nil
}

func (xzCodec) Decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("init xz reader: %w", err)
	}

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("xz decompress: %w", err)
	}

	return out, nil
}
