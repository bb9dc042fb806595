package sniffer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/xi2/xz"
)

// wrapperDecoder unwraps one compression envelope around a dataset file.
// Archived survey data is commonly shipped gzip/zstd/xz-wrapped; the parsers
// need seekable input, so an unwrapped stream is buffered in memory.
type wrapperDecoder interface {
	Unwrap(r io.Reader) (io.Reader, error)
}

type gzipDecoder struct{}

func (gzipDecoder) Unwrap(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

type zstdDecoder struct{}

func (zstdDecoder) Unwrap(r io.Reader) (io.Reader, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return zr.IOReadCloser(), nil
}

type xzDecoder struct{}

func (xzDecoder) Unwrap(r io.Reader) (io.Reader, error) {
	return xz.NewReader(r, 0)
}

var wrapperDecoders = map[string]wrapperDecoder{
	".gz":  gzipDecoder{},
	".zst": zstdDecoder{},
	".xz":  xzDecoder{},
}

// Open opens path for parsing, transparently unwrapping a recognized
// compression envelope. The caller owns the returned closer and must close
// it on every exit path.
func Open(path string) (io.ReadSeeker, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	ext := strings.ToLower(lastExt(path))
	dec, wrapped := wrapperDecoders[ext]
	if !wrapped {
		return f, f, nil
	}

	defer f.Close()
	inner, err := dec.Unwrap(f)
	if err != nil {
		return nil, nil, fmt.Errorf("unwrapping %s: %w", path, err)
	}
	buf, err := io.ReadAll(inner)
	if err != nil {
		return nil, nil, fmt.Errorf("unwrapping %s: %w", path, err)
	}
	return bytes.NewReader(buf), nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func lastExt(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i:]
	}
	return ""
}
