// Package compress wraps stitched outputs in a streaming codec.
package compress

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a stream compression format.
type Codec uint8

const (
	// None writes plain bytes.
	None Codec = iota
	// Zstd is Zstandard framing (better ratio, good for archives).
	Zstd
	// LZ4 is LZ4 frame format (fast, good for hot intermediate files).
	LZ4
	// Gzip is gzip, for consumers without zstd tooling.
	Gzip
)

var names = map[Codec]string{None: "none", Zstd: "zstd", LZ4: "lz4", Gzip: "gzip"}

var extensions = map[Codec]string{None: "", Zstd: ".zst", LZ4: ".lz4", Gzip: ".gz"}

func (c Codec) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// Ext returns the conventional file extension, including the dot.
func (c Codec) Ext() string {
	return extensions[c]
}

// Parse maps a codec name ("", "none", "zstd", "zst", "lz4", "gzip", "gz").
func Parse(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "zstd", "zst":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	case "gzip", "gz":
		return Gzip, nil
	default:
		return None, fmt.Errorf("compress: unknown codec %q", s)
	}
}

// FromName infers the codec from a file name extension.
func FromName(name string) Codec {
	for c, ext := range extensions {
		if ext != "" && strings.HasSuffix(name, ext) {
			return c
		}
	}
	return None
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// lz4Writer hides lz4.Writer.ReadFrom, which only accepts a fresh writer and
// breaks io.Copy on the second call.
type lz4Writer struct{ io.WriteCloser }

// NewWriter wraps w. Closing the returned writer flushes the codec but does
// not close w. The writer accepts any number of io.Copy calls.
func NewWriter(w io.Writer, c Codec) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopWriteCloser{w}, nil
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case LZ4:
		return lz4Writer{lz4.NewWriter(w)}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("compress: unknown codec %d", c)
	}
}

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// NewReader wraps r for decoding. Closing the returned reader releases codec
// resources but does not close r.
func NewReader(r io.Reader, c Codec) (io.ReadCloser, error) {
	switch c {
	case None:
		return io.NopCloser(r), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{dec}, nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Gzip:
		return gzip.NewReader(r)
	default:
		return nil, fmt.Errorf("compress: unknown codec %d", c)
	}
}
