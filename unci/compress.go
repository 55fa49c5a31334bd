package unci

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// Compression selects the generic compression scheme applied to coded
// units. The zero value means units are stored raw.
type Compression uint8

const (
	CompressionOff Compression = iota
	CompressionDeflate
	CompressionZlib
	CompressionBrotli
)

// String returns the human-readable name of the compression scheme.
func (c Compression) String() string {
	switch c {
	case CompressionOff:
		return "off"
	case CompressionDeflate:
		return "deflate"
	case CompressionZlib:
		return "zlib"
	case CompressionBrotli:
		return "brotli"
	default:
		return "unknown"
	}
}

// ParseCompression parses a compression scheme name as used in
// configuration. Both the long name and the four-character code are
// accepted.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "off", "none", "":
		return CompressionOff, nil
	case "deflate", "defl":
		return CompressionDeflate, nil
	case "zlib":
		return CompressionZlib, nil
	case "brotli", "brot":
		return CompressionBrotli, nil
	default:
		return CompressionOff, usagef("unknown compression scheme %q", name)
	}
}

// TypeCode returns the compression type code carried in the cmpC box.
// Uncompressed storage is coded as four NUL bytes.
func (c Compression) TypeCode() string {
	switch c {
	case CompressionDeflate:
		return "defl"
	case CompressionZlib:
		return "zlib"
	case CompressionBrotli:
		return "brot"
	default:
		return "\x00\x00\x00\x00"
	}
}

// compressionFromType maps a cmpC compression type code back to the
// scheme. The second result is false for schemes this codec cannot
// decompress.
func compressionFromType(code string) (Compression, bool) {
	switch code {
	case "defl":
		return CompressionDeflate, true
	case "zlib":
		return CompressionZlib, true
	case "brot":
		return CompressionBrotli, true
	case "\x00\x00\x00\x00", "":
		return CompressionOff, true
	default:
		return CompressionOff, false
	}
}

// compressUnit compresses one coded unit. CompressionOff returns the
// input unchanged.
func compressUnit(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionOff:
		return data, nil

	case CompressionDeflate:
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case CompressionZlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case CompressionBrotli:
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		if _, err := bw.Write(data); err != nil {
			return nil, err
		}
		if err := bw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	default:
		return nil, unsupportedf("compression scheme %d is not implemented yet", c)
	}
}

// decompressUnit expands one coded unit, refusing to produce more
// than max bytes. The cap bounds decompression output by what the
// frame layout can actually consume, so a hostile stream cannot
// balloon memory past the declared image size.
func decompressUnit(data []byte, c Compression, max int64) ([]byte, error) {
	var r io.Reader
	switch c {
	case CompressionOff:
		if int64(len(data)) > max {
			return nil, invalidf("coded unit of %d bytes overruns the %d frame bytes remaining", len(data), max)
		}
		return data, nil

	case CompressionDeflate:
		r = flate.NewReader(bytes.NewReader(data))

	case CompressionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, invalidf("zlib decompress: %v", err)
		}
		r = zr

	case CompressionBrotli:
		r = brotli.NewReader(bytes.NewReader(data))

	default:
		return nil, unsupportedf("compression scheme %d is not implemented yet", c)
	}

	out, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, invalidf("%s decompress: %v", c, err)
	}
	if int64(len(out)) > max {
		return nil, invalidf("decompressed unit overruns the %d frame bytes remaining", max)
	}
	if rc, ok := r.(io.Closer); ok {
		if err := rc.Close(); err != nil {
			return nil, invalidf("%s decompress: %v", c, err)
		}
	}
	return out, nil
}
