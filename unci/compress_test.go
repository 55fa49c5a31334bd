package unci

import (
	"bytes"
	"testing"

	"github.com/jdeng/gounci/unci/bmff"
)

func TestCompressUnitRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("uncompressed image data "), 64)
	for _, c := range []Compression{CompressionOff, CompressionDeflate, CompressionZlib, CompressionBrotli} {
		t.Run(c.String(), func(t *testing.T) {
			packed, err := compressUnit(data, c)
			if err != nil {
				t.Fatalf("compressUnit: %v", err)
			}
			if c != CompressionOff && len(packed) >= len(data) {
				t.Errorf("%s did not shrink repetitive input: %d -> %d bytes", c, len(data), len(packed))
			}
			out, err := decompressUnit(packed, c, int64(len(data)))
			if err != nil {
				t.Fatalf("decompressUnit: %v", err)
			}
			if !bytes.Equal(out, data) {
				t.Error("round trip corrupted the unit")
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		name string
		want Compression
	}{
		{"off", CompressionOff},
		{"none", CompressionOff},
		{"", CompressionOff},
		{"deflate", CompressionDeflate},
		{"defl", CompressionDeflate},
		{"zlib", CompressionZlib},
		{"brotli", CompressionBrotli},
		{"brot", CompressionBrotli},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.name)
		if err != nil || got != tt.want {
			t.Errorf("ParseCompression(%q) = (%v, %v), want %v", tt.name, got, err, tt.want)
		}
	}
	if _, err := ParseCompression("lzma"); err == nil || !bmff.IsKind(err, bmff.KindUsage) {
		t.Errorf("ParseCompression(\"lzma\"): err = %v, want a usage error", err)
	}
}

func TestCompressionTypeCodes(t *testing.T) {
	schemes := []Compression{CompressionOff, CompressionDeflate, CompressionZlib, CompressionBrotli}
	codes := []string{"\x00\x00\x00\x00", "defl", "zlib", "brot"}
	for i, c := range schemes {
		if got := c.TypeCode(); got != codes[i] {
			t.Errorf("%s.TypeCode() = %q, want %q", c, got, codes[i])
		}
		back, ok := compressionFromType(codes[i])
		if !ok || back != c {
			t.Errorf("compressionFromType(%q) = (%v, %v), want %v", codes[i], back, ok, c)
		}
	}
	// An absent cmpC field decodes as raw storage.
	if c, ok := compressionFromType(""); !ok || c != CompressionOff {
		t.Errorf("compressionFromType(\"\") = (%v, %v), want off", c, ok)
	}
	if _, ok := compressionFromType("lzma"); ok {
		t.Error("compressionFromType accepted an unknown code")
	}
}

// decompressUnit caps its output at max bytes so inflated streams
// cannot outgrow the frame they claim to fill.
func TestDecompressUnitCap(t *testing.T) {
	data := make([]byte, 4096)
	for _, c := range []Compression{CompressionDeflate, CompressionZlib, CompressionBrotli} {
		t.Run(c.String(), func(t *testing.T) {
			packed, err := compressUnit(data, c)
			if err != nil {
				t.Fatalf("compressUnit: %v", err)
			}
			if _, err := decompressUnit(packed, c, 100); err == nil || !bmff.IsKind(err, bmff.KindInvalidInput) {
				t.Errorf("decompressUnit over cap: err = %v, want an invalid-input error", err)
			}
			if out, err := decompressUnit(packed, c, 4096); err != nil || len(out) != 4096 {
				t.Errorf("decompressUnit at cap = (%d bytes, %v), want the full unit", len(out), err)
			}
		})
	}
	if _, err := decompressUnit(make([]byte, 8), CompressionOff, 4); err == nil || !bmff.IsKind(err, bmff.KindInvalidInput) {
		t.Errorf("raw unit over cap: err = %v, want an invalid-input error", err)
	}
}
