package unci

import (
	"bytes"
	"testing"

	"github.com/jdeng/gounci/unci/bmff"
)

func mustComponent(t *testing.T, img *Image, typ bmff.ComponentType, depth int) *Component {
	t.Helper()
	c, err := img.AddComponent(typ, depth)
	if err != nil {
		t.Fatalf("AddComponent(%v, %d): %v", typ, depth, err)
	}
	return c
}

// fillSequential stores base, base+1, ... row-major. Values wrap at
// the component depth through SetSample's masking.
func fillSequential(c *Component, base int) {
	v := base
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			c.SetSample(x, y, uint16(v))
			v++
		}
	}
}

func compareImages(t *testing.T, got, want *Image) {
	t.Helper()
	if got.Width != want.Width || got.Height != want.Height {
		t.Fatalf("size = %dx%d, want %dx%d", got.Width, got.Height, want.Width, want.Height)
	}
	if got.Sampling != want.Sampling {
		t.Errorf("sampling = %v, want %v", got.Sampling, want.Sampling)
	}
	if len(got.Components) != len(want.Components) {
		t.Fatalf("%d components, want %d", len(got.Components), len(want.Components))
	}
	for i := range want.Components {
		g, w := got.Components[i], want.Components[i]
		if g.Type != w.Type || g.BitDepth != w.BitDepth || g.Format != w.Format {
			t.Errorf("component %d = %v/%d/%v, want %v/%d/%v",
				i, g.Type, g.BitDepth, g.Format, w.Type, w.BitDepth, w.Format)
		}
		if !bytes.Equal(g.Pix, w.Pix) {
			t.Errorf("component %d pixels differ", i)
		}
	}
}

// Rows pack most significant bit first and flush to a byte boundary,
// so the 3-bit rows 5,3,6 and 7,1,2 become exactly two bytes each.
func TestEncodePackedRows(t *testing.T) {
	img := NewImage(3, 2, bmff.SamplingNone)
	c := mustComponent(t, img, bmff.ComponentMonochrome, 3)
	for i, v := range []uint16{5, 3, 6, 7, 1, 2} {
		c.SetSample(i%3, i/3, v)
	}
	enc, err := EncodeFrame(img, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	want := []byte{0xaf, 0x00, 0xe5, 0x00}
	if !bytes.Equal(enc.Payload, want) {
		t.Errorf("payload = % x, want % x", enc.Payload, want)
	}
	if n := len(enc.UncC.Components); n != 1 {
		t.Fatalf("uncC has %d components, want 1", n)
	}
	if d := enc.UncC.Components[0].BitDepth; d != 3 {
		t.Errorf("coded bit depth = %d, want 3", d)
	}
	if enc.UncC.ComponentsLittleEndian {
		t.Errorf("little-endian flag set for bit-packed samples")
	}
	if enc.CmpC != nil || enc.Icef != nil {
		t.Errorf("uncompressed frame emitted compression boxes")
	}
}

func TestEncodeTileOrder(t *testing.T) {
	img := NewImage(4, 4, bmff.SamplingNone)
	c := mustComponent(t, img, bmff.ComponentMonochrome, 8)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			c.SetSample(x, y, uint16(4*y+x))
		}
	}
	enc, err := EncodeFrame(img, &Options{TileCols: 2, TileRows: 2})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	want := []byte{
		0, 1, 4, 5, // tile (0,0)
		2, 3, 6, 7, // tile (1,0)
		8, 9, 12, 13, // tile (0,1)
		10, 11, 14, 15, // tile (1,1)
	}
	if !bytes.Equal(enc.Payload, want) {
		t.Errorf("payload = % x, want % x", enc.Payload, want)
	}
	if enc.UncC.NumTileCols != 2 || enc.UncC.NumTileRows != 2 {
		t.Errorf("tile grid = %dx%d, want 2x2", enc.UncC.NumTileCols, enc.UncC.NumTileRows)
	}
}

// Byte-multiple depths go on the wire in the plane's native little
// endian order so rows copy verbatim; the uncC flag records that.
func TestEncodeLittleEndian(t *testing.T) {
	img := NewImage(2, 1, bmff.SamplingNone)
	c := mustComponent(t, img, bmff.ComponentMonochrome, 16)
	c.SetSample(0, 0, 0x0102)
	c.SetSample(1, 0, 0x0304)
	enc, err := EncodeFrame(img, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if !enc.UncC.ComponentsLittleEndian {
		t.Errorf("little-endian flag not set for 16-bit samples")
	}
	want := []byte{0x02, 0x01, 0x04, 0x03}
	if !bytes.Equal(enc.Payload, want) {
		t.Errorf("payload = % x, want % x", enc.Payload, want)
	}
}

func TestEncodeChromaPlanes(t *testing.T) {
	img := NewImage(4, 2, bmff.Sampling420)
	yc := mustComponent(t, img, bmff.ComponentY, 8)
	cb := mustComponent(t, img, bmff.ComponentCb, 8)
	cr := mustComponent(t, img, bmff.ComponentCr, 8)
	if cb.Width != 2 || cb.Height != 1 {
		t.Fatalf("chroma plane = %dx%d, want 2x1", cb.Width, cb.Height)
	}
	fillSequential(yc, 1)    // 1..8
	fillSequential(cb, 0x20) // 0x20, 0x21
	fillSequential(cr, 0x30) // 0x30, 0x31
	enc, err := EncodeFrame(img, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	want := []byte{
		0x01, 0x02, 0x03, 0x04,
		0x05, 0x06, 0x07, 0x08,
		0x20, 0x21,
		0x30, 0x31,
	}
	if !bytes.Equal(enc.Payload, want) {
		t.Errorf("payload = % x, want % x", enc.Payload, want)
	}
	if enc.UncC.SamplingType != bmff.Sampling420 {
		t.Errorf("sampling = %v, want %v", enc.UncC.SamplingType, bmff.Sampling420)
	}
}

// Pattern component types get reference-only cmpd entries, appended in
// first use order after the coded components.
func TestEncodePatternReferences(t *testing.T) {
	img := NewImage(2, 2, bmff.SamplingNone)
	mustComponent(t, img, bmff.ComponentFilterArray, 8)
	img.Pattern = PatternRGGB()
	enc, err := EncodeFrame(img, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	wantTypes := []bmff.ComponentType{
		bmff.ComponentFilterArray,
		bmff.ComponentRed,
		bmff.ComponentGreen,
		bmff.ComponentBlue,
	}
	if len(enc.Cmpd.Components) != len(wantTypes) {
		t.Fatalf("cmpd has %d components, want %d", len(enc.Cmpd.Components), len(wantTypes))
	}
	for i, want := range wantTypes {
		if got := enc.Cmpd.Components[i].Type; got != want {
			t.Errorf("cmpd[%d] = %v, want %v", i, got, want)
		}
	}
	// Only the filter-array plane is coded.
	if len(enc.UncC.Components) != 1 || enc.UncC.Components[0].Index != 0 {
		t.Errorf("uncC components = %+v, want the single plane 0", enc.UncC.Components)
	}
	if enc.Cpat == nil {
		t.Fatal("no cpat box emitted")
	}
	wantCells := []uint32{1, 2, 2, 3}
	for i, cell := range enc.Cpat.Cells {
		if cell.ComponentIndex != wantCells[i] || cell.Gain != 1 {
			t.Errorf("cell %d = {%d %v}, want {%d 1}", i, cell.ComponentIndex, cell.Gain, wantCells[i])
		}
	}
}

func TestEncodeCompressedUnits(t *testing.T) {
	img := NewImage(4, 2, bmff.SamplingNone)
	c := mustComponent(t, img, bmff.ComponentMonochrome, 8)
	fillSequential(c, 0)

	t.Run("per tile", func(t *testing.T) {
		enc, err := EncodeFrame(img, &Options{
			TileCols:    2,
			Compression: CompressionDeflate,
			UnitType:    bmff.UnitTile,
		})
		if err != nil {
			t.Fatalf("EncodeFrame: %v", err)
		}
		if enc.CmpC == nil || enc.CmpC.CompressionType != "defl" || enc.CmpC.UnitType != bmff.UnitTile {
			t.Fatalf("cmpC = %+v, want defl per-tile", enc.CmpC)
		}
		if enc.Icef == nil || len(enc.Icef.Units) != 2 {
			t.Fatalf("icef = %+v, want 2 units", enc.Icef)
		}
		u := enc.Icef.Units
		if u[0].Offset != 0 || u[1].Offset != u[0].Size {
			t.Errorf("units are not contiguous: %+v", u)
		}
		if total := u[0].Size + u[1].Size; total != uint64(len(enc.Payload)) {
			t.Errorf("unit sizes sum to %d, payload is %d bytes", total, len(enc.Payload))
		}
		got, err := DecodeFrame(enc.FrameProperties, enc.Payload)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		compareImages(t, got, img)
	})

	t.Run("whole image", func(t *testing.T) {
		enc, err := EncodeFrame(img, &Options{
			Compression: CompressionBrotli,
			UnitType:    bmff.UnitImage,
		})
		if err != nil {
			t.Fatalf("EncodeFrame: %v", err)
		}
		if enc.CmpC == nil || enc.CmpC.CompressionType != "brot" {
			t.Fatalf("cmpC = %+v, want brot", enc.CmpC)
		}
		if enc.Icef != nil {
			t.Errorf("single-unit frame emitted an icef box")
		}
		got, err := DecodeFrame(enc.FrameProperties, enc.Payload)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		compareImages(t, got, img)
	})
}

func TestEncodeMetadataCarryOver(t *testing.T) {
	img := NewImage(2, 2, bmff.SamplingNone)
	c := mustComponent(t, img, bmff.ComponentMonochrome, 8)
	fillSequential(c, 9)
	img.ChromaLocation = &bmff.ChromaLocationBox{Location: 2}
	img.Polarizations = []*bmff.PolarizationPatternBox{{
		ComponentIndices: []uint32{0},
		PatternWidth:     1,
		PatternHeight:    1,
		Angles:           []float32{45},
	}}
	img.BadPixelMaps = []*bmff.BadPixelsMapBox{{
		ComponentIndices: []uint32{0},
		BadRows:          []uint32{1},
	}}
	img.NUCs = []*bmff.NonUniformityCorrectionBox{{
		ComponentIndices: []uint32{0},
		ImageWidth:       1,
		ImageHeight:      1,
		Gains:            []float32{1.5},
		Offsets:          []float32{-3},
	}}

	enc, err := EncodeFrame(img, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if enc.Cloc != img.ChromaLocation {
		t.Errorf("cloc box not carried over")
	}
	if len(enc.Splz) != 1 || enc.Splz[0] != img.Polarizations[0] {
		t.Errorf("splz boxes not carried over")
	}
	if len(enc.Sbpm) != 1 || len(enc.Snuc) != 1 {
		t.Errorf("sbpm/snuc boxes not carried over")
	}

	got, err := DecodeFrame(enc.FrameProperties, enc.Payload)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.ChromaLocation != enc.Cloc {
		t.Errorf("decoded image lost the chroma location")
	}
	if len(got.Polarizations) != 1 || got.Polarizations[0].Angles[0] != 45 {
		t.Errorf("decoded image lost the polarization pattern")
	}
	if len(got.BadPixelMaps) != 1 || len(got.NUCs) != 1 {
		t.Errorf("decoded image lost sensor metadata")
	}
}

func TestEncodeValidation(t *testing.T) {
	valid := func() *Image {
		img := NewImage(4, 2, bmff.SamplingNone)
		mustComponent(t, img, bmff.ComponentMonochrome, 8)
		return img
	}
	tests := []struct {
		name string
		img  func() *Image
		opts *Options
	}{
		{"nil image", func() *Image { return nil }, nil},
		{"no components", func() *Image { return NewImage(4, 2, bmff.SamplingNone) }, nil},
		{"zero dimensions", func() *Image {
			img := valid()
			img.Width = 0
			return img
		}, nil},
		{"negative tiles", valid, &Options{TileCols: -1}},
		{"indivisible tile grid", valid, &Options{TileCols: 3}},
		{"chroma pairs split across tiles", func() *Image {
			img := NewImage(6, 2, bmff.Sampling422)
			mustComponent(t, img, bmff.ComponentY, 8)
			mustComponent(t, img, bmff.ComponentCb, 8)
			mustComponent(t, img, bmff.ComponentCr, 8)
			return img
		}, &Options{TileCols: 2}},
		{"chroma rows split across tiles", func() *Image {
			img := NewImage(4, 6, bmff.Sampling420)
			mustComponent(t, img, bmff.ComponentY, 8)
			mustComponent(t, img, bmff.ComponentCb, 8)
			mustComponent(t, img, bmff.ComponentCr, 8)
			return img
		}, &Options{TileRows: 2}},
		{"bit depth out of range", func() *Image {
			img := valid()
			img.Components[0].BitDepth = 21
			return img
		}, nil},
		{"plane size mismatch", func() *Image {
			img := valid()
			img.Components[0].Width = 7
			return img
		}, nil},
		{"pattern does not tile the image", func() *Image {
			img := NewImage(3, 3, bmff.SamplingNone)
			mustComponent(t, img, bmff.ComponentFilterArray, 8)
			img.Pattern = PatternRGGB()
			return img
		}, nil},
		{"unknown unit granularity", valid, &Options{Compression: CompressionZlib, UnitType: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeFrame(tt.img(), tt.opts)
			if err == nil {
				t.Fatal("EncodeFrame succeeded, want error")
			}
			if !bmff.IsKind(err, bmff.KindUsage) {
				t.Errorf("error = %v, want a usage error", err)
			}
		})
	}
}
