package unci

import (
	"encoding/binary"

	"github.com/jdeng/gounci/unci/bmff"
)

// Image is the uncompressed sample buffer the codec consumes and
// produces. Samples live in per-component planes: one byte per sample
// for bit depths up to 8, two bytes little-endian for deeper samples.
// Chroma components (Cb, Cr) are stored at the subsampled plane size
// implied by Sampling; all other components use the full image size.
type Image struct {
	Width, Height int
	Sampling      bmff.SamplingType
	Components    []*Component

	// Sensor metadata carried through encode and decode.
	Pattern        *FilterPattern
	Polarizations  []*bmff.PolarizationPatternBox
	BadPixelMaps   []*bmff.BadPixelsMapBox
	NUCs           []*bmff.NonUniformityCorrectionBox
	ChromaLocation *bmff.ChromaLocationBox
}

// Component is a single sample plane.
type Component struct {
	Type     bmff.ComponentType
	BitDepth int // 1 to 16
	Format   bmff.SampleFormat

	Width, Height int // plane dimensions, after subsampling
	Stride        int // bytes per row
	Pix           []byte
}

// FilterPattern describes the color filter array in front of a
// single-plane sensor image. Pixels are stored row-major and name the
// component type seen through each cell, with a per-cell analog gain.
type FilterPattern struct {
	Width, Height int
	Pixels        []PatternPixel
}

// PatternPixel is one cell of a filter pattern.
type PatternPixel struct {
	Type bmff.ComponentType
	Gain float32
}

// NewImage returns an empty image of the given dimensions. Components
// are added with AddComponent.
func NewImage(width, height int, sampling bmff.SamplingType) *Image {
	return &Image{Width: width, Height: height, Sampling: sampling}
}

// AddComponent allocates a plane for the given component type and bit
// depth and appends it to the image. The plane size accounts for
// chroma subsampling. Samples are unsigned; set Format afterwards for
// anything else.
func (img *Image) AddComponent(typ bmff.ComponentType, bitDepth int) (*Component, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return nil, usagef("image dimensions must be non-zero")
	}
	if bitDepth < 1 || bitDepth > 16 {
		return nil, usagef("component bit depth %d out of range [1,16]", bitDepth)
	}
	w, h := planeDims(img.Width, img.Height, typ, img.Sampling)
	c := &Component{
		Type:     typ,
		BitDepth: bitDepth,
		Format:   bmff.FormatUnsigned,
		Width:    w,
		Height:   h,
	}
	c.Stride = w * c.BytesPerSample()
	c.Pix = make([]byte, c.Stride*h)
	img.Components = append(img.Components, c)
	return c, nil
}

// ComponentByType returns the first component of the given type, or
// nil if the image has none.
func (img *Image) ComponentByType(typ bmff.ComponentType) *Component {
	for _, c := range img.Components {
		if c.Type == typ {
			return c
		}
	}
	return nil
}

// BytesPerSample reports the in-memory sample width: one byte up to
// 8-bit depth, two bytes beyond.
func (c *Component) BytesPerSample() int {
	if c.BitDepth > 8 {
		return 2
	}
	return 1
}

// Row returns the raw bytes of plane row y.
func (c *Component) Row(y int) []byte {
	return c.Pix[y*c.Stride : y*c.Stride+c.Width*c.BytesPerSample()]
}

// Sample returns the sample at plane coordinates (x, y).
func (c *Component) Sample(x, y int) uint16 {
	if c.BitDepth > 8 {
		return binary.LittleEndian.Uint16(c.Pix[y*c.Stride+2*x:])
	}
	return uint16(c.Pix[y*c.Stride+x])
}

// SetSample stores a sample at plane coordinates (x, y). Bits above
// the component depth are discarded.
func (c *Component) SetSample(x, y int, v uint16) {
	v &= uint16(1)<<uint(c.BitDepth) - 1
	if c.BitDepth > 8 {
		binary.LittleEndian.PutUint16(c.Pix[y*c.Stride+2*x:], v)
		return
	}
	c.Pix[y*c.Stride+x] = byte(v)
}

// subsampled reports which axes of a component are halved under the
// given sampling mode. Only chroma planes subsample.
func subsampled(typ bmff.ComponentType, s bmff.SamplingType) (horiz, vert bool) {
	if typ != bmff.ComponentCb && typ != bmff.ComponentCr {
		return false, false
	}
	switch s {
	case bmff.Sampling422:
		return true, false
	case bmff.Sampling420:
		return true, true
	}
	return false, false
}

// planeDims returns the plane size of a component within an image of
// the given dimensions, rounding subsampled axes up.
func planeDims(w, h int, typ bmff.ComponentType, s bmff.SamplingType) (int, int) {
	horiz, vert := subsampled(typ, s)
	if horiz {
		w = (w + 1) / 2
	}
	if vert {
		h = (h + 1) / 2
	}
	return w, h
}

// tileRegion maps the image-space tile [x0,x1)x[y0,y1) into plane
// coordinates for a component, halving subsampled axes. Tile origins
// must sit on even image coordinates along subsampled axes so that no
// chroma sample straddles two tiles; callers validate that before
// slicing.
func tileRegion(typ bmff.ComponentType, s bmff.SamplingType, x0, x1, y0, y1 int) (px, py, pw, ph int) {
	horiz, vert := subsampled(typ, s)
	px, pw = x0, x1-x0
	if horiz {
		px = x0 / 2
		pw = (x1+1)/2 - x0/2
	}
	py, ph = y0, y1-y0
	if vert {
		py = y0 / 2
		ph = (y1+1)/2 - y0/2
	}
	return px, py, pw, ph
}

// validate checks the structural integrity of a filter pattern.
func (p *FilterPattern) validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return usagef("filter pattern dimensions must be non-zero")
	}
	if len(p.Pixels) != p.Width*p.Height {
		return usagef("filter pattern has %d pixels, want %d", len(p.Pixels), p.Width*p.Height)
	}
	return nil
}

// RGBImage is an interleaved RGB buffer: three samples per pixel, one
// byte each up to 8-bit depth and two bytes little-endian beyond. It
// is the output of demosaicing and the input to mosaic synthesis.
type RGBImage struct {
	Width, Height int
	BitDepth      int // 1 to 16
	Stride        int // bytes per row
	Pix           []byte
}

// NewRGBImage allocates an interleaved RGB buffer.
func NewRGBImage(width, height, bitDepth int) *RGBImage {
	p := &RGBImage{Width: width, Height: height, BitDepth: bitDepth}
	bps := 1
	if bitDepth > 8 {
		bps = 2
	}
	p.Stride = width * 3 * bps
	p.Pix = make([]byte, p.Stride*height)
	return p
}

// RGB returns the pixel at (x, y).
func (p *RGBImage) RGB(x, y int) (r, g, b uint16) {
	if p.BitDepth > 8 {
		i := y*p.Stride + 6*x
		return binary.LittleEndian.Uint16(p.Pix[i:]),
			binary.LittleEndian.Uint16(p.Pix[i+2:]),
			binary.LittleEndian.Uint16(p.Pix[i+4:])
	}
	i := y*p.Stride + 3*x
	return uint16(p.Pix[i]), uint16(p.Pix[i+1]), uint16(p.Pix[i+2])
}

// SetRGB stores the pixel at (x, y).
func (p *RGBImage) SetRGB(x, y int, r, g, b uint16) {
	if p.BitDepth > 8 {
		i := y*p.Stride + 6*x
		binary.LittleEndian.PutUint16(p.Pix[i:], r)
		binary.LittleEndian.PutUint16(p.Pix[i+2:], g)
		binary.LittleEndian.PutUint16(p.Pix[i+4:], b)
		return
	}
	i := y*p.Stride + 3*x
	p.Pix[i], p.Pix[i+1], p.Pix[i+2] = byte(r), byte(g), byte(b)
}
