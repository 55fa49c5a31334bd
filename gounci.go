// Package gounci registers image.Image support for the "unci"
// uncompressed image container. Decode and Encode map between the
// standard image types and per-component sample planes; filter-array
// images tagged with a pattern are demosaiced on decode.
package gounci

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/jdeng/gounci/unci"
	"github.com/jdeng/gounci/unci/bmff"
)

// Decode reads a container and reconstructs its primary image. The
// component set and bit depths pick the result type: monochrome
// becomes Gray or Gray16, 8-bit Y/Cb/Cr becomes YCbCr, red/green/blue
// becomes RGBA or RGBA64, and an alpha plane selects NRGBA or
// NRGBA64. Samples deeper than 8 bits are widened to the 16-bit
// range.
func Decode(r io.Reader) (image.Image, error) {
	ra, err := asReaderAt(r)
	if err != nil {
		return nil, err
	}
	it, err := unci.Open(ra).PrimaryImage()
	if err != nil {
		return nil, err
	}
	frame, err := it.Decode()
	if err != nil {
		return nil, err
	}
	return imageFromFrame(frame)
}

// DecodeConfig returns the dimensions and color model of the first
// image without touching its coded payload.
func DecodeConfig(r io.Reader) (image.Config, error) {
	props, err := unci.ReadProperties(r, bmff.DefaultLimits())
	if err != nil {
		return image.Config{}, err
	}
	model, err := colorModelOf(props)
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{
		ColorModel: model,
		Width:      int(props.Ispe.ImageWidth),
		Height:     int(props.Ispe.ImageHeight),
	}, nil
}

// Encode writes m as a single-image container. Nil opts store the
// image as one uncompressed tile.
func Encode(w io.Writer, m image.Image, opts *unci.Options) error {
	frame, err := frameFromImage(m)
	if err != nil {
		return err
	}
	enc, err := unci.EncodeFrame(frame, opts)
	if err != nil {
		return err
	}
	b := unci.NewBuilder()
	if _, err := b.AddImage(enc); err != nil {
		return err
	}
	return b.Write(w)
}

func imageFromFrame(frame *unci.Image) (image.Image, error) {
	if frame.Pattern != nil && len(frame.Components) == 1 &&
		frame.Components[0].Type == bmff.ComponentFilterArray {
		rgb, err := unci.DemosaicBilinear(frame)
		if err != nil {
			return nil, err
		}
		return rgbaFromRGB(rgb), nil
	}

	eight := true
	for _, c := range frame.Components {
		if c.BitDepth != 8 {
			eight = false
		}
	}

	if len(frame.Components) == 1 {
		c := frame.Components[0]
		if c.Type == bmff.ComponentMonochrome || c.Type == bmff.ComponentY {
			return grayImage(c, frame.Width, frame.Height), nil
		}
	}
	if comps, ok := pick(frame, bmff.ComponentY, bmff.ComponentCb, bmff.ComponentCr); ok {
		return ycbcrImage(frame, comps[0], comps[1], comps[2], eight)
	}
	if comps, ok := pick(frame, bmff.ComponentRed, bmff.ComponentGreen, bmff.ComponentBlue); ok {
		return rgbaImage(frame, comps, eight), nil
	}
	if comps, ok := pick(frame, bmff.ComponentRed, bmff.ComponentGreen, bmff.ComponentBlue, bmff.ComponentAlpha); ok {
		return nrgbaImage(frame, comps, eight), nil
	}
	return nil, fmt.Errorf("gounci: component set %v has no image mapping", componentTypes(frame))
}

// pick collects the frame's components in the requested order. It
// reports false unless the frame holds exactly the requested types.
func pick(frame *unci.Image, types ...bmff.ComponentType) ([]*unci.Component, bool) {
	if len(frame.Components) != len(types) {
		return nil, false
	}
	out := make([]*unci.Component, len(types))
	for i, t := range types {
		c := frame.ComponentByType(t)
		if c == nil {
			return nil, false
		}
		out[i] = c
	}
	return out, true
}

func componentTypes(frame *unci.Image) []bmff.ComponentType {
	types := make([]bmff.ComponentType, len(frame.Components))
	for i, c := range frame.Components {
		types[i] = c.Type
	}
	return types
}

func grayImage(c *unci.Component, w, h int) image.Image {
	rect := image.Rect(0, 0, w, h)
	if c.BitDepth == 8 {
		dst := image.NewGray(rect)
		for y := 0; y < h; y++ {
			copy(dst.Pix[y*dst.Stride:], c.Row(y))
		}
		return dst
	}
	dst := image.NewGray16(rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			binary.BigEndian.PutUint16(dst.Pix[y*dst.Stride+2*x:], scale16(c.Sample(x, y), c.BitDepth))
		}
	}
	return dst
}

func ycbcrImage(frame *unci.Image, yc, cb, cr *unci.Component, eight bool) (image.Image, error) {
	if !eight {
		return nil, fmt.Errorf("gounci: YCbCr deeper than 8 bits has no image mapping")
	}
	var ratio image.YCbCrSubsampleRatio
	switch frame.Sampling {
	case bmff.SamplingNone:
		ratio = image.YCbCrSubsampleRatio444
	case bmff.Sampling422:
		ratio = image.YCbCrSubsampleRatio422
	case bmff.Sampling420:
		ratio = image.YCbCrSubsampleRatio420
	default:
		return nil, fmt.Errorf("gounci: %s sampling has no image mapping", frame.Sampling)
	}
	dst := image.NewYCbCr(image.Rect(0, 0, frame.Width, frame.Height), ratio)
	for y := 0; y < yc.Height; y++ {
		copy(dst.Y[y*dst.YStride:], yc.Row(y))
	}
	for y := 0; y < cb.Height; y++ {
		copy(dst.Cb[y*dst.CStride:], cb.Row(y))
		copy(dst.Cr[y*dst.CStride:], cr.Row(y))
	}
	return dst, nil
}

func rgbaImage(frame *unci.Image, comps []*unci.Component, eight bool) image.Image {
	rect := image.Rect(0, 0, frame.Width, frame.Height)
	r, g, b := comps[0], comps[1], comps[2]
	if eight {
		dst := image.NewRGBA(rect)
		for y := 0; y < frame.Height; y++ {
			i := y * dst.Stride
			for x := 0; x < frame.Width; x++ {
				dst.Pix[i] = byte(r.Sample(x, y))
				dst.Pix[i+1] = byte(g.Sample(x, y))
				dst.Pix[i+2] = byte(b.Sample(x, y))
				dst.Pix[i+3] = 0xFF
				i += 4
			}
		}
		return dst
	}
	dst := image.NewRGBA64(rect)
	for y := 0; y < frame.Height; y++ {
		i := y * dst.Stride
		for x := 0; x < frame.Width; x++ {
			binary.BigEndian.PutUint16(dst.Pix[i:], scale16(r.Sample(x, y), r.BitDepth))
			binary.BigEndian.PutUint16(dst.Pix[i+2:], scale16(g.Sample(x, y), g.BitDepth))
			binary.BigEndian.PutUint16(dst.Pix[i+4:], scale16(b.Sample(x, y), b.BitDepth))
			binary.BigEndian.PutUint16(dst.Pix[i+6:], 0xFFFF)
			i += 8
		}
	}
	return dst
}

func nrgbaImage(frame *unci.Image, comps []*unci.Component, eight bool) image.Image {
	rect := image.Rect(0, 0, frame.Width, frame.Height)
	if eight {
		dst := image.NewNRGBA(rect)
		for y := 0; y < frame.Height; y++ {
			i := y * dst.Stride
			for x := 0; x < frame.Width; x++ {
				for k, c := range comps {
					dst.Pix[i+k] = byte(c.Sample(x, y))
				}
				i += 4
			}
		}
		return dst
	}
	dst := image.NewNRGBA64(rect)
	for y := 0; y < frame.Height; y++ {
		i := y * dst.Stride
		for x := 0; x < frame.Width; x++ {
			for k, c := range comps {
				binary.BigEndian.PutUint16(dst.Pix[i+2*k:], scale16(c.Sample(x, y), c.BitDepth))
			}
			i += 8
		}
	}
	return dst
}

func rgbaFromRGB(src *unci.RGBImage) image.Image {
	rect := image.Rect(0, 0, src.Width, src.Height)
	if src.BitDepth == 8 {
		dst := image.NewRGBA(rect)
		for y := 0; y < src.Height; y++ {
			i := y * dst.Stride
			for x := 0; x < src.Width; x++ {
				r, g, b := src.RGB(x, y)
				dst.Pix[i] = byte(r)
				dst.Pix[i+1] = byte(g)
				dst.Pix[i+2] = byte(b)
				dst.Pix[i+3] = 0xFF
				i += 4
			}
		}
		return dst
	}
	dst := image.NewRGBA64(rect)
	for y := 0; y < src.Height; y++ {
		i := y * dst.Stride
		for x := 0; x < src.Width; x++ {
			r, g, b := src.RGB(x, y)
			binary.BigEndian.PutUint16(dst.Pix[i:], scale16(r, src.BitDepth))
			binary.BigEndian.PutUint16(dst.Pix[i+2:], scale16(g, src.BitDepth))
			binary.BigEndian.PutUint16(dst.Pix[i+4:], scale16(b, src.BitDepth))
			binary.BigEndian.PutUint16(dst.Pix[i+6:], 0xFFFF)
			i += 8
		}
	}
	return dst
}

func colorModelOf(props *unci.FrameProperties) (color.Model, error) {
	types := make([]bmff.ComponentType, 0, len(props.UncC.Components))
	eight := true
	for _, uc := range props.UncC.Components {
		if int(uc.Index) >= len(props.Cmpd.Components) {
			return nil, fmt.Errorf("gounci: component reference %d is out of bounds", uc.Index)
		}
		types = append(types, props.Cmpd.Components[uc.Index].Type)
		if uc.BitDepth != 8 {
			eight = false
		}
	}
	has := func(want ...bmff.ComponentType) bool {
		if len(types) != len(want) {
			return false
		}
	outer:
		for _, w := range want {
			for _, t := range types {
				if t == w {
					continue outer
				}
			}
			return false
		}
		return true
	}
	switch {
	case props.Cpat != nil && has(bmff.ComponentFilterArray):
		if eight {
			return color.RGBAModel, nil
		}
		return color.RGBA64Model, nil
	case has(bmff.ComponentMonochrome), has(bmff.ComponentY):
		if eight {
			return color.GrayModel, nil
		}
		return color.Gray16Model, nil
	case has(bmff.ComponentY, bmff.ComponentCb, bmff.ComponentCr):
		if !eight {
			return nil, fmt.Errorf("gounci: YCbCr deeper than 8 bits has no image mapping")
		}
		return color.YCbCrModel, nil
	case has(bmff.ComponentRed, bmff.ComponentGreen, bmff.ComponentBlue):
		if eight {
			return color.RGBAModel, nil
		}
		return color.RGBA64Model, nil
	case has(bmff.ComponentRed, bmff.ComponentGreen, bmff.ComponentBlue, bmff.ComponentAlpha):
		if eight {
			return color.NRGBAModel, nil
		}
		return color.NRGBA64Model, nil
	}
	return nil, fmt.Errorf("gounci: component set %v has no image mapping", types)
}

func frameFromImage(m image.Image) (*unci.Image, error) {
	switch src := m.(type) {
	case *image.Gray:
		return grayFrame(src)
	case *image.Gray16:
		return gray16Frame(src)
	case *image.YCbCr:
		return ycbcrFrame(src)
	case *image.NRGBA:
		return nrgbaFrame(src)
	case *image.NRGBA64:
		return nrgba64Frame(src)
	case *image.RGBA64:
		return convertFrame(m, true)
	default:
		return convertFrame(m, false)
	}
}

func grayFrame(src *image.Gray) (*unci.Image, error) {
	b := src.Bounds()
	frame := unci.NewImage(b.Dx(), b.Dy(), bmff.SamplingNone)
	c, err := frame.AddComponent(bmff.ComponentMonochrome, 8)
	if err != nil {
		return nil, err
	}
	for y := 0; y < c.Height; y++ {
		i := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(c.Row(y), src.Pix[i:i+c.Width])
	}
	return frame, nil
}

func gray16Frame(src *image.Gray16) (*unci.Image, error) {
	b := src.Bounds()
	frame := unci.NewImage(b.Dx(), b.Dy(), bmff.SamplingNone)
	c, err := frame.AddComponent(bmff.ComponentMonochrome, 16)
	if err != nil {
		return nil, err
	}
	for y := 0; y < c.Height; y++ {
		i := src.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < c.Width; x++ {
			c.SetSample(x, y, binary.BigEndian.Uint16(src.Pix[i+2*x:]))
		}
	}
	return frame, nil
}

func ycbcrFrame(src *image.YCbCr) (*unci.Image, error) {
	var sampling bmff.SamplingType
	switch src.SubsampleRatio {
	case image.YCbCrSubsampleRatio444:
		sampling = bmff.SamplingNone
	case image.YCbCrSubsampleRatio422:
		sampling = bmff.Sampling422
	case image.YCbCrSubsampleRatio420:
		sampling = bmff.Sampling420
	default:
		return nil, fmt.Errorf("gounci: %v subsampling is not encodable", src.SubsampleRatio)
	}
	b := src.Bounds()
	frame := unci.NewImage(b.Dx(), b.Dy(), sampling)
	var planes [3]*unci.Component
	for i, t := range []bmff.ComponentType{bmff.ComponentY, bmff.ComponentCb, bmff.ComponentCr} {
		c, err := frame.AddComponent(t, 8)
		if err != nil {
			return nil, err
		}
		planes[i] = c
	}
	yc, cb, cr := planes[0], planes[1], planes[2]
	for y := 0; y < yc.Height; y++ {
		i := src.YOffset(b.Min.X, b.Min.Y+y)
		copy(yc.Row(y), src.Y[i:i+yc.Width])
	}
	vstep := 1
	if sampling == bmff.Sampling420 {
		vstep = 2
	}
	for y := 0; y < cb.Height; y++ {
		i := src.COffset(b.Min.X, b.Min.Y+y*vstep)
		copy(cb.Row(y), src.Cb[i:i+cb.Width])
		copy(cr.Row(y), src.Cr[i:i+cb.Width])
	}
	return frame, nil
}

func nrgbaFrame(src *image.NRGBA) (*unci.Image, error) {
	b := src.Bounds()
	frame := unci.NewImage(b.Dx(), b.Dy(), bmff.SamplingNone)
	comps, err := addComponents(frame, 8, true)
	if err != nil {
		return nil, err
	}
	for y := 0; y < b.Dy(); y++ {
		i := src.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < b.Dx(); x++ {
			for k, c := range comps {
				c.Pix[y*c.Stride+x] = src.Pix[i+k]
			}
			i += 4
		}
	}
	return frame, nil
}

func nrgba64Frame(src *image.NRGBA64) (*unci.Image, error) {
	b := src.Bounds()
	frame := unci.NewImage(b.Dx(), b.Dy(), bmff.SamplingNone)
	comps, err := addComponents(frame, 16, true)
	if err != nil {
		return nil, err
	}
	for y := 0; y < b.Dy(); y++ {
		i := src.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < b.Dx(); x++ {
			for k, c := range comps {
				c.SetSample(x, y, binary.BigEndian.Uint16(src.Pix[i+2*k:]))
			}
			i += 8
		}
	}
	return frame, nil
}

// convertFrame encodes an arbitrary image through color conversion:
// straight 16-bit samples when wide is set, 8-bit otherwise. The
// alpha plane is dropped when the source reports itself opaque.
func convertFrame(m image.Image, wide bool) (*unci.Image, error) {
	b := m.Bounds()
	depth := 8
	if wide {
		depth = 16
	}
	frame := unci.NewImage(b.Dx(), b.Dy(), bmff.SamplingNone)
	comps, err := addComponents(frame, depth, !opaque(m))
	if err != nil {
		return nil, err
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			px := color.NRGBA64Model.Convert(m.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			vals := [4]uint16{px.R, px.G, px.B, px.A}
			for k, c := range comps {
				v := vals[k]
				if !wide {
					v >>= 8
				}
				c.SetSample(x, y, v)
			}
		}
	}
	return frame, nil
}

func addComponents(frame *unci.Image, depth int, alpha bool) ([]*unci.Component, error) {
	types := []bmff.ComponentType{bmff.ComponentRed, bmff.ComponentGreen, bmff.ComponentBlue, bmff.ComponentAlpha}
	if !alpha {
		types = types[:3]
	}
	comps := make([]*unci.Component, len(types))
	for i, t := range types {
		c, err := frame.AddComponent(t, depth)
		if err != nil {
			return nil, err
		}
		comps[i] = c
	}
	return comps, nil
}

func opaque(m image.Image) bool {
	if o, ok := m.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

// scale16 widens a depth-bit sample to the full 16-bit range.
func scale16(v uint16, depth int) uint16 {
	if depth == 16 {
		return v
	}
	max := uint32(1)<<uint(depth) - 1
	return uint16(uint32(v) * 0xFFFF / max)
}

func asReaderAt(r io.Reader) (io.ReaderAt, error) {
	if ra, ok := r.(io.ReaderAt); ok {
		return ra, nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func init() {
	// The magic skips the 4-byte box size, then matches the ftyp
	// fourcc and the major brand.
	image.RegisterFormat("unci", "????ftypunci", Decode, DecodeConfig)
}
