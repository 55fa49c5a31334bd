package unci

import (
	"strings"

	"github.com/jdeng/gounci/unci/bmff"
)

// Built-in color filter array layouts. Gains default to 1; callers
// wanting per-cell gains adjust the returned pattern.

// PatternRGGB returns the classic 2x2 Bayer layout.
func PatternRGGB() *FilterPattern {
	return patternOf(2, 2,
		bmff.ComponentRed, bmff.ComponentGreen,
		bmff.ComponentGreen, bmff.ComponentBlue,
	)
}

// PatternRGBW returns a 4x4 RGBW layout. White cells are represented
// as luma and are synthesized from (r+g+b)/3 when building a mosaic.
func PatternRGBW() *FilterPattern {
	y, r, g, b := bmff.ComponentY, bmff.ComponentRed, bmff.ComponentGreen, bmff.ComponentBlue
	return patternOf(4, 4,
		y, g, y, r,
		g, y, b, y,
		y, b, y, g,
		r, y, g, y,
	)
}

// PatternQBC returns a 4x4 quad Bayer coding layout: each Bayer cell
// covers a 2x2 block of same-colored pixels.
func PatternQBC() *FilterPattern {
	r, g, b := bmff.ComponentRed, bmff.ComponentGreen, bmff.ComponentBlue
	return patternOf(4, 4,
		g, g, r, r,
		g, g, r, r,
		b, b, g, g,
		b, b, g, g,
	)
}

// ParsePattern resolves a pattern name: one of the built-in names
// ("rggb", "rgbw", "qbc") or a custom cell string of R, G and B
// characters, 4 characters for a 2x2 layout or 16 for 4x4, given in
// row-major order.
func ParsePattern(name string) (*FilterPattern, error) {
	switch strings.ToLower(name) {
	case "rggb":
		return PatternRGGB(), nil
	case "rgbw":
		return PatternRGBW(), nil
	case "qbc":
		return PatternQBC(), nil
	}

	var side int
	switch len(name) {
	case 4:
		side = 2
	case 16:
		side = 4
	default:
		return nil, usagef("pattern %q: want a known name or 4 or 16 cell characters", name)
	}
	types := make([]bmff.ComponentType, 0, len(name))
	for _, ch := range strings.ToLower(name) {
		switch ch {
		case 'r':
			types = append(types, bmff.ComponentRed)
		case 'g':
			types = append(types, bmff.ComponentGreen)
		case 'b':
			types = append(types, bmff.ComponentBlue)
		default:
			return nil, usagef("pattern %q: cell characters must be R, G or B", name)
		}
	}
	return patternOf(side, side, types...), nil
}

func patternOf(w, h int, types ...bmff.ComponentType) *FilterPattern {
	p := &FilterPattern{Width: w, Height: h, Pixels: make([]PatternPixel, len(types))}
	for i, t := range types {
		p.Pixels[i] = PatternPixel{Type: t, Gain: 1}
	}
	return p
}

// Mosaic synthesizes a single-plane filter-array image by sampling an
// interleaved RGB source through the pattern: each output pixel keeps
// only the channel its pattern cell admits. Luma cells (white) take
// the average of the three channels. The source dimensions must be
// exact multiples of the pattern size.
func Mosaic(rgb *RGBImage, pat *FilterPattern) (*Image, error) {
	if rgb == nil || pat == nil {
		return nil, usagef("mosaic requires a source image and a pattern")
	}
	if err := pat.validate(); err != nil {
		return nil, err
	}
	if rgb.Width <= 0 || rgb.Height <= 0 {
		return nil, usagef("image dimensions must be non-zero")
	}
	if rgb.Width%pat.Width != 0 || rgb.Height%pat.Height != 0 {
		return nil, usagef("image size %dx%d is not a multiple of the %dx%d pattern",
			rgb.Width, rgb.Height, pat.Width, pat.Height)
	}

	img := NewImage(rgb.Width, rgb.Height, bmff.SamplingNone)
	comp, err := img.AddComponent(bmff.ComponentFilterArray, rgb.BitDepth)
	if err != nil {
		return nil, err
	}
	for y := 0; y < rgb.Height; y++ {
		for x := 0; x < rgb.Width; x++ {
			cell := pat.Pixels[(y%pat.Height)*pat.Width+x%pat.Width]
			r, g, b := rgb.RGB(x, y)
			var v uint16
			switch cell.Type {
			case bmff.ComponentRed:
				v = r
			case bmff.ComponentGreen:
				v = g
			case bmff.ComponentBlue:
				v = b
			case bmff.ComponentY:
				v = uint16((uint32(r) + uint32(g) + uint32(b)) / 3)
			default:
				return nil, usagef("pattern cell type %s cannot be sampled from RGB", cell.Type)
			}
			comp.SetSample(x, y, v)
		}
	}
	img.Pattern = pat
	return img, nil
}
