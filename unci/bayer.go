package unci

import "github.com/jdeng/gounci/unci/bmff"

// DemosaicBilinear interpolates a single-plane filter-array image into
// interleaved RGB at the source bit depth. Each output channel of a
// pixel averages the nearest pattern cells carrying that channel:
// within one pattern period around the pixel, skipping neighbors that
// fall outside the image. A pixel's own cell contributes its sample
// directly.
func DemosaicBilinear(img *Image) (*RGBImage, error) {
	if img == nil || len(img.Components) != 1 {
		return nil, usagef("demosaicing requires a single-plane image")
	}
	c := img.Components[0]
	if c.Type != bmff.ComponentFilterArray {
		return nil, usagef("demosaicing requires a filter-array component, not %s", c.Type)
	}
	if c.Format != bmff.FormatUnsigned {
		return nil, unsupportedf("demosaicing %s samples is not implemented yet", c.Format)
	}
	pat := img.Pattern
	if pat == nil {
		return nil, usagef("image carries no filter pattern")
	}
	if err := pat.validate(); err != nil {
		return nil, err
	}
	channels, err := patternChannels(pat)
	if err != nil {
		return nil, err
	}
	offsets := neighborOffsets(pat, channels)

	rgb := NewRGBImage(img.Width, img.Height, c.BitDepth)
	var out [3]uint16
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			cell := (y%pat.Height)*pat.Width + x%pat.Width
			for ch := 0; ch < 3; ch++ {
				var sum uint64
				var count uint64
				for _, o := range offsets[cell][ch] {
					nx, ny := x+o.dx, y+o.dy
					if nx < 0 || nx >= img.Width || ny < 0 || ny >= img.Height {
						continue
					}
					sum += uint64(c.Sample(nx, ny))
					count++
				}
				out[ch] = 0
				if count > 0 {
					out[ch] = uint16((sum + count/2) / count)
				}
			}
			rgb.SetRGB(x, y, out[0], out[1], out[2])
		}
	}
	return rgb, nil
}

// patternChannels maps each filter cell to its RGB output channel.
// Cells sampling anything other than red, green or blue have no RGB
// interpolation.
func patternChannels(pat *FilterPattern) ([]int, error) {
	ch := make([]int, len(pat.Pixels))
	for i, px := range pat.Pixels {
		switch px.Type {
		case bmff.ComponentRed:
			ch[i] = 0
		case bmff.ComponentGreen:
			ch[i] = 1
		case bmff.ComponentBlue:
			ch[i] = 2
		default:
			return nil, unsupportedf("filter pattern samples %s, which has no RGB interpolation yet", px.Type)
		}
	}
	return ch, nil
}

type offset struct {
	dx, dy int
}

// neighborOffsets precomputes, per pattern cell and output channel,
// the relative positions that carry that channel. The cell's own
// channel uses the pixel itself; the other two collect every match
// within one pattern period in each direction, found by wrapping the
// pattern around the cell.
func neighborOffsets(pat *FilterPattern, channels []int) [][3][]offset {
	out := make([][3][]offset, len(pat.Pixels))
	for py := 0; py < pat.Height; py++ {
		for px := 0; px < pat.Width; px++ {
			i := py*pat.Width + px
			for c := 0; c < 3; c++ {
				if channels[i] == c {
					out[i][c] = []offset{{0, 0}}
					continue
				}
				for dy := -(pat.Height - 1); dy <= pat.Height-1; dy++ {
					for dx := -(pat.Width - 1); dx <= pat.Width-1; dx++ {
						ny := wrap(py+dy, pat.Height)
						nx := wrap(px+dx, pat.Width)
						if channels[ny*pat.Width+nx] == c {
							out[i][c] = append(out[i][c], offset{dx, dy})
						}
					}
				}
			}
		}
	}
	return out
}

// wrap reduces a into [0,n), treating negatives as wrapping around.
func wrap(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
