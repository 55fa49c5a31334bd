package unci

import (
	"testing"

	"github.com/jdeng/gounci/unci/bmff"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		name  string
		side  int
		cells []bmff.ComponentType
	}{
		{"rggb", 2, []bmff.ComponentType{
			bmff.ComponentRed, bmff.ComponentGreen,
			bmff.ComponentGreen, bmff.ComponentBlue,
		}},
		{"RGGB", 2, nil},
		{"rgbw", 4, nil},
		{"qbc", 4, nil},
		{"grbg", 2, []bmff.ComponentType{
			bmff.ComponentGreen, bmff.ComponentRed,
			bmff.ComponentBlue, bmff.ComponentGreen,
		}},
		{"bggrbggrbggrbggr", 4, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePattern(tt.name)
			if err != nil {
				t.Fatalf("ParsePattern(%q): %v", tt.name, err)
			}
			if p.Width != tt.side || p.Height != tt.side {
				t.Fatalf("pattern is %dx%d, want %dx%d", p.Width, p.Height, tt.side, tt.side)
			}
			if len(p.Pixels) != tt.side*tt.side {
				t.Fatalf("%d cells, want %d", len(p.Pixels), tt.side*tt.side)
			}
			for i, px := range p.Pixels {
				if px.Gain != 1 {
					t.Errorf("cell %d gain = %v, want 1", i, px.Gain)
				}
				if tt.cells != nil && px.Type != tt.cells[i] {
					t.Errorf("cell %d = %v, want %v", i, px.Type, tt.cells[i])
				}
			}
		})
	}

	for _, bad := range []string{"", "foo", "rgba", "rgbrgbrgb", "rggx"} {
		if _, err := ParsePattern(bad); err == nil || !bmff.IsKind(err, bmff.KindUsage) {
			t.Errorf("ParsePattern(%q): err = %v, want a usage error", bad, err)
		}
	}
}

func TestMosaicSampling(t *testing.T) {
	rgb := NewRGBImage(2, 2, 8)
	rgb.SetRGB(0, 0, 1, 2, 3)
	rgb.SetRGB(1, 0, 4, 5, 6)
	rgb.SetRGB(0, 1, 7, 8, 9)
	rgb.SetRGB(1, 1, 10, 11, 12)

	pat := PatternRGGB()
	img, err := Mosaic(rgb, pat)
	if err != nil {
		t.Fatalf("Mosaic: %v", err)
	}
	if img.Pattern != pat {
		t.Error("mosaic did not attach the pattern")
	}
	c := img.Components[0]
	if c.Type != bmff.ComponentFilterArray || c.BitDepth != 8 {
		t.Fatalf("plane is %v depth %d, want filter array depth 8", c.Type, c.BitDepth)
	}
	// Each cell keeps only the channel its pattern position admits.
	want := []uint16{1, 5, 8, 12}
	for i, w := range want {
		if got := c.Sample(i%2, i/2); got != w {
			t.Errorf("sample (%d,%d) = %d, want %d", i%2, i/2, got, w)
		}
	}
}

// White cells of an RGBW layout store the channel average.
func TestMosaicWhiteCells(t *testing.T) {
	rgb := NewRGBImage(4, 4, 8)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			rgb.SetRGB(x, y, 10, 20, 33)
		}
	}
	pat := PatternRGBW()
	img, err := Mosaic(rgb, pat)
	if err != nil {
		t.Fatalf("Mosaic: %v", err)
	}
	c := img.Components[0]
	for i, px := range pat.Pixels {
		var want uint16
		switch px.Type {
		case bmff.ComponentRed:
			want = 10
		case bmff.ComponentGreen:
			want = 20
		case bmff.ComponentBlue:
			want = 33
		case bmff.ComponentY:
			want = 21 // (10+20+33)/3
		}
		if got := c.Sample(i%4, i/4); got != want {
			t.Errorf("cell %d (%v) = %d, want %d", i, px.Type, got, want)
		}
	}
}

func TestMosaicErrors(t *testing.T) {
	rgb := NewRGBImage(2, 2, 8)
	tests := []struct {
		name string
		rgb  *RGBImage
		pat  *FilterPattern
	}{
		{"nil source", nil, PatternRGGB()},
		{"nil pattern", rgb, nil},
		{"bad pattern", rgb, &FilterPattern{Width: 2, Height: 2, Pixels: make([]PatternPixel, 3)}},
		{"not a multiple", NewRGBImage(3, 3, 8), PatternRGGB()},
		{"zero size", NewRGBImage(0, 0, 8), PatternRGGB()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Mosaic(tt.rgb, tt.pat); err == nil || !bmff.IsKind(err, bmff.KindUsage) {
				t.Errorf("Mosaic: err = %v, want a usage error", err)
			}
		})
	}
}
