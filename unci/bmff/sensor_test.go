package bmff

import (
	"bytes"
	"errors"
	"testing"
)

func TestChromaLocation(t *testing.T) {
	cloc := &ChromaLocationBox{Location: 2}
	want := []byte{
		0x00, 0x00, 0x00, 0x0d, 'c', 'l', 'o', 'c',
		0x00, 0x00, 0x00, 0x00,
		0x02,
	}
	if got := mustMarshal(t, cloc); !bytes.Equal(got, want) {
		t.Errorf("marshal = % x, want % x", got, want)
	}

	parsed := parseOne(t, want).(*ChromaLocationBox)
	if parsed.Location != 2 {
		t.Errorf("Location = %d, want 2", parsed.Location)
	}
	wantDump := "Box: cloc -----\nsize: 13   (header size: 12)\nversion: 0\nflags: 0\n" +
		"chroma_location: 2 (h=0,   v=0)\n"
	if got := parsed.Dump(); got != wantDump {
		t.Errorf("Dump = %q, want %q", got, wantDump)
	}
}

func TestChromaLocationOutOfRange(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x0d, 'c', 'l', 'o', 'c',
		0x00, 0x00, 0x00, 0x00,
		0x07,
	}
	_, err := parseOneLimits(data, DefaultLimits())
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("parse error = %v, want *Error", err)
	}
	if berr.Kind != KindInvalidInput || berr.Sub != SubBadParameterValue {
		t.Errorf("error = {%v, %d}, want {%v, %d}", berr.Kind, berr.Sub, KindInvalidInput, SubBadParameterValue)
	}

	if err := Marshal(&bytes.Buffer{}, &ChromaLocationBox{Location: 7}); !IsKind(err, KindUsage) {
		t.Errorf("Marshal with location 7 = %v, want usage error", err)
	}
}

func TestPolarizationPattern(t *testing.T) {
	splz := &PolarizationPatternBox{
		ComponentIndices: []uint32{0, 1},
		PatternWidth:     2,
		PatternHeight:    1,
		Angles:           []float32{45.0, 90.0},
	}
	want := []byte{
		0x00, 0x00, 0x00, 0x24, 's', 'p', 'l', 'z',
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x02,
		0x00, 0x01,
		0x42, 0x34, 0x00, 0x00,
		0x42, 0xb4, 0x00, 0x00,
	}
	if got := mustMarshal(t, splz); !bytes.Equal(got, want) {
		t.Errorf("marshal = % x, want % x", got, want)
	}

	parsed := parseOne(t, want).(*PolarizationPatternBox)
	if len(parsed.ComponentIndices) != 2 || parsed.ComponentIndices[0] != 0 || parsed.ComponentIndices[1] != 1 {
		t.Errorf("ComponentIndices = %v, want [0 1]", parsed.ComponentIndices)
	}
	if parsed.PatternWidth != 2 || parsed.PatternHeight != 1 {
		t.Errorf("pattern = %dx%d, want 2x1", parsed.PatternWidth, parsed.PatternHeight)
	}
	if len(parsed.Angles) != 2 || parsed.Angles[0] != 45.0 || parsed.Angles[1] != 90.0 {
		t.Errorf("Angles = %v, want [45 90]", parsed.Angles)
	}

	wantDump := "Box: splz -----\n" +
		"size: 36   (header size: 12)\n" +
		"version: 0\n" +
		"flags: 0\n" +
		"component_count: 2\n" +
		"  component_index[0]: 0\n" +
		"  component_index[1]: 1\n" +
		"pattern_width: 2\n" +
		"pattern_height: 1\n" +
		"  [0,0]: 45 degrees\n" +
		"  [1,0]: 90 degrees\n"
	if got := parsed.Dump(); got != wantDump {
		t.Errorf("Dump = %q, want %q", got, wantDump)
	}
}

func TestNonUniformityCorrection(t *testing.T) {
	snuc := &NonUniformityCorrectionBox{
		ComponentIndices: []uint32{0},
		Applied:          true,
		ImageWidth:       2,
		ImageHeight:      1,
		Gains:            []float32{1.0, 2.0},
		Offsets:          []float32{0.0, 3.0},
	}
	want := []byte{
		0x00, 0x00, 0x00, 0x2d, 's', 'n', 'u', 'c',
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00,
		0x80,
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x01,
		0x3f, 0x80, 0x00, 0x00,
		0x40, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x40, 0x40, 0x00, 0x00,
	}
	if got := mustMarshal(t, snuc); !bytes.Equal(got, want) {
		t.Errorf("marshal = % x, want % x", got, want)
	}

	parsed := parseOne(t, want).(*NonUniformityCorrectionBox)
	if len(parsed.ComponentIndices) != 1 || parsed.ComponentIndices[0] != 0 {
		t.Errorf("ComponentIndices = %v, want [0]", parsed.ComponentIndices)
	}
	if !parsed.Applied {
		t.Error("Applied = false, want true")
	}
	if parsed.ImageWidth != 2 || parsed.ImageHeight != 1 {
		t.Errorf("image = %dx%d, want 2x1", parsed.ImageWidth, parsed.ImageHeight)
	}
	if len(parsed.Gains) != 2 || parsed.Gains[0] != 1.0 || parsed.Gains[1] != 2.0 {
		t.Errorf("Gains = %v, want [1 2]", parsed.Gains)
	}
	if len(parsed.Offsets) != 2 || parsed.Offsets[0] != 0.0 || parsed.Offsets[1] != 3.0 {
		t.Errorf("Offsets = %v, want [0 3]", parsed.Offsets)
	}

	wantDump := "Box: snuc -----\n" +
		"size: 45   (header size: 12)\n" +
		"version: 0\n" +
		"flags: 0\n" +
		"component_count: 1\n" +
		"  component_index[0]: 0\n" +
		"nuc_is_applied: 1\n" +
		"image_width: 2\n" +
		"image_height: 1\n" +
		"nuc_gains: 2 values\n" +
		"nuc_offsets: 2 values\n"
	if got := parsed.Dump(); got != wantDump {
		t.Errorf("Dump = %q, want %q", got, wantDump)
	}
}

func TestNonUniformityCorrectionTableOverflow(t *testing.T) {
	// The declared 2^31 x 2^30 image needs more table bytes than an
	// int64 holds.
	data := []byte{
		0x00, 0x00, 0x00, 0x1d, 's', 'n', 'u', 'c',
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00,
		0x00,
		0x80, 0x00, 0x00, 0x00,
		0x40, 0x00, 0x00, 0x00,
	}
	_, err := parseOneLimits(data, DefaultLimits())
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("parse error = %v, want *Error", err)
	}
	if berr.Kind != KindInvalidInput {
		t.Errorf("error kind = %v, want %v", berr.Kind, KindInvalidInput)
	}
}

func TestComponentPatternRoundTrip(t *testing.T) {
	// 2x2 RGGB mosaic referencing cmpd entries 1 (red), 2 (green),
	// 3 (blue).
	cpat := &ComponentPatternBox{
		PatternWidth:  2,
		PatternHeight: 2,
		Cells: []PatternCell{
			{ComponentIndex: 1, Gain: 1.0},
			{ComponentIndex: 2, Gain: 0.5},
			{ComponentIndex: 2, Gain: 0.5},
			{ComponentIndex: 3, Gain: 1.0},
		},
	}
	data := mustMarshal(t, cpat)
	wantLen := 8 + 4 + 4 + 4*8
	if len(data) != wantLen {
		t.Fatalf("marshaled %d bytes, want %d", len(data), wantLen)
	}

	parsed := parseOne(t, data).(*ComponentPatternBox)
	if parsed.PatternWidth != 2 || parsed.PatternHeight != 2 {
		t.Errorf("pattern = %dx%d, want 2x2", parsed.PatternWidth, parsed.PatternHeight)
	}
	if len(parsed.Cells) != 4 {
		t.Fatalf("parsed %d cells, want 4", len(parsed.Cells))
	}
	for i, c := range parsed.Cells {
		if c != cpat.Cells[i] {
			t.Errorf("cell %d = %+v, want %+v", i, c, cpat.Cells[i])
		}
	}
	if got := mustMarshal(t, parsed); !bytes.Equal(got, data) {
		t.Errorf("re-marshal = % x, want % x", got, data)
	}
}

func TestComponentPatternCellLimit(t *testing.T) {
	var cells []PatternCell
	for i := 0; i < 17*17; i++ {
		cells = append(cells, PatternCell{ComponentIndex: 0, Gain: 1.0})
	}
	cpat := &ComponentPatternBox{PatternWidth: 17, PatternHeight: 17, Cells: cells}
	data := mustMarshal(t, cpat)

	limits := DefaultLimits()
	limits.MaxPatternPixels = 256
	_, err := parseOneLimits(data, limits)
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("parse error = %v, want *Error", err)
	}
	if berr.Kind != KindInvalidInput || berr.Sub != SubLimitExceeded {
		t.Errorf("error = {%v, %d}, want {%v, %d}", berr.Kind, berr.Sub, KindInvalidInput, SubLimitExceeded)
	}

	// The same bytes parse fine without limits.
	if _, err := parseOneLimits(data, nil); err != nil {
		t.Errorf("parse without limits: %v", err)
	}
}

func TestBadPixelsMapRoundTrip(t *testing.T) {
	sbpm := &BadPixelsMapBox{
		ComponentIndices:  []uint32{0, 1, 2},
		CorrectionApplied: true,
		BadRows:           []uint32{7},
		BadColumns:        []uint32{3, 11},
		BadPixels:         []BadPixel{{Row: 1, Column: 2}, {Row: 5, Column: 8}},
	}
	data := mustMarshal(t, sbpm)

	parsed := parseOne(t, data).(*BadPixelsMapBox)
	if len(parsed.ComponentIndices) != 3 {
		t.Fatalf("parsed %d component indices, want 3", len(parsed.ComponentIndices))
	}
	if !parsed.CorrectionApplied {
		t.Error("CorrectionApplied = false, want true")
	}
	if len(parsed.BadRows) != 1 || parsed.BadRows[0] != 7 {
		t.Errorf("BadRows = %v, want [7]", parsed.BadRows)
	}
	if len(parsed.BadColumns) != 2 || parsed.BadColumns[0] != 3 || parsed.BadColumns[1] != 11 {
		t.Errorf("BadColumns = %v, want [3 11]", parsed.BadColumns)
	}
	if len(parsed.BadPixels) != 2 || parsed.BadPixels[0] != (BadPixel{1, 2}) || parsed.BadPixels[1] != (BadPixel{5, 8}) {
		t.Errorf("BadPixels = %v", parsed.BadPixels)
	}
	if got := mustMarshal(t, parsed); !bytes.Equal(got, data) {
		t.Errorf("re-marshal = % x, want % x", got, data)
	}

	wantDump := "Box: sbpm -----\n" +
		"size: 69   (header size: 12)\n" +
		"version: 0\n" +
		"flags: 0\n" +
		"component_count: 3\n" +
		"  component_index[0]: 0\n" +
		"  component_index[1]: 1\n" +
		"  component_index[2]: 2\n" +
		"correction_applied: 1\n" +
		"bad_rows: 1 values\n" +
		"bad_columns: 2 values\n" +
		"bad_pixels: 2 values\n"
	if got := parsed.Dump(); got != wantDump {
		t.Errorf("Dump = %q, want %q", got, wantDump)
	}
}
