package bmff

import (
	"fmt"
	"math"
	"strings"
)

// ChromaLocationBox is the "cloc" box: where chroma samples sit
// relative to luma, as a chroma location code 0..6 (ITU-T H.273).
type ChromaLocationBox struct {
	FullBox
	Location uint8
}

// Horizontal and vertical chroma offsets by location code, in luma
// sample units.
var clocPositions = [7][2]string{
	{"0", "0.5"},
	{"0.5", "0.5"},
	{"0", "0"},
	{"0.5", "0"},
	{"0", "1"},
	{"0.5", "1"},
	{"0", "0"},
}

func (b *ChromaLocationBox) Type() BoxType { return TypeCloc }

func parseChromaLocationBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBoxVersion0(outer, br)
	if err != nil {
		return nil, err
	}
	cl := &ChromaLocationBox{FullBox: fb}
	cl.Location, _ = br.readUint8()
	if !br.ok() {
		return nil, br.err
	}
	if cl.Location > 6 {
		return nil, invalidf(SubBadParameterValue, "chroma location %d out of range", cl.Location)
	}
	return cl, nil
}

func (b *ChromaLocationBox) payloadSize() (int64, error) {
	if b.Location > 6 {
		return 0, usagef("chroma location %d out of range", b.Location)
	}
	return fullBoxHeaderLen + 1, nil
}

func (b *ChromaLocationBox) marshalPayload(w *writer) error {
	w.writeFullBoxHeader(b.Version, b.Flags)
	w.writeUint8(b.Location)
	return w.err
}

func (b *ChromaLocationBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeCloc, b.box)
	b.dumpVersionFlags(&sb)
	h, v := "?", "?"
	if int(b.Location) < len(clocPositions) {
		h, v = clocPositions[b.Location][0], clocPositions[b.Location][1]
	}
	fmt.Fprintf(&sb, "chroma_location: %d (%-7sv=%s)\n", b.Location, "h="+h+",", v)
	return sb.String()
}

// ComponentPatternBox is the "cpat" box: the repeating filter-array
// cell grid of a sensor, e.g. a Bayer mosaic. Each cell names the cmpd
// component captured at that position and a gain to apply to it.
type ComponentPatternBox struct {
	FullBox
	PatternWidth  uint16
	PatternHeight uint16
	Cells         []PatternCell // row-major, PatternWidth x PatternHeight
}

// PatternCell is one cpat grid position.
type PatternCell struct {
	ComponentIndex uint32
	Gain           float32
}

func (b *ComponentPatternBox) Type() BoxType { return TypeCpat }

func parseComponentPatternBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBoxVersion0(outer, br)
	if err != nil {
		return nil, err
	}
	cp := &ComponentPatternBox{FullBox: fb}
	cp.PatternWidth, _ = br.readUint16()
	cp.PatternHeight, _ = br.readUint16()
	if !br.ok() {
		return nil, br.err
	}
	count := uint32(cp.PatternWidth) * uint32(cp.PatternHeight)
	if err := br.limits.checkPatternPixels(count); err != nil {
		return nil, err
	}
	if !br.reserve(count, 8) {
		return nil, br.err
	}
	cp.Cells = make([]PatternCell, 0, allocHint(uint64(count)))
	for i := uint32(0); i < count && br.ok(); i++ {
		idx, _ := br.readUint32()
		gain, _ := br.readFloat32()
		cp.Cells = append(cp.Cells, PatternCell{ComponentIndex: idx, Gain: gain})
	}
	if !br.ok() {
		return nil, br.err
	}
	return cp, nil
}

func (b *ComponentPatternBox) payloadSize() (int64, error) {
	if len(b.Cells) != int(b.PatternWidth)*int(b.PatternHeight) {
		return 0, usagef("pattern of %dx%d needs %d cells, have %d",
			b.PatternWidth, b.PatternHeight, int(b.PatternWidth)*int(b.PatternHeight), len(b.Cells))
	}
	return fullBoxHeaderLen + 4 + int64(len(b.Cells))*8, nil
}

func (b *ComponentPatternBox) marshalPayload(w *writer) error {
	w.writeFullBoxHeader(b.Version, b.Flags)
	w.writeUint16(b.PatternWidth)
	w.writeUint16(b.PatternHeight)
	for _, c := range b.Cells {
		w.writeUint32(c.ComponentIndex)
		w.writeFloat32(c.Gain)
	}
	return w.err
}

func (b *ComponentPatternBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeCpat, b.box)
	b.dumpVersionFlags(&sb)
	fmt.Fprintf(&sb, "pattern_width: %d\n", b.PatternWidth)
	fmt.Fprintf(&sb, "pattern_height: %d\n", b.PatternHeight)
	w := int(b.PatternWidth)
	for i, c := range b.Cells {
		x, y := i, 0
		if w > 0 {
			x, y = i%w, i/w
		}
		fmt.Fprintf(&sb, "  [%d,%d]: component_index %d, gain %v\n", x, y, c.ComponentIndex, c.Gain)
	}
	return sb.String()
}

// PolarizationPatternBox is the "splz" box: the repeating grid of
// polarization angles captured by the listed components.
type PolarizationPatternBox struct {
	FullBox
	ComponentIndices []uint32
	PatternWidth     uint16
	PatternHeight    uint16
	Angles           []float32 // degrees; row-major, PatternWidth x PatternHeight
}

func (b *PolarizationPatternBox) Type() BoxType { return TypeSplz }

func parsePolarizationPatternBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBoxVersion0(outer, br)
	if err != nil {
		return nil, err
	}
	pp := &PolarizationPatternBox{FullBox: fb}
	count, _ := br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	if err := br.limits.checkComponents(count); err != nil {
		return nil, err
	}
	if !br.reserve(count, 4) {
		return nil, br.err
	}
	pp.ComponentIndices = make([]uint32, 0, allocHint(uint64(count)))
	for i := uint32(0); i < count && br.ok(); i++ {
		idx, _ := br.readUint32()
		pp.ComponentIndices = append(pp.ComponentIndices, idx)
	}
	pp.PatternWidth, _ = br.readUint16()
	pp.PatternHeight, _ = br.readUint16()
	if !br.ok() {
		return nil, br.err
	}
	cells := uint32(pp.PatternWidth) * uint32(pp.PatternHeight)
	if err := br.limits.checkPatternPixels(cells); err != nil {
		return nil, err
	}
	if !br.reserve(cells, 4) {
		return nil, br.err
	}
	pp.Angles = make([]float32, 0, allocHint(uint64(cells)))
	for i := uint32(0); i < cells && br.ok(); i++ {
		a, _ := br.readFloat32()
		pp.Angles = append(pp.Angles, a)
	}
	if !br.ok() {
		return nil, br.err
	}
	return pp, nil
}

func (b *PolarizationPatternBox) payloadSize() (int64, error) {
	if int64(len(b.ComponentIndices)) > math.MaxUint32 {
		return 0, usagef("%d component indices do not fit the splz count field", len(b.ComponentIndices))
	}
	if len(b.Angles) != int(b.PatternWidth)*int(b.PatternHeight) {
		return 0, usagef("pattern of %dx%d needs %d angles, have %d",
			b.PatternWidth, b.PatternHeight, int(b.PatternWidth)*int(b.PatternHeight), len(b.Angles))
	}
	return fullBoxHeaderLen + 4 + int64(len(b.ComponentIndices))*4 + 4 + int64(len(b.Angles))*4, nil
}

func (b *PolarizationPatternBox) marshalPayload(w *writer) error {
	w.writeFullBoxHeader(b.Version, b.Flags)
	w.writeUint32(uint32(len(b.ComponentIndices)))
	for _, idx := range b.ComponentIndices {
		w.writeUint32(idx)
	}
	w.writeUint16(b.PatternWidth)
	w.writeUint16(b.PatternHeight)
	for _, a := range b.Angles {
		w.writeFloat32(a)
	}
	return w.err
}

func (b *PolarizationPatternBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeSplz, b.box)
	b.dumpVersionFlags(&sb)
	fmt.Fprintf(&sb, "component_count: %d\n", len(b.ComponentIndices))
	for i, idx := range b.ComponentIndices {
		fmt.Fprintf(&sb, "  component_index[%d]: %d\n", i, idx)
	}
	fmt.Fprintf(&sb, "pattern_width: %d\n", b.PatternWidth)
	fmt.Fprintf(&sb, "pattern_height: %d\n", b.PatternHeight)
	w := int(b.PatternWidth)
	for i, a := range b.Angles {
		x, y := i, 0
		if w > 0 {
			x, y = i%w, i/w
		}
		fmt.Fprintf(&sb, "  [%d,%d]: %v degrees\n", x, y, a)
	}
	return sb.String()
}

// BadPixelsMapBox is the "sbpm" box: known-defective sensor rows,
// columns, and individual pixels for the listed components.
type BadPixelsMapBox struct {
	FullBox
	ComponentIndices  []uint32
	CorrectionApplied bool
	BadRows           []uint32
	BadColumns        []uint32
	BadPixels         []BadPixel
}

// BadPixel is one defective sensor position.
type BadPixel struct {
	Row    uint32
	Column uint32
}

func (b *BadPixelsMapBox) Type() BoxType { return TypeSbpm }

func parseBadPixelsMapBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBoxVersion0(outer, br)
	if err != nil {
		return nil, err
	}
	bp := &BadPixelsMapBox{FullBox: fb}
	count, _ := br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	if err := br.limits.checkComponents(count); err != nil {
		return nil, err
	}
	if !br.reserve(count, 4) {
		return nil, br.err
	}
	bp.ComponentIndices = make([]uint32, 0, allocHint(uint64(count)))
	for i := uint32(0); i < count && br.ok(); i++ {
		idx, _ := br.readUint32()
		bp.ComponentIndices = append(bp.ComponentIndices, idx)
	}
	flags, _ := br.readUint8()
	bp.CorrectionApplied = flags&0x80 != 0
	numRows, _ := br.readUint32()
	numCols, _ := br.readUint32()
	numPixels, _ := br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	if !br.reserve(numRows, 4) || !br.reserve(numCols, 4) || !br.reserve(numPixels, 8) {
		return nil, br.err
	}
	bp.BadRows = make([]uint32, 0, allocHint(uint64(numRows)))
	for i := uint32(0); i < numRows && br.ok(); i++ {
		row, _ := br.readUint32()
		bp.BadRows = append(bp.BadRows, row)
	}
	bp.BadColumns = make([]uint32, 0, allocHint(uint64(numCols)))
	for i := uint32(0); i < numCols && br.ok(); i++ {
		col, _ := br.readUint32()
		bp.BadColumns = append(bp.BadColumns, col)
	}
	bp.BadPixels = make([]BadPixel, 0, allocHint(uint64(numPixels)))
	for i := uint32(0); i < numPixels && br.ok(); i++ {
		row, _ := br.readUint32()
		col, _ := br.readUint32()
		bp.BadPixels = append(bp.BadPixels, BadPixel{Row: row, Column: col})
	}
	if !br.ok() {
		return nil, br.err
	}
	return bp, nil
}

func (b *BadPixelsMapBox) payloadSize() (int64, error) {
	if int64(len(b.ComponentIndices)) > math.MaxUint32 {
		return 0, usagef("%d component indices do not fit the sbpm count field", len(b.ComponentIndices))
	}
	if int64(len(b.BadRows)) > math.MaxUint32 || int64(len(b.BadColumns)) > math.MaxUint32 || int64(len(b.BadPixels)) > math.MaxUint32 {
		return 0, usagef("bad pixel lists do not fit the sbpm count fields")
	}
	n := int64(fullBoxHeaderLen)
	n += 4 + int64(len(b.ComponentIndices))*4
	n += 1 + 12
	n += int64(len(b.BadRows))*4 + int64(len(b.BadColumns))*4 + int64(len(b.BadPixels))*8
	return n, nil
}

func (b *BadPixelsMapBox) marshalPayload(w *writer) error {
	w.writeFullBoxHeader(b.Version, b.Flags)
	w.writeUint32(uint32(len(b.ComponentIndices)))
	for _, idx := range b.ComponentIndices {
		w.writeUint32(idx)
	}
	var flags uint8
	if b.CorrectionApplied {
		flags |= 0x80
	}
	w.writeUint8(flags)
	w.writeUint32(uint32(len(b.BadRows)))
	w.writeUint32(uint32(len(b.BadColumns)))
	w.writeUint32(uint32(len(b.BadPixels)))
	for _, row := range b.BadRows {
		w.writeUint32(row)
	}
	for _, col := range b.BadColumns {
		w.writeUint32(col)
	}
	for _, p := range b.BadPixels {
		w.writeUint32(p.Row)
		w.writeUint32(p.Column)
	}
	return w.err
}

func (b *BadPixelsMapBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeSbpm, b.box)
	b.dumpVersionFlags(&sb)
	fmt.Fprintf(&sb, "component_count: %d\n", len(b.ComponentIndices))
	for i, idx := range b.ComponentIndices {
		fmt.Fprintf(&sb, "  component_index[%d]: %d\n", i, idx)
	}
	fmt.Fprintf(&sb, "correction_applied: %d\n", b2i(b.CorrectionApplied))
	fmt.Fprintf(&sb, "bad_rows: %d values\n", len(b.BadRows))
	fmt.Fprintf(&sb, "bad_columns: %d values\n", len(b.BadColumns))
	fmt.Fprintf(&sb, "bad_pixels: %d values\n", len(b.BadPixels))
	return sb.String()
}

// NonUniformityCorrectionBox is the "snuc" box: per-pixel gain/offset
// calibration for the listed components. The gain and offset tables
// each hold ImageWidth x ImageHeight values.
type NonUniformityCorrectionBox struct {
	FullBox
	ComponentIndices []uint32
	Applied          bool
	ImageWidth       uint32
	ImageHeight      uint32
	Gains            []float32
	Offsets          []float32
}

func (b *NonUniformityCorrectionBox) Type() BoxType { return TypeSnuc }

func parseNonUniformityCorrectionBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBoxVersion0(outer, br)
	if err != nil {
		return nil, err
	}
	nc := &NonUniformityCorrectionBox{FullBox: fb}
	count, _ := br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	if err := br.limits.checkComponents(count); err != nil {
		return nil, err
	}
	if !br.reserve(count, 4) {
		return nil, br.err
	}
	nc.ComponentIndices = make([]uint32, 0, allocHint(uint64(count)))
	for i := uint32(0); i < count && br.ok(); i++ {
		idx, _ := br.readUint32()
		nc.ComponentIndices = append(nc.ComponentIndices, idx)
	}
	flags, _ := br.readUint8()
	nc.Applied = flags&0x80 != 0
	nc.ImageWidth, _ = br.readUint32()
	nc.ImageHeight, _ = br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	// Two float tables of width x height each. The pixel product fits
	// a uint64, but eight bytes per pixel can wrap an int64, so the
	// count is bounded before the reservation multiplies it.
	pixels := uint64(nc.ImageWidth) * uint64(nc.ImageHeight)
	if pixels > math.MaxInt64/8 {
		br.err = invalidf(SubNone, "nuc table size for a %dx%d image overflows", nc.ImageWidth, nc.ImageHeight)
		return nil, br.err
	}
	if err := br.alloc.reserve(int64(pixels)*8, br.limits); err != nil {
		br.err = err
		return nil, err
	}
	nc.Gains = make([]float32, 0, allocHint(pixels))
	for i := uint64(0); i < pixels && br.ok(); i++ {
		g, _ := br.readFloat32()
		nc.Gains = append(nc.Gains, g)
	}
	nc.Offsets = make([]float32, 0, allocHint(pixels))
	for i := uint64(0); i < pixels && br.ok(); i++ {
		o, _ := br.readFloat32()
		nc.Offsets = append(nc.Offsets, o)
	}
	if !br.ok() {
		return nil, br.err
	}
	return nc, nil
}

func (b *NonUniformityCorrectionBox) payloadSize() (int64, error) {
	if int64(len(b.ComponentIndices)) > math.MaxUint32 {
		return 0, usagef("%d component indices do not fit the snuc count field", len(b.ComponentIndices))
	}
	pixels := uint64(b.ImageWidth) * uint64(b.ImageHeight)
	if uint64(len(b.Gains)) != pixels || uint64(len(b.Offsets)) != pixels {
		return 0, usagef("nuc tables for a %dx%d image need %d values, have %d gains and %d offsets",
			b.ImageWidth, b.ImageHeight, pixels, len(b.Gains), len(b.Offsets))
	}
	n := int64(fullBoxHeaderLen)
	n += 4 + int64(len(b.ComponentIndices))*4
	n += 1 + 8
	n += int64(len(b.Gains))*4 + int64(len(b.Offsets))*4
	return n, nil
}

func (b *NonUniformityCorrectionBox) marshalPayload(w *writer) error {
	w.writeFullBoxHeader(b.Version, b.Flags)
	w.writeUint32(uint32(len(b.ComponentIndices)))
	for _, idx := range b.ComponentIndices {
		w.writeUint32(idx)
	}
	var flags uint8
	if b.Applied {
		flags |= 0x80
	}
	w.writeUint8(flags)
	w.writeUint32(b.ImageWidth)
	w.writeUint32(b.ImageHeight)
	for _, g := range b.Gains {
		w.writeFloat32(g)
	}
	for _, o := range b.Offsets {
		w.writeFloat32(o)
	}
	return w.err
}

func (b *NonUniformityCorrectionBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeSnuc, b.box)
	b.dumpVersionFlags(&sb)
	fmt.Fprintf(&sb, "component_count: %d\n", len(b.ComponentIndices))
	for i, idx := range b.ComponentIndices {
		fmt.Fprintf(&sb, "  component_index[%d]: %d\n", i, idx)
	}
	fmt.Fprintf(&sb, "nuc_is_applied: %d\n", b2i(b.Applied))
	fmt.Fprintf(&sb, "image_width: %d\n", b.ImageWidth)
	fmt.Fprintf(&sb, "image_height: %d\n", b.ImageHeight)
	fmt.Fprintf(&sb, "nuc_gains: %d values\n", len(b.Gains))
	fmt.Fprintf(&sb, "nuc_offsets: %d values\n", len(b.Offsets))
	return sb.String()
}
