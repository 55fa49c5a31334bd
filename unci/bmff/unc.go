package bmff

import (
	"fmt"
	"math"
	"strings"
)

// ComponentType identifies what an image component carries. Values at
// or above 0x8000 are user-defined and carry a URI.
type ComponentType uint16

const (
	ComponentMonochrome ComponentType = iota
	ComponentY
	ComponentCb
	ComponentCr
	ComponentRed
	ComponentGreen
	ComponentBlue
	ComponentAlpha
	ComponentDepth
	ComponentDisparity
	ComponentPalette
	ComponentFilterArray
	ComponentPadded
	ComponentCyan
	ComponentMagenta
	ComponentYellow
	ComponentKey
)

var componentTypeNames = [...]string{
	"monochrome", "Y", "Cb", "Cr", "red", "green", "blue", "alpha",
	"depth", "disparity", "palette", "filter array", "padded",
	"cyan", "magenta", "yellow", "key (black)",
}

func (t ComponentType) String() string {
	if int(t) < len(componentTypeNames) {
		return componentTypeNames[t]
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// SampleFormat is the numeric interpretation of a component's samples.
type SampleFormat uint8

const (
	FormatUnsigned SampleFormat = iota
	FormatSigned
	FormatFloat
	FormatComplex
)

func (f SampleFormat) String() string {
	switch f {
	case FormatUnsigned:
		return "unsigned"
	case FormatSigned:
		return "signed"
	case FormatFloat:
		return "float"
	case FormatComplex:
		return "complex"
	default:
		return fmt.Sprintf("unknown (%d)", uint8(f))
	}
}

// SamplingType is the chroma subsampling applied to Cb/Cr components.
type SamplingType uint8

const (
	SamplingNone SamplingType = iota
	Sampling422
	Sampling420
	Sampling411
)

func (s SamplingType) String() string {
	switch s {
	case SamplingNone:
		return "no subsampling"
	case Sampling422:
		return "4:2:2 (YCbCr)"
	case Sampling420:
		return "4:2:0 (YCbCr)"
	case Sampling411:
		return "4:1:1 (YCbCr)"
	default:
		return fmt.Sprintf("unknown (%d)", uint8(s))
	}
}

// InterleaveType is the ordering of component samples within the coded
// payload.
type InterleaveType uint8

const (
	InterleaveComponent InterleaveType = iota
	InterleavePixel
	InterleaveMixed
	InterleaveRow
	InterleaveTileComponent
	InterleaveMultiY
)

func (i InterleaveType) String() string {
	switch i {
	case InterleaveComponent:
		return "component"
	case InterleavePixel:
		return "pixel"
	case InterleaveMixed:
		return "mixed"
	case InterleaveRow:
		return "row"
	case InterleaveTileComponent:
		return "tile-component"
	case InterleaveMultiY:
		return "multi-y"
	default:
		return fmt.Sprintf("unknown (%d)", uint8(i))
	}
}

// FourCC packs a 4-character code into its big-endian numeric form.
func FourCC(s string) uint32 {
	if len(s) != 4 {
		panic("bogus fourCC length")
	}
	return uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3])
}

func fourCCString(v uint32) string {
	return string([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}

// ComponentDefinitionBox is the "cmpd" box: the ordered list of
// components that the other boxes reference by index. It is a plain
// box, not a full box.
type ComponentDefinitionBox struct {
	*box
	Components []ComponentDefinition
}

// ComponentDefinition is one cmpd entry.
type ComponentDefinition struct {
	Type ComponentType
	URI  string // only for Type >= 0x8000
}

func (b *ComponentDefinitionBox) Type() BoxType { return TypeCmpd }

func parseComponentDefinitionBox(outer *box, br *bufReader) (Box, error) {
	cd := &ComponentDefinitionBox{box: outer}
	count, _ := br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	if err := br.limits.checkComponents(count); err != nil {
		return nil, err
	}
	if !br.reserve(count, 32) {
		return nil, br.err
	}
	cd.Components = make([]ComponentDefinition, 0, allocHint(uint64(count)))
	for i := uint32(0); i < count && br.ok(); i++ {
		typ, _ := br.readUint16()
		c := ComponentDefinition{Type: ComponentType(typ)}
		if c.Type >= 0x8000 {
			c.URI, _ = br.readString()
		}
		cd.Components = append(cd.Components, c)
	}
	if !br.ok() {
		return nil, br.err
	}
	return cd, nil
}

func (b *ComponentDefinitionBox) payloadSize() (int64, error) {
	if int64(len(b.Components)) > math.MaxUint32 {
		return 0, usagef("%d components do not fit the cmpd count field", len(b.Components))
	}
	n := int64(4)
	for _, c := range b.Components {
		n += 2
		if c.Type >= 0x8000 {
			n += int64(len(c.URI)) + 1
		} else if c.URI != "" {
			return 0, usagef("component type %s cannot carry a URI", c.Type)
		}
	}
	return n, nil
}

func (b *ComponentDefinitionBox) marshalPayload(w *writer) error {
	w.writeUint32(uint32(len(b.Components)))
	for _, c := range b.Components {
		w.writeUint16(uint16(c.Type))
		if c.Type >= 0x8000 {
			w.writeString(c.URI)
		}
	}
	return w.err
}

func (b *ComponentDefinitionBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeCmpd, b.box)
	for _, c := range b.Components {
		fmt.Fprintf(&sb, "component_type: %s\n", c.Type)
		if c.Type >= 0x8000 {
			fmt.Fprintf(&sb, "| component_type_uri: %s\n", c.URI)
		}
	}
	return sb.String()
}

// UncompressedFrameConfigBox is the "uncC" box: the layout descriptor
// for the uncompressed coded payload.
type UncompressedFrameConfigBox struct {
	FullBox
	Profile    uint32 // four-character profile code, or 0
	Components []UncompressedComponent

	SamplingType   SamplingType
	InterleaveType InterleaveType
	BlockSize      uint8

	ComponentsLittleEndian bool
	BlockPadLSB            bool
	BlockLittleEndian      bool
	BlockReversed          bool
	PadUnknown             bool

	PixelSize     uint32
	RowAlignSize  uint32
	TileAlignSize uint32

	// Tile counts. The wire stores count minus one; these hold the
	// count itself, so the full 32-bit range plus one is representable.
	NumTileCols uint64
	NumTileRows uint64
}

// UncompressedComponent is one uncC entry. Index refers to the cmpd
// component list.
type UncompressedComponent struct {
	Index     uint16
	BitDepth  uint16 // 1..256; the wire stores depth minus one
	Format    SampleFormat
	AlignSize uint8
}

func (b *UncompressedFrameConfigBox) Type() BoxType { return TypeUncC }

func parseUncompressedFrameConfigBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBoxVersion0(outer, br)
	if err != nil {
		return nil, err
	}
	uc := &UncompressedFrameConfigBox{FullBox: fb}
	uc.Profile, _ = br.readUint32()
	count, _ := br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	if err := br.limits.checkComponents(count); err != nil {
		return nil, err
	}
	if !br.reserve(count, 8) {
		return nil, br.err
	}
	uc.Components = make([]UncompressedComponent, 0, allocHint(uint64(count)))
	for i := uint32(0); i < count && br.ok(); i++ {
		idx, _ := br.readUint16()
		depthMinusOne, _ := br.readUint8()
		format, _ := br.readUint8()
		align, _ := br.readUint8()
		uc.Components = append(uc.Components, UncompressedComponent{
			Index:     idx,
			BitDepth:  uint16(depthMinusOne) + 1,
			Format:    SampleFormat(format),
			AlignSize: align,
		})
	}
	sampling, _ := br.readUint8()
	interleave, _ := br.readUint8()
	uc.SamplingType = SamplingType(sampling)
	uc.InterleaveType = InterleaveType(interleave)
	uc.BlockSize, _ = br.readUint8()
	flags, _ := br.readUint8()
	uc.ComponentsLittleEndian = flags&0x80 != 0
	uc.BlockPadLSB = flags&0x40 != 0
	uc.BlockLittleEndian = flags&0x20 != 0
	uc.BlockReversed = flags&0x10 != 0
	uc.PadUnknown = flags&0x08 != 0
	uc.PixelSize, _ = br.readUint32()
	uc.RowAlignSize, _ = br.readUint32()
	uc.TileAlignSize, _ = br.readUint32()
	colsMinusOne, _ := br.readUint32()
	rowsMinusOne, _ := br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	// Counts are computed in 64 bits so the +1 cannot wrap before the
	// ceiling check runs.
	uc.NumTileCols = uint64(colsMinusOne) + 1
	uc.NumTileRows = uint64(rowsMinusOne) + 1
	if err := br.limits.checkTiles(uc.NumTileCols, uc.NumTileRows); err != nil {
		return nil, err
	}
	return uc, nil
}

func (b *UncompressedFrameConfigBox) payloadSize() (int64, error) {
	if int64(len(b.Components)) > math.MaxUint32 {
		return 0, usagef("%d components do not fit the uncC count field", len(b.Components))
	}
	for _, c := range b.Components {
		if c.BitDepth < 1 || c.BitDepth > 256 {
			return 0, usagef("component bit depth %d does not fit the wire field", c.BitDepth)
		}
	}
	if b.NumTileCols < 1 || b.NumTileCols > 1<<32 {
		return 0, usagef("tile column count %d does not fit the wire field", b.NumTileCols)
	}
	if b.NumTileRows < 1 || b.NumTileRows > 1<<32 {
		return 0, usagef("tile row count %d does not fit the wire field", b.NumTileRows)
	}
	return fullBoxHeaderLen + 8 + int64(len(b.Components))*5 + 4 + 20, nil
}

func (b *UncompressedFrameConfigBox) marshalPayload(w *writer) error {
	w.writeFullBoxHeader(b.Version, b.Flags)
	w.writeUint32(b.Profile)
	w.writeUint32(uint32(len(b.Components)))
	for _, c := range b.Components {
		w.writeUint16(c.Index)
		w.writeUint8(uint8(c.BitDepth - 1))
		w.writeUint8(uint8(c.Format))
		w.writeUint8(c.AlignSize)
	}
	w.writeUint8(uint8(b.SamplingType))
	w.writeUint8(uint8(b.InterleaveType))
	w.writeUint8(b.BlockSize)
	var flags uint8
	if b.ComponentsLittleEndian {
		flags |= 0x80
	}
	if b.BlockPadLSB {
		flags |= 0x40
	}
	if b.BlockLittleEndian {
		flags |= 0x20
	}
	if b.BlockReversed {
		flags |= 0x10
	}
	if b.PadUnknown {
		flags |= 0x08
	}
	w.writeUint8(flags)
	w.writeUint32(b.PixelSize)
	w.writeUint32(b.RowAlignSize)
	w.writeUint32(b.TileAlignSize)
	w.writeUint32(uint32(b.NumTileCols - 1))
	w.writeUint32(uint32(b.NumTileRows - 1))
	return w.err
}

func (b *UncompressedFrameConfigBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeUncC, b.box)
	if b.Profile != 0 {
		fmt.Fprintf(&sb, "profile: %d (%s)\n", b.Profile, fourCCString(b.Profile))
	} else {
		sb.WriteString("profile: 0\n")
	}
	for _, c := range b.Components {
		fmt.Fprintf(&sb, "component_index: %d\n", c.Index)
		fmt.Fprintf(&sb, "| component_bit_depth: %d\n", c.BitDepth)
		fmt.Fprintf(&sb, "| component_format: %s\n", c.Format)
		fmt.Fprintf(&sb, "| component_align_size: %d\n", c.AlignSize)
	}
	fmt.Fprintf(&sb, "sampling_type: %s\n", b.SamplingType)
	fmt.Fprintf(&sb, "interleave_type: %s\n", b.InterleaveType)
	fmt.Fprintf(&sb, "block_size: %d\n", b.BlockSize)
	fmt.Fprintf(&sb, "components_little_endian: %d\n", b2i(b.ComponentsLittleEndian))
	fmt.Fprintf(&sb, "block_pad_lsb: %d\n", b2i(b.BlockPadLSB))
	fmt.Fprintf(&sb, "block_little_endian: %d\n", b2i(b.BlockLittleEndian))
	fmt.Fprintf(&sb, "block_reversed: %d\n", b2i(b.BlockReversed))
	fmt.Fprintf(&sb, "pad_unknown: %d\n", b2i(b.PadUnknown))
	fmt.Fprintf(&sb, "pixel_size: %d\n", b.PixelSize)
	fmt.Fprintf(&sb, "row_align_size: %d\n", b.RowAlignSize)
	fmt.Fprintf(&sb, "tile_align_size: %d\n", b.TileAlignSize)
	fmt.Fprintf(&sb, "num_tile_cols: %d\n", b.NumTileCols)
	fmt.Fprintf(&sb, "num_tile_rows: %d\n", b.NumTileRows)
	return sb.String()
}

// Compressed-unit granularities carried in the cmpC unit type field.
const (
	UnitImage uint8 = 0 // the whole frame is one compressed unit
	UnitTile  uint8 = 1 // one unit per tile
	UnitRow   uint8 = 2 // one unit per pixel row
)

// CompressionConfigBox is the "cmpC" box: which compression scheme the
// coded payload uses and at what granularity its units were formed.
type CompressionConfigBox struct {
	FullBox
	CompressionType string // four-character code: "defl", "zlib", "brot"
	UnitType        uint8
}

func (b *CompressionConfigBox) Type() BoxType { return TypeCmpC }

func parseCompressionConfigBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBoxVersion0(outer, br)
	if err != nil {
		return nil, err
	}
	cc := &CompressionConfigBox{FullBox: fb}
	cc.CompressionType, _ = br.readFourCC()
	cc.UnitType, _ = br.readUint8()
	if !br.ok() {
		return nil, br.err
	}
	return cc, nil
}

func (b *CompressionConfigBox) payloadSize() (int64, error) {
	if len(b.CompressionType) != 4 {
		return 0, usagef("compression type %q is not a four-character code", b.CompressionType)
	}
	return fullBoxHeaderLen + 5, nil
}

func (b *CompressionConfigBox) marshalPayload(w *writer) error {
	w.writeFullBoxHeader(b.Version, b.Flags)
	w.writeBytes([]byte(b.CompressionType))
	w.writeUint8(b.UnitType)
	return w.err
}

func (b *CompressionConfigBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeCmpC, b.box)
	fmt.Fprintf(&sb, "compression_type: %s\n", b.CompressionType)
	fmt.Fprintf(&sb, "compressed_entity_type: %d\n", b.UnitType)
	return sb.String()
}

// CompressedUnitInfoBox is the "icef" box: the offset/size table that
// locates each independently compressed unit within the coded payload.
type CompressedUnitInfoBox struct {
	FullBox
	Units []CompressedUnit
}

// CompressedUnit locates one compressed unit. Offset is relative to the
// start of the coded payload.
type CompressedUnit struct {
	Offset uint64
	Size   uint64
}

// Field widths by offset/size code. Offset code 0 means offsets are
// implied: each unit starts where the previous one ended.
var (
	icefOffsetBits = [5]uint8{0, 16, 24, 32, 64}
	icefSizeBits   = [5]uint8{8, 16, 24, 32, 64}
)

func (b *CompressedUnitInfoBox) Type() BoxType { return TypeIcef }

func parseCompressedUnitInfoBox(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBoxVersion0(outer, br)
	if err != nil {
		return nil, err
	}
	ic := &CompressedUnitInfoBox{FullBox: fb}
	codes, _ := br.readUint8()
	count, _ := br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	offsetCode := codes >> 5 & 7
	sizeCode := codes >> 2 & 7
	if int(offsetCode) >= len(icefOffsetBits) {
		return nil, invalidf(SubBadParameterValue, "unsupported icef offset code %d", offsetCode)
	}
	if int(sizeCode) >= len(icefSizeBits) {
		return nil, invalidf(SubBadParameterValue, "unsupported icef size code %d", sizeCode)
	}
	if !br.reserve(count, 16) {
		return nil, br.err
	}
	ic.Units = make([]CompressedUnit, 0, allocHint(uint64(count)))
	var implied uint64
	for i := uint32(0); i < count && br.ok(); i++ {
		var u CompressedUnit
		if offsetCode == 0 {
			u.Offset = implied
		} else {
			u.Offset, _ = br.readUintN(icefOffsetBits[offsetCode])
		}
		u.Size, _ = br.readUintN(icefSizeBits[sizeCode])
		implied += u.Size
		ic.Units = append(ic.Units, u)
	}
	if !br.ok() {
		return nil, br.err
	}
	return ic, nil
}

// unitCodes picks the minimal wire form: implied offsets when every
// offset equals the running sum of the preceding sizes, otherwise the
// narrowest widths that fit the largest values.
func (b *CompressedUnitInfoBox) unitCodes() (offsetCode, sizeCode uint8) {
	implied := true
	var running, maxOffset, maxSize uint64
	for _, u := range b.Units {
		if u.Offset != running {
			implied = false
		}
		running += u.Size
		if u.Offset > maxOffset {
			maxOffset = u.Offset
		}
		if u.Size > maxSize {
			maxSize = u.Size
		}
	}
	switch {
	case implied:
		offsetCode = 0
	case maxOffset <= 0xFFFF:
		offsetCode = 1
	case maxOffset <= 0xFFFFFF:
		offsetCode = 2
	case maxOffset <= 0xFFFFFFFF:
		offsetCode = 3
	default:
		offsetCode = 4
	}
	switch {
	case maxSize <= 0xFF:
		sizeCode = 0
	case maxSize <= 0xFFFF:
		sizeCode = 1
	case maxSize <= 0xFFFFFF:
		sizeCode = 2
	case maxSize <= 0xFFFFFFFF:
		sizeCode = 3
	default:
		sizeCode = 4
	}
	return offsetCode, sizeCode
}

func (b *CompressedUnitInfoBox) payloadSize() (int64, error) {
	if int64(len(b.Units)) > math.MaxUint32 {
		return 0, usagef("%d units do not fit the icef count field", len(b.Units))
	}
	offsetCode, sizeCode := b.unitCodes()
	record := int64(icefOffsetBits[offsetCode]/8 + icefSizeBits[sizeCode]/8)
	return fullBoxHeaderLen + 5 + int64(len(b.Units))*record, nil
}

func (b *CompressedUnitInfoBox) marshalPayload(w *writer) error {
	w.writeFullBoxHeader(b.Version, b.Flags)
	offsetCode, sizeCode := b.unitCodes()
	w.writeUint8(offsetCode<<5 | sizeCode<<2)
	w.writeUint32(uint32(len(b.Units)))
	for _, u := range b.Units {
		w.writeUintN(u.Offset, icefOffsetBits[offsetCode])
		w.writeUintN(u.Size, icefSizeBits[sizeCode])
	}
	return w.err
}

func (b *CompressedUnitInfoBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeIcef, b.box)
	fmt.Fprintf(&sb, "num_compressed_units: %d\n", len(b.Units))
	for _, u := range b.Units {
		fmt.Fprintf(&sb, "unit_offset: %d, unit_size: %d\n", u.Offset, u.Size)
	}
	return sb.String()
}
