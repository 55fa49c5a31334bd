package unci

import (
	"errors"

	"github.com/jdeng/gounci/unci/bmff"
)

// FrameProperties collects the property boxes that describe one coded
// image. Ispe, Cmpd and UncC are mandatory; the rest refine the frame
// or carry sensor metadata.
type FrameProperties struct {
	Ispe *bmff.ImageSpatialExtentsProperty
	Cmpd *bmff.ComponentDefinitionBox
	UncC *bmff.UncompressedFrameConfigBox
	CmpC *bmff.CompressionConfigBox
	Icef *bmff.CompressedUnitInfoBox
	Cpat *bmff.ComponentPatternBox
	Splz []*bmff.PolarizationPatternBox
	Sbpm []*bmff.BadPixelsMapBox
	Snuc []*bmff.NonUniformityCorrectionBox
	Cloc *bmff.ChromaLocationBox
}

// ErrNoFrameYet is returned by Decoder.Frame while coded units are
// still outstanding.
var ErrNoFrameYet = errors.New("unci: no frame decoded yet")

// Decoder reassembles one image from its property boxes and coded
// units. Units are fed with Push in payload order; Frame returns
// ErrNoFrameYet until the last expected unit has arrived.
//
// Methods on Decoder should not be called concurrently.
type Decoder struct {
	props  FrameProperties
	layout *frameLayout

	data     []byte // decompressed payload assembled so far
	received int
	img      *Image // decoded frame, once assembled
}

// NewDecoder builds a decoder for the described frame under
// DefaultLimits.
func NewDecoder(props FrameProperties) (*Decoder, error) {
	return NewDecoderWithLimits(props, bmff.DefaultLimits())
}

// NewDecoderWithLimits builds a decoder for the described frame. The
// limits bound how much memory the frame may claim before any of it is
// allocated; nil disables the guard. An unrecognized compression type
// does not fail here: it fails on the first Push, when decompression
// is actually attempted.
func NewDecoderWithLimits(props FrameProperties, limits *bmff.Limits) (*Decoder, error) {
	if props.Ispe == nil || props.Cmpd == nil || props.UncC == nil {
		return nil, usagef("decoding requires ispe, cmpd and uncC properties")
	}
	l, err := frameLayoutOf(props.Ispe, props.Cmpd, props.UncC)
	if err != nil {
		return nil, err
	}
	if limits != nil && limits.MaxAllocation > 0 {
		if l.memSize > limits.MaxAllocation {
			return nil, limitf("decoded image needs %d bytes, limit is %d", l.memSize, limits.MaxAllocation)
		}
		if l.frameSize > limits.MaxAllocation {
			return nil, limitf("coded frame of %d bytes exceeds the %d byte allocation limit",
				l.frameSize, limits.MaxAllocation)
		}
	}
	return &Decoder{props: props, layout: l}, nil
}

// ExpectedUnits reports how many coded units make up the frame: the
// icef entry count, or one when the payload is a single unit.
func (d *Decoder) ExpectedUnits() int {
	if d.props.Icef != nil {
		return len(d.props.Icef.Units)
	}
	return 1
}

// Push feeds the next coded unit in payload order, expanding it into
// the frame buffer. Decompressed output is capped at the bytes the
// frame layout still has room for.
func (d *Decoder) Push(unit []byte) error {
	if d.received >= d.ExpectedUnits() {
		return usagef("all %d coded units were already pushed", d.ExpectedUnits())
	}
	comp, err := d.compression()
	if err != nil {
		return err
	}
	out, err := decompressUnit(unit, comp, d.layout.frameSize-int64(len(d.data)))
	if err != nil {
		return err
	}
	d.data = append(d.data, out...)
	d.received++
	return nil
}

// Frame returns the decoded image once every expected unit has been
// pushed, and ErrNoFrameYet before that. The frame is assembled once;
// later calls return the same image.
func (d *Decoder) Frame() (*Image, error) {
	if d.img != nil {
		return d.img, nil
	}
	if d.received < d.ExpectedUnits() {
		return nil, ErrNoFrameYet
	}
	if int64(len(d.data)) != d.layout.frameSize {
		return nil, invalidf("coded payload is %d bytes, frame layout needs %d", len(d.data), d.layout.frameSize)
	}
	img, err := d.assemble()
	if err != nil {
		return nil, err
	}
	d.img = img
	return img, nil
}

// compression resolves the scheme declared by the cmpC box. A missing
// box means uncompressed storage.
func (d *Decoder) compression() (Compression, error) {
	if d.props.CmpC == nil {
		return CompressionOff, nil
	}
	c, ok := compressionFromType(d.props.CmpC.CompressionType)
	if !ok {
		return 0, unsupportedf("compression type %q is not implemented yet", d.props.CmpC.CompressionType)
	}
	return c, nil
}

// DecodeFrame decodes a whole coded payload at once, slicing it into
// units along the icef table when one is present.
func DecodeFrame(props FrameProperties, payload []byte) (*Image, error) {
	return decodeFrame(props, payload, bmff.DefaultLimits())
}

func decodeFrame(props FrameProperties, payload []byte, limits *bmff.Limits) (*Image, error) {
	d, err := NewDecoderWithLimits(props, limits)
	if err != nil {
		return nil, err
	}
	units, err := d.sliceUnits(payload)
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		if err := d.Push(u); err != nil {
			return nil, err
		}
	}
	return d.Frame()
}

// sliceUnits cuts the payload along the icef table. Every entry is
// checked against the actual payload length, so a table pointing past
// the end fails here rather than at assembly.
func (d *Decoder) sliceUnits(payload []byte) ([][]byte, error) {
	icef := d.props.Icef
	if icef == nil {
		return [][]byte{payload}, nil
	}
	n := uint64(len(payload))
	units := make([][]byte, 0, len(icef.Units))
	for i, u := range icef.Units {
		if u.Offset > n || u.Size > n-u.Offset {
			return nil, invalidf("coded unit %d at [%d,+%d) lies outside the %d byte payload",
				i, u.Offset, u.Size, n)
		}
		units = append(units, payload[u.Offset:u.Offset+u.Size])
	}
	return units, nil
}

// assemble unpacks the assembled payload into a fresh image and
// attaches the sensor metadata.
func (d *Decoder) assemble() (*Image, error) {
	l := d.layout
	img := NewImage(l.width, l.height, l.sampling)
	for i := range l.comps {
		cl := &l.comps[i]
		c, err := img.AddComponent(cl.typ, cl.bitDepth)
		if err != nil {
			return nil, err
		}
		c.Format = cl.format
	}
	pos := int64(0)
	for ty := 0; ty < l.tileRows; ty++ {
		for tx := 0; tx < l.tileCols; tx++ {
			pos = l.readTile(d.data, pos, img, tx, ty)
		}
	}
	if err := d.attachMetadata(img); err != nil {
		return nil, err
	}
	return img, nil
}

// readTile unpacks one tile from the coded payload into the image
// planes and returns the offset of the next tile.
func (l *frameLayout) readTile(data []byte, pos int64, img *Image, tx, ty int) int64 {
	x0, y0 := tx*l.tileWidth, ty*l.tileHeight
	end := pos + l.tileSize
	if l.interleave == bmff.InterleavePixel {
		l.readPixelTile(data, pos, img, x0, y0)
		return end
	}
	x1, y1 := x0+l.tileWidth, y0+l.tileHeight
	for i, c := range img.Components {
		cl := &l.comps[i]
		px, py, pw, ph := tileRegion(c.Type, l.sampling, x0, x1, y0, y1)
		rowBytes := cl.rowBytes(pw)
		padded := alignUp(rowBytes, l.rowAlign)
		for y := 0; y < ph; y++ {
			row := data[pos : pos+rowBytes]
			if cl.sampleBytes > 0 {
				readAlignedRow(row, c, cl, px, py+y, pw, l.littleEndian)
			} else {
				readPackedRow(row, c, cl.bitDepth, px, py+y, pw)
			}
			pos += padded
		}
	}
	return end
}

// readPixelTile unpacks one pixel-interleaved tile: each pixel stores
// its samples together, in component order.
func (l *frameLayout) readPixelTile(data []byte, pos int64, img *Image, x0, y0 int) {
	rowBytes := alignUp(int64(l.tileWidth)*int64(l.pixelStride), l.rowAlign)
	for y := 0; y < l.tileHeight; y++ {
		row := data[pos : pos+rowBytes]
		for x := 0; x < l.tileWidth; x++ {
			off := x * l.pixelStride
			for i := range l.comps {
				cl := &l.comps[i]
				v := readSample(row[off:], cl.sampleBytes, l.littleEndian)
				img.Components[i].SetSample(x0+x, y0+y, uint16(v))
				off += cl.sampleBytes
			}
		}
		pos += rowBytes
	}
}

// readAlignedRow fills one plane row from byte-aligned sample fields.
// When the wire field matches the in-memory sample width and byte
// order the row is copied verbatim.
func readAlignedRow(row []byte, c *Component, cl *componentLayout, px, y, pw int, littleEndian bool) {
	if cl.sampleBytes == c.BytesPerSample() && (littleEndian || cl.sampleBytes == 1) {
		copy(c.Pix[y*c.Stride+px*cl.sampleBytes:], row[:pw*cl.sampleBytes])
		return
	}
	for x := 0; x < pw; x++ {
		v := readSample(row[x*cl.sampleBytes:], cl.sampleBytes, littleEndian)
		c.SetSample(px+x, y, uint16(v))
	}
}

// readSample reads one n-byte sample field.
func readSample(p []byte, n int, littleEndian bool) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		if littleEndian {
			v |= uint64(p[i]) << (8 * i)
		} else {
			v = v<<8 | uint64(p[i])
		}
	}
	return v
}

// readPackedRow unpacks a bit-packed row, most significant bit first.
// Bits left over at the end of the row are padding and are dropped.
func readPackedRow(row []byte, c *Component, depth, px, y, pw int) {
	var acc uint32
	bits := uint(0)
	pos := 0
	for x := 0; x < pw; x++ {
		for bits < uint(depth) {
			acc = acc<<8 | uint32(row[pos])
			pos++
			bits += 8
		}
		bits -= uint(depth)
		c.SetSample(px+x, y, uint16(acc>>bits))
		acc &= 1<<bits - 1
	}
}

// attachMetadata carries the sensor property boxes onto the decoded
// image, resolving the filter pattern's component references back to
// component types.
func (d *Decoder) attachMetadata(img *Image) error {
	p := d.props
	img.Polarizations = p.Splz
	img.BadPixelMaps = p.Sbpm
	img.NUCs = p.Snuc
	img.ChromaLocation = p.Cloc
	if p.Cpat == nil {
		return nil
	}
	cp := p.Cpat
	if cp.PatternWidth == 0 || cp.PatternHeight == 0 {
		return invalidf("filter pattern dimensions %dx%d must be non-zero", cp.PatternWidth, cp.PatternHeight)
	}
	pat := &FilterPattern{Width: int(cp.PatternWidth), Height: int(cp.PatternHeight)}
	if len(cp.Cells) != pat.Width*pat.Height {
		return invalidf("filter pattern has %d cells, want %d", len(cp.Cells), pat.Width*pat.Height)
	}
	for _, cell := range cp.Cells {
		if cell.ComponentIndex >= uint32(len(p.Cmpd.Components)) {
			return invalidf("pattern cell component %d is out of bounds (%d components defined)",
				cell.ComponentIndex, len(p.Cmpd.Components))
		}
		pat.Pixels = append(pat.Pixels, PatternPixel{
			Type: p.Cmpd.Components[cell.ComponentIndex].Type,
			Gain: cell.Gain,
		})
	}
	img.Pattern = pat
	return nil
}
