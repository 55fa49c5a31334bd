package unci

import (
	"math"

	"github.com/jdeng/gounci/unci/bmff"
)

// Options control how EncodeFrame lays out and compresses the coded
// payload. The zero value produces a single uncompressed tile.
type Options struct {
	// TileCols and TileRows split the image into an even grid of
	// independently coded tiles. Zero means one.
	TileCols, TileRows int

	// Compression applied to coded units.
	Compression Compression

	// UnitType is the compression-unit granularity, bmff.UnitImage or
	// bmff.UnitTile. Ignored when Compression is off.
	UnitType uint8
}

// EncodedImage pairs the property boxes describing one coded frame
// with its coded payload, ready to be placed in a container.
type EncodedImage struct {
	FrameProperties
	Payload []byte
}

// EncodeFrame codes an image into the component-interleaved
// uncompressed layout: each tile stores its component planes back to
// back, rows packed most significant bit first for depths that are
// not byte multiples. Sensor metadata attached to the image is carried
// over into the property set unmodified.
func EncodeFrame(img *Image, opts *Options) (*EncodedImage, error) {
	if img == nil || len(img.Components) == 0 {
		return nil, usagef("encoding requires an image with at least one component")
	}
	if img.Width <= 0 || img.Height <= 0 {
		return nil, usagef("image dimensions %dx%d must be non-zero", img.Width, img.Height)
	}
	if int64(img.Width) > math.MaxUint32 || int64(img.Height) > math.MaxUint32 {
		return nil, usagef("image dimensions %dx%d exceed the coded range", img.Width, img.Height)
	}
	if opts == nil {
		opts = &Options{}
	}
	tileCols, tileRows := opts.TileCols, opts.TileRows
	if tileCols == 0 {
		tileCols = 1
	}
	if tileRows == 0 {
		tileRows = 1
	}
	if tileCols < 0 || tileRows < 0 {
		return nil, usagef("tile grid %dx%d is not positive", opts.TileCols, opts.TileRows)
	}
	if img.Width%tileCols != 0 || img.Height%tileRows != 0 {
		return nil, usagef("image %dx%d does not split into a %dx%d tile grid",
			img.Width, img.Height, tileCols, tileRows)
	}
	switch img.Sampling {
	case bmff.Sampling422, bmff.Sampling420:
		if tileCols > 1 && (img.Width/tileCols)%2 != 0 {
			return nil, usagef("tile width %d splits chroma pairs under %s", img.Width/tileCols, img.Sampling)
		}
		if img.Sampling == bmff.Sampling420 && tileRows > 1 && (img.Height/tileRows)%2 != 0 {
			return nil, usagef("tile height %d splits chroma pairs under %s", img.Height/tileRows, img.Sampling)
		}
	}
	if len(img.Components) > math.MaxUint16 {
		return nil, usagef("%d components exceed the coded range", len(img.Components))
	}

	ispe := &bmff.ImageSpatialExtentsProperty{
		ImageWidth:  uint32(img.Width),
		ImageHeight: uint32(img.Height),
	}
	cmpd := &bmff.ComponentDefinitionBox{}
	uncC := &bmff.UncompressedFrameConfigBox{
		SamplingType:   img.Sampling,
		InterleaveType: bmff.InterleaveComponent,
		NumTileCols:    uint64(tileCols),
		NumTileRows:    uint64(tileRows),
	}
	for i, c := range img.Components {
		if c.BitDepth < 1 || c.BitDepth > 16 {
			return nil, usagef("component %d bit depth %d out of range [1,16]", i, c.BitDepth)
		}
		if pw, ph := planeDims(img.Width, img.Height, c.Type, img.Sampling); c.Width != pw || c.Height != ph {
			return nil, usagef("component %d plane is %dx%d, want %dx%d", i, c.Width, c.Height, pw, ph)
		}
		cmpd.Components = append(cmpd.Components, bmff.ComponentDefinition{Type: c.Type})
		uncC.Components = append(uncC.Components, bmff.UncompressedComponent{
			Index:    uint16(i),
			BitDepth: uint16(c.BitDepth),
			Format:   c.Format,
		})
		// Multi-byte samples go on the wire in the plane's native byte
		// order, so byte-aligned rows can be copied verbatim.
		if c.BitDepth > 8 && c.BitDepth%8 == 0 {
			uncC.ComponentsLittleEndian = true
		}
	}

	props := FrameProperties{Ispe: ispe, Cmpd: cmpd, UncC: uncC}
	if img.Pattern != nil {
		if img.Width%img.Pattern.Width != 0 || img.Height%img.Pattern.Height != 0 {
			return nil, usagef("image %dx%d is not a multiple of the %dx%d filter pattern",
				img.Width, img.Height, img.Pattern.Width, img.Pattern.Height)
		}
		cpat, err := patternBox(img.Pattern, cmpd)
		if err != nil {
			return nil, err
		}
		props.Cpat = cpat
	}
	props.Splz = img.Polarizations
	props.Sbpm = img.BadPixelMaps
	props.Snuc = img.NUCs
	props.Cloc = img.ChromaLocation

	layout, err := frameLayoutOf(ispe, cmpd, uncC)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 0, layout.frameSize)
	for ty := 0; ty < tileRows; ty++ {
		for tx := 0; tx < tileCols; tx++ {
			raw = layout.appendTile(raw, img, tx, ty)
		}
	}

	payload, icef, cmpc, err := packUnits(raw, layout, opts)
	if err != nil {
		return nil, err
	}
	props.CmpC = cmpc
	props.Icef = icef
	return &EncodedImage{FrameProperties: props, Payload: payload}, nil
}

// patternBox resolves a filter pattern into a cpat box. The pattern's
// component types get reference definitions appended to cmpd, in first
// use order: they describe what the filter array sampled and carry no
// plane of their own.
func patternBox(pat *FilterPattern, cmpd *bmff.ComponentDefinitionBox) (*bmff.ComponentPatternBox, error) {
	if err := pat.validate(); err != nil {
		return nil, err
	}
	if pat.Width > math.MaxUint16 || pat.Height > math.MaxUint16 {
		return nil, usagef("filter pattern %dx%d exceeds the coded range", pat.Width, pat.Height)
	}
	cp := &bmff.ComponentPatternBox{
		PatternWidth:  uint16(pat.Width),
		PatternHeight: uint16(pat.Height),
	}
	index := make(map[bmff.ComponentType]uint32)
	for _, px := range pat.Pixels {
		i, ok := index[px.Type]
		if !ok {
			i = uint32(len(cmpd.Components))
			cmpd.Components = append(cmpd.Components, bmff.ComponentDefinition{Type: px.Type})
			index[px.Type] = i
		}
		cp.Cells = append(cp.Cells, bmff.PatternCell{ComponentIndex: i, Gain: px.Gain})
	}
	return cp, nil
}

// packUnits applies unit compression to the raw frame and builds the
// cmpC/icef boxes describing the result. With compression off the
// payload passes through and neither box is emitted. The icef table is
// only needed when more than one unit exists; units are laid out back
// to back, so its offsets are implied.
func packUnits(raw []byte, l *frameLayout, opts *Options) ([]byte, *bmff.CompressedUnitInfoBox, *bmff.CompressionConfigBox, error) {
	if opts.Compression == CompressionOff {
		return raw, nil, nil, nil
	}
	var bounds [][]byte
	switch opts.UnitType {
	case bmff.UnitImage:
		bounds = [][]byte{raw}
	case bmff.UnitTile:
		for off := int64(0); off < int64(len(raw)); off += l.tileSize {
			bounds = append(bounds, raw[off:off+l.tileSize])
		}
	default:
		return nil, nil, nil, usagef("compression unit granularity %d is not supported", opts.UnitType)
	}
	cmpc := &bmff.CompressionConfigBox{
		CompressionType: opts.Compression.TypeCode(),
		UnitType:        opts.UnitType,
	}
	var payload []byte
	var units []bmff.CompressedUnit
	for _, u := range bounds {
		cu, err := compressUnit(u, opts.Compression)
		if err != nil {
			return nil, nil, nil, err
		}
		units = append(units, bmff.CompressedUnit{
			Offset: uint64(len(payload)),
			Size:   uint64(len(cu)),
		})
		payload = append(payload, cu...)
	}
	var icef *bmff.CompressedUnitInfoBox
	if len(units) > 1 {
		icef = &bmff.CompressedUnitInfoBox{Units: units}
	}
	return payload, icef, cmpc, nil
}

// frameLayout is the byte layout of one coded frame, derived from the
// ispe, cmpd and uncC boxes. The encoder and the decoder both build it
// from the boxes, so the two sides agree on sizes by construction.
type frameLayout struct {
	width, height int
	sampling      bmff.SamplingType
	interleave    bmff.InterleaveType
	littleEndian  bool

	tileCols, tileRows    int
	tileWidth, tileHeight int

	comps       []componentLayout
	pixelStride int // pixel interleave: bytes per interleaved pixel

	rowAlign  int
	tileAlign int

	tileSize  int64 // padded byte size of one coded tile
	frameSize int64 // coded payload size before compression
	memSize   int64 // in-memory plane bytes of the decoded image
}

// componentLayout is the wire layout of one coded component.
type componentLayout struct {
	typ         bmff.ComponentType
	bitDepth    int
	format      bmff.SampleFormat
	sampleBytes int // bytes per sample field; 0 when rows are bit-packed
}

// rowBytes is the unpadded byte length of one plane row of the given
// width.
func (c *componentLayout) rowBytes(width int) int64 {
	if c.sampleBytes > 0 {
		return int64(width) * int64(c.sampleBytes)
	}
	return (int64(width)*int64(c.bitDepth) + 7) / 8
}

// frameLayoutOf validates the frame description and computes the byte
// layout of its coded payload. Malformed descriptions are invalid
// input; recognizable but unimplemented ones are unsupported features.
func frameLayoutOf(ispe *bmff.ImageSpatialExtentsProperty, cmpd *bmff.ComponentDefinitionBox, uncC *bmff.UncompressedFrameConfigBox) (*frameLayout, error) {
	if ispe.ImageWidth == 0 || ispe.ImageHeight == 0 {
		return nil, invalidf("image dimensions %dx%d must be non-zero", ispe.ImageWidth, ispe.ImageHeight)
	}
	l := &frameLayout{
		width:        int(ispe.ImageWidth),
		height:       int(ispe.ImageHeight),
		sampling:     uncC.SamplingType,
		interleave:   uncC.InterleaveType,
		littleEndian: uncC.ComponentsLittleEndian,
		rowAlign:     int(uncC.RowAlignSize),
		tileAlign:    int(uncC.TileAlignSize),
		pixelStride:  int(uncC.PixelSize),
	}
	switch l.sampling {
	case bmff.SamplingNone, bmff.Sampling422, bmff.Sampling420:
	default:
		return nil, unsupportedf("%s sampling is not implemented yet", l.sampling)
	}
	switch l.interleave {
	case bmff.InterleaveComponent, bmff.InterleavePixel:
	default:
		return nil, unsupportedf("%s interleave is not implemented yet", l.interleave)
	}
	if uncC.BlockSize != 0 {
		return nil, unsupportedf("block-based packing (block size %d) is not implemented yet", uncC.BlockSize)
	}
	if len(uncC.Components) == 0 {
		return nil, invalidf("frame config declares no components")
	}

	l.tileCols, l.tileRows = int(uncC.NumTileCols), int(uncC.NumTileRows)
	if l.tileCols < 1 || l.tileRows < 1 {
		return nil, invalidf("tile grid %dx%d is not positive", uncC.NumTileCols, uncC.NumTileRows)
	}
	if l.width%l.tileCols != 0 || l.height%l.tileRows != 0 {
		return nil, invalidf("image %dx%d does not split into the declared %dx%d tile grid",
			l.width, l.height, l.tileCols, l.tileRows)
	}
	l.tileWidth, l.tileHeight = l.width/l.tileCols, l.height/l.tileRows
	switch l.sampling {
	case bmff.Sampling422, bmff.Sampling420:
		if l.tileCols > 1 && l.tileWidth%2 != 0 {
			return nil, invalidf("tile width %d splits chroma pairs under %s", l.tileWidth, l.sampling)
		}
		if l.sampling == bmff.Sampling420 && l.tileRows > 1 && l.tileHeight%2 != 0 {
			return nil, invalidf("tile height %d splits chroma pairs under %s", l.tileHeight, l.sampling)
		}
	}

	for _, uc := range uncC.Components {
		if int(uc.Index) >= len(cmpd.Components) {
			return nil, invalidf("component reference %d is out of bounds (%d components defined)",
				uc.Index, len(cmpd.Components))
		}
		depth := int(uc.BitDepth)
		if depth < 1 {
			return nil, invalidf("component bit depth must be positive")
		}
		if depth > 16 {
			return nil, unsupportedf("component bit depth %d is not implemented yet", depth)
		}
		switch uc.Format {
		case bmff.FormatUnsigned, bmff.FormatSigned:
		default:
			return nil, unsupportedf("%s samples are not implemented yet", uc.Format)
		}
		cl := componentLayout{
			typ:      cmpd.Components[uc.Index].Type,
			bitDepth: depth,
			format:   uc.Format,
		}
		minBytes := (depth + 7) / 8
		switch {
		case uc.AlignSize == 0:
			if depth%8 == 0 {
				cl.sampleBytes = minBytes
			}
		case int(uc.AlignSize) < minBytes:
			return nil, invalidf("component align size %d cannot hold %d-bit samples", uc.AlignSize, depth)
		case uc.AlignSize > 8:
			return nil, unsupportedf("component align size %d is not implemented yet", uc.AlignSize)
		default:
			cl.sampleBytes = int(uc.AlignSize)
		}
		l.comps = append(l.comps, cl)
	}

	if l.interleave == bmff.InterleavePixel {
		if l.sampling != bmff.SamplingNone {
			return nil, unsupportedf("pixel interleave with chroma subsampling is not implemented yet")
		}
		sum := 0
		for _, cl := range l.comps {
			if cl.sampleBytes == 0 {
				return nil, unsupportedf("pixel interleave with bit-packed samples is not implemented yet")
			}
			sum += cl.sampleBytes
		}
		switch {
		case l.pixelStride == 0:
			l.pixelStride = sum
		case l.pixelStride < sum:
			return nil, invalidf("pixel size %d cannot hold %d bytes of samples", l.pixelStride, sum)
		}
	}

	if err := l.computeSizes(); err != nil {
		return nil, err
	}
	return l, nil
}

// computeSizes fills in the tile, frame and in-memory byte sizes, with
// every multiplication checked: a description whose sizes overflow
// cannot name a decodable frame.
func (l *frameLayout) computeSizes() error {
	var err error
	if l.interleave == bmff.InterleavePixel {
		row, err := mulSize(int64(l.tileWidth), int64(l.pixelStride))
		if err != nil {
			return err
		}
		if l.tileSize, err = mulSize(alignUp(row, l.rowAlign), int64(l.tileHeight)); err != nil {
			return err
		}
	} else {
		for i := range l.comps {
			cl := &l.comps[i]
			pw, ph := planeDims(l.tileWidth, l.tileHeight, cl.typ, l.sampling)
			plane, err := mulSize(alignUp(cl.rowBytes(pw), l.rowAlign), int64(ph))
			if err != nil {
				return err
			}
			if l.tileSize, err = addSize(l.tileSize, plane); err != nil {
				return err
			}
		}
	}
	if l.tileAlign > 0 {
		if rem := l.tileSize % int64(l.tileAlign); rem != 0 {
			if l.tileSize, err = addSize(l.tileSize, int64(l.tileAlign)-rem); err != nil {
				return err
			}
		}
	}
	tiles, err := mulSize(int64(l.tileCols), int64(l.tileRows))
	if err != nil {
		return err
	}
	if l.frameSize, err = mulSize(l.tileSize, tiles); err != nil {
		return err
	}
	for i := range l.comps {
		cl := &l.comps[i]
		pw, ph := planeDims(l.width, l.height, cl.typ, l.sampling)
		bps := int64(1)
		if cl.bitDepth > 8 {
			bps = 2
		}
		plane, err := mulSize(int64(pw)*bps, int64(ph))
		if err != nil {
			return err
		}
		if l.memSize, err = addSize(l.memSize, plane); err != nil {
			return err
		}
	}
	return nil
}

// appendTile serializes one tile of the image in component-plane
// order, in the layout's wire endianness.
func (l *frameLayout) appendTile(dst []byte, img *Image, tx, ty int) []byte {
	x0, y0 := tx*l.tileWidth, ty*l.tileHeight
	x1, y1 := x0+l.tileWidth, y0+l.tileHeight
	tileStart := int64(len(dst))
	for i, c := range img.Components {
		cl := &l.comps[i]
		px, py, pw, ph := tileRegion(c.Type, l.sampling, x0, x1, y0, y1)
		padded := alignUp(cl.rowBytes(pw), l.rowAlign)
		for y := 0; y < ph; y++ {
			rowStart := int64(len(dst))
			if cl.sampleBytes > 0 {
				dst = appendAlignedRow(dst, c, cl, px, py+y, pw, l.littleEndian)
			} else {
				dst = appendPackedRow(dst, c, cl.bitDepth, px, py+y, pw)
			}
			for int64(len(dst))-rowStart < padded {
				dst = append(dst, 0)
			}
		}
	}
	for int64(len(dst))-tileStart < l.tileSize {
		dst = append(dst, 0)
	}
	return dst
}

// appendAlignedRow copies one row of byte-aligned samples. When the
// wire field matches the in-memory sample width and byte order the row
// is copied verbatim.
func appendAlignedRow(dst []byte, c *Component, cl *componentLayout, px, y, pw int, littleEndian bool) []byte {
	if cl.sampleBytes == c.BytesPerSample() && (littleEndian || cl.sampleBytes == 1) {
		row := c.Pix[y*c.Stride+px*cl.sampleBytes:]
		return append(dst, row[:pw*cl.sampleBytes]...)
	}
	for x := 0; x < pw; x++ {
		dst = appendSample(dst, uint64(c.Sample(px+x, y)), cl.sampleBytes, littleEndian)
	}
	return dst
}

// appendSample writes one n-byte sample field.
func appendSample(dst []byte, v uint64, n int, littleEndian bool) []byte {
	for i := 0; i < n; i++ {
		if littleEndian {
			dst = append(dst, byte(v>>(8*i)))
		} else {
			dst = append(dst, byte(v>>(8*(n-1-i))))
		}
	}
	return dst
}

// appendPackedRow packs one row of samples most significant bit first.
// The final byte of the row is zero-filled in its low bits, so rows
// always start byte-aligned.
func appendPackedRow(dst []byte, c *Component, depth, px, y, pw int) []byte {
	var acc uint32
	bits := uint(0)
	for x := 0; x < pw; x++ {
		acc = acc<<uint(depth) | uint32(c.Sample(px+x, y))
		bits += uint(depth)
		for bits >= 8 {
			bits -= 8
			dst = append(dst, byte(acc>>bits))
			acc &= 1<<bits - 1
		}
	}
	if bits > 0 {
		dst = append(dst, byte(acc<<(8-bits)))
	}
	return dst
}

// alignUp pads n to a multiple of align. Zero disables padding.
func alignUp(n int64, align int) int64 {
	if align <= 0 {
		return n
	}
	if rem := n % int64(align); rem != 0 {
		n += int64(align) - rem
	}
	return n
}

func mulSize(a, b int64) (int64, error) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, invalidf("coded frame size overflows")
	}
	return a * b, nil
}

func addSize(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, invalidf("coded frame size overflows")
	}
	return a + b, nil
}
