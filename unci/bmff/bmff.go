// Package bmff reads and writes ISO BMFF boxes, as used by the
// ISO/IEC 23001-17 uncompressed image container.
//
// This is not so much a generic BMFF implementation as it is a BMFF
// reader and writer as needed by uncompressed image coding: only the
// boxes the github.com/jdeng/gounci codec needs have explicit parsers,
// and everything else round-trips through RawBox.
package bmff

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// NewReader reads boxes from r under DefaultLimits.
func NewReader(r io.Reader) *Reader {
	return NewReaderWithLimits(r, DefaultLimits())
}

// NewReaderWithLimits reads boxes from r under the given security
// limits. A nil limits value disables every check.
func NewReaderWithLimits(r io.Reader, limits *Limits) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	alloc := new(allocCounter)
	return &Reader{
		br:     bufReader{Reader: br, limits: limits, alloc: alloc},
		limits: limits,
		alloc:  alloc,
	}
}

// Reader reads a sequence of boxes from an underlying byte stream.
// It is not safe for concurrent use; limits may be shared across
// readers, per-parse state may not.
type Reader struct {
	br          bufReader
	lastBox     Box  // or nil
	noMoreBoxes bool // a box with size 0 (the final box) was seen
	limits      *Limits
	depth       int
	alloc       *allocCounter
}

type BoxType [4]byte

// Box types with explicit parsers.
var (
	TypeFtyp = boxType("ftyp")
	TypeIpco = boxType("ipco")
	TypeIspe = boxType("ispe")
	TypeMdat = boxType("mdat")
	TypeCmpd = boxType("cmpd")
	TypeUncC = boxType("uncC")
	TypeCmpC = boxType("cmpC")
	TypeIcef = boxType("icef")
	TypeCloc = boxType("cloc")
	TypeCpat = boxType("cpat")
	TypeSplz = boxType("splz")
	TypeSbpm = boxType("sbpm")
	TypeSnuc = boxType("snuc")
	TypeUUID = boxType("uuid")
)

func (t BoxType) String() string { return string(t[:]) }

func (t BoxType) EqualString(s string) bool {
	return len(s) == 4 && s[0] == t[0] && s[1] == t[1] && s[2] == t[2] && s[3] == t[3]
}

// Box represents a BMFF box.
type Box interface {
	Size() int64 // 0 means unknown (will read to end of file)
	Type() BoxType

	// Parse parses the box, populating the fields in the returned
	// concrete type. A box type with no registered parser parses to
	// *RawBox, which retains the payload verbatim.
	//
	// If Parse has already been called, it returns the cached result.
	Parse() (Box, error)

	// Body returns the inner bytes of the box, ignoring the header.
	// The body may start with the 4 byte version/flags word if the
	// box's type derives from a full box. Most users will use Parse
	// instead.
	Body() io.Reader
}

type parserFunc func(b *box, br *bufReader) (Box, error)

func boxType(s string) BoxType {
	if len(s) != 4 {
		panic("bogus boxType length")
	}
	return BoxType{s[0], s[1], s[2], s[3]}
}

var parsers = map[BoxType]parserFunc{
	boxType("cloc"): parseChromaLocationBox,
	boxType("cmpC"): parseCompressionConfigBox,
	boxType("cmpd"): parseComponentDefinitionBox,
	boxType("cpat"): parseComponentPatternBox,
	boxType("ftyp"): parseFileTypeBox,
	boxType("icef"): parseCompressedUnitInfoBox,
	boxType("ipco"): parseItemPropertyContainerBox,
	boxType("ispe"): parseImageSpatialExtentsProperty,
	boxType("mdat"): parseMediaDataBox,
	boxType("sbpm"): parseBadPixelsMapBox,
	boxType("snuc"): parseNonUniformityCorrectionBox,
	boxType("splz"): parsePolarizationPatternBox,
	boxType("uncC"): parseUncompressedFrameConfigBox,
}

type box struct {
	size       int64 // 0 means unknown, will read to end of file
	headerSize int64 // 8, plus 8 for an extended size, 16 for a uuid type, 4 for a full box
	boxType    BoxType
	uuid       []byte // 16-byte extended type when boxType is "uuid"
	body       io.Reader
	parsed     Box    // if non-nil, the Parse result
	slurp      []byte // if non-nil, the contents slurped to memory

	limits *Limits
	depth  int
	alloc  *allocCounter
}

func (b *box) Size() int64   { return b.size }
func (b *box) Type() BoxType { return b.boxType }

func (b *box) Body() io.Reader {
	if b.slurp != nil {
		return bytes.NewReader(b.slurp)
	}
	return b.body
}

func (b *box) Parse() (Box, error) {
	if b.parsed != nil {
		return b.parsed, nil
	}
	parser, ok := parsers[b.Type()]
	if !ok {
		raw, err := parseRawBox(b)
		if err != nil {
			return nil, err
		}
		b.parsed = raw
		return raw, nil
	}
	v, err := parser(b, &bufReader{
		Reader: bufio.NewReader(b.Body()),
		limits: b.limits,
		depth:  b.depth,
		alloc:  b.alloc,
	})
	if err != nil {
		return nil, err
	}
	b.parsed = v
	return v, nil
}

// slurpBody reads the remaining body into memory, charging the declared
// size against the allocation budget first.
func (b *box) slurpBody() error {
	if b.slurp != nil {
		return nil
	}
	if b.size > 0 {
		if err := b.alloc.reserve(b.size-b.headerSize, b.limits); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(b.Body())
	if err != nil {
		return err
	}
	if b.size == 0 {
		if err := b.alloc.reserve(int64(len(data)), b.limits); err != nil {
			return err
		}
	}
	b.slurp = data
	return nil
}

// dumpSizes reports the values for the size line of Dump output. A box
// constructed in memory rather than parsed reports zero for both.
func (b *box) dumpSizes() (size, headerSize int64) {
	if b == nil {
		return 0, 0
	}
	return b.size, b.headerSize
}

func dumpHeader(sb *strings.Builder, typ BoxType, b *box) {
	size, headerSize := b.dumpSizes()
	fmt.Fprintf(sb, "Box: %s -----\nsize: %d   (header size: %d)\n", typ, size, headerSize)
}

// Dumper is a parsed box that can render its fields for debugging.
// Every parsed box type in this package implements it.
type Dumper interface {
	Dump() string
}

type FullBox struct {
	*box
	Version uint8
	Flags   uint32 // 24 bits
}

func (fb FullBox) dumpVersionFlags(sb *strings.Builder) {
	fmt.Fprintf(sb, "version: %d\nflags: %d\n", fb.Version, fb.Flags)
}

// ReadBox reads the next box.
//
// If the previously read box was not read to completion, ReadBox
// consumes the rest of its data first. At the end of the stream the
// error is io.EOF.
func (r *Reader) ReadBox() (Box, error) {
	if r.noMoreBoxes {
		return nil, io.EOF
	}
	if r.lastBox != nil {
		if _, err := io.Copy(io.Discard, r.lastBox.Body()); err != nil {
			return nil, err
		}
	}
	var buf [16]byte

	_, err := io.ReadFull(r.br, buf[:4])
	if err != nil {
		return nil, err
	}
	box := &box{
		size:       int64(binary.BigEndian.Uint32(buf[:4])),
		headerSize: 8,
		limits:     r.limits,
		depth:      r.depth,
		alloc:      r.alloc,
	}

	_, err = io.ReadFull(r.br, box.boxType[:]) // 4 more bytes
	if err != nil {
		return nil, err
	}

	// Special cases for size:
	var remain int64
	switch box.size {
	case 1:
		// 1 means it's actually a 64-bit size, after the type.
		_, err = io.ReadFull(r.br, buf[:8])
		if err != nil {
			return nil, err
		}
		box.size = int64(binary.BigEndian.Uint64(buf[:8]))
		if box.size < 0 {
			// BMFF uses uint64 sizes; we assume nobody actually uses
			// boxes larger than int64.
			return nil, invalidf(SubNone, "unexpectedly large box %q", box.boxType)
		}
		box.headerSize += 8
		remain = box.size - box.headerSize
	case 0:
		// 0 means unknown & to read to end of file. No more boxes.
		r.noMoreBoxes = true
	default:
		remain = box.size - box.headerSize
	}
	if box.boxType == TypeUUID {
		// A 16-byte extended type follows the size fields.
		if box.size > 0 && remain < 16 {
			return nil, invalidf(SubNone, "uuid box of size %d cannot hold its extended type", box.size)
		}
		if _, err := io.ReadFull(r.br, buf[:16]); err != nil {
			return nil, err
		}
		box.uuid = append([]byte(nil), buf[:16]...)
		box.headerSize += 16
		remain -= 16
	}
	if remain < 0 {
		return nil, invalidf(SubNone, "box header for %q has size %d, suggesting %d (negative) bytes remain", box.boxType, box.size, remain)
	}
	if box.size > 0 {
		box.body = io.LimitReader(r.br, remain)
	} else {
		box.body = r.br
	}
	r.lastBox = box
	return box, nil
}

// ReadAndParseBox wraps the ReadBox method, ensuring that the read box
// is of type typ and parses successfully. It returns the parsed box.
func (r *Reader) ReadAndParseBox(typ BoxType) (Box, error) {
	box, err := r.ReadBox()
	if err != nil {
		return nil, fmt.Errorf("error reading %q box: %v", typ, err)
	}
	if box.Type() != typ {
		return nil, invalidf(SubNone, "error reading %q box: got box type %q instead", typ, box.Type())
	}
	pbox, err := box.Parse()
	if err != nil {
		return nil, err
	}
	return pbox, nil
}

func readFullBox(outer *box, br *bufReader) (fb FullBox, err error) {
	fb.box = outer
	// Parse the version/flags word.
	buf, err := br.Peek(4)
	if err != nil {
		return FullBox{}, fmt.Errorf("failed to read 4 bytes of FullBox: %v", err)
	}
	fb.Version = buf[0]
	buf[0] = 0
	fb.Flags = binary.BigEndian.Uint32(buf[:4])
	br.Discard(4)
	outer.headerSize += 4
	return fb, nil
}

// readFullBoxVersion0 reads a FullBox header and rejects any data
// version other than 0, which is all this package implements.
func readFullBoxVersion0(outer *box, br *bufReader) (FullBox, error) {
	fb, err := readFullBox(outer, br)
	if err != nil {
		return FullBox{}, err
	}
	if fb.Version != 0 {
		return FullBox{}, unsupportedVersion(outer.boxType, fb.Version)
	}
	return fb, nil
}

func (br *bufReader) parseAppendBoxes(dst *[]Box) error {
	if br.err != nil {
		return br.err
	}
	if !br.limits.allowDepth(br.depth + 1) {
		br.err = limitf("box nesting depth %d exceeds the security limit", br.depth+1)
		return br.err
	}
	boxr := &Reader{
		br:     bufReader{Reader: br.Reader, limits: br.limits, depth: br.depth + 1, alloc: br.alloc},
		limits: br.limits,
		depth:  br.depth + 1,
		alloc:  br.alloc,
	}
	for {
		inner, err := boxr.ReadBox()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			br.err = err
			return err
		}
		if err := inner.(*box).slurpBody(); err != nil {
			br.err = err
			return err
		}
		*dst = append(*dst, inner)
	}
}

// RawBox preserves a box with no registered parser. Payload holds the
// body verbatim, so the box writes back losslessly. For "uuid" boxes
// UUID holds the 16-byte extended type.
type RawBox struct {
	*box
	UUID    []byte
	Payload []byte
}

// NewRawBox constructs a raw box for writing.
func NewRawBox(typ BoxType, payload []byte) *RawBox {
	return &RawBox{box: &box{boxType: typ}, Payload: payload}
}

func parseRawBox(outer *box) (*RawBox, error) {
	if err := outer.slurpBody(); err != nil {
		return nil, err
	}
	return &RawBox{box: outer, UUID: outer.uuid, Payload: outer.slurp}, nil
}

func (b *RawBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, b.Type(), b.box)
	fmt.Fprintf(&sb, "payload: %d bytes\n", len(b.Payload))
	return sb.String()
}
