// Package unci reads and writes uncompressed images coded per
// ISO/IEC 23001-17, in a minimal BMFF container: an ftyp box followed
// by one properties/payload pair per image.
//
// This package is a work in progress and makes no API compatibility
// promises.
package unci

import (
	"errors"
	"io"
	"log/slog"

	"github.com/jdeng/gounci/unci/bmff"
)

// brandUnci is the container brand written and required by this
// package.
const brandUnci = "unci"

// File represents a parsed container.
//
// Methods on File should not be called concurrently.
type File struct {
	ra     io.ReaderAt
	limits *bmff.Limits
	log    *slog.Logger

	// Populated lazily, by load:
	loadErr error
	loaded  bool
	ftyp    *bmff.FileTypeBox
	images  []*ImageItem
	extras  []bmff.Box
}

// ImageItem is one coded image of a container: its property boxes and
// its coded payload.
type ImageItem struct {
	ID         uint32
	Properties FrameProperties
	Extra      []bmff.Box // property boxes the codec has no use for
	Payload    []byte

	limits *bmff.Limits
}

// Decode reassembles the item's image from its properties and payload.
func (it *ImageItem) Decode() (*Image, error) {
	return decodeFrame(it.Properties, it.Payload, it.limits)
}

// Open returns a handle to access a container. The container is read
// on first access.
func Open(ra io.ReaderAt) *File {
	return OpenWithLimits(ra, bmff.DefaultLimits())
}

// OpenWithLimits is Open with explicit security limits. Nil limits
// disable all checking.
func OpenWithLimits(ra io.ReaderAt, limits *bmff.Limits) *File {
	return &File{ra: ra, limits: limits}
}

// SetLogger directs the file's debug logging. If nil, slog.Default()
// is used. Call it before the first access; the container is only
// parsed once.
func (f *File) SetLogger(l *slog.Logger) { f.log = l }

func (f *File) logger() *slog.Logger {
	if f.log == nil {
		return slog.Default()
	}
	return f.log
}

// ErrNoImage is returned by File.PrimaryImage when the container holds
// no image.
var ErrNoImage = errors.New("unci: container holds no image")

// Images returns the container's coded images in file order.
func (f *File) Images() ([]*ImageItem, error) {
	if err := f.load(); err != nil {
		return nil, err
	}
	return f.images, nil
}

// PrimaryImage returns the container's first coded image.
func (f *File) PrimaryImage() (*ImageItem, error) {
	if err := f.load(); err != nil {
		return nil, err
	}
	if len(f.images) == 0 {
		return nil, ErrNoImage
	}
	return f.images[0], nil
}

// FileType returns the container's ftyp box.
func (f *File) FileType() (*bmff.FileTypeBox, error) {
	if err := f.load(); err != nil {
		return nil, err
	}
	return f.ftyp, nil
}

// Extras returns the top-level boxes this package has no use for, in
// file order. They round-trip losslessly as raw boxes.
func (f *File) Extras() ([]bmff.Box, error) {
	if err := f.load(); err != nil {
		return nil, err
	}
	return f.extras, nil
}

func (f *File) fail(err error) error {
	f.loadErr = err
	return err
}

func (f *File) load() error {
	if f.loadErr != nil {
		return f.loadErr
	}
	if f.loaded {
		return nil
	}
	const assumedMaxSize = 5 << 40 // arbitrary
	sr := io.NewSectionReader(f.ra, 0, assumedMaxSize)
	r := bmff.NewReaderWithLimits(sr, f.limits)

	pbox, err := r.ReadAndParseBox(bmff.TypeFtyp)
	if err != nil {
		return f.fail(err)
	}
	ftyp := pbox.(*bmff.FileTypeBox)
	if !ftyp.HasBrand(brandUnci) {
		return f.fail(invalidf("file brand %q is not an uncompressed image brand", ftyp.MajorBrand))
	}
	f.ftyp = ftyp

	ids := NewIDCreator(IDModePerNamespace)
	var pending *ImageItem
	for {
		box, err := r.ReadBox()
		if err == io.EOF {
			break
		}
		if err != nil {
			return f.fail(err)
		}
		parsed, err := box.Parse()
		if err != nil {
			return f.fail(err)
		}
		switch v := parsed.(type) {
		case *bmff.ItemPropertyContainerBox:
			if pending != nil {
				return f.fail(invalidf("image properties arrive before the previous image's coded payload"))
			}
			props, extra, err := frameProperties(v)
			if err != nil {
				return f.fail(err)
			}
			id, err := ids.NewID(NamespaceItem)
			if err != nil {
				return f.fail(err)
			}
			pending = &ImageItem{ID: id, Properties: props, Extra: extra, limits: f.limits}
		case *bmff.MediaDataBox:
			if pending == nil {
				return f.fail(invalidf("coded payload arrives without image properties"))
			}
			pending.Payload = v.Data
			f.images = append(f.images, pending)
			pending = nil
		default:
			f.logger().Debug("keeping unrecognized top-level box", "type", box.Type().String())
			f.extras = append(f.extras, parsed)
		}
	}
	if pending != nil {
		return f.fail(invalidf("container ends before the image's coded payload"))
	}
	f.loaded = true
	f.logger().Debug("container loaded", "images", len(f.images), "extras", len(f.extras))
	return nil
}

// frameProperties sorts the children of an ipco box into the frame
// property set. Ispe, cmpd and uncC must be present; boxes the codec
// has no use for come back separately so callers can keep them.
func frameProperties(ipc *bmff.ItemPropertyContainerBox) (FrameProperties, []bmff.Box, error) {
	var p FrameProperties
	var extra []bmff.Box
	for _, child := range ipc.Properties {
		parsed, err := child.Parse()
		if err != nil {
			return p, nil, err
		}
		switch v := parsed.(type) {
		case *bmff.ImageSpatialExtentsProperty:
			p.Ispe = v
		case *bmff.ComponentDefinitionBox:
			p.Cmpd = v
		case *bmff.UncompressedFrameConfigBox:
			p.UncC = v
		case *bmff.CompressionConfigBox:
			p.CmpC = v
		case *bmff.CompressedUnitInfoBox:
			p.Icef = v
		case *bmff.ComponentPatternBox:
			p.Cpat = v
		case *bmff.PolarizationPatternBox:
			p.Splz = append(p.Splz, v)
		case *bmff.BadPixelsMapBox:
			p.Sbpm = append(p.Sbpm, v)
		case *bmff.NonUniformityCorrectionBox:
			p.Snuc = append(p.Snuc, v)
		case *bmff.ChromaLocationBox:
			p.Cloc = v
		default:
			extra = append(extra, parsed)
		}
	}
	switch {
	case p.Ispe == nil:
		return p, nil, invalidf("image properties carry no ispe box")
	case p.Cmpd == nil:
		return p, nil, invalidf("image properties carry no cmpd box")
	case p.UncC == nil:
		return p, nil, invalidf("image properties carry no uncC box")
	}
	return p, extra, nil
}

// propertyBoxes lists the set's boxes in canonical container order.
func (p *FrameProperties) propertyBoxes() []bmff.Box {
	boxes := []bmff.Box{p.Ispe, p.Cmpd, p.UncC}
	if p.CmpC != nil {
		boxes = append(boxes, p.CmpC)
	}
	if p.Icef != nil {
		boxes = append(boxes, p.Icef)
	}
	if p.Cpat != nil {
		boxes = append(boxes, p.Cpat)
	}
	for _, b := range p.Splz {
		boxes = append(boxes, b)
	}
	for _, b := range p.Sbpm {
		boxes = append(boxes, b)
	}
	for _, b := range p.Snuc {
		boxes = append(boxes, b)
	}
	if p.Cloc != nil {
		boxes = append(boxes, p.Cloc)
	}
	return boxes
}

// ReadProperties parses the container only far enough to describe its
// first image: past the ftyp box and the first property group, without
// touching any coded payload.
func ReadProperties(r io.Reader, limits *bmff.Limits) (*FrameProperties, error) {
	br := bmff.NewReaderWithLimits(r, limits)
	pbox, err := br.ReadAndParseBox(bmff.TypeFtyp)
	if err != nil {
		return nil, err
	}
	if ftyp := pbox.(*bmff.FileTypeBox); !ftyp.HasBrand(brandUnci) {
		return nil, invalidf("file brand %q is not an uncompressed image brand", ftyp.MajorBrand)
	}
	for {
		box, err := br.ReadBox()
		if err == io.EOF {
			return nil, ErrNoImage
		}
		if err != nil {
			return nil, err
		}
		if box.Type() != bmff.TypeIpco {
			continue
		}
		parsed, err := box.Parse()
		if err != nil {
			return nil, err
		}
		props, _, err := frameProperties(parsed.(*bmff.ItemPropertyContainerBox))
		if err != nil {
			return nil, err
		}
		return &props, nil
	}
}

// Builder composes a container from encoded images. Images appear in
// the order they are added; the item IDs handed back by AddImage are
// minted by an IDCreator in the item namespace.
type Builder struct {
	ids    *IDCreator
	images []*EncodedImage
	extras []bmff.Marshaler
}

// NewBuilder returns a Builder with per-namespace ID allocation.
func NewBuilder() *Builder {
	return NewBuilderWithIDMode(IDModePerNamespace)
}

// NewBuilderWithIDMode returns a Builder minting IDs in the given
// mode.
func NewBuilderWithIDMode(mode IDMode) *Builder {
	return &Builder{ids: NewIDCreator(mode)}
}

// AddImage appends an encoded image to the container and returns its
// item ID.
func (b *Builder) AddImage(enc *EncodedImage) (uint32, error) {
	if enc == nil {
		return 0, usagef("nil encoded image")
	}
	id, err := b.ids.NewID(NamespaceItem)
	if err != nil {
		return 0, err
	}
	b.images = append(b.images, enc)
	return id, nil
}

// AddBox appends an extra top-level box, written after the image
// groups.
func (b *Builder) AddBox(m bmff.Marshaler) {
	b.extras = append(b.extras, m)
}

// Write serializes the container.
func (b *Builder) Write(w io.Writer) error {
	if len(b.images) == 0 {
		return usagef("container holds no image")
	}
	boxes := []bmff.Marshaler{&bmff.FileTypeBox{
		MajorBrand: brandUnci,
		Compatible: []string{brandUnci},
	}}
	for _, enc := range b.images {
		boxes = append(boxes,
			&bmff.ItemPropertyContainerBox{Properties: enc.propertyBoxes()},
			&bmff.MediaDataBox{Data: enc.Payload},
		)
	}
	boxes = append(boxes, b.extras...)
	return bmff.MarshalAll(w, boxes...)
}
