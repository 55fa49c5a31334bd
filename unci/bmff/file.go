package bmff

import (
	"fmt"
	"io"
	"strings"
)

// FileTypeBox is the "ftyp" box: the first box of the file, naming the
// brand it conforms to.
type FileTypeBox struct {
	*box
	MajorBrand   string // 4 bytes
	MinorVersion uint32
	Compatible   []string // all 4 bytes
}

func (b *FileTypeBox) Type() BoxType { return TypeFtyp }

func parseFileTypeBox(outer *box, br *bufReader) (Box, error) {
	ft := &FileTypeBox{box: outer}
	ft.MajorBrand, _ = br.readFourCC()
	ft.MinorVersion, _ = br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	for br.anyRemain() {
		s, err := br.readFourCC()
		if err != nil {
			return nil, err
		}
		ft.Compatible = append(ft.Compatible, s)
	}
	return ft, nil
}

// HasBrand reports whether brand is the major brand or listed among the
// compatible brands.
func (b *FileTypeBox) HasBrand(brand string) bool {
	if b.MajorBrand == brand {
		return true
	}
	for _, c := range b.Compatible {
		if c == brand {
			return true
		}
	}
	return false
}

func (b *FileTypeBox) payloadSize() (int64, error) {
	if len(b.MajorBrand) != 4 {
		return 0, usagef("major brand %q is not a four-character code", b.MajorBrand)
	}
	for _, c := range b.Compatible {
		if len(c) != 4 {
			return 0, usagef("compatible brand %q is not a four-character code", c)
		}
	}
	return 8 + int64(len(b.Compatible))*4, nil
}

func (b *FileTypeBox) marshalPayload(w *writer) error {
	w.writeBytes([]byte(b.MajorBrand))
	w.writeUint32(b.MinorVersion)
	for _, c := range b.Compatible {
		w.writeBytes([]byte(c))
	}
	return w.err
}

func (b *FileTypeBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeFtyp, b.box)
	fmt.Fprintf(&sb, "major_brand: %s\n", b.MajorBrand)
	fmt.Fprintf(&sb, "minor_version: %d\n", b.MinorVersion)
	for _, c := range b.Compatible {
		fmt.Fprintf(&sb, "compatible_brand: %s\n", c)
	}
	return sb.String()
}

// ImageSpatialExtentsProperty is the "ispe" box: the width and height
// of the image in pixels.
type ImageSpatialExtentsProperty struct {
	FullBox
	ImageWidth  uint32
	ImageHeight uint32
}

func (b *ImageSpatialExtentsProperty) Type() BoxType { return TypeIspe }

func parseImageSpatialExtentsProperty(outer *box, br *bufReader) (Box, error) {
	fb, err := readFullBoxVersion0(outer, br)
	if err != nil {
		return nil, err
	}
	ise := &ImageSpatialExtentsProperty{FullBox: fb}
	ise.ImageWidth, _ = br.readUint32()
	ise.ImageHeight, _ = br.readUint32()
	if !br.ok() {
		return nil, br.err
	}
	return ise, nil
}

func (b *ImageSpatialExtentsProperty) payloadSize() (int64, error) {
	return fullBoxHeaderLen + 8, nil
}

func (b *ImageSpatialExtentsProperty) marshalPayload(w *writer) error {
	w.writeFullBoxHeader(b.Version, b.Flags)
	w.writeUint32(b.ImageWidth)
	w.writeUint32(b.ImageHeight)
	return w.err
}

func (b *ImageSpatialExtentsProperty) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeIspe, b.box)
	b.dumpVersionFlags(&sb)
	fmt.Fprintf(&sb, "image_width: %d\n", b.ImageWidth)
	fmt.Fprintf(&sb, "image_height: %d\n", b.ImageHeight)
	return sb.String()
}

// ItemPropertyContainerBox is the "ipco" box: the container of the
// descriptive property boxes of one image.
type ItemPropertyContainerBox struct {
	*box
	Properties []Box
}

func (b *ItemPropertyContainerBox) Type() BoxType { return TypeIpco }

func parseItemPropertyContainerBox(outer *box, br *bufReader) (Box, error) {
	ipc := &ItemPropertyContainerBox{box: outer}
	return ipc, br.parseAppendBoxes(&ipc.Properties)
}

func (b *ItemPropertyContainerBox) payloadSize() (int64, error) {
	var n int64
	for _, p := range b.Properties {
		m, ok := p.(Marshaler)
		if !ok {
			return 0, usagef("property box %q is not writable", p.Type())
		}
		sz, err := marshaledSize(m)
		if err != nil {
			return 0, err
		}
		n += sz
	}
	return n, nil
}

func (b *ItemPropertyContainerBox) marshalPayload(w *writer) error {
	for _, p := range b.Properties {
		if err := Marshal(w.w, p.(Marshaler)); err != nil {
			return err
		}
	}
	return w.err
}

func (b *ItemPropertyContainerBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeIpco, b.box)
	for _, p := range b.Properties {
		d, ok := p.(Dumper)
		if !ok {
			if parsed, err := p.Parse(); err == nil {
				d, _ = parsed.(Dumper)
			}
		}
		if d == nil {
			fmt.Fprintf(&sb, "| Box: %s (unparsed)\n", p.Type())
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Dump(), "\n"), "\n") {
			sb.WriteString("| ")
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// MediaDataBox is the "mdat" box holding the coded image payload.
type MediaDataBox struct {
	*box
	Data []byte
}

func (b *MediaDataBox) Type() BoxType { return TypeMdat }

func parseMediaDataBox(outer *box, br *bufReader) (Box, error) {
	if outer.size > 0 {
		if err := outer.alloc.reserve(outer.size-outer.headerSize, outer.limits); err != nil {
			return nil, err
		}
	}
	data, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	if outer.size == 0 {
		if err := outer.alloc.reserve(int64(len(data)), outer.limits); err != nil {
			return nil, err
		}
	}
	return &MediaDataBox{box: outer, Data: data}, nil
}

func (b *MediaDataBox) payloadSize() (int64, error) {
	return int64(len(b.Data)), nil
}

func (b *MediaDataBox) marshalPayload(w *writer) error {
	w.writeBytes(b.Data)
	return w.err
}

func (b *MediaDataBox) Dump() string {
	var sb strings.Builder
	dumpHeader(&sb, TypeMdat, b.box)
	fmt.Fprintf(&sb, "data: %d bytes\n", len(b.Data))
	return sb.String()
}
