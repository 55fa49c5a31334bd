package bmff

import (
	"bytes"
	"io"
	"testing"
)

func TestFileTypeBox(t *testing.T) {
	ftyp := &FileTypeBox{
		MajorBrand: "unci",
		Compatible: []string{"unci", "miaf"},
	}
	want := []byte{
		0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
		'u', 'n', 'c', 'i',
		0x00, 0x00, 0x00, 0x00,
		'u', 'n', 'c', 'i',
		'm', 'i', 'a', 'f',
	}
	if got := mustMarshal(t, ftyp); !bytes.Equal(got, want) {
		t.Errorf("marshal = % x, want % x", got, want)
	}

	parsed := parseOne(t, want).(*FileTypeBox)
	if parsed.MajorBrand != "unci" || parsed.MinorVersion != 0 {
		t.Errorf("brand = %q version %d, want unci 0", parsed.MajorBrand, parsed.MinorVersion)
	}
	if len(parsed.Compatible) != 2 || parsed.Compatible[0] != "unci" || parsed.Compatible[1] != "miaf" {
		t.Errorf("Compatible = %v", parsed.Compatible)
	}
	if !parsed.HasBrand("miaf") || parsed.HasBrand("avif") {
		t.Errorf("HasBrand(miaf)=%v HasBrand(avif)=%v, want true false",
			parsed.HasBrand("miaf"), parsed.HasBrand("avif"))
	}
}

func TestImageSpatialExtents(t *testing.T) {
	ispe := &ImageSpatialExtentsProperty{ImageWidth: 640, ImageHeight: 480}
	want := []byte{
		0x00, 0x00, 0x00, 0x14, 'i', 's', 'p', 'e',
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x02, 0x80,
		0x00, 0x00, 0x01, 0xe0,
	}
	if got := mustMarshal(t, ispe); !bytes.Equal(got, want) {
		t.Errorf("marshal = % x, want % x", got, want)
	}
	parsed := parseOne(t, want).(*ImageSpatialExtentsProperty)
	if parsed.ImageWidth != 640 || parsed.ImageHeight != 480 {
		t.Errorf("extents = %dx%d, want 640x480", parsed.ImageWidth, parsed.ImageHeight)
	}
}

func TestItemPropertyContainer(t *testing.T) {
	ipco := &ItemPropertyContainerBox{
		Properties: []Box{
			&ImageSpatialExtentsProperty{ImageWidth: 4, ImageHeight: 2},
			&ComponentDefinitionBox{Components: []ComponentDefinition{
				{Type: ComponentRed}, {Type: ComponentGreen}, {Type: ComponentBlue},
			}},
		},
	}
	data := mustMarshal(t, ipco)

	parsed := parseOne(t, data).(*ItemPropertyContainerBox)
	if len(parsed.Properties) != 2 {
		t.Fatalf("parsed %d properties, want 2", len(parsed.Properties))
	}
	p0, err := parsed.Properties[0].Parse()
	if err != nil {
		t.Fatalf("parse property 0: %v", err)
	}
	ispe, ok := p0.(*ImageSpatialExtentsProperty)
	if !ok {
		t.Fatalf("property 0 = %T, want *ImageSpatialExtentsProperty", p0)
	}
	if ispe.ImageWidth != 4 || ispe.ImageHeight != 2 {
		t.Errorf("extents = %dx%d, want 4x2", ispe.ImageWidth, ispe.ImageHeight)
	}
	p1, err := parsed.Properties[1].Parse()
	if err != nil {
		t.Fatalf("parse property 1: %v", err)
	}
	if cmpd, ok := p1.(*ComponentDefinitionBox); !ok || len(cmpd.Components) != 3 {
		t.Errorf("property 1 = %T %v", p1, p1)
	}

	// Containers round-trip through parse and re-marshal.
	if got := mustMarshal(t, parsed); !bytes.Equal(got, data) {
		t.Errorf("re-marshal = % x, want % x", got, data)
	}
}

func TestBoxDepthLimit(t *testing.T) {
	nested := &ItemPropertyContainerBox{
		Properties: []Box{&ImageSpatialExtentsProperty{ImageWidth: 1, ImageHeight: 1}},
	}
	for i := 0; i < 8; i++ {
		nested = &ItemPropertyContainerBox{Properties: []Box{nested}}
	}
	data := mustMarshal(t, nested)

	limits := DefaultLimits()
	limits.MaxBoxDepth = 4
	r := NewReaderWithLimits(bytes.NewReader(data), limits)
	box, err := r.ReadBox()
	if err != nil {
		t.Fatalf("ReadBox: %v", err)
	}
	var depthErr error
	for depthErr == nil {
		parsed, err := box.Parse()
		if err != nil {
			depthErr = err
			break
		}
		ipc, ok := parsed.(*ItemPropertyContainerBox)
		if !ok {
			t.Fatal("reached the innermost box without hitting the depth limit")
		}
		box = ipc.Properties[0]
	}
	if !IsKind(depthErr, KindLimit) {
		t.Fatalf("descending parse error = %v, want a limit error", depthErr)
	}
}

func TestRawBoxRoundTrip(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	raw := NewRawBox(boxType("frog"), payload)
	data := mustMarshal(t, raw)
	want := append([]byte{0x00, 0x00, 0x00, 0x0e, 'f', 'r', 'o', 'g'}, payload...)
	if !bytes.Equal(data, want) {
		t.Fatalf("marshal = % x, want % x", data, want)
	}

	parsed := parseOne(t, data).(*RawBox)
	if !bytes.Equal(parsed.Payload, payload) {
		t.Errorf("Payload = % x, want % x", parsed.Payload, payload)
	}
	wantDump := "Box: frog -----\nsize: 14   (header size: 8)\npayload: 6 bytes\n"
	if got := parsed.Dump(); got != wantDump {
		t.Errorf("Dump = %q, want %q", got, wantDump)
	}
	if got := mustMarshal(t, parsed); !bytes.Equal(got, data) {
		t.Errorf("re-marshal = % x, want % x", got, data)
	}
}

func TestUUIDBox(t *testing.T) {
	raw := NewRawBox(TypeUUID, []byte{0x01, 0x02})
	raw.UUID = bytes.Repeat([]byte{0xab}, 16)
	data := mustMarshal(t, raw)
	if len(data) != 8+16+2 {
		t.Fatalf("marshaled %d bytes, want 26", len(data))
	}

	parsed := parseOne(t, data).(*RawBox)
	if !bytes.Equal(parsed.UUID, raw.UUID) {
		t.Errorf("UUID = % x, want % x", parsed.UUID, raw.UUID)
	}
	if !bytes.Equal(parsed.Payload, []byte{0x01, 0x02}) {
		t.Errorf("Payload = % x, want 01 02", parsed.Payload)
	}
	if got := mustMarshal(t, parsed); !bytes.Equal(got, data) {
		t.Errorf("re-marshal = % x, want % x", got, data)
	}

	// Writing a uuid box without its extended type is an error.
	bad := NewRawBox(TypeUUID, nil)
	if err := Marshal(&bytes.Buffer{}, bad); !IsKind(err, KindUsage) {
		t.Errorf("Marshal without UUID = %v, want usage error", err)
	}
}

func TestExtendedSizeRead(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 'm', 'd', 'a', 't',
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x15,
	}
	data = append(data, payload...)

	parsed := parseOne(t, data).(*MediaDataBox)
	if !bytes.Equal(parsed.Data, payload) {
		t.Errorf("Data = % x, want % x", parsed.Data, payload)
	}
	if parsed.Size() != 21 {
		t.Errorf("Size = %d, want 21", parsed.Size())
	}

	// Writing uses the compact form when the size fits 32 bits.
	want := append([]byte{0x00, 0x00, 0x00, 0x0d, 'm', 'd', 'a', 't'}, payload...)
	if got := mustMarshal(t, parsed); !bytes.Equal(got, want) {
		t.Errorf("re-marshal = % x, want % x", got, want)
	}
}

func TestSizeZeroReadsToEOF(t *testing.T) {
	payload := []byte{9, 8, 7, 6}
	data := append([]byte{0x00, 0x00, 0x00, 0x00, 'm', 'd', 'a', 't'}, payload...)

	r := NewReader(bytes.NewReader(data))
	box, err := r.ReadBox()
	if err != nil {
		t.Fatalf("ReadBox: %v", err)
	}
	parsed, err := box.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if mdat := parsed.(*MediaDataBox); !bytes.Equal(mdat.Data, payload) {
		t.Errorf("Data = % x, want % x", mdat.Data, payload)
	}
	if _, err := r.ReadBox(); err != io.EOF {
		t.Errorf("ReadBox after final box = %v, want io.EOF", err)
	}
}

func TestReadBoxSkipsUnreadBody(t *testing.T) {
	var buf bytes.Buffer
	if err := MarshalAll(&buf,
		NewRawBox(boxType("aaaa"), []byte{1, 2, 3}),
		NewRawBox(boxType("bbbb"), []byte{4, 5}),
	); err != nil {
		t.Fatalf("MarshalAll: %v", err)
	}

	r := NewReader(&buf)
	first, err := r.ReadBox()
	if err != nil {
		t.Fatalf("ReadBox: %v", err)
	}
	if !first.Type().EqualString("aaaa") {
		t.Fatalf("first type = %q, want aaaa", first.Type())
	}
	// Do not touch first's body; the reader discards it.
	second, err := r.ReadBox()
	if err != nil {
		t.Fatalf("ReadBox: %v", err)
	}
	if !second.Type().EqualString("bbbb") {
		t.Fatalf("second type = %q, want bbbb", second.Type())
	}
	if _, err := r.ReadBox(); err != io.EOF {
		t.Errorf("ReadBox at end = %v, want io.EOF", err)
	}
}

func TestReadAndParseBox(t *testing.T) {
	var buf bytes.Buffer
	if err := MarshalAll(&buf,
		&FileTypeBox{MajorBrand: "unci", Compatible: []string{"unci"}},
		&MediaDataBox{Data: []byte{1, 2, 3}},
	); err != nil {
		t.Fatalf("MarshalAll: %v", err)
	}
	stream := buf.Bytes()

	r := NewReader(bytes.NewReader(stream))
	got, err := r.ReadAndParseBox(TypeFtyp)
	if err != nil {
		t.Fatalf("ReadAndParseBox(ftyp): %v", err)
	}
	if ftyp := got.(*FileTypeBox); ftyp.MajorBrand != "unci" {
		t.Errorf("MajorBrand = %q, want unci", ftyp.MajorBrand)
	}
	if _, err := r.ReadAndParseBox(TypeMdat); err != nil {
		t.Fatalf("ReadAndParseBox(mdat): %v", err)
	}

	// A type mismatch is an error.
	r = NewReader(bytes.NewReader(stream))
	if _, err := r.ReadAndParseBox(TypeMdat); err == nil {
		t.Error("ReadAndParseBox(mdat) on a ftyp stream succeeded, want error")
	}
}

func TestTruncatedHeader(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x05, 'f', 'r', 'e', 'e'}
	_, err := parseOneLimits(data, DefaultLimits())
	if !IsKind(err, KindInvalidInput) {
		t.Errorf("parse = %v, want invalid input error", err)
	}
}

func TestAllocationLimit(t *testing.T) {
	big := &MediaDataBox{Data: bytes.Repeat([]byte{0xcc}, 1024)}
	data := mustMarshal(t, big)

	limits := DefaultLimits()
	limits.MaxAllocation = 256
	_, err := parseOneLimits(data, limits)
	if !IsKind(err, KindLimit) {
		t.Fatalf("parse = %v, want limit error", err)
	}

	// The counter is cumulative across boxes of one parse.
	var buf bytes.Buffer
	if err := MarshalAll(&buf,
		&MediaDataBox{Data: bytes.Repeat([]byte{0xcc}, 200)},
		&MediaDataBox{Data: bytes.Repeat([]byte{0xcc}, 200)},
	); err != nil {
		t.Fatalf("MarshalAll: %v", err)
	}
	r := NewReaderWithLimits(&buf, limits)
	first, err := r.ReadBox()
	if err != nil {
		t.Fatalf("ReadBox: %v", err)
	}
	if _, err := first.Parse(); err != nil {
		t.Fatalf("first Parse: %v", err)
	}
	second, err := r.ReadBox()
	if err != nil {
		t.Fatalf("ReadBox: %v", err)
	}
	if _, err := second.Parse(); !IsKind(err, KindLimit) {
		t.Fatalf("second Parse = %v, want limit error", err)
	}
}
