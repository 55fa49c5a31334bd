package bmff

import (
	"encoding/binary"
	"io"
	"math"
)

// Marshaler is a box that can serialize itself. Every box variant in
// this package implements it.
type Marshaler interface {
	Type() BoxType

	// payloadSize returns the wire size of everything after the 8-byte
	// base header (for full boxes this includes the 4-byte
	// version/flags word) and validates values that would not fit
	// their wire fields.
	payloadSize() (int64, error)

	// marshalPayload writes exactly payloadSize bytes.
	marshalPayload(w *writer) error
}

// Marshal writes m in wire form. The payload size is computed first,
// recursively for containers, so the header and payload are emitted in
// one pass with no backpatched length prefixes. A box whose total size
// does not fit in the 32-bit size field gets the extended 64-bit form.
func Marshal(dst io.Writer, m Marshaler) error {
	n, err := m.payloadSize()
	if err != nil {
		return err
	}
	w := &writer{w: dst}
	writeBoxHeader(w, m.Type(), n)
	if err := m.marshalPayload(w); err != nil {
		return err
	}
	return w.err
}

// MarshalAll writes boxes back to back.
func MarshalAll(dst io.Writer, boxes ...Marshaler) error {
	for _, m := range boxes {
		if err := Marshal(dst, m); err != nil {
			return err
		}
	}
	return nil
}

// marshaledSize returns the total wire size of m, header included.
func marshaledSize(m Marshaler) (int64, error) {
	n, err := m.payloadSize()
	if err != nil {
		return 0, err
	}
	if n+8 > math.MaxUint32 {
		return n + 16, nil
	}
	return n + 8, nil
}

func writeBoxHeader(w *writer, typ BoxType, payload int64) {
	if payload+8 > math.MaxUint32 {
		w.writeUint32(1)
		w.writeBytes(typ[:])
		w.writeUint64(uint64(payload) + 16)
	} else {
		w.writeUint32(uint32(payload) + 8)
		w.writeBytes(typ[:])
	}
}

// fullBoxHeaderLen is the version/flags word counted into a full box's
// payload size.
const fullBoxHeaderLen = 4

// writer mirrors bufReader on the encode side: the first error sticks
// and later writes are no-ops.
type writer struct {
	w   io.Writer
	err error
}

func (w *writer) ok() bool { return w.err == nil }

func (w *writer) writeBytes(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *writer) writeUint8(v uint8) {
	w.writeBytes([]byte{v})
}

func (w *writer) writeUint16(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.writeBytes(buf[:])
}

func (w *writer) writeUint32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.writeBytes(buf[:])
}

func (w *writer) writeUint64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.writeBytes(buf[:])
}

func (w *writer) writeUintN(v uint64, bits uint8) {
	switch bits {
	case 0:
	case 8:
		w.writeUint8(uint8(v))
	case 16:
		w.writeUint16(uint16(v))
	case 24:
		w.writeBytes([]byte{byte(v >> 16), byte(v >> 8), byte(v)})
	case 32:
		w.writeUint32(uint32(v))
	case 64:
		w.writeUint64(v)
	default:
		if w.err == nil {
			w.err = usagef("invalid uintn write size %d", bits)
		}
	}
}

func (w *writer) writeFloat32(v float32) {
	w.writeUint32(math.Float32bits(v))
}

// writeString writes s NUL-terminated.
func (w *writer) writeString(s string) {
	w.writeBytes([]byte(s))
	w.writeUint8(0)
}

func (w *writer) writeFullBoxHeader(version uint8, flags uint32) {
	w.writeUint32(uint32(version)<<24 | flags&0x00FFFFFF)
}

// Writing back an unparsed box re-emits the slurped body verbatim, so
// containers holding unknown boxes round-trip losslessly.

func (b *box) payloadSize() (int64, error) {
	if m, ok := b.parsed.(Marshaler); ok {
		return m.payloadSize()
	}
	if b.slurp == nil && b.size > b.headerSize {
		return 0, usagef("box %q has an unread body; parse it before writing", b.boxType)
	}
	return int64(len(b.uuid) + len(b.slurp)), nil
}

func (b *box) marshalPayload(w *writer) error {
	if m, ok := b.parsed.(Marshaler); ok {
		return m.marshalPayload(w)
	}
	w.writeBytes(b.uuid)
	w.writeBytes(b.slurp)
	return w.err
}

func (b *RawBox) payloadSize() (int64, error) {
	if b.Type() == TypeUUID {
		if len(b.UUID) != 16 {
			return 0, usagef("uuid box requires a 16-byte extended type, have %d bytes", len(b.UUID))
		}
	} else if len(b.UUID) != 0 {
		return 0, usagef("box %q cannot carry an extended type", b.Type())
	}
	return int64(len(b.UUID) + len(b.Payload)), nil
}

func (b *RawBox) marshalPayload(w *writer) error {
	w.writeBytes(b.UUID)
	w.writeBytes(b.Payload)
	return w.err
}
