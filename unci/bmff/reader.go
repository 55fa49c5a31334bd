package bmff

import (
	"bufio"
	"encoding/binary"
	"math"
	"strings"
)

// bufReader adds BMFF-specific methods around a *bufio.Reader.
//
// The error is sticky: after the first failure every read returns the
// zero value, and parsers check ok() at the end of a field list rather
// than after every call.
type bufReader struct {
	*bufio.Reader
	err error // sticky error

	limits *Limits
	depth  int
	alloc  *allocCounter
}

// ok reports whether all previous reads have been error-free.
func (br *bufReader) ok() bool { return br.err == nil }

func (br *bufReader) anyRemain() bool {
	if br.err != nil {
		return false
	}
	_, err := br.Peek(1)
	return err == nil
}

// reserve charges count records of recordSize bytes against the
// allocation budget. It must run before the slice holding the records
// is allocated.
func (br *bufReader) reserve(count uint32, recordSize int64) bool {
	if br.err != nil {
		return false
	}
	if err := br.alloc.reserve(int64(count)*recordSize, br.limits); err != nil {
		br.err = err
		return false
	}
	return true
}

func (br *bufReader) readUintN(bits uint8) (uint64, error) {
	if br.err != nil {
		return 0, br.err
	}
	if bits == 0 {
		return 0, nil
	}
	nbyte := bits / 8
	buf, err := br.Peek(int(nbyte))
	if err != nil {
		br.err = err
		return 0, err
	}
	defer br.Discard(int(nbyte))
	switch bits {
	case 8:
		return uint64(buf[0]), nil
	case 16:
		return uint64(binary.BigEndian.Uint16(buf[:2])), nil
	case 24:
		return uint64(buf[0])<<16 | uint64(buf[1])<<8 | uint64(buf[2]), nil
	case 32:
		return uint64(binary.BigEndian.Uint32(buf[:4])), nil
	case 64:
		return binary.BigEndian.Uint64(buf[:8]), nil
	default:
		br.err = invalidf(SubNone, "invalid uintn read size %d", bits)
		return 0, br.err
	}
}

func (br *bufReader) readUint8() (uint8, error) {
	if br.err != nil {
		return 0, br.err
	}
	v, err := br.ReadByte()
	if err != nil {
		br.err = err
		return 0, err
	}
	return v, nil
}

func (br *bufReader) readUint16() (uint16, error) {
	if br.err != nil {
		return 0, br.err
	}
	buf, err := br.Peek(2)
	if err != nil {
		br.err = err
		return 0, err
	}
	v := binary.BigEndian.Uint16(buf[:2])
	br.Discard(2)
	return v, nil
}

func (br *bufReader) readUint32() (uint32, error) {
	if br.err != nil {
		return 0, br.err
	}
	buf, err := br.Peek(4)
	if err != nil {
		br.err = err
		return 0, err
	}
	v := binary.BigEndian.Uint32(buf[:4])
	br.Discard(4)
	return v, nil
}

func (br *bufReader) readFloat32() (float32, error) {
	v, err := br.readUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// readFourCC reads a 4-byte character code.
func (br *bufReader) readFourCC() (string, error) {
	if br.err != nil {
		return "", br.err
	}
	buf, err := br.Peek(4)
	if err != nil {
		br.err = err
		return "", err
	}
	s := string(buf[:4])
	br.Discard(4)
	return s, nil
}

// readString reads a NUL-terminated string.
func (br *bufReader) readString() (string, error) {
	if br.err != nil {
		return "", br.err
	}
	s0, err := br.ReadString(0)
	if err != nil {
		br.err = err
		return "", err
	}
	s := strings.TrimSuffix(s0, "\x00")
	if len(s) == len(s0) {
		br.err = invalidf(SubNone, "unexpected non-null terminated string")
		return "", br.err
	}
	return s, nil
}
