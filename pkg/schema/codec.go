package schema

import (
	"encoding/binary"
	"fmt"
)

// Field is a single tagged-length-value entry inside an encoded record.
// Tags are stable per type; readers that do not recognize a tag skip its
// bytes rather than failing, which is how new optional fields are added
// without bumping a format version. Exported so other packages (routing's
// ChainInfo/TargetInfo/NodeInfo, mgmtd's ChainTable) can build records in
// the same forward-compatible format §4.2 asks of every table, not just
// the ones schema itself owns.
type Field struct {
	Tag   uint16
	Value []byte
}

// Encoder accumulates fields and serializes them into the compact binary
// form described in §4.2: a uint16 tag, uint32 length, then raw bytes,
// repeated until the buffer ends.
type Encoder struct {
	fields []Field
}

// NewEncoder starts an empty tagged record.
func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) PutBytes(tag uint16, v []byte) {
	e.fields = append(e.fields, Field{Tag: tag, Value: v})
}

func (e *Encoder) PutUint64(tag uint16, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.PutBytes(tag, b[:])
}

func (e *Encoder) PutUint32(tag uint16, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.PutBytes(tag, b[:])
}

func (e *Encoder) PutUint16(tag uint16, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.PutBytes(tag, b[:])
}

func (e *Encoder) PutByte(tag uint16, v byte) {
	e.PutBytes(tag, []byte{v})
}

func (e *Encoder) PutString(tag uint16, v string) {
	e.PutBytes(tag, []byte(v))
}

// Encode serializes the accumulated fields to their wire form.
func (e *Encoder) Encode() []byte {
	var out []byte
	for _, f := range e.fields {
		var hdr [6]byte
		binary.BigEndian.PutUint16(hdr[0:2], f.Tag)
		binary.BigEndian.PutUint32(hdr[2:6], uint32(len(f.Value)))
		out = append(out, hdr[:]...)
		out = append(out, f.Value...)
	}
	return out
}

// Decoder parses a tagged record into a tag->bytes map, silently keeping
// (and letting callers ignore) any tag it does not recognize.
type Decoder struct {
	byTag map[uint16][]byte
}

// DecodeRecord parses b into a Decoder. It is the inverse of Encoder.Encode,
// and the entry point every schema.DecodeX function (and routing's own
// record types) builds on.
func DecodeRecord(b []byte) (*Decoder, error) {
	d := &Decoder{byTag: make(map[uint16][]byte)}
	for len(b) > 0 {
		if len(b) < 6 {
			return nil, fmt.Errorf("schema: truncated field header")
		}
		tag := binary.BigEndian.Uint16(b[0:2])
		length := binary.BigEndian.Uint32(b[2:6])
		b = b[6:]
		if uint32(len(b)) < length {
			return nil, fmt.Errorf("schema: truncated field value for tag %d", tag)
		}
		d.byTag[tag] = b[:length]
		b = b[length:]
	}
	return d, nil
}

func (d *Decoder) Bytes(tag uint16) ([]byte, bool) {
	v, ok := d.byTag[tag]
	return v, ok
}

func (d *Decoder) Uint64(tag uint16) (uint64, bool, error) {
	v, ok := d.byTag[tag]
	if !ok {
		return 0, false, nil
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("schema: tag %d expected 8 bytes, got %d", tag, len(v))
	}
	return binary.BigEndian.Uint64(v), true, nil
}

func (d *Decoder) Uint32(tag uint16) (uint32, bool, error) {
	v, ok := d.byTag[tag]
	if !ok {
		return 0, false, nil
	}
	if len(v) != 4 {
		return 0, false, fmt.Errorf("schema: tag %d expected 4 bytes, got %d", tag, len(v))
	}
	return binary.BigEndian.Uint32(v), true, nil
}

func (d *Decoder) Uint16(tag uint16) (uint16, bool, error) {
	v, ok := d.byTag[tag]
	if !ok {
		return 0, false, nil
	}
	if len(v) != 2 {
		return 0, false, fmt.Errorf("schema: tag %d expected 2 bytes, got %d", tag, len(v))
	}
	return binary.BigEndian.Uint16(v), true, nil
}

func (d *Decoder) Byte(tag uint16) (byte, bool, error) {
	v, ok := d.byTag[tag]
	if !ok {
		return 0, false, nil
	}
	if len(v) != 1 {
		return 0, false, fmt.Errorf("schema: tag %d expected 1 byte, got %d", tag, len(v))
	}
	return v[0], true, nil
}

func (d *Decoder) String(tag uint16) (string, bool) {
	v, ok := d.byTag[tag]
	if !ok {
		return "", false
	}
	return string(v), true
}
