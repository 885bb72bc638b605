package dimse

import (
	"encoding/binary"
	"fmt"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Element is a single data element: a tag plus its raw value bytes.
// Values are encoded implicit-VR little-endian and padded to even length
// on the wire.
type Element struct {
	Tag   tag.Tag
	Value []byte
}

// StringElement builds an element holding a text value
func StringElement(t tag.Tag, s string) Element {
	return Element{Tag: t, Value: []byte(s)}
}

// Uint16Element builds an element holding a single unsigned short
func Uint16Element(t tag.Tag, v uint16) Element {
	value := make([]byte, 2)
	binary.LittleEndian.PutUint16(value, v)
	return Element{Tag: t, Value: value}
}

// Dataset is an ordered collection of elements. Builders add elements in
// ascending tag order; decoded datasets keep whatever order the peer sent.
type Dataset struct {
	Elements []Element
}

// Add appends an element to the dataset
func (d *Dataset) Add(e Element) {
	d.Elements = append(d.Elements, e)
}

// Get returns the raw value of the first element with the given tag
func (d *Dataset) Get(t tag.Tag) ([]byte, bool) {
	for i := range d.Elements {
		if d.Elements[i].Tag == t {
			return d.Elements[i].Value, true
		}
	}
	return nil, false
}

// String returns the element value as a trimmed string, or "" when absent.
// Trailing NUL and space padding is stripped.
func (d *Dataset) String(t tag.Tag) string {
	value, ok := d.Get(t)
	if !ok {
		return ""
	}
	return trimPadding(value)
}

// Uint16 returns the element value as an unsigned short
func (d *Dataset) Uint16(t tag.Tag) (uint16, bool) {
	value, ok := d.Get(t)
	if !ok || len(value) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(value), true
}

// Encode serializes the dataset implicit-VR little-endian.
// Each element is group(2) elem(2) length(4) value, value padded to even length.
func (d *Dataset) Encode() []byte {
	size := 0
	for i := range d.Elements {
		size += 8 + evenLen(len(d.Elements[i].Value))
	}

	buf := make([]byte, 0, size)
	for i := range d.Elements {
		e := &d.Elements[i]
		padded := evenLen(len(e.Value))

		var hdr [8]byte
		binary.LittleEndian.PutUint16(hdr[0:2], e.Tag.Group)
		binary.LittleEndian.PutUint16(hdr[2:4], e.Tag.Element)
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(padded))
		buf = append(buf, hdr[:]...)

		buf = append(buf, e.Value...)
		if padded > len(e.Value) {
			buf = append(buf, 0x00)
		}
	}
	return buf
}

// DecodeDataset parses implicit-VR little-endian element bytes.
// Truncated input is a protocol violation, never silently ignored.
func DecodeDataset(data []byte) (*Dataset, error) {
	ds := &Dataset{}
	offset := 0

	for offset < len(data) {
		if len(data)-offset < 8 {
			return nil, fmt.Errorf("truncated element header at offset %d", offset)
		}

		t := tag.Tag{
			Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		}
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		if length%2 != 0 {
			return nil, fmt.Errorf("odd element length %d for tag (%04X,%04X)", length, t.Group, t.Element)
		}
		if uint32(len(data)-offset) < length {
			return nil, fmt.Errorf("truncated element value for tag (%04X,%04X): want %d bytes, have %d",
				t.Group, t.Element, length, len(data)-offset)
		}

		value := make([]byte, length)
		copy(value, data[offset:offset+int(length)])
		offset += int(length)

		ds.Add(Element{Tag: t, Value: value})
	}

	return ds, nil
}

func evenLen(n int) int {
	if n%2 != 0 {
		return n + 1
	}
	return n
}

func trimPadding(value []byte) string {
	end := len(value)
	for end > 0 && (value[end-1] == 0x00 || value[end-1] == ' ') {
		end--
	}
	return string(value[:end])
}
