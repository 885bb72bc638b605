package dimse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestDataset_EncodeDecodeRoundTrip(t *testing.T) {
	ds := &Dataset{}
	ds.Add(StringElement(tag.PatientID, "PAT-7"))
	ds.Add(StringElement(tag.StudyInstanceUID, "1.2.840.1.7"))
	ds.Add(Uint16Element(tagStatus, StatusPending))
	ds.Add(Element{Tag: tag.PixelData, Value: []byte{0xDE, 0xAD, 0xBE, 0xEF}})

	decoded, err := DecodeDataset(ds.Encode())
	require.NoError(t, err)
	require.Len(t, decoded.Elements, 4)

	assert.Equal(t, "PAT-7", decoded.String(tag.PatientID))
	assert.Equal(t, "1.2.840.1.7", decoded.String(tag.StudyInstanceUID))

	status, ok := decoded.Uint16(tagStatus)
	require.True(t, ok)
	assert.Equal(t, StatusPending, status)

	pixels, ok := decoded.Get(tag.PixelData)
	require.True(t, ok)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, pixels)
}

func TestDataset_EncodePadsOddValues(t *testing.T) {
	ds := &Dataset{}
	ds.Add(StringElement(tag.PatientID, "ABC")) // 3 bytes, padded to 4

	encoded := ds.Encode()
	require.Len(t, encoded, 8+4)
	assert.Equal(t, byte(0x00), encoded[len(encoded)-1], "pad byte must be NUL")

	decoded, err := DecodeDataset(encoded)
	require.NoError(t, err)

	raw, ok := decoded.Get(tag.PatientID)
	require.True(t, ok)
	assert.Len(t, raw, 4, "decoded value keeps the pad byte")
	assert.Equal(t, "ABC", decoded.String(tag.PatientID), "String strips the pad byte")
}

func TestDecodeDataset_RejectsMalformedInput(t *testing.T) {
	ds := &Dataset{}
	ds.Add(StringElement(tag.PatientID, "PAT-7x")) // 6 bytes, no padding needed
	valid := ds.Encode()

	t.Run("truncated header", func(t *testing.T) {
		_, err := DecodeDataset(valid[:5])
		require.Error(t, err)
		assert.Contains(t, err.Error(), "truncated element header")
	})

	t.Run("truncated value", func(t *testing.T) {
		_, err := DecodeDataset(valid[:len(valid)-2])
		require.Error(t, err)
		assert.Contains(t, err.Error(), "truncated element value")
	})

	t.Run("odd declared length", func(t *testing.T) {
		mangled := make([]byte, len(valid))
		copy(mangled, valid)
		mangled[4] = 0x05 // length LSB: declare 5 bytes
		_, err := DecodeDataset(mangled)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "odd element length")
	})
}

func TestDecodeDataset_EmptyInput(t *testing.T) {
	ds, err := DecodeDataset(nil)
	require.NoError(t, err)
	assert.Empty(t, ds.Elements)
}

func TestDataset_StringTrimsPadding(t *testing.T) {
	ds := &Dataset{}
	ds.Add(Element{Tag: tag.PatientID, Value: []byte("PAT \x00")})
	assert.Equal(t, "PAT", ds.String(tag.PatientID))

	assert.Equal(t, "", ds.String(tag.StudyInstanceUID), "absent tag reads as empty")
}

func TestDataset_Uint16ShortValue(t *testing.T) {
	ds := &Dataset{}
	ds.Add(Element{Tag: tagStatus, Value: []byte{0x01}})

	_, ok := ds.Uint16(tagStatus)
	assert.False(t, ok, "one-byte value cannot hold an unsigned short")

	_, ok = ds.Uint16(tagCommandField)
	assert.False(t, ok, "absent tag")
}
