package astisi

import (
	"bytes"
	"testing"

	"github.com/asticode/go-astitools/binary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sectionPayload = []byte("eighteen bytes <=>")

func sectionBytes() []byte {
	w := astibinary.New()
	w.Write(uint8(0x4e))     // Table ID
	w.Write("1")             // Syntax section indicator
	w.Write("1")             // Private bit
	w.Write("11")            // Reserved
	w.Write("000000011011")  // Section length
	w.Write(uint16(0x1234))  // Table ID extension
	w.Write("11")            // Reserved
	w.Write("00010")         // Version number
	w.Write("1")             // Current/next indicator
	w.Write(uint8(0))        // Section number
	w.Write(uint8(0))        // Last section number
	w.Write(sectionPayload)  // Payload
	w.Write(computeCRC32(w.Bytes()))
	return w.Bytes()
}

func shortSectionBytes() []byte {
	w := astibinary.New()
	w.Write(uint8(0x72))    // Table ID
	w.Write("0")            // Syntax section indicator
	w.Write("1")            // Private bit
	w.Write("11")           // Reserved
	w.Write("000000000100") // Section length
	w.Write([]byte{1, 2, 3, 4})
	return w.Bytes()
}

func TestParseSection(t *testing.T) {
	s, err := ParseSection(sectionBytes())
	require.NoError(t, err)
	assert.Equal(t, uint8(0x4e), s.TableID)
	assert.True(t, s.SectionSyntaxIndicator)
	assert.True(t, s.PrivateBit)
	assert.Equal(t, uint16(0x1234), s.TableIDExtension)
	assert.Equal(t, uint8(2), s.VersionNumber)
	assert.True(t, s.CurrentNextIndicator)
	assert.Equal(t, uint8(0), s.SectionNumber)
	assert.Equal(t, uint8(0), s.LastSectionNumber)
	assert.Equal(t, sectionPayload, s.Payload)
	assert.Equal(t, computeCRC32(sectionBytes()[:len(sectionBytes())-4]), s.CRC32)
	assert.Equal(t, len(sectionBytes()), s.Length())
}

func TestParseSection_ShortForm(t *testing.T) {
	s, err := ParseSection(shortSectionBytes())
	require.NoError(t, err)
	assert.Equal(t, uint8(0x72), s.TableID)
	assert.False(t, s.SectionSyntaxIndicator)
	assert.Equal(t, []byte{1, 2, 3, 4}, s.Payload)
	assert.Equal(t, uint32(0), s.CRC32)
}

func TestParseSection_Errors(t *testing.T) {
	// Too short
	_, err := ParseSection([]byte{0x4e, 0xf0})
	assert.ErrorIs(t, err, ErrSectionTooShort)

	// Length field doesn't match the buffer
	b := sectionBytes()
	b[2]++
	_, err = ParseSection(b)
	assert.ErrorIs(t, err, ErrSectionMalformed)

	// Corrupted CRC32
	b = sectionBytes()
	b[len(b)-1] ^= 0xff
	_, err = ParseSection(b)
	assert.ErrorIs(t, err, ErrSectionCRC32)

	// A short table id must respect the 1024 byte cap
	w := astibinary.New()
	w.Write(uint8(0x72))    // Table ID
	w.Write("0")            // Syntax section indicator
	w.Write("1")            // Private bit
	w.Write("11")           // Reserved
	w.Write("010000000000") // Section length: 1024
	w.Write(bytes.Repeat([]byte{0xaa}, 1024))
	_, err = ParseSection(w.Bytes())
	assert.ErrorIs(t, err, ErrSectionTooLong)
}

func TestSectionBytes_Identity(t *testing.T) {
	// An untouched parsed section serializes byte-identical to its input
	b := sectionBytes()
	s, err := ParseSection(b)
	require.NoError(t, err)
	o, err := s.Bytes()
	require.NoError(t, err)
	assert.Equal(t, b, o)
}

func TestSectionBytes_Dirty(t *testing.T) {
	b := sectionBytes()
	s, err := ParseSection(b)
	require.NoError(t, err)

	s.SetTableIDExtension(0x4321)
	o, err := s.Bytes()
	require.NoError(t, err)
	assert.Equal(t, len(b), len(o))
	assert.Equal(t, []byte{0x43, 0x21}, o[3:5])
	assert.NotEqual(t, b[len(b)-4:], o[len(o)-4:])

	// The rewritten section must parse back to the same content
	ss, err := ParseSection(o)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x4321), ss.TableIDExtension)
	assert.Equal(t, s.Payload, ss.Payload)

	// A no-op setter must not dirty the section
	o2, err := ss.Bytes()
	require.NoError(t, err)
	ss.SetTableIDExtension(0x4321)
	ss.SetVersionNumber(ss.VersionNumber)
	o3, err := ss.Bytes()
	require.NoError(t, err)
	assert.Same(t, &o2[0], &o3[0])
}

func TestSectionBytes_FromScratch(t *testing.T) {
	s := &Section{
		CurrentNextIndicator:   true,
		Payload:                []byte{0xde, 0xad},
		PrivateBit:             true,
		SectionSyntaxIndicator: true,
		TableID:                0x42,
		TableIDExtension:       7,
		VersionNumber:          1,
	}
	b, err := s.Bytes()
	require.NoError(t, err)
	assert.Equal(t, sectionHeaderSize+sectionSyntaxHeaderSize+2+sectionCRC32Size, len(b))
	ss, err := ParseSection(b)
	require.NoError(t, err)
	assert.Equal(t, s.Payload, ss.Payload)
	assert.Equal(t, s.TableIDExtension, ss.TableIDExtension)
}

func TestSectionCopy(t *testing.T) {
	s, err := ParseSection(sectionBytes())
	require.NoError(t, err)
	c := s.Copy()
	c.Payload[0] ^= 0xff
	assert.NotEqual(t, s.Payload[0], c.Payload[0])
	c.SetVersionNumber(9)
	assert.Equal(t, uint8(2), s.VersionNumber)
}

func TestSectionPatchPayload(t *testing.T) {
	s, err := ParseSection(sectionBytes())
	require.NoError(t, err)

	// Out of bounds
	assert.Error(t, s.PatchPayload(len(s.Payload)-1, []byte{1, 2}))
	assert.Error(t, s.PatchPayload(-1, []byte{1}))

	// In place patch marks the section dirty and refreshes the CRC32
	require.NoError(t, s.PatchPayload(0, []byte("EIGHTEEN")))
	b, err := s.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("EIGHTEEN bytes <=>"), b[8:len(b)-4])
	ss, err := ParseSection(b)
	require.NoError(t, err)
	assert.Equal(t, s.Payload, ss.Payload)
}
