package astisi

import (
	"encoding/binary"
	"fmt"
)

// Section size limits
// MPEG defined tables are capped at 1024 bytes, DVB EIT sections may grow up
// to 4096 bytes.
// Page: 22 | Chapter: 5.1.3 | Link:
// https://www.dvb.org/resources/public/standards/a38_dvb-si_specification.pdf
const (
	MaxShortSectionSize = 1024
	MaxLongSectionSize  = 4096

	sectionHeaderSize       = 3
	sectionSyntaxHeaderSize = 5
	sectionCRC32Size        = 4
)

// TableIDStuffing fills the remainder of a packet's payload after the last
// section
const TableIDStuffing uint8 = 0xff

// Errors
var (
	ErrSectionTooShort  = fmt.Errorf("astisi: section too short")
	ErrSectionTooLong   = fmt.Errorf("astisi: section longer than allowed maximum")
	ErrSectionCRC32     = fmt.Errorf("astisi: section CRC32 mismatch")
	ErrSectionMalformed = fmt.Errorf("astisi: section malformed")
)

// Section represents one wire-format PSI/SI section.
//
// Parsed sections keep their original bytes so that untouched sections are
// re-emitted verbatim; any mutation marks the section dirty and the next
// Bytes() call reserializes it and recomputes the CRC32.
type Section struct {
	CRC32                  uint32
	CurrentNextIndicator   bool
	LastSectionNumber      uint8
	Payload                []byte
	PrivateBit             bool
	SectionNumber          uint8
	SectionSyntaxIndicator bool
	TableID                uint8
	TableIDExtension       uint16
	VersionNumber          uint8

	dirty bool
	raw   []byte
}

// sectionMaxSize returns the standards defined maximum for a table id
func sectionMaxSize(tableID uint8) int {
	if IsEITTableID(tableID) {
		return MaxLongSectionSize
	}
	return MaxShortSectionSize
}

// hasCRC32 indicates whether the section carries a trailing CRC32.
// Long-form sections do, short-form private sections don't.
func (s *Section) hasCRC32() bool {
	return s.SectionSyntaxIndicator
}

// Length returns the total wire length of the section in bytes
func (s *Section) Length() int {
	if s.raw != nil && !s.dirty {
		return len(s.raw)
	}
	n := sectionHeaderSize + len(s.Payload)
	if s.SectionSyntaxIndicator {
		n += sectionSyntaxHeaderSize + sectionCRC32Size
	}
	return n
}

// ParseSection parses and validates one complete section. bs must hold
// exactly the section's bytes, as delivered by the demux.
func ParseSection(bs []byte) (s *Section, err error) {
	if len(bs) < sectionHeaderSize {
		return nil, ErrSectionTooShort
	}

	b := NewBitsBuffer(bs)
	s = &Section{}
	s.TableID = uint8(b.ReadBits(8))
	s.SectionSyntaxIndicator = b.ReadBool()
	s.PrivateBit = b.ReadBool()
	b.SkipBits(2)
	b.PushReadLength(12)

	if sectionHeaderSize+int(bs[1]&0xf)<<8+int(bs[2]) != len(bs) {
		return nil, fmt.Errorf("astisi: parsing section failed: %w", ErrSectionMalformed)
	}
	if len(bs) > sectionMaxSize(s.TableID) {
		return nil, fmt.Errorf("astisi: parsing section of %d bytes failed: %w", len(bs), ErrSectionTooLong)
	}

	if s.SectionSyntaxIndicator {
		s.TableIDExtension = uint16(b.ReadBits(16))
		b.SkipBits(2)
		s.VersionNumber = uint8(b.ReadBits(5))
		s.CurrentNextIndicator = b.ReadBool()
		s.SectionNumber = uint8(b.ReadBits(8))
		s.LastSectionNumber = uint8(b.ReadBits(8))
		payloadLen := b.Remaining()/8 - sectionCRC32Size
		if payloadLen < 0 {
			return nil, fmt.Errorf("astisi: parsing section syntax failed: %w", ErrSectionTooShort)
		}
		s.Payload = b.ReadBytes(payloadLen)
		s.CRC32 = uint32(b.ReadBits(32))
	} else {
		s.Payload = b.ReadBytes(b.Remaining() / 8)
	}
	b.PopState()

	if b.Err() {
		return nil, fmt.Errorf("astisi: parsing section failed: %w", ErrSectionMalformed)
	}

	if s.hasCRC32() {
		if crc32 := computeCRC32(bs[:len(bs)-sectionCRC32Size]); crc32 != s.CRC32 {
			return nil, fmt.Errorf("astisi: section CRC32 %x != computed CRC32 %x: %w", s.CRC32, crc32, ErrSectionCRC32)
		}
	}

	s.raw = make([]byte, len(bs))
	copy(s.raw, bs)
	return s, nil
}

// Bytes serializes the section. Untouched parsed sections are returned
// byte-identical to their input; dirty sections are rewritten and get a
// fresh CRC32.
func (s *Section) Bytes() ([]byte, error) {
	if s.raw != nil && !s.dirty {
		return s.raw, nil
	}

	b := NewWritableBitsBuffer(sectionMaxSize(s.TableID))
	b.WriteBits(uint64(s.TableID), 8)
	b.WriteBool(s.SectionSyntaxIndicator)
	b.WriteBool(s.PrivateBit)
	b.WriteBits(0x3, 2)
	b.PushWriteLength(12)
	if s.SectionSyntaxIndicator {
		b.WriteBits(uint64(s.TableIDExtension), 16)
		b.WriteBits(0x3, 2)
		b.WriteBits(uint64(s.VersionNumber), 5)
		b.WriteBool(s.CurrentNextIndicator)
		b.WriteBits(uint64(s.SectionNumber), 8)
		b.WriteBits(uint64(s.LastSectionNumber), 8)
	}
	b.WriteBytes(s.Payload)
	if s.hasCRC32() {
		// Placeholder, patched once the length field is final
		b.WriteBits(0, 32)
	}
	b.PopState()

	if b.Err() {
		return nil, fmt.Errorf("astisi: writing section failed: %w", ErrSectionTooLong)
	}

	bs := b.Bytes()
	if s.hasCRC32() {
		s.CRC32 = computeCRC32(bs[:len(bs)-sectionCRC32Size])
		binary.BigEndian.PutUint32(bs[len(bs)-sectionCRC32Size:], s.CRC32)
	}

	s.raw = bs
	s.dirty = false
	return bs, nil
}

// Copy returns a deep copy of the section. The demux owns the sections it
// produces; consumers that mutate must work on a copy.
func (s *Section) Copy() *Section {
	c := *s
	c.Payload = make([]byte, len(s.Payload))
	copy(c.Payload, s.Payload)
	if s.raw != nil {
		c.raw = make([]byte, len(s.raw))
		copy(c.raw, s.raw)
	}
	return &c
}

// SetTableIDExtension patches the table id extension in place
func (s *Section) SetTableIDExtension(v uint16) {
	if s.TableIDExtension == v {
		return
	}
	s.TableIDExtension = v
	s.dirty = true
}

// SetVersionNumber patches the 5 bit version number in place
func (s *Section) SetVersionNumber(v uint8) {
	v &= 0x1f
	if s.VersionNumber == v {
		return
	}
	s.VersionNumber = v
	s.dirty = true
}

// PatchPayload overwrites payload bytes at the given offset
func (s *Section) PatchPayload(offset int, bs []byte) error {
	if offset < 0 || offset+len(bs) > len(s.Payload) {
		return fmt.Errorf("astisi: patching %d bytes at offset %d in a %d byte payload: %w", len(bs), offset, len(s.Payload), ErrSectionMalformed)
	}
	copy(s.Payload[offset:], bs)
	s.dirty = true
	return nil
}
