package astisi

import (
	"fmt"
)

// Errors
var (
	ErrTableSectionMismatch = fmt.Errorf("astisi: section doesn't belong to table")
	ErrTableSectionOrder    = fmt.Errorf("astisi: section out of order")
)

// BinaryTable is an ordered collection of sections that together encode one
// logical table instance. Section numbers are contiguous from 0 to the last
// section number and all sections share the same identity and version.
type BinaryTable struct {
	Sections []*Section
}

// AddSection appends the next section of the table
func (t *BinaryTable) AddSection(s *Section) error {
	if len(t.Sections) > 0 {
		f := t.Sections[0]
		if s.TableID != f.TableID ||
			s.TableIDExtension != f.TableIDExtension ||
			s.VersionNumber != f.VersionNumber ||
			s.CurrentNextIndicator != f.CurrentNextIndicator ||
			s.LastSectionNumber != f.LastSectionNumber {
			return ErrTableSectionMismatch
		}
	}
	if int(s.SectionNumber) != len(t.Sections) {
		return ErrTableSectionOrder
	}
	t.Sections = append(t.Sections, s)
	return nil
}

// IsComplete indicates whether all sections up to the last section number
// have been added
func (t *BinaryTable) IsComplete() bool {
	return len(t.Sections) > 0 &&
		len(t.Sections) == int(t.Sections[0].LastSectionNumber)+1
}

// TableID returns the table id shared by all sections
func (t *BinaryTable) TableID() uint8 {
	if len(t.Sections) == 0 {
		return 0
	}
	return t.Sections[0].TableID
}

// TableIDExtension returns the table id extension shared by all sections
func (t *BinaryTable) TableIDExtension() uint16 {
	if len(t.Sections) == 0 {
		return 0
	}
	return t.Sections[0].TableIDExtension
}

// TableEncoder builds a BinaryTable from a stream of pre-serialized
// repeating entries, splitting the content across as many sections as
// needed. The fixed leading fields are re-emitted at the start of every
// section. An entry that can never fit in an empty section is truncated
// with a diagnostic rather than overflowing the section.
type TableEncoder struct {
	cur                  []byte
	currentNextIndicator bool
	fixed                []byte
	maxPayloadSize       int
	privateBit           bool
	sections             []*Section
	tableID              uint8
	tableIDExtension     uint16
	truncatedEntries     int
	versionNumber        uint8
}

// NewTableEncoder creates a table encoder for long-form sections carrying
// the given identity. fixed holds the table's fixed leading payload fields,
// repeated in every produced section.
func NewTableEncoder(tableID uint8, tableIDExtension uint16, versionNumber uint8, fixed []byte, opts ...func(*TableEncoder)) *TableEncoder {
	e := &TableEncoder{
		currentNextIndicator: true,
		fixed:                fixed,
		maxPayloadSize:       sectionMaxSize(tableID) - sectionHeaderSize - sectionSyntaxHeaderSize - sectionCRC32Size,
		privateBit:           tableID >= 0x40,
		tableID:              tableID,
		tableIDExtension:     tableIDExtension,
		versionNumber:        versionNumber & 0x1f,
	}
	for _, opt := range opts {
		opt(e)
	}
	// The fixed part must fit in every section, entries can be truncated
	// down to nothing but the capacity can't go below it
	if e.maxPayloadSize < len(e.fixed) {
		logger.Warnf("astisi: raising max payload size from %d to fit %d fixed bytes in table 0x%x", e.maxPayloadSize, len(e.fixed), tableID)
		e.maxPayloadSize = len(e.fixed)
	}
	e.cur = append([]byte{}, e.fixed...)
	return e
}

// OptTableEncoderNext returns the option marking produced sections as "next"
// instead of "currently applicable"
func OptTableEncoderNext() func(*TableEncoder) {
	return func(e *TableEncoder) {
		e.currentNextIndicator = false
	}
}

// OptTableEncoderMaxPayloadSize returns the option to lower the per-section
// payload capacity, e.g. to force frequent splits in tests
func OptTableEncoderMaxPayloadSize(n int) func(*TableEncoder) {
	return func(e *TableEncoder) {
		if n < e.maxPayloadSize {
			e.maxPayloadSize = n
		}
	}
}

// AddEntry appends one repeating entry to the table, sealing the current
// section and opening a new one when the entry doesn't fit. An entry that
// exactly fills the remaining room stays in the current section.
func (e *TableEncoder) AddEntry(entry []byte) {
	if len(e.fixed)+len(entry) > e.maxPayloadSize {
		// Entry can never fit, not even in an empty section
		room := e.maxPayloadSize - len(e.fixed)
		logger.Warnf("astisi: truncating %d byte entry to %d bytes in table 0x%x", len(entry), room, e.tableID)
		entry = entry[:room]
		e.truncatedEntries++
	}
	if len(e.cur)+len(entry) > e.maxPayloadSize {
		e.sealSection()
	}
	e.cur = append(e.cur, entry...)
}

// TruncatedEntries returns the number of entries that had to be truncated
func (e *TableEncoder) TruncatedEntries() int {
	return e.truncatedEntries
}

// Table seals the last section and returns the finished table. A table
// without entries still produces exactly one section. The encoder must not
// be reused afterwards.
func (e *TableEncoder) Table() (*BinaryTable, error) {
	e.sealSection()
	t := &BinaryTable{}
	last := uint8(len(e.sections) - 1)
	for _, s := range e.sections {
		s.LastSectionNumber = last
		if err := t.AddSection(s); err != nil {
			return nil, fmt.Errorf("astisi: adding section %d failed: %w", s.SectionNumber, err)
		}
		// Serialize now so the CRC32 is final
		if _, err := s.Bytes(); err != nil {
			return nil, fmt.Errorf("astisi: sealing section %d failed: %w", s.SectionNumber, err)
		}
	}
	return t, nil
}

func (e *TableEncoder) sealSection() {
	s := &Section{
		CurrentNextIndicator:   e.currentNextIndicator,
		Payload:                e.cur,
		PrivateBit:             e.privateBit,
		SectionNumber:          uint8(len(e.sections)),
		SectionSyntaxIndicator: true,
		TableID:                e.tableID,
		TableIDExtension:       e.tableIDExtension,
		VersionNumber:          e.versionNumber,
		dirty:                  true,
	}
	e.sections = append(e.sections, s)
	e.cur = append([]byte{}, e.fixed...)
}
