package astisi

import (
	"fmt"
	"time"
)

// EIT table ids
// Page: 36 | Chapter: 5.2.4 | Link:
// https://www.dvb.org/resources/public/standards/a38_dvb-si_specification.pdf
const (
	TableIDEITStart               uint8 = 0x4e
	TableIDEITEnd                 uint8 = 0x6f
	TableIDEITPFActual            uint8 = 0x4e
	TableIDEITPFOther             uint8 = 0x4f
	TableIDEITScheduleActualStart uint8 = 0x50
	TableIDEITScheduleActualEnd   uint8 = 0x5f
	TableIDEITScheduleOtherStart  uint8 = 0x60
	TableIDEITScheduleOtherEnd    uint8 = 0x6f
)

// EIT payload layout
const (
	eitFixedPayloadSize = 6  // transport stream id, original network id, segment last section number, last table id
	eitEventFixedSize   = 12 // event id, start time, duration, status flags + descriptors loop length
	eitEventTimeOffset  = 2  // start time position inside an event's fixed part
)

// IsEITTableID checks whether the table id belongs to an EIT
func IsEITTableID(tableID uint8) bool {
	return tableID >= TableIDEITStart && tableID <= TableIDEITEnd
}

// IsEITActualTableID checks whether the table id belongs to an EIT of the
// actual transport stream
func IsEITActualTableID(tableID uint8) bool {
	return tableID == TableIDEITPFActual ||
		(tableID >= TableIDEITScheduleActualStart && tableID <= TableIDEITScheduleActualEnd)
}

// IsEITScheduleTableID checks whether the table id belongs to an EIT
// schedule, as opposed to present/following
func IsEITScheduleTableID(tableID uint8) bool {
	return tableID >= TableIDEITScheduleActualStart && tableID <= TableIDEITScheduleOtherEnd
}

// ServiceTriple identifies a service by original network id, transport
// stream id and service id
type ServiceTriple struct {
	OriginalNetworkID uint16
	ServiceID         uint16
	TransportStreamID uint16
}

// eitServiceTriple extracts the service triple of an EIT section: the table
// id extension is the service id, the first two payload words are the
// transport stream id and the original network id
func eitServiceTriple(s *Section) (t ServiceTriple, err error) {
	if len(s.Payload) < eitFixedPayloadSize {
		err = fmt.Errorf("astisi: EIT payload of %d bytes: %w", len(s.Payload), ErrSectionTooShort)
		return
	}
	t.ServiceID = s.TableIDExtension
	t.TransportStreamID = uint16(s.Payload[0])<<8 | uint16(s.Payload[1])
	t.OriginalNetworkID = uint16(s.Payload[2])<<8 | uint16(s.Payload[3])
	return
}

// setEITTransportStreamID patches the transport stream id word of an EIT payload
func setEITTransportStreamID(s *Section, v uint16) error {
	return s.PatchPayload(0, []byte{byte(v >> 8), byte(v)})
}

// setEITOriginalNetworkID patches the original network id word of an EIT payload
func setEITOriginalNetworkID(s *Section, v uint16) error {
	return s.PatchPayload(2, []byte{byte(v >> 8), byte(v)})
}

// forEachEITEvent walks the event records of an EIT section and calls fn
// with the payload offset of each event's fixed part. The descriptor loops
// are skipped through their length prefixes.
func forEachEITEvent(s *Section, fn func(offset int)) error {
	b := NewBitsBuffer(s.Payload)
	b.SkipBytes(eitFixedPayloadSize)
	for b.CanReadBytes(eitEventFixedSize) {
		offset := b.ReadPosition() / 8
		b.SkipBytes(10) // event id, start time, duration
		b.SkipBits(4)   // running status, free CA mode
		b.PushReadLength(12)
		b.PopState()
		if b.Err() {
			return fmt.Errorf("astisi: walking EIT events failed: %w", ErrSectionMalformed)
		}
		fn(offset)
	}
	if b.Remaining() != 0 {
		return fmt.Errorf("astisi: %d trailing bits after EIT events: %w", b.Remaining(), ErrSectionMalformed)
	}
	return nil
}

// EITData represents decoded EIT payload content
type EITData struct {
	Events                   []*EITEvent
	LastTableID              uint8
	OriginalNetworkID        uint16
	SegmentLastSectionNumber uint8
	ServiceID                uint16
	TransportStreamID        uint16
}

// EITEvent represents one EIT event record. Descriptors stay opaque: their
// field mappings belong to the descriptor registry, not to this package.
type EITEvent struct {
	Descriptors   []byte
	Duration      time.Duration
	EventID       uint16
	StartTime     time.Time
	RunningStatus uint8

	// When true indicates that access to one or more streams may be
	// controlled by a CA system.
	HasFreeCSAMode bool
}

// ParseEITSection decodes the payload of an EIT section
func ParseEITSection(s *Section) (*EITData, error) {
	d := &EITData{ServiceID: s.TableIDExtension}

	b := NewBitsBuffer(s.Payload)
	d.TransportStreamID = uint16(b.ReadBits(16))
	d.OriginalNetworkID = uint16(b.ReadBits(16))
	d.SegmentLastSectionNumber = uint8(b.ReadBits(8))
	d.LastTableID = uint8(b.ReadBits(8))

	for b.CanReadBytes(eitEventFixedSize) {
		e := &EITEvent{}
		e.EventID = uint16(b.ReadBits(16))

		var err error
		if e.StartTime, err = parseDVBTimeBytes(b.ReadBytes(dvbTimeLength)); err != nil {
			return nil, fmt.Errorf("astisi: parsing DVB time failed: %w", err)
		}
		if e.Duration, err = parseDVBDurationSecondsBytes(b.ReadBytes(3)); err != nil {
			return nil, fmt.Errorf("astisi: parsing DVB duration failed: %w", err)
		}

		e.RunningStatus = uint8(b.ReadBits(3))
		e.HasFreeCSAMode = b.ReadBool()

		b.PushReadLength(12)
		if n := b.Remaining() / 8; n > 0 {
			e.Descriptors = b.ReadBytes(n)
		}
		b.PopState()

		d.Events = append(d.Events, e)
	}

	if b.Err() || !b.FullyConsumed() {
		return nil, fmt.Errorf("astisi: parsing EIT section failed: %w", ErrSectionMalformed)
	}
	return d, nil
}

// eitEventBytes serializes one event record
func (e *EITEvent) bytes() ([]byte, error) {
	b := NewWritableBitsBuffer(MaxLongSectionSize)
	b.WriteBits(uint64(e.EventID), 16)

	startTime, err := dvbTimeBytes(e.StartTime)
	if err != nil {
		return nil, fmt.Errorf("astisi: writing DVB time failed: %w", err)
	}
	b.WriteBytes(startTime)
	b.WriteBytes(dvbDurationSecondsBytes(e.Duration))

	b.WriteBits(uint64(e.RunningStatus), 3)
	b.WriteBool(e.HasFreeCSAMode)
	b.PushWriteLength(12)
	b.WriteBytes(e.Descriptors)
	b.PopState()

	if b.Err() {
		return nil, fmt.Errorf("astisi: writing EIT event failed: %w", ErrSectionMalformed)
	}
	return b.Bytes(), nil
}

// BuildEITTable encodes EIT content into sections, splitting events across
// as many sections as needed
func BuildEITTable(tableID uint8, versionNumber uint8, d *EITData, opts ...func(*TableEncoder)) (*BinaryTable, error) {
	if !IsEITTableID(tableID) {
		return nil, fmt.Errorf("astisi: table id 0x%x is not an EIT", tableID)
	}
	fixed := []byte{
		byte(d.TransportStreamID >> 8), byte(d.TransportStreamID),
		byte(d.OriginalNetworkID >> 8), byte(d.OriginalNetworkID),
		d.SegmentLastSectionNumber,
		d.LastTableID,
	}
	e := NewTableEncoder(tableID, d.ServiceID, versionNumber, fixed, opts...)
	for _, ev := range d.Events {
		bs, err := ev.bytes()
		if err != nil {
			return nil, fmt.Errorf("astisi: writing event %d failed: %w", ev.EventID, err)
		}
		e.AddEntry(bs)
	}
	return e.Table()
}
