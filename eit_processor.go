package astisi

import (
	"time"

	"golang.org/x/exp/slices"
)

// Queue sizing
const (
	DefaultMaxQueuedSections = 1000
	minMaxQueuedSections     = 16
)

// ServiceFilter matches a service triple. Every specified component must
// equal the corresponding triple field; unspecified components are
// wildcards.
type ServiceFilter struct {
	HasOriginalNetworkID bool
	HasServiceID         bool
	HasTransportStreamID bool
	OriginalNetworkID    uint16
	ServiceID            uint16
	TransportStreamID    uint16
}

// ServiceFilterByID creates a filter matching on service id only
func ServiceFilterByID(serviceID uint16) ServiceFilter {
	return ServiceFilter{HasServiceID: true, ServiceID: serviceID}
}

// Matches checks the filter against a service triple
func (f ServiceFilter) Matches(t ServiceTriple) bool {
	if f.HasOriginalNetworkID && f.OriginalNetworkID != t.OriginalNetworkID {
		return false
	}
	if f.HasTransportStreamID && f.TransportStreamID != t.TransportStreamID {
		return false
	}
	if f.HasServiceID && f.ServiceID != t.ServiceID {
		return false
	}
	return true
}

// RenameRule patches the identity of matched EIT sections: the table id
// extension carries the service id, the first two payload words the
// transport stream id and original network id.
type RenameRule struct {
	Filter ServiceFilter

	HasNewOriginalNetworkID bool
	HasNewServiceID         bool
	HasNewTransportStreamID bool
	NewOriginalNetworkID    uint16
	NewServiceID            uint16
	NewTransportStreamID    uint16
}

// EITProcessor rewrites EIT sections carried on a set of input PIDs and
// remultiplexes the survivors onto one output PID. It is packet-synchronous:
// all work happens inside ProcessPacket, nothing blocks, and backpressure is
// resolved by dropping the newest section with a warning.
type EITProcessor struct {
	demux              *SectionDemux
	dropTableIDs       []uint8
	droppedSections    int
	hasTimeOffset      bool
	keeps              []ServiceFilter
	maxQueued          int
	packetizer         *Packetizer
	queue              []*Section
	removes            []ServiceFilter
	renames            []RenameRule
	timeOffset         time.Duration
	timeOffsetDateOnly bool
}

// NewEITProcessor creates an EIT processor consuming sections on inputPIDs
// and reinjecting them on outputPID
func NewEITProcessor(inputPIDs []uint16, outputPID uint16, opts ...func(*EITProcessor)) *EITProcessor {
	p := &EITProcessor{
		demux:     NewSectionDemux(inputPIDs...),
		maxQueued: DefaultMaxQueuedSections,
	}
	p.packetizer = NewPacketizer(outputPID, p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OptEITProcessorMaxQueuedSections returns the option to cap the section
// queue. Values below the hard floor are raised to it.
func OptEITProcessorMaxQueuedSections(n int) func(*EITProcessor) {
	return func(p *EITProcessor) {
		if n < minMaxQueuedSections {
			n = minMaxQueuedSections
		}
		p.maxQueued = n
	}
}

// AddInputPID starts consuming sections on a PID
func (p *EITProcessor) AddInputPID(pid uint16) {
	p.demux.AddPID(pid)
}

// DelInputPID stops consuming sections on a PID
func (p *EITProcessor) DelInputPID(pid uint16) {
	p.demux.DelPID(pid)
}

// OutputPID returns the PID sections are reinjected on
func (p *EITProcessor) OutputPID() uint16 {
	return p.packetizer.PID()
}

// Keep registers a keep rule. A non-empty keep set acts as a whitelist:
// only services matching a keep rule survive, and keep always overrides
// remove.
func (p *EITProcessor) Keep(f ServiceFilter) {
	p.keeps = append(p.keeps, f)
}

// Remove registers a remove rule
func (p *EITProcessor) Remove(f ServiceFilter) {
	p.removes = append(p.removes, f)
}

// Rename registers a rename rule
func (p *EITProcessor) Rename(r RenameRule) {
	p.renames = append(p.renames, r)
}

// RemoveTableID drops every section with the given table id, EIT or not
func (p *EITProcessor) RemoveTableID(tableID uint8) {
	if !slices.Contains(p.dropTableIDs, tableID) {
		p.dropTableIDs = append(p.dropTableIDs, tableID)
	}
}

// SetTimeOffset shifts every decodable EIT event start time by offset. In
// date only mode just the date part moves, by the offset's whole days.
func (p *EITProcessor) SetTimeOffset(offset time.Duration, dateOnly bool) {
	p.hasTimeOffset = offset != 0
	p.timeOffset = offset
	p.timeOffsetDateOnly = dateOnly
}

// QueuedSections returns the current number of buffered sections
func (p *EITProcessor) QueuedSections() int {
	return len(p.queue)
}

// DroppedSections returns the number of sections dropped on queue overflow
func (p *EITProcessor) DroppedSections() int {
	return p.droppedSections
}

// NextSection implements SectionProvider for the packetizer
func (p *EITProcessor) NextSection() *Section {
	if len(p.queue) == 0 {
		return nil
	}
	s := p.queue[0]
	p.queue = p.queue[1:]
	return s
}

// ProcessPacket consumes one transport packet and returns the packet to
// emit in its place. Packets on untracked PIDs pass through unchanged;
// packets on input PIDs are replaced by the packetizer's output, null
// packets included, so the stream's packet rate is preserved.
func (p *EITProcessor) ProcessPacket(pkt *Packet) *Packet {
	if !p.demux.HasPID(pkt.Header.PID) {
		return pkt
	}
	for _, s := range p.demux.Feed(pkt) {
		p.processSection(s)
	}
	return p.packetizer.NextPacket()
}

func (p *EITProcessor) processSection(s *Section) {
	if slices.Contains(p.dropTableIDs, s.TableID) {
		return
	}

	// Non-EIT sections on the input PIDs pass through unmodified
	if !IsEITTableID(s.TableID) {
		p.enqueue(s)
		return
	}

	t, err := eitServiceTriple(s)
	if err != nil {
		logger.Warnf("astisi: rejecting %d byte EIT section with table id 0x%x: %v", s.Length(), s.TableID, err)
		return
	}
	if !p.serviceKept(t) {
		return
	}

	// Mutations happen on a private copy: the demuxed instance may be
	// shared with other consumers
	out := s
	if len(p.renames) > 0 || p.hasTimeOffset {
		out = s.Copy()
		p.applyRenames(out, t)
		if p.hasTimeOffset {
			p.shiftEventTimes(out)
		}
	}
	p.enqueue(out)
}

// serviceKept applies the keep set first, then the remove set
func (p *EITProcessor) serviceKept(t ServiceTriple) bool {
	if len(p.keeps) > 0 {
		for _, f := range p.keeps {
			if f.Matches(t) {
				return true
			}
		}
		return false
	}
	for _, f := range p.removes {
		if f.Matches(t) {
			return false
		}
	}
	return true
}

func (p *EITProcessor) applyRenames(s *Section, t ServiceTriple) {
	for _, r := range p.renames {
		if !r.Filter.Matches(t) {
			continue
		}
		if r.HasNewServiceID {
			s.SetTableIDExtension(r.NewServiceID)
		}
		if r.HasNewTransportStreamID {
			if err := setEITTransportStreamID(s, r.NewTransportStreamID); err != nil {
				logger.Warnf("astisi: renaming transport stream id failed: %v", err)
			}
		}
		if r.HasNewOriginalNetworkID {
			if err := setEITOriginalNetworkID(s, r.NewOriginalNetworkID); err != nil {
				logger.Warnf("astisi: renaming original network id failed: %v", err)
			}
		}
	}
}

// shiftEventTimes patches every decodable event start time in place. An
// event whose time field fails to decode is left byte-identical and doesn't
// affect its siblings.
func (p *EITProcessor) shiftEventTimes(s *Section) {
	err := forEachEITEvent(s, func(offset int) {
		field := s.Payload[offset+eitEventTimeOffset : offset+eitEventTimeOffset+dvbTimeLength]
		if isDVBTimeUndefined(field) {
			return
		}
		shifted, err := shiftDVBTimeBytes(field, p.timeOffset, p.timeOffsetDateOnly)
		if err != nil {
			logger.Warnf("astisi: leaving event start time unmodified: %v", err)
			return
		}
		if err = s.PatchPayload(offset+eitEventTimeOffset, shifted); err != nil {
			logger.Warnf("astisi: patching event start time failed: %v", err)
		}
	})
	if err != nil {
		logger.Warnf("astisi: walking events of section with table id 0x%x failed: %v", s.TableID, err)
	}
}

// enqueue pushes a section onto the bounded queue, dropping the newest
// section when full. The pipeline must never stall packet throughput.
func (p *EITProcessor) enqueue(s *Section) {
	if len(p.queue) >= p.maxQueued {
		p.droppedSections++
		logger.Warnf("astisi: section queue full, dropping %d byte section with table id 0x%x", s.Length(), s.TableID)
		return
	}
	p.queue = append(p.queue, s)
}
