package astisi

// SectionProvider provides the next section to packetize. NextSection
// returns nil when nothing is queued; the packetizer then emits null
// packets to keep the output bitrate constant.
type SectionProvider interface {
	NextSection() *Section
}

// Packetizer serializes a stream of sections onto one output PID, one
// transport packet per call. Back-to-back sections share packets, packet
// tails after the last section byte are stuffed with 0xff.
type Packetizer struct {
	cc       uint8
	inFlight []byte
	offset   int
	pid      uint16
	provider SectionProvider
}

// NewPacketizer creates a packetizer emitting on pid, pulling sections from
// the provider
func NewPacketizer(pid uint16, provider SectionProvider) *Packetizer {
	return &Packetizer{pid: pid, provider: provider}
}

// PID returns the output PID
func (pz *Packetizer) PID() uint16 {
	return pz.pid
}

// NextPacket builds the next outgoing transport packet. A null packet is
// returned when no section is in flight and the provider has nothing
// queued.
func (pz *Packetizer) NextPacket() *Packet {
	const capacity = MpegTsPacketSize - 4

	var remainder []byte
	if pz.inFlight != nil {
		remainder = pz.inFlight[pz.offset:]
	}

	// No room to start a section after the continuation bytes and the
	// pointer field: emit a pure continuation packet
	if len(remainder) > capacity-2 {
		n := len(remainder)
		if n > capacity {
			n = capacity
		}
		payload := make([]byte, 0, capacity)
		payload = append(payload, remainder[:n]...)
		pz.offset += n
		if pz.offset == len(pz.inFlight) {
			pz.inFlight = nil
		}
		return pz.newPacket(payload, false)
	}

	next := pz.pull()
	if next == nil {
		if len(remainder) == 0 {
			return newNullPacket(0)
		}
		// Flush the tail of the section in flight, stuff the rest
		payload := make([]byte, 0, capacity)
		payload = append(payload, remainder...)
		pz.inFlight = nil
		return pz.newPacket(payload, false)
	}

	// A section starts in this packet: pointer field first, then the
	// continuation bytes it points past, then as many sections as fit
	payload := make([]byte, 0, capacity)
	payload = append(payload, byte(len(remainder)))
	payload = append(payload, remainder...)
	pz.inFlight = next
	pz.offset = 0
	for len(payload) < capacity {
		take := len(pz.inFlight) - pz.offset
		if room := capacity - len(payload); take > room {
			take = room
		}
		payload = append(payload, pz.inFlight[pz.offset:pz.offset+take]...)
		pz.offset += take
		if pz.offset < len(pz.inFlight) {
			break
		}
		pz.inFlight = nil
		pz.offset = 0
		if len(payload) == capacity {
			break
		}
		if next = pz.pull(); next == nil {
			break
		}
		pz.inFlight = next
	}
	return pz.newPacket(payload, true)
}

// pull dequeues the next serializable section
func (pz *Packetizer) pull() []byte {
	for {
		s := pz.provider.NextSection()
		if s == nil {
			return nil
		}
		bs, err := s.Bytes()
		if err != nil {
			logger.Warnf("astisi: skipping unserializable section with table id 0x%x: %v", s.TableID, err)
			continue
		}
		return bs
	}
}

func (pz *Packetizer) newPacket(payload []byte, pusi bool) *Packet {
	p := &Packet{
		Header: &PacketHeader{
			ContinuityCounter:         pz.cc,
			HasPayload:                true,
			PayloadUnitStartIndicator: pusi,
			PID:                       pz.pid,
		},
		Payload: payload,
	}
	pz.cc = (pz.cc + 1) & 0xf
	return p
}
