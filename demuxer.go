package astisi

// SectionDemux reassembles complete sections from a continuous stream of
// transport packets on a set of tracked PIDs. It is driven one packet at a
// time and never blocks: completed sections are returned from the call that
// completed them.
type SectionDemux struct {
	// We use map[uint32] instead of map[uint16] as go runtime provides
	// optimized hash functions for (u)int32/64 keys
	pids map[uint32]*sectionAccumulator
}

// NewSectionDemux creates a section demux tracking the provided PIDs
func NewSectionDemux(pids ...uint16) *SectionDemux {
	d := &SectionDemux{pids: make(map[uint32]*sectionAccumulator)}
	for _, pid := range pids {
		d.AddPID(pid)
	}
	return d
}

// AddPID starts tracking a PID
func (d *SectionDemux) AddPID(pid uint16) {
	if _, ok := d.pids[uint32(pid)]; !ok {
		d.pids[uint32(pid)] = &sectionAccumulator{pid: pid}
	}
}

// DelPID stops tracking a PID, dropping any partially accumulated section
func (d *SectionDemux) DelPID(pid uint16) {
	delete(d.pids, uint32(pid))
}

// HasPID checks whether a PID is tracked
func (d *SectionDemux) HasPID(pid uint16) bool {
	_, ok := d.pids[uint32(pid)]
	return ok
}

// Feed processes one transport packet and returns the sections it completed,
// in byte-stream order. Packets on untracked PIDs are ignored.
func (d *SectionDemux) Feed(p *Packet) []*Section {
	acc, ok := d.pids[uint32(p.Header.PID)]
	if !ok {
		return nil
	}
	return acc.add(p)
}

// sectionAccumulator keeps partial section bytes for a single PID and
// decides when a section is complete.
//
// States: idle (no partial data, waiting for a payload unit start),
// accumulating (partial bytes buffered, total length known once the first 3
// bytes arrived), complete (sections extracted and returned).
type sectionAccumulator struct {
	buf     []byte
	cc      uint8
	hasCC   bool
	pid     uint16
	started bool
}

// add feeds one packet to the accumulator
func (a *sectionAccumulator) add(p *Packet) (ss []*Section) {
	// Throw away packet if error indicator
	if p.Header.TransportErrorIndicator {
		return
	}

	// Throw away packets without payload: they don't move the continuity
	// counter and can't carry section bytes
	if !p.Header.HasPayload {
		return
	}

	// A continuity discontinuity invalidates whatever was being
	// accumulated: out-of-order data must not be concatenated silently
	if a.hasCC && p.Header.ContinuityCounter != (a.cc+1)%16 {
		if len(a.buf) > 0 {
			logger.Warnf("astisi: discontinuity on PID %d, dropping %d partial section bytes", a.pid, len(a.buf))
		}
		a.reset()
	}
	a.cc = p.Header.ContinuityCounter
	a.hasCC = true

	payload := p.Payload
	if p.Header.PayloadUnitStartIndicator {
		if len(payload) < 1 {
			return
		}
		pointer := int(payload[0])
		if 1+pointer > len(payload) {
			a.reset()
			return
		}

		// Bytes before the pointer finish the section in flight
		if a.started && pointer > 0 {
			a.buf = append(a.buf, payload[1:1+pointer]...)
			ss = a.extract()
		}

		a.buf = a.buf[:0]
		a.started = true
		a.buf = append(a.buf, payload[1+pointer:]...)
	} else {
		// Can't join a section started before we began listening
		if !a.started {
			return
		}
		a.buf = append(a.buf, payload...)
	}

	ss = append(ss, a.extract()...)
	return
}

// extract pulls every complete section out of the buffered bytes
func (a *sectionAccumulator) extract() (ss []*Section) {
	for len(a.buf) >= sectionHeaderSize {
		if a.buf[0] == TableIDStuffing {
			// Stuffing runs to the end of the payload unit
			a.reset()
			return
		}

		total := sectionHeaderSize + int(a.buf[1]&0xf)<<8 + int(a.buf[2])
		if total > sectionMaxSize(a.buf[0]) {
			logger.Warnf("astisi: dropping %d byte section with table id 0x%x on PID %d: too long", total, a.buf[0], a.pid)
			a.reset()
			return
		}
		if len(a.buf) < total {
			return
		}

		if s, err := ParseSection(a.buf[:total]); err != nil {
			logger.Warnf("astisi: rejecting %d byte section with table id 0x%x on PID %d: %v", total, a.buf[0], a.pid, err)
		} else {
			ss = append(ss, s)
		}

		rem := len(a.buf) - total
		copy(a.buf, a.buf[total:])
		a.buf = a.buf[:rem]
	}
	return
}

func (a *sectionAccumulator) reset() {
	a.buf = a.buf[:0]
	a.started = false
}
