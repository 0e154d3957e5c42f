package astisi

import (
	"bytes"

	"github.com/asticode/go-astikit"
	"github.com/pkg/errors"
)

// Sync byte
const syncByte = '\x47'

// MpegTsPacketSize is the fixed transport packet size
const MpegTsPacketSize = 188

// PIDs with a reserved meaning
const (
	PIDNull uint16 = 0x1fff
)

// Errors
var (
	ErrPacketMustStartWithASyncByte = errors.New("astisi: packet must start with a sync byte")
)

// Packet represents a transport packet
// https://en.wikipedia.org/wiki/MPEG_transport_stream
type Packet struct {
	Header  *PacketHeader
	Payload []byte // This is only the payload content
}

// PacketHeader represents a packet header
type PacketHeader struct {
	ContinuityCounter          uint8 // Sequence number of payload packets (0x00 to 0x0F) within each stream (except PID 8191)
	HasAdaptationField         bool
	HasPayload                 bool
	PayloadUnitStartIndicator  bool   // Set when a PSI section begins in this packet's payload.
	PID                        uint16 // Packet Identifier, describing the payload data.
	TransportErrorIndicator    bool   // Set when a demodulator can't correct errors from FEC data; indicating the packet is corrupt.
	TransportPriority          bool   // Set when the current packet has a higher priority than other packets with the same PID.
	TransportScramblingControl uint8
}

// ParsePacket parses a 188 byte transport packet. Adaptation field content
// is skipped, not decoded: the section layer only needs the payload and the
// framing signals of the header.
func ParsePacket(bs []byte) (p *Packet, err error) {
	return parsePacket(astikit.NewBytesIterator(bs))
}

func parsePacket(i *astikit.BytesIterator) (p *Packet, err error) {
	// Get next byte
	var b byte
	if b, err = i.NextByte(); err != nil {
		err = errors.Wrap(err, "astisi: getting next byte failed")
		return
	}

	// Packet must start with a sync byte
	if b != syncByte {
		err = ErrPacketMustStartWithASyncByte
		return
	}

	// Create packet
	p = &Packet{}

	// In case packet size is bigger than 188 bytes, we don't care for the first bytes
	i.Seek(i.Len() - MpegTsPacketSize + 1)
	offsetStart := i.Offset()

	// Parse header
	if p.Header, err = parsePacketHeader(i); err != nil {
		err = errors.Wrap(err, "astisi: parsing packet header failed")
		return
	}

	// Skip adaptation field
	if p.Header.HasAdaptationField {
		if b, err = i.NextByte(); err != nil {
			err = errors.Wrap(err, "astisi: fetching next byte failed")
			return
		}
		i.Seek(offsetStart + 4 + int(b))
	}

	// Build payload
	if p.Header.HasPayload {
		p.Payload = i.Dump()
	}
	return
}

// parsePacketHeader parses the packet header
func parsePacketHeader(i *astikit.BytesIterator) (h *PacketHeader, err error) {
	// Get next bytes
	var bs []byte
	if bs, err = i.NextBytes(3); err != nil {
		err = errors.Wrap(err, "astisi: fetching next bytes failed")
		return
	}

	// Create header
	h = &PacketHeader{
		ContinuityCounter:          uint8(bs[2] & 0xf),
		HasAdaptationField:         bs[2]&0x20 > 0,
		HasPayload:                 bs[2]&0x10 > 0,
		PayloadUnitStartIndicator:  bs[0]&0x40 > 0,
		PID:                        uint16(bs[0]&0x1f)<<8 | uint16(bs[1]),
		TransportErrorIndicator:    bs[0]&0x80 > 0,
		TransportPriority:          bs[0]&0x20 > 0,
		TransportScramblingControl: uint8(bs[2]) >> 6 & 0x3,
	}
	return
}

// writePacket writes a packet, padding short payloads with stuffing bytes up
// to targetPacketSize
func writePacket(w *astikit.BitsWriter, p *Packet, targetPacketSize int) (int, error) {
	b := astikit.NewBitsWriterBatch(w)

	b.Write(uint8(syncByte))
	b.Write(p.Header.TransportErrorIndicator)
	b.Write(p.Header.PayloadUnitStartIndicator)
	b.Write(p.Header.TransportPriority)
	b.WriteN(p.Header.PID, 13)
	b.WriteN(p.Header.TransportScramblingControl, 2)
	b.Write(p.Header.HasAdaptationField)
	b.Write(p.Header.HasPayload)
	b.WriteN(p.Header.ContinuityCounter, 4)
	bytesWritten := 4

	if p.Header.HasPayload {
		b.Write(p.Payload)
		bytesWritten += len(p.Payload)
	}

	for bytesWritten < targetPacketSize {
		b.Write(uint8(0xff))
		bytesWritten++
	}

	return bytesWritten, b.Err()
}

// Bytes serializes the packet as 188 bytes
func (p *Packet) Bytes() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Grow(MpegTsPacketSize)
	w := astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: buf})
	if _, err := writePacket(w, p, MpegTsPacketSize); err != nil {
		return nil, errors.Wrap(err, "astisi: writing packet failed")
	}
	return buf.Bytes(), nil
}

// newNullPacket creates an idle packet on the null PID
func newNullPacket(cc uint8) *Packet {
	payload := make([]byte, MpegTsPacketSize-4)
	for i := range payload {
		payload[i] = 0xff
	}
	return &Packet{
		Header: &PacketHeader{
			ContinuityCounter: cc,
			HasPayload:        true,
			PID:               PIDNull,
		},
		Payload: payload,
	}
}
