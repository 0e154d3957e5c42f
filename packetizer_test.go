package astisi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSectionProvider struct {
	ss []*Section
}

func (p *sliceSectionProvider) NextSection() *Section {
	if len(p.ss) == 0 {
		return nil
	}
	s := p.ss[0]
	p.ss = p.ss[1:]
	return s
}

func TestPacketizer_Idle(t *testing.T) {
	pz := NewPacketizer(256, &sliceSectionProvider{})
	assert.Equal(t, uint16(256), pz.PID())
	p := pz.NextPacket()
	assert.Equal(t, PIDNull, p.Header.PID)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, MpegTsPacketSize-4), p.Payload)
}

func TestPacketizer_SmallSection(t *testing.T) {
	s, err := ParseSection(sectionBytes())
	require.NoError(t, err)
	pz := NewPacketizer(256, &sliceSectionProvider{ss: []*Section{s}})

	p := pz.NextPacket()
	assert.Equal(t, uint16(256), p.Header.PID)
	assert.True(t, p.Header.PayloadUnitStartIndicator)
	assert.Equal(t, uint8(0), p.Header.ContinuityCounter)
	assert.Equal(t, byte(0), p.Payload[0])
	assert.Equal(t, sectionBytes(), p.Payload[1:1+len(sectionBytes())])

	// Queue drained
	assert.Equal(t, PIDNull, pz.NextPacket().Header.PID)
}

func TestPacketizer_PacksSections(t *testing.T) {
	s1, err := ParseSection(sectionBytes())
	require.NoError(t, err)
	s2 := s1.Copy()
	pz := NewPacketizer(256, &sliceSectionProvider{ss: []*Section{s1, s2}})

	p := pz.NextPacket()
	require.True(t, p.Header.PayloadUnitStartIndicator)
	n := len(sectionBytes())
	assert.Equal(t, byte(0), p.Payload[0])
	assert.Equal(t, sectionBytes(), p.Payload[1:1+n])
	assert.Equal(t, sectionBytes(), p.Payload[1+n:1+2*n])
	assert.Equal(t, PIDNull, pz.NextPacket().Header.PID)
}

func TestPacketizer_LargeSection(t *testing.T) {
	b := longSectionBytes(t)
	s, err := ParseSection(b)
	require.NoError(t, err)
	pz := NewPacketizer(256, &sliceSectionProvider{ss: []*Section{s}})

	p1 := pz.NextPacket()
	require.True(t, p1.Header.PayloadUnitStartIndicator)
	assert.Len(t, p1.Payload, MpegTsPacketSize-4)
	assert.Equal(t, byte(0), p1.Payload[0])
	assert.Equal(t, b[:183], p1.Payload[1:])

	p2 := pz.NextPacket()
	require.False(t, p2.Header.PayloadUnitStartIndicator)
	assert.Equal(t, uint8(1), p2.Header.ContinuityCounter)
	assert.Equal(t, b[183:], p2.Payload)

	assert.Equal(t, PIDNull, pz.NextPacket().Header.PID)
}

func TestPacketizer_DemuxRoundTrip(t *testing.T) {
	// A very long section exercises pure continuation packets
	payload := make([]byte, 488)
	for i := range payload {
		payload[i] = byte(i)
	}
	long := &Section{
		CurrentNextIndicator:   true,
		Payload:                payload,
		PrivateBit:             true,
		SectionSyntaxIndicator: true,
		TableID:                0x50,
		TableIDExtension:       0x111,
	}
	short, err := ParseSection(sectionBytes())
	require.NoError(t, err)

	pz := NewPacketizer(256, &sliceSectionProvider{ss: []*Section{long, short}})
	d := NewSectionDemux(256)
	var out []*Section
	for i := 0; i < 6; i++ {
		p := pz.NextPacket()
		if p.Header.PID == PIDNull {
			break
		}
		// Sections must survive the wire format
		b, err := p.Bytes()
		require.NoError(t, err)
		pp, err := ParsePacket(b)
		require.NoError(t, err)
		out = append(out, d.Feed(pp)...)
	}
	require.Len(t, out, 2)
	lb, err := long.Bytes()
	require.NoError(t, err)
	ob, err := out[0].Bytes()
	require.NoError(t, err)
	assert.Equal(t, lb, ob)
	assert.Equal(t, sectionPayload, out[1].Payload)
}

func TestPacketizer_SkipsUnserializableSections(t *testing.T) {
	// A section whose payload overflows its table id cap can't be serialized
	bad := &Section{
		Payload:                bytes.Repeat([]byte{0xaa}, MaxShortSectionSize),
		SectionSyntaxIndicator: true,
		TableID:                0x42,
	}
	good, err := ParseSection(sectionBytes())
	require.NoError(t, err)

	pz := NewPacketizer(256, &sliceSectionProvider{ss: []*Section{bad, good}})
	p := pz.NextPacket()
	assert.Equal(t, uint16(256), p.Header.PID)
	assert.Equal(t, sectionBytes(), p.Payload[1:1+len(sectionBytes())])
}
