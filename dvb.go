package astisi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

// DVB time fields are coded as 16 bits giving the 16 LSBs of the Modified
// Julian Date followed by 24 bits coded as 6 digits in 4-bit Binary Coded
// Decimal. If a start time is undefined (e.g. for an event in a NVOD
// reference service) all bits of the field are set to "1".
//
// Page: 160 | Annex C | Link:
// https://www.dvb.org/resources/public/standards/a38_dvb-si_specification.pdf

const dvbTimeLength = 5

// ErrInvalidBCDDigit is returned when a BCD nibble is greater than 9
var ErrInvalidBCDDigit = errors.New("astisi: invalid BCD digit")

// parseDVBTime parses a DVB time
func parseDVBTime(r *bitio.CountReader) (time.Time, error) {
	mjd := int(r.TryReadBits(16))

	// Annex C date conversion
	yt := int((float64(mjd) - 15078.2) / 365.25)
	mt := int((float64(mjd) - 14956.1 - float64(int(float64(yt)*365.25))) / 30.6001)
	d := mjd - 14956 - int(float64(yt)*365.25) - int(float64(mt)*30.6001)
	var k int
	if mt == 14 || mt == 15 {
		k = 1
	}
	y := yt + k + 1900
	m := time.Month(mt - 1 - k*12)

	s, err := parseDVBDurationSeconds(r)
	if err != nil {
		return time.Time{}, fmt.Errorf("astisi: parsing DVB duration seconds failed: %w", err)
	}

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(s), r.TryError
}

// parseDVBDurationSeconds parses a seconds duration.
// 24 bit field containing the duration in hours, minutes, seconds.
// format: 6 digits, 4-bit BCD = 24 bit.
func parseDVBDurationSeconds(r *bitio.CountReader) (time.Duration, error) {
	bs := make([]byte, 3)
	TryReadFull(r, bs)
	if r.TryError != nil {
		return 0, r.TryError
	}
	h, err := parseDVBDurationByte(bs[0])
	if err != nil {
		return 0, err
	}
	m, err := parseDVBDurationByte(bs[1])
	if err != nil {
		return 0, err
	}
	s, err := parseDVBDurationByte(bs[2])
	if err != nil {
		return 0, err
	}
	return h*time.Hour + m*time.Minute + s*time.Second, nil //nolint:durationcheck
}

// parseDVBDurationByte parses a duration byte, failing on out-of-range BCD
// digits rather than producing a bogus value
func parseDVBDurationByte(i byte) (time.Duration, error) {
	if i>>4 > 9 || i&0xf > 9 {
		return 0, errors.Wrapf(ErrInvalidBCDDigit, "byte 0x%02x", i)
	}
	return time.Duration(i>>4*10 + i&0xf), nil
}

func writeDVBTime(w *bitio.Writer, t time.Time) (int, error) {
	if err := w.WriteBits(uint64(mjdFromTime(t)), 16); err != nil {
		return 0, err
	}
	d := t.Sub(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()))
	bytesWritten, err := writeDVBDurationSeconds(w, d)
	if err != nil {
		return 2, err
	}
	return bytesWritten + 2, nil
}

func writeDVBDurationSeconds(w *bitio.Writer, d time.Duration) (int, error) {
	hours := uint8(d.Hours())
	minutes := uint8(int(d.Minutes()) % 60)
	seconds := uint8(int(d.Seconds()) % 60)

	w.TryWriteByte(dvbDurationByteRepresentation(hours))
	w.TryWriteByte(dvbDurationByteRepresentation(minutes))
	w.TryWriteByte(dvbDurationByteRepresentation(seconds))

	return 3, w.TryError
}

func dvbDurationByteRepresentation(n uint8) uint8 {
	return (n/10)<<4 | n%10
}

// parseDVBDurationSecondsBytes parses a 3 byte BCD hours:minutes:seconds field
func parseDVBDurationSecondsBytes(bs []byte) (time.Duration, error) {
	return parseDVBDurationSeconds(bitio.NewCountReader(bytes.NewReader(bs)))
}

// dvbDurationSecondsBytes serializes d as a 3 byte BCD hours:minutes:seconds field
func dvbDurationSecondsBytes(d time.Duration) []byte {
	return []byte{
		dvbDurationByteRepresentation(uint8(d.Hours())),
		dvbDurationByteRepresentation(uint8(int(d.Minutes()) % 60)),
		dvbDurationByteRepresentation(uint8(int(d.Seconds()) % 60)),
	}
}

func mjdFromTime(t time.Time) int {
	year := t.Year() - 1900
	month := t.Month()
	day := t.Day()

	l := 0
	if month <= time.February {
		l = 1
	}

	return 14956 + day + int(float64(year-l)*365.25) + int(float64(int(month)+1+l*12)*30.6001)
}

// parseDVBTimeBytes parses a 5 byte MJD+BCD time field
func parseDVBTimeBytes(bs []byte) (time.Time, error) {
	if len(bs) != dvbTimeLength {
		return time.Time{}, fmt.Errorf("astisi: invalid DVB time length %d", len(bs))
	}
	return parseDVBTime(bitio.NewCountReader(bytes.NewReader(bs)))
}

// dvbTimeBytes serializes t as a 5 byte MJD+BCD time field
func dvbTimeBytes(t time.Time) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := bitio.NewWriter(buf)
	if _, err := writeDVBTime(w, t); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isDVBTimeUndefined checks for the all-ones undefined time marker
func isDVBTimeUndefined(bs []byte) bool {
	for _, b := range bs {
		if b != 0xff {
			return false
		}
	}
	return true
}

// shiftDVBTimeBytes returns a 5 byte time field advanced by offset. In date
// only mode just the MJD moves, by the offset's whole days, and the BCD
// time-of-day bytes stay untouched.
func shiftDVBTimeBytes(bs []byte, offset time.Duration, dateOnly bool) ([]byte, error) {
	if len(bs) != dvbTimeLength {
		return nil, fmt.Errorf("astisi: invalid DVB time length %d", len(bs))
	}
	if dateOnly {
		out := make([]byte, dvbTimeLength)
		copy(out, bs)
		days := int64(offset / (24 * time.Hour))
		binary.BigEndian.PutUint16(out, uint16(int64(binary.BigEndian.Uint16(bs))+days))
		return out, nil
	}
	t, err := parseDVBTimeBytes(bs)
	if err != nil {
		return nil, errors.Wrap(err, "astisi: parsing DVB time failed")
	}
	out, err := dvbTimeBytes(t.Add(offset))
	if err != nil {
		return nil, errors.Wrap(err, "astisi: writing DVB time failed")
	}
	return out, nil
}
