package astisi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	dvbDuration      = time.Hour + 45*time.Minute + 30*time.Second
	dvbDurationBytes = []byte{0x1, 0x45, 0x30} // 014530
	dvbTime          = time.Date(1993, time.October, 13, 12, 45, 0, 0, time.UTC)
	dvbTimeBytesRef  = []byte{0xc0, 0x79, 0x12, 0x45, 0x0} // C079124500
)

func TestParseDVBTimeBytes(t *testing.T) {
	d, err := parseDVBTimeBytes(dvbTimeBytesRef)
	require.NoError(t, err)
	assert.Equal(t, dvbTime, d)
}

func TestDVBTimeBytes(t *testing.T) {
	bs, err := dvbTimeBytes(dvbTime)
	require.NoError(t, err)
	assert.Equal(t, dvbTimeBytesRef, bs)
}

func TestDVBTimeRoundTrip(t *testing.T) {
	for _, v := range []time.Time{
		dvbTime,
		time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.February, 29, 23, 59, 59, 0, time.UTC),
		time.Date(1999, time.December, 31, 6, 30, 0, 0, time.UTC),
	} {
		bs, err := dvbTimeBytes(v)
		require.NoError(t, err)
		d, err := parseDVBTimeBytes(bs)
		require.NoError(t, err)
		assert.Equal(t, v, d)
	}
}

func TestParseDVBTimeInvalidBCD(t *testing.T) {
	// 0x1a is not a valid BCD hour
	_, err := parseDVBTimeBytes([]byte{0xc0, 0x79, 0x1a, 0x45, 0x0})
	assert.ErrorIs(t, err, ErrInvalidBCDDigit)
}

func TestParseDVBDurationSecondsBytes(t *testing.T) {
	d, err := parseDVBDurationSecondsBytes(dvbDurationBytes)
	require.NoError(t, err)
	assert.Equal(t, dvbDuration, d)

	_, err = parseDVBDurationSecondsBytes([]byte{0x01, 0x4f, 0x30})
	assert.ErrorIs(t, err, ErrInvalidBCDDigit)
}

func TestDVBDurationSecondsBytes(t *testing.T) {
	assert.Equal(t, dvbDurationBytes, dvbDurationSecondsBytes(dvbDuration))
}

func TestShiftDVBTimeBytes(t *testing.T) {
	// 0xeb96 is the MJD of 2024-01-01
	in := []byte{0xeb, 0x96, 0x00, 0x00, 0x00}

	out, err := shiftDVBTimeBytes(in, time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xeb, 0x96, 0x00, 0x01, 0x00}, out)

	// Across midnight
	out, err = shiftDVBTimeBytes(in, -time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xeb, 0x95, 0x23, 0x59, 0x59}, out)

	// Date only mode moves the MJD and leaves the time of day untouched
	in = []byte{0xeb, 0x96, 0x12, 0x45, 0x00}
	out, err = shiftDVBTimeBytes(in, 25*time.Hour, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xeb, 0x97, 0x12, 0x45, 0x00}, out)

	// Invalid BCD fails decoding instead of producing a bogus value
	_, err = shiftDVBTimeBytes([]byte{0xeb, 0x96, 0xaa, 0x00, 0x00}, time.Minute, false)
	assert.Error(t, err)
}

func TestIsDVBTimeUndefined(t *testing.T) {
	assert.True(t, isDVBTimeUndefined([]byte{0xff, 0xff, 0xff, 0xff, 0xff}))
	assert.False(t, isDVBTimeUndefined(dvbTimeBytesRef))
}