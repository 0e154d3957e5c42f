package astisi

// CRC-32/MPEG-2 as defined in ISO/IEC 13818-1 Annex B: big endian, no
// reflection, no final xor. The lookup table is generated once at startup
// (1kb additional memory, no reallocations afterwards).
// https://github.com/videolan/vlc/blob/master/modules/mux/mpeg/ps.c

const crc32Polynomial = uint32(0xffffffff)

var tableCRC32 = makeTableCRC32()

func makeTableCRC32() (t [256]uint32) {
	for i := range t {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04c11db7
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return
}

func computeCRC32(bs []byte) uint32 {
	return updateCRC32(crc32Polynomial, bs)
}

func updateCRC32(iCrc uint32, bs []byte) uint32 {
	for _, b := range bs {
		iCrc = (iCrc << 8) ^ tableCRC32[((iCrc>>24)^uint32(b))&0xff]
	}
	return iCrc
}
