package astisi

// BitsBuffer is a byte buffer with independent read and write bit cursors.
// It is the workhorse used to parse and serialize section payloads: fields are
// bit-granular, loops are bounded by byte-granular length prefixes, and length
// fields are backpatched once the data they describe has been written.
//
// Errors accumulate in a sticky flag instead of being returned on every call:
// reads past the current bound yield zero values and set the flag, so decoders
// of hostile broadcast input can run to completion and check validity once, at
// the section boundary. Unbalanced PopState calls are contract violations and
// panic.
type BitsBuffer struct {
	bs       []byte
	err      bool
	readBit  int
	readEnd  int
	states   []bitsBufferState
	writeBit int
	writeEnd int
}

type bitsBufferState struct {
	lenPos   int
	lenWidth int
	prevEnd  int
	write    bool
}

// NewBitsBuffer creates a bits buffer reading from bs
func NewBitsBuffer(bs []byte) *BitsBuffer {
	return &BitsBuffer{
		bs:       bs,
		readEnd:  len(bs) * 8,
		writeBit: len(bs) * 8,
		writeEnd: len(bs) * 8,
	}
}

// NewWritableBitsBuffer creates an empty bits buffer growable up to maxBytes
func NewWritableBitsBuffer(maxBytes int) *BitsBuffer {
	return &BitsBuffer{
		bs:       make([]byte, 0, 64),
		writeEnd: maxBytes * 8,
	}
}

// Err indicates whether any previous operation failed
func (b *BitsBuffer) Err() bool {
	return b.err
}

// SetUserError lets a caller taint the buffer, e.g. when a decoded value is
// syntactically readable but semantically invalid
func (b *BitsBuffer) SetUserError() {
	b.err = true
}

// Bytes returns the written bytes
func (b *BitsBuffer) Bytes() []byte {
	return b.bs[:(b.writeBit+7)/8]
}

// Len returns the number of written bytes
func (b *BitsBuffer) Len() int {
	return (b.writeBit + 7) / 8
}

// CanRead checks whether n bits can be read without hitting the current bound
func (b *BitsBuffer) CanRead(n int) bool {
	return !b.err && b.readBit+n <= b.readEnd
}

// CanReadBytes checks whether n bytes can be read without hitting the current bound
func (b *BitsBuffer) CanReadBytes(n int) bool {
	return b.CanRead(n * 8)
}

// ReadPosition returns the read cursor's bit position
func (b *BitsBuffer) ReadPosition() int {
	return b.readBit
}

// Remaining returns the number of readable bits left in the current region
func (b *BitsBuffer) Remaining() int {
	return b.readEnd - b.readBit
}

// FullyConsumed indicates whether all regions are popped and all readable
// bits consumed
func (b *BitsBuffer) FullyConsumed() bool {
	return len(b.states) == 0 && b.readBit == b.readEnd
}

// ReadBits reads an n bit big endian unsigned value, n <= 64.
// Reading past the current bound returns 0 and sets the error flag.
func (b *BitsBuffer) ReadBits(n int) uint64 {
	if n < 0 || n > 64 {
		b.err = true
		return 0
	}
	if b.readBit+n > b.readEnd {
		b.err = true
		b.readBit = b.readEnd
		return 0
	}
	var v uint64
	// Byte-aligned fast path
	if b.readBit&7 == 0 && n&7 == 0 {
		for i := 0; i < n/8; i++ {
			v = v<<8 | uint64(b.bs[b.readBit>>3])
			b.readBit += 8
		}
		return v
	}
	for i := 0; i < n; i++ {
		v = v<<1 | uint64(b.bs[b.readBit>>3]>>(7-uint(b.readBit&7))&1)
		b.readBit++
	}
	return v
}

// ReadBool reads a 1 bit flag
func (b *BitsBuffer) ReadBool() bool {
	return b.ReadBits(1) > 0
}

// ReadBytes reads n bytes. On truncation it returns n zero bytes and sets
// the error flag so that fixed-layout decoders keep consistent offsets.
func (b *BitsBuffer) ReadBytes(n int) []byte {
	bs := make([]byte, n)
	if n < 0 || b.readBit+n*8 > b.readEnd {
		b.err = true
		b.readBit = b.readEnd
		return bs
	}
	if b.readBit&7 == 0 {
		copy(bs, b.bs[b.readBit>>3:])
		b.readBit += n * 8
		return bs
	}
	for i := 0; i < n; i++ {
		bs[i] = byte(b.ReadBits(8))
	}
	return bs
}

// SkipBits advances the read cursor by n bits
func (b *BitsBuffer) SkipBits(n int) {
	if b.readBit+n > b.readEnd {
		b.err = true
		b.readBit = b.readEnd
		return
	}
	b.readBit += n
}

// SkipBytes advances the read cursor by n bytes
func (b *BitsBuffer) SkipBytes(n int) {
	b.SkipBits(n * 8)
}

// WriteBits writes an n bit big endian unsigned value, n <= 64.
// Writing past the write bound sets the error flag.
func (b *BitsBuffer) WriteBits(v uint64, n int) {
	if n < 0 || n > 64 || !b.ensureWritable(n) {
		b.err = true
		return
	}
	for i := n - 1; i >= 0; i-- {
		b.writeBit1(byte(v >> uint(i) & 1))
	}
}

// WriteBool writes a 1 bit flag
func (b *BitsBuffer) WriteBool(v bool) {
	if v {
		b.WriteBits(1, 1)
	} else {
		b.WriteBits(0, 1)
	}
}

// WriteBytes writes bs
func (b *BitsBuffer) WriteBytes(bs []byte) {
	if !b.ensureWritable(len(bs) * 8) {
		b.err = true
		return
	}
	if b.writeBit&7 == 0 {
		idx := b.writeBit >> 3
		copy(b.bs[idx:], bs)
		b.writeBit += len(bs) * 8
		return
	}
	for _, v := range bs {
		for i := 7; i >= 0; i-- {
			b.writeBit1(v >> uint(i) & 1)
		}
	}
}

// PushReadLength reads a length prefix of width bits counting bytes, then
// bounds all subsequent reads to that many bytes until PopState
func (b *BitsBuffer) PushReadLength(width int) {
	n := int(b.ReadBits(width))
	b.states = append(b.states, bitsBufferState{prevEnd: b.readEnd})
	end := b.readBit + n*8
	if end > b.readEnd {
		// Claimed length exceeds the enclosing region: bound to what is
		// actually there and taint the buffer
		b.err = true
		end = b.readEnd
	}
	b.readEnd = end
}

// PushWriteLength reserves a zeroed length field of width bits counting
// bytes; PopState patches the number of bytes written since back into it
func (b *BitsBuffer) PushWriteLength(width int) {
	pos := b.writeBit
	b.WriteBits(0, width)
	b.states = append(b.states, bitsBufferState{
		lenPos:   pos,
		lenWidth: width,
		prevEnd:  b.writeEnd,
		write:    true,
	})
}

// PopState closes the innermost pushed region. For write regions, it
// backpatches the leading length field; for read regions, it skips whatever
// the caller left unconsumed and restores the parent bound. Popping with no
// matching push is a contract violation and panics.
func (b *BitsBuffer) PopState() {
	if len(b.states) == 0 {
		panic("astisi: bits buffer state popped without matching push")
	}
	s := b.states[len(b.states)-1]
	b.states = b.states[:len(b.states)-1]
	if !s.write {
		b.readBit = b.readEnd
		b.readEnd = s.prevEnd
		return
	}
	written := b.writeBit - s.lenPos - s.lenWidth
	if written < 0 {
		panic("astisi: bits buffer write cursor moved before pushed length field")
	}
	if written&7 != 0 || written>>3 >= 1<<uint(s.lenWidth) {
		// The length field can't represent what was written
		b.err = true
		b.writeEnd = s.prevEnd
		return
	}
	b.patchBits(s.lenPos, s.lenWidth, uint64(written>>3))
	b.writeEnd = s.prevEnd
}

// PatchBits overwrites an n bit value at the given bit position without
// moving the write cursor
func (b *BitsBuffer) PatchBits(pos, n int, v uint64) {
	if pos < 0 || n < 0 || n > 64 || pos+n > b.writeBit {
		b.err = true
		return
	}
	b.patchBits(pos, n, v)
}

func (b *BitsBuffer) patchBits(pos, n int, v uint64) {
	for i := 0; i < n; i++ {
		idx := pos + i
		mask := byte(1) << (7 - uint(idx&7))
		if v>>uint(n-1-i)&1 > 0 {
			b.bs[idx>>3] |= mask
		} else {
			b.bs[idx>>3] &^= mask
		}
	}
}

func (b *BitsBuffer) ensureWritable(n int) bool {
	if b.writeBit+n > b.writeEnd {
		return false
	}
	if need := (b.writeBit + n + 7) / 8; need > len(b.bs) {
		if need <= cap(b.bs) {
			b.bs = b.bs[:need]
		} else {
			bs := make([]byte, need, 2*need)
			copy(bs, b.bs)
			b.bs = bs
		}
	}
	return true
}

func (b *BitsBuffer) writeBit1(v byte) {
	idx := b.writeBit >> 3
	if v > 0 {
		b.bs[idx] |= 1 << (7 - uint(b.writeBit&7))
	} else {
		b.bs[idx] &^= 1 << (7 - uint(b.writeBit&7))
	}
	b.writeBit++
}
