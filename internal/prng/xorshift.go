package prng

// Xorshift is the xorshift128+ generator later browser engines adopted for
// Math.random(): a 128-bit register in two 64-bit words, updated by a fixed
// shift/xor sequence, output formed from the wrapping sum of the words.
type Xorshift struct {
	w0, w1 uint64
}

// NewXorshift128 builds the engine from two 64-bit words. An all-zero
// register is a fixed point, so it is remapped to (0, 1).
func NewXorshift128(w0, w1 uint64) *Xorshift {
	if w0 == 0 && w1 == 0 {
		w1 = 1
	}
	return &Xorshift{w0: w0, w1: w1}
}

// NextUint64 performs one xorshift128+ step (shift constants 23, 17, 26)
// and returns w0+w1 wrapping.
func (x *Xorshift) NextUint64() uint64 {
	t := x.w0
	s := x.w1
	x.w0 = s
	t ^= t << 23
	t ^= t >> 17
	t ^= s ^ (s >> 26)
	x.w1 = t
	return x.w0 + x.w1
}

// NextUint16 returns floor(Math.random()*65536). JavaScript builds the
// double from the top 53 bits of the sum, so the scaled 16-bit draw is the
// top 16 bits.
func (x *Xorshift) NextUint16() uint16 {
	return uint16(x.NextUint64() >> 48)
}
