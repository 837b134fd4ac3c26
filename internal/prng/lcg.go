package prng

// Lehmer generator parameters (minstd_rand0). The modulus is the Mersenne
// prime 2^31-1, so the state never reaches zero once it is nonzero.
const (
	lcgMultiplier = 16807
	lcgModulus    = 1<<31 - 1
)

// LCG is the 31-bit multiplicative Lehmer generator. The raw state after
// each step is the output value, as the wrapped browser API exposed it.
type LCG struct {
	state uint64
}

// NewLCG seeds the generator. The seed is reduced mod 2^31-1; a zero
// residue is remapped to 1 before first use (zero is an absorbing state
// of a multiplicative congruence).
func NewLCG(seed uint64) *LCG {
	s := seed % lcgModulus
	if s == 0 {
		s = 1
	}
	return &LCG{state: s}
}

// NextUint31 advances the state and returns it. The result is always in
// [1, 2^31-2].
func (l *LCG) NextUint31() uint32 {
	l.state = (l.state * lcgMultiplier) % lcgModulus
	return uint32(l.state)
}

// NextUint16 returns floor(Math.random()*65536): with the state uniform on
// a 31-bit range the scaling is the top 16 of 31 bits.
func (l *LCG) NextUint16() uint16 {
	return uint16(l.NextUint31() >> 15)
}
