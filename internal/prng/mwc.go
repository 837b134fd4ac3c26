package prng

// MWC lane multipliers from V8's math.cc (versions 3.x, shipped in
// Chrome 14-45). Any other constants silently invalidate every derived key.
const (
	mwcMulHi = 18000
	mwcMulLo = 30903
)

// MWC is the V8 MWC1616 generator: two independent 16-bit multiply-with-carry
// lanes whose combined 32-bit output backed Math.random().
type MWC struct {
	s1, s2 uint32
}

// NewMWC builds an MWC1616 engine from explicit lane values. Zero lanes are
// remapped to 1: a zero lane is a fixed point of the recurrence and would
// emit a constant stream.
func NewMWC(s1, s2 uint32) *MWC {
	if s1 == 0 {
		s1 = 1
	}
	if s2 == 0 {
		s2 = 1
	}
	return &MWC{s1: s1, s2: s2}
}

// MWCFromTimestamp seeds the lanes the way BitcoinJS observed V8 after page
// load: the millisecond timestamp split little-endian into (low, high). The
// captured entropy-pool golden vector was produced with this seeding, which
// did not remap zero lanes, so neither does this constructor.
func MWCFromTimestamp(timestampMS uint64) *MWC {
	return &MWC{
		s1: uint32(timestampMS),
		s2: uint32(timestampMS >> 32),
	}
}

// NextUint32 advances both lanes once and returns the combined output
// (s1<<16 + s2, truncated to 32 bits), exactly as V8 formed it.
func (m *MWC) NextUint32() uint32 {
	m.s1 = mwcMulHi*(m.s1&0xFFFF) + (m.s1 >> 16)
	m.s2 = mwcMulLo*(m.s2&0xFFFF) + (m.s2 >> 16)
	return uint32((uint64(m.s1)<<16 + uint64(m.s2)))
}

// NextUint16 returns floor(Math.random()*65536) for this engine. With the
// combined output uniform on [0, 2^32) the scaling is the top 16 bits.
func (m *MWC) NextUint16() uint16 {
	return uint16(m.NextUint32() >> 16)
}
