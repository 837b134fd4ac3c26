// Package prng reimplements the pseudo-random number generators that
// historical browser JavaScript engines used for Math.random() between
// roughly 2011 and 2015. Wallet libraries of that era seeded their key
// entropy pools from these generators, which is what makes the derived
// keys enumerable.
//
// Every engine here is bit-exact against captured reference output. All
// arithmetic is unsigned and wrapping; no floating point is used anywhere,
// so the same candidate evaluates identically on every execution backend.
package prng

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Algorithm identifies one historical Math.random() implementation.
type Algorithm uint8

const (
	// MWC1616 is the multiply-with-carry generator used by V8
	// (Chrome 14-45): two 16-bit lanes with multipliers 18000 and 30903.
	MWC1616 Algorithm = iota
	// LCG31 is the 31-bit Lehmer generator (minstd_rand0, a=16807,
	// m=2^31-1) used by WebKit-era engines and early mobile wallets.
	LCG31
	// Xorshift128 is the 128-bit xorshift+ generator adopted by later
	// SpiderMonkey and JavaScriptCore releases.
	Xorshift128
)

// String returns the canonical lowercase tag for the algorithm.
func (a Algorithm) String() string {
	switch a {
	case MWC1616:
		return "mwc1616"
	case LCG31:
		return "lcg31"
	case Xorshift128:
		return "xorshift128"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// ParseAlgorithm maps a tag (as stored in fingerprint data) to an Algorithm.
func ParseAlgorithm(tag string) (Algorithm, error) {
	switch tag {
	case "mwc1616", "v8", "chrome":
		return MWC1616, nil
	case "lcg31", "lehmer", "minstd":
		return LCG31, nil
	case "xorshift128", "xorshift":
		return Xorshift128, nil
	default:
		return 0, fmt.Errorf("unknown prng algorithm %q", tag)
	}
}

// Components are the browser-environment values mixed into the seed. They
// mirror the inputs the vulnerable wallet code could observe at generation
// time; the generation timestamp is supplied separately.
type Components struct {
	UserAgent      string
	ScreenWidth    uint32
	ScreenHeight   uint32
	ColorDepth     uint8
	TimezoneOffset int16
	Language       string
	Platform       string
}

// Engine emits the scaled 16-bit draws the wallet entropy pool consumed.
// Historically the wallet computed floor(Math.random()*65536); because every
// modeled generator produces a w-bit integer uniform on [0, 2^w), that
// scaling reduces to a plain shift and stays in integer arithmetic.
type Engine interface {
	NextUint16() uint16
}

// digest canonically encodes the environment components. The field order and
// little-endian widths are load-bearing: changing either changes every seed.
func digest(c Components) [32]byte {
	h := sha256.New()
	var buf [4]byte

	h.Write([]byte(c.UserAgent))
	binary.LittleEndian.PutUint32(buf[:], c.ScreenWidth)
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:], c.ScreenHeight)
	h.Write(buf[:])
	h.Write([]byte{c.ColorDepth})
	binary.LittleEndian.PutUint16(buf[:2], uint16(c.TimezoneOffset))
	h.Write(buf[:2])
	h.Write([]byte(c.Language))
	h.Write([]byte(c.Platform))

	var sum [32]byte
	h.Sum(sum[:0])
	return sum
}

// Seed64 reduces (components, timestamp) to the canonical 64-bit seed:
// the generation timestamp XORed with the leading 8 bytes of the component
// digest. It is a pure function; the same candidate always maps to the same
// seed regardless of backend or prior calls.
func Seed64(c Components, timestampMS uint64) uint64 {
	sum := digest(c)
	return timestampMS ^ binary.LittleEndian.Uint64(sum[0:8])
}

// New constructs the engine for the given algorithm, deterministically
// seeded from the canonical encoding of (components, timestamp).
func New(alg Algorithm, c Components, timestampMS uint64) Engine {
	sum := digest(c)
	seed := timestampMS ^ binary.LittleEndian.Uint64(sum[0:8])

	switch alg {
	case LCG31:
		return NewLCG(seed)
	case Xorshift128:
		return NewXorshift128(seed, binary.LittleEndian.Uint64(sum[8:16]))
	default:
		return NewMWC(uint32(seed>>32), uint32(seed))
	}
}
