// Package entropy replicates the 256-byte entropy pool and stream-cipher
// key schedule that BitcoinJS-era wallet code used to turn Math.random()
// output into key bytes. A broken navigator.appVersion check meant the
// strong RNG branch never ran in the affected browsers, leaving this pool
// as the only entropy source for generated private keys.
package entropy

import (
	"encoding/binary"

	"github.com/garnizeh/randstorm-scanner/internal/prng"
)

const poolSize = 256

// BuildRawPool reproduces the wallet's pool initialization: the millisecond
// timestamp is XORed little-endian into the first 8 bytes, then the rest is
// filled from floor(Math.random()*65536) draws, high byte first, XORed in
// place. Two bytes per draw, not one: this layout is pinned by a golden
// vector captured from a reference run of the original wallet code.
func BuildRawPool(eng prng.Engine, timestampMS uint64) [poolSize]byte {
	var pool [poolSize]byte

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], timestampMS)
	for i, b := range ts {
		pool[i] ^= b
	}

	ptr := len(ts)
	for ptr < poolSize {
		r := eng.NextUint16()
		pool[ptr] ^= byte(r >> 8)
		ptr++
		if ptr < poolSize {
			pool[ptr] ^= byte(r)
			ptr++
		}
	}

	return pool
}

// Pool is the keyed permutation the wallet drew key bytes from: an ARC4
// state scheduled with the raw pool as the 256-byte key. It is built fresh
// per candidate and must be discarded after key extraction.
type Pool struct {
	i, j uint8
	s    [poolSize]byte
}

// NewPool builds the raw pool from the engine and timestamp and runs the
// swap-based key schedule over it.
func NewPool(eng prng.Engine, timestampMS uint64) *Pool {
	key := BuildRawPool(eng, timestampMS)

	p := &Pool{}
	for i := range p.s {
		p.s[i] = byte(i)
	}
	var j uint8
	for i := 0; i < poolSize; i++ {
		j += p.s[i] + key[i]
		p.s[i], p.s[j] = p.s[j], p.s[i]
	}
	return p
}

// NextByte advances the permutation one step and emits one key-stream byte.
// The walk is branch-free, so every backend advances the state identically.
func (p *Pool) NextByte() byte {
	p.i++
	p.j += p.s[p.i]
	p.s[p.i], p.s[p.j] = p.s[p.j], p.s[p.i]
	return p.s[uint8(p.s[p.i]+p.s[p.j])]
}

// Read fills buf with consecutive key-stream bytes.
func (p *Pool) Read(buf []byte) {
	for i := range buf {
		buf[i] = p.NextByte()
	}
}
