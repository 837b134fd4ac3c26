// Package target holds the read-only address set a scan compares derived
// candidates against. Lookups happen once per candidate in the hot path, so
// a bloom filter screens out the overwhelming majority of misses before the
// exact map is consulted.
package target

import (
	"errors"
	"fmt"

	"github.com/willf/bloom"

	"github.com/garnizeh/randstorm-scanner/internal/derive"
)

// ErrEmptyTargetSet is a pre-scan configuration error: scanning against
// nothing is always a mistake, not a degenerate success.
var ErrEmptyTargetSet = errors.New("target: empty target set")

const bloomFalsePositiveRate = 0.0001

// Set is an immutable target-address collection keyed by the 20-byte
// pubkey hash. Safe for concurrent readers; it is never mutated after
// construction.
type Set struct {
	exact  map[[20]byte]string
	filter *bloom.BloomFilter
}

// NewSet decodes base58check P2PKH addresses into a lookup set. Undecodable
// addresses are configuration errors.
func NewSet(addresses []string) (*Set, error) {
	if len(addresses) == 0 {
		return nil, ErrEmptyTargetSet
	}

	s := &Set{
		exact:  make(map[[20]byte]string, len(addresses)),
		filter: bloom.NewWithEstimates(uint(len(addresses)), bloomFalsePositiveRate),
	}
	for _, addr := range addresses {
		h, err := derive.DecodeAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("target: address %q: %w", addr, err)
		}
		s.exact[h] = addr
		s.filter.Add(h[:])
	}
	return s, nil
}

// NewSetFromHashes builds a set directly from pubkey hashes. The stored
// address strings are re-encoded from the hashes.
func NewSetFromHashes(hashes [][20]byte) (*Set, error) {
	if len(hashes) == 0 {
		return nil, ErrEmptyTargetSet
	}

	s := &Set{
		exact:  make(map[[20]byte]string, len(hashes)),
		filter: bloom.NewWithEstimates(uint(len(hashes)), bloomFalsePositiveRate),
	}
	for _, h := range hashes {
		s.exact[h] = derive.Address(h)
		s.filter.Add(h[:])
	}
	return s, nil
}

// ContainsHash160 reports whether the hash is in the set. The bloom filter
// answers definite misses; hits are confirmed against the exact map.
func (s *Set) ContainsHash160(h [20]byte) (string, bool) {
	if !s.filter.Test(h[:]) {
		return "", false
	}
	addr, ok := s.exact[h]
	return addr, ok
}

// Len returns the number of target addresses.
func (s *Set) Len() int {
	return len(s.exact)
}
