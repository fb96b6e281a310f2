// Package keyfilter is a Bloom filter over record store keys. A negative
// answer proves a key is absent, which lets wildcard lookups skip most map
// probes for names that have no wildcard records at all.
package keyfilter

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"
)

const (
	DefaultFalsePositiveRate = 0.01
	minCapacity              = 64
)

// Filter is immutable once built and safe for concurrent reads. Mutating
// owners build a replacement with New instead of adding keys in place.
type Filter struct {
	bf *bitsbloom.BloomFilter
}

// New builds a filter containing keys, sized for at least len(keys) entries
// at the given false-positive rate.
func New(keys []string, fpRate float64) *Filter {
	n := uint64(len(keys))
	if n < minCapacity {
		n = minCapacity
	}
	m, k := size(n, fpRate)
	bf := bitsbloom.New(uint(m), k)
	for _, key := range keys {
		bf.AddString(key)
	}
	return &Filter{bf: bf}
}

// MightContain reports false only when key was definitely not added.
// A nil Filter admits everything.
func (f *Filter) MightContain(key string) bool {
	if f == nil {
		return true
	}
	return f.bf.TestString(key)
}

// Stats returns the bit-array size and hash count.
func (f *Filter) Stats() (bits, hashes uint) {
	if f == nil {
		return 0, 0
	}
	return f.bf.Cap(), f.bf.K()
}
