package chunker

import (
	"fmt"
	"math/bits"
)

// Default sizes (bytes). Files below MinSize end up as a single chunk.
const (
	MinSize   = 4 * 1024
	AvgSize   = 8 * 1024
	MaxSize   = 64 * 1024
	NormLevel = 2
)

// gearTable is filled once from a fixed splitmix64 seed so that cut points
// are stable across processes and releases.
var gearTable = func() [256]uint64 {
	var t [256]uint64
	x := uint64(0x70756c7066696c65) // "pulpfile"
	for i := range t {
		x += 0x9e3779b97f4a7c15
		z := x
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		t[i] = z ^ (z >> 31)
	}
	return t
}()

// Chunker implements FastCDC with normalized chunking. It is stateless and
// safe for concurrent use.
type Chunker struct {
	min, avg, max int
	maskS, maskL  uint64
}

func NewChunker() *Chunker {
	c, _ := New(MinSize, AvgSize, MaxSize)
	return c
}

// New validates min < avg < max and avg being a power of two of at least 64.
func New(minSize, avgSize, maxSize int) (*Chunker, error) {
	if minSize <= 0 || minSize >= avgSize || avgSize >= maxSize {
		return nil, fmt.Errorf("chunk sizes must satisfy 0 < min < avg < max, got %d/%d/%d", minSize, avgSize, maxSize)
	}
	if avgSize < 64 || avgSize&(avgSize-1) != 0 {
		return nil, fmt.Errorf("average chunk size %d must be a power of two >= 64", avgSize)
	}
	b := bits.TrailingZeros(uint(avgSize))
	return &Chunker{
		min:   minSize,
		avg:   avgSize,
		max:   maxSize,
		maskS: uint64(1)<<(b+NormLevel) - 1,
		maskL: uint64(1)<<(b-NormLevel) - 1,
	}, nil
}

// Cut returns the end offset of every chunk of data. The last offset is
// always len(data); empty input yields no cuts.
func (c *Chunker) Cut(data []byte) []int {
	var cuts []int
	offset := 0
	n := len(data)

	for offset < n {
		// 1. tail shorter than the minimum becomes the last chunk
		if n-offset <= c.min {
			return append(cuts, n)
		}

		fp := uint64(0)
		idx := offset + c.min
		normLimit := min(offset+c.avg, n)
		maxLimit := min(offset+c.max, n)

		scan := func(limit int, mask uint64) bool {
			for ; idx < limit; idx++ {
				fp = (fp << 1) + gearTable[data[idx]]
				if fp&mask == 0 {
					cuts = append(cuts, idx+1)
					offset = idx + 1
					return true
				}
			}
			return false
		}

		// 2. strict mask before the average size, loose mask after it
		if scan(normLimit, c.maskS) {
			continue
		}
		if scan(maxLimit, c.maskL) {
			continue
		}

		// 3. forced cut at max size (or end of data)
		cuts = append(cuts, maxLimit)
		offset = maxLimit
	}

	return cuts
}

// Split is Cut materialized as sub-slices of data.
func (c *Chunker) Split(data []byte) [][]byte {
	cuts := c.Cut(data)
	out := make([][]byte, 0, len(cuts))
	start := 0
	for _, end := range cuts {
		out = append(out, data[start:end])
		start = end
	}
	return out
}
