package engine

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Simhash computes a 64-bit similarity hash over the content's tokens.
// Near-identical content produces identical hashes, which is what the
// duplicate check on add needs; it is not a general near-duplicate detector.
func Simhash(content string) string {
	tokens := strings.Fields(strings.ToLower(content))
	if len(tokens) == 0 {
		return ""
	}
	var acc [64]int
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if sum&(1<<uint(bit)) != 0 {
				acc[bit]++
			} else {
				acc[bit]--
			}
		}
	}
	var out uint64
	for bit := 0; bit < 64; bit++ {
		if acc[bit] > 0 {
			out |= 1 << uint(bit)
		}
	}
	return fmt.Sprintf("%016x", out)
}
