package dedup

import "github.com/cespare/xxhash/v2"

// ngramHashes returns the distinct xxhash fingerprints of every minN..maxN
// word window in words.
func ngramHashes(words []string, minN, maxN int) map[uint64]struct{} {
	out := make(map[uint64]struct{})
	d := xxhash.New()
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(words); i++ {
			d.Reset()
			for j, w := range words[i : i+n] {
				if j > 0 {
					d.Write([]byte{0x1f})
				}
				d.WriteString(w)
			}
			out[d.Sum64()] = struct{}{}
		}
	}
	return out
}

// coverage is the share of grams already present in seen; 0 when grams is empty.
func coverage(grams, seen map[uint64]struct{}) float64 {
	if len(grams) == 0 {
		return 0
	}
	hit := 0
	for h := range grams {
		if _, ok := seen[h]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(grams))
}

func register(seen, grams map[uint64]struct{}) {
	for h := range grams {
		seen[h] = struct{}{}
	}
}
