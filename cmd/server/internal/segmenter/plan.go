package segmenter

import (
	"math"
	"sort"
)

const timeEpsilon = 1e-9

// Boundary is a planned chunk interval in seconds.
type Boundary struct {
	Index      int
	Start      float64
	End        float64
	SilenceCut bool
}

// SizeFunc returns the encoded byte size of a chunk lasting the given number of seconds.
type SizeFunc func(durationSeconds float64) int64

// ExpectedChunkCount is the count PlanChunks produces when no silence
// snapping or size shrinking moves a boundary: one chunk for the first
// chunkSeconds, then one per step of chunk-overlap. It is within one of
// ceil(total / (chunk - overlap)).
func ExpectedChunkCount(total, chunkSeconds, overlapSeconds float64) int {
	step := chunkSeconds - overlapSeconds
	if total <= chunkSeconds || step <= 0 {
		return 1
	}
	return 1 + int(math.Ceil((total-chunkSeconds)/step-timeEpsilon))
}

// PlanChunks lays out overlapping chunk intervals covering [0, total].
//
// Each chunk ideally spans ChunkSeconds. With silence points available the
// end snaps to the nearest point within SearchWindowSeconds. A chunk whose
// encoded size exceeds MaxChunkBytes is shrunk by ShrinkFactor until it fits.
// The next chunk starts OverlapSeconds before the previous end. When the
// byte cap shrinks a chunk to OverlapSeconds or less, the next chunk starts
// halfway through it instead, so that pair overlaps by half the chunk length,
// less than OverlapSeconds.
func PlanChunks(total float64, cfg Config, silences []float64, sizeOf SizeFunc) ([]Boundary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if total <= 0 {
		return []Boundary{{Index: 0, Start: 0, End: 0}}, nil
	}
	if sizeOf != nil && sizeOf(math.Min(cfg.MinChunkSeconds, total)) > cfg.MaxChunkBytes {
		return nil, ErrChunkCapTooSmall
	}

	points := append([]float64(nil), silences...)
	sort.Float64s(points)

	bounds := make([]Boundary, 0, ExpectedChunkCount(total, cfg.ChunkSeconds, cfg.OverlapSeconds))
	start := 0.0
	for index := 0; ; index++ {
		end := start + cfg.ChunkSeconds
		silenceCut := false
		if end >= total-timeEpsilon {
			end = total
		} else if p, ok := nearestPoint(points, end, cfg.SearchWindowSeconds); ok &&
			p-cfg.OverlapSeconds > start+timeEpsilon && p < total {
			end = p
			silenceCut = true
		}

		if sizeOf != nil {
			for sizeOf(end-start) > cfg.MaxChunkBytes {
				shrunk := (end - start) * cfg.ShrinkFactor
				if shrunk < cfg.MinChunkSeconds {
					// The cap still holds MinChunkSeconds, so take exactly that.
					shrunk = cfg.MinChunkSeconds
					if sizeOf(shrunk) > cfg.MaxChunkBytes {
						return nil, ErrChunkCapTooSmall
					}
				}
				end = start + shrunk
				silenceCut = false
			}
		}

		bounds = append(bounds, Boundary{Index: index, Start: start, End: end, SilenceCut: silenceCut})
		if end >= total-timeEpsilon {
			bounds[len(bounds)-1].End = total
			break
		}

		next := math.Max(0, end-cfg.OverlapSeconds)
		if next <= start+timeEpsilon {
			// Chunk is no longer than the overlap: advance by half of it. The
			// overlap with the next chunk is (end-start)/2 < OverlapSeconds.
			next = start + (end-start)/2
		}
		start = next
	}
	return bounds, nil
}

// nearestPoint returns the point closest to target within ±window.
func nearestPoint(points []float64, target, window float64) (float64, bool) {
	if len(points) == 0 || window <= 0 {
		return 0, false
	}
	i := sort.SearchFloat64s(points, target)
	best, found := 0.0, false
	bestDist := math.Inf(1)
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(points) {
			continue
		}
		d := math.Abs(points[j] - target)
		if d <= window && d < bestDist {
			best, bestDist, found = points[j], d, true
		}
	}
	return best, found
}
