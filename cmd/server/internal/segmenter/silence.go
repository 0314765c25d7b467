package segmenter

import "math"

type silenceRun struct {
	start float64
	end   float64
}

func (r silenceRun) midpoint() float64 { return (r.start + r.end) / 2 }
func (r silenceRun) length() float64   { return r.end - r.start }

// DetectSilences scans per-window levels (see Decoded.WindowLevels) and returns
// the midpoints of runs quieter than SilenceThreshold lasting at least
// MinSilenceSeconds. Points closer than SilenceMergeSeconds collapse into the
// one from the longer run.
func DetectSilences(levels []float64, cfg Config) []float64 {
	w := cfg.WindowSeconds
	if w <= 0 || len(levels) == 0 {
		return nil
	}

	var runs []silenceRun
	runStart := -1
	flush := func(endIdx int) {
		if runStart < 0 {
			return
		}
		r := silenceRun{start: float64(runStart) * w, end: float64(endIdx) * w}
		if r.length()+timeEpsilon >= cfg.MinSilenceSeconds {
			runs = append(runs, r)
		}
		runStart = -1
	}
	for i, lvl := range levels {
		if lvl < cfg.SilenceThreshold {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(levels))

	merged := make([]silenceRun, 0, len(runs))
	for _, r := range runs {
		if n := len(merged); n > 0 && r.midpoint()-merged[n-1].midpoint() < cfg.SilenceMergeSeconds {
			if r.length() > merged[n-1].length() {
				merged[n-1] = r
			}
			continue
		}
		merged = append(merged, r)
	}

	points := make([]float64, len(merged))
	for i, r := range merged {
		points[i] = r.midpoint()
	}
	return points
}

// meanLevel averages the window levels overlapping [start, end).
func meanLevel(levels []float64, windowSeconds, start, end float64) float64 {
	if len(levels) == 0 || windowSeconds <= 0 {
		return -1
	}
	lo := clampInt(int(math.Floor(start/windowSeconds)), 0, len(levels))
	hi := clampInt(int(math.Ceil(end/windowSeconds)), lo, len(levels))
	if hi == lo {
		return 0
	}
	sum := 0.0
	for _, v := range levels[lo:hi] {
		sum += v
	}
	return sum / float64(hi-lo)
}
