package segmenter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type levelRun struct {
	n     int
	level float64
}

func levelsOf(runs ...levelRun) []float64 {
	var out []float64
	for _, r := range runs {
		for i := 0; i < r.n; i++ {
			out = append(out, r.level)
		}
	}
	return out
}

func TestDetectSilences(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("keeps runs longer than the minimum", func(t *testing.T) {
		levels := levelsOf(
			levelRun{20, 0.5},
			levelRun{5, 0.0}, // 2.0s - 2.5s
			levelRun{20, 0.5},
			levelRun{2, 0.001}, // 0.2s, too short
			levelRun{20, 0.5},
		)
		points := DetectSilences(levels, cfg)
		assert.Len(t, points, 1)
		assert.InDelta(t, 2.25, points[0], 1e-9)
	})

	t.Run("merges close points keeping the longer run", func(t *testing.T) {
		levels := levelsOf(
			levelRun{10, 0.5},
			levelRun{3, 0.0}, // 1.0s - 1.3s
			levelRun{2, 0.5},
			levelRun{6, 0.0}, // 1.5s - 2.1s
			levelRun{10, 0.5},
		)
		points := DetectSilences(levels, cfg)
		assert.Len(t, points, 1)
		assert.InDelta(t, 1.8, points[0], 1e-9)
	})

	t.Run("trailing silence is reported", func(t *testing.T) {
		levels := levelsOf(levelRun{30, 0.2}, levelRun{10, 0.0})
		points := DetectSilences(levels, cfg)
		assert.Len(t, points, 1)
		assert.InDelta(t, 3.5, points[0], 1e-9)
	})

	t.Run("no levels", func(t *testing.T) {
		assert.Empty(t, DetectSilences(nil, cfg))
	})
}

func TestMeanLevel(t *testing.T) {
	levels := []float64{0.1, 0.2, 0.3, 0.4}
	assert.InDelta(t, 0.25, meanLevel(levels, 0.1, 0, 0.4), 1e-9)
	assert.InDelta(t, 0.35, meanLevel(levels, 0.1, 0.2, 0.4), 1e-9)
	assert.Equal(t, -1.0, meanLevel(nil, 0.1, 0, 1))
}
