package dedup

import "github.com/houzhh15/meetscribe/cmd/server/internal/textnorm"

// collapseRepeats keeps one copy of any minWords..maxWords window repeated
// at least minRepeats times back to back. Comparison uses folded words, so
// "Thank you. thank you, THANK YOU" counts as three repeats. At each
// position the shortest repeating period wins.
func collapseRepeats(toks []textnorm.Token, minWords, maxWords, minRepeats int) []textnorm.Token {
	if minRepeats < 2 || len(toks) < minWords*minRepeats {
		return toks
	}
	out := make([]textnorm.Token, 0, len(toks))
	for i := 0; i < len(toks); {
		n, reps := repeatAt(toks, i, minWords, maxWords, minRepeats)
		if reps == 0 {
			out = append(out, toks[i])
			i++
			continue
		}
		out = append(out, toks[i:i+n]...)
		i += n * reps
	}
	return out
}

func repeatAt(toks []textnorm.Token, i, minWords, maxWords, minRepeats int) (int, int) {
	for n := minWords; n <= maxWords && i+n*minRepeats <= len(toks); n++ {
		if toks[i].Norm == "" {
			return 0, 0
		}
		reps := 1
		for i+(reps+1)*n <= len(toks) && sameWindow(toks, i, i+reps*n, n) {
			reps++
		}
		if reps >= minRepeats {
			return n, reps
		}
	}
	return 0, 0
}

func sameWindow(toks []textnorm.Token, a, b, n int) bool {
	for k := 0; k < n; k++ {
		if toks[a+k].Norm != toks[b+k].Norm {
			return false
		}
	}
	return true
}

func joinTokens(toks []textnorm.Token) string {
	if len(toks) == 0 {
		return ""
	}
	size := len(toks) - 1
	for _, t := range toks {
		size += len(t.Raw)
	}
	b := make([]byte, 0, size)
	for i, t := range toks {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, t.Raw...)
	}
	return string(b)
}
