package logger

import (
	"strconv"
	"strings"
	"sync"
)

// ratioSampler admits num out of every den events, counted in repeating
// cycles of den. It gates high-volume debug logging without dropping the
// level entirely.
type ratioSampler struct {
	mu    sync.Mutex
	num   int
	den   int
	cycle int
}

func newRatioSampler(num, den int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(num, den)
	return s
}

// Set replaces the ratio and restarts the cycle. Non-positive values turn
// sampling off, meaning every event passes.
func (s *ratioSampler) Set(num, den int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if num <= 0 || den <= 0 {
		s.num, s.den, s.cycle = 0, 0, 0
		return
	}
	if num > den {
		num = den
	}
	s.num, s.den, s.cycle = num, den, 0
}

// Allow reports whether the current event falls inside the admitted part
// of the cycle.
func (s *ratioSampler) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.den <= 0 {
		return true
	}
	s.cycle++
	if s.cycle > s.den {
		s.cycle = 1
	}
	return s.cycle <= s.num
}

// parseRatioSpec understands "N/D" and the shorthand "D" (one out of D).
// Anything unparseable disables sampling.
func parseRatioSpec(spec string) (num, den int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0
	}
	if before, after, found := strings.Cut(spec, "/"); found {
		n, errN := strconv.Atoi(strings.TrimSpace(before))
		d, errD := strconv.Atoi(strings.TrimSpace(after))
		if errN == nil && errD == nil {
			return n, d
		}
		return 0, 0
	}
	if d, err := strconv.Atoi(spec); err == nil && d > 0 {
		return 1, d
	}
	return 0, 0
}
