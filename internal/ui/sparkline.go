package ui

import "strings"

// sparkChars are eight block heights from empty to full.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps a ring buffer of samples and renders them as a row of
// block characters, scaled against the largest value in the buffer.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline holding up to width samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width)}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(value float64) {
	if value < 0 {
		value = 0
	}
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Render renders the buffer at its full width.
func (s *Sparkline) Render() string {
	return s.RenderWidth(len(s.samples))
}

// RenderWidth renders the most recent width samples, left-padded with
// spaces while the buffer is still filling.
func (s *Sparkline) RenderWidth(width int) string {
	if width <= 0 {
		return ""
	}
	if width > len(s.samples) {
		width = len(s.samples)
	}

	ordered := s.ordered()
	if len(ordered) > width {
		ordered = ordered[len(ordered)-width:]
	}

	max := 0.0
	for _, v := range ordered {
		if v > max {
			max = v
		}
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	for i := 0; i < width-len(ordered); i++ {
		sb.WriteRune(' ')
	}
	for _, v := range ordered {
		idx := 0
		if max > 0 {
			idx = int(v / max * float64(len(sparkChars)-1))
			if idx >= len(sparkChars) {
				idx = len(sparkChars) - 1
			}
		}
		sb.WriteRune(sparkChars[idx])
	}
	return sb.String()
}

// Count returns how many samples have been added.
func (s *Sparkline) Count() int {
	return s.count
}

// ordered returns the live samples oldest-first.
func (s *Sparkline) ordered() []float64 {
	n := s.count
	if n > len(s.samples) {
		n = len(s.samples)
	}
	out := make([]float64, 0, n)
	start := 0
	if s.count >= len(s.samples) {
		start = s.head
	}
	for i := 0; i < n; i++ {
		out = append(out, s.samples[(start+i)%len(s.samples)])
	}
	return out
}
