package grid

// Pair is one point of a two-parameter space.
type Pair struct {
	First  float64
	Second float64
}

// Space2 is the full cross product of two ranges, First varying slowest.
type Space2 struct {
	First  Range `toml:"first" yaml:"first"`
	Second Range `toml:"second" yaml:"second"`
}

func (s Space2) Len() int {
	return s.First.Len() * s.Second.Len()
}

func (s Space2) Pairs() []Pair {
	first, second := s.First.Values(), s.Second.Values()
	out := make([]Pair, 0, len(first)*len(second))
	for _, a := range first {
		for _, b := range second {
			out = append(out, Pair{First: a, Second: b})
		}
	}
	return out
}
