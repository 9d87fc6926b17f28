package client

import "time"

// Backoff bounds the delay between reconnect attempts.
type Backoff struct {
	Floor   time.Duration
	Ceiling time.Duration
	Factor  float64
}

var DefaultBackoff = Backoff{
	Floor:   1000 * time.Millisecond,
	Ceiling: 30000 * time.Millisecond,
	Factor:  1.5,
}

// Next returns the delay following prev, never above the ceiling and never
// below the floor.
func (b Backoff) Next(prev time.Duration) time.Duration {
	next := time.Duration(float64(prev) * b.Factor)
	if next > b.Ceiling {
		return b.Ceiling
	}
	if next < b.Floor {
		return b.Floor
	}
	return next
}

func (b Backoff) withDefaults() Backoff {
	if b.Floor <= 0 {
		b.Floor = DefaultBackoff.Floor
	}
	if b.Ceiling < b.Floor {
		b.Ceiling = max(DefaultBackoff.Ceiling, b.Floor)
	}
	if b.Factor < 1 {
		b.Factor = DefaultBackoff.Factor
	}
	return b
}
