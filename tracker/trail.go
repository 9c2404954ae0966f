package tracker

import "time"

// Position is the accumulated displacement in sensor counts
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns p moved by a sample's deltas
func (p Position) Add(dx, dy int) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// TrailPoint is a position and when it was reached
type TrailPoint struct {
	Position
	Time time.Time `json:"time"`
}

// trail is a fixed capacity ring of the most recent points
type trail struct {
	buf  []TrailPoint
	next int
	full bool
}

func newTrail(capacity int) *trail {
	if capacity < 1 {
		capacity = 1
	}
	return &trail{buf: make([]TrailPoint, capacity)}
}

func (t *trail) append(p TrailPoint) {
	t.buf[t.next] = p
	t.next = (t.next + 1) % len(t.buf)
	if t.next == 0 {
		t.full = true
	}
}

func (t *trail) len() int {
	if t.full {
		return len(t.buf)
	}
	return t.next
}

// last returns up to n points, oldest first
func (t *trail) last(n int) []TrailPoint {
	l := t.len()
	if n <= 0 || n > l {
		n = l
	}
	out := make([]TrailPoint, n)
	start := t.next - n
	if start < 0 {
		start += len(t.buf)
	}
	for i := 0; i < n; i++ {
		out[i] = t.buf[(start+i)%len(t.buf)]
	}
	return out
}
