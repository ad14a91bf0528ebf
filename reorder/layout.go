package reorder

import "sync"

// Rect is the rendered bounding box of one entry, in viewport coordinates.
type Rect struct {
	ID     int64   `json:"id"`
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

// Contains is half-open on the bottom and right edges so adjacent rows never
// both claim a point. A rect without horizontal extent matches any x.
func (r Rect) Contains(x, y float64) bool {
	if y < r.Top || y >= r.Bottom {
		return false
	}
	if r.Right > r.Left {
		return x >= r.Left && x < r.Right
	}
	return true
}

// HitTester finds the entry rendered under a point.
type HitTester interface {
	HitTest(x, y float64) (int64, bool)
}

// Layout keeps the most recently reported row bounds.
type Layout struct {
	mu    sync.RWMutex
	rects []Rect
}

func NewLayout() *Layout {
	return &Layout{}
}

// Update replaces the known bounds wholesale.
func (l *Layout) Update(rects []Rect) {
	next := make([]Rect, len(rects))
	copy(next, rects)

	l.mu.Lock()
	l.rects = next
	l.mu.Unlock()
}

func (l *Layout) HitTest(x, y float64) (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, r := range l.rects {
		if r.Contains(x, y) {
			return r.ID, true
		}
	}
	return 0, false
}
