package reorder

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultLongPress       = 500 * time.Millisecond
	DefaultScrollThreshold = 10.0
)

type EventKind int

const (
	DragStarted EventKind = iota + 1
	DragMoved
	Dropped
	Cancelled
)

func (k EventKind) String() string {
	switch k {
	case DragStarted:
		return "dragStart"
	case DragMoved:
		return "dragMove"
	case Dropped:
		return "drop"
	case Cancelled:
		return "dragCancel"
	}
	return "unknown"
}

type Source int

const (
	SourcePointer Source = iota + 1
	SourceTouch
)

func (s Source) String() string {
	if s == SourceTouch {
		return "touch"
	}
	return "pointer"
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Event is one step of a drag lifecycle.
type Event struct {
	Kind      EventKind
	Source    Source
	DraggedID int64
	// TargetID is the drop target, or the hovered candidate for DragMoved.
	TargetID int64
	Current  Point
	// SuppressScroll asks the caller to stop native touch scrolling for the rest of the gesture.
	SuppressScroll bool
	Haptic         bool
}

// Session is the state of the drag in progress.
type Session struct {
	DraggedID int64
	Active    bool
	Source    Source
	Origin    Point
	Current   Point
}

// Timer is the part of *time.Timer the recognizer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type RecognizerOptions struct {
	LongPress       time.Duration
	ScrollThreshold float64
	// Haptics requests a short vibration when a long press activates a drag.
	Haptics   bool
	AfterFunc AfterFunc
	HitTester HitTester
	// Gate reports whether a new drag may start. It is called with the
	// recognizer lock held and must not call back into the recognizer.
	Gate func() bool
	// OnEvent receives events in order, with the recognizer lock held.
	// Like Gate it must not call back into the recognizer.
	OnEvent func(Event)
}

type touchState int

const (
	touchIdle touchState = iota
	touchPending
	touchActive
)

// Recognizer turns raw pointer and touch input into drag events.
//
// Touch input has no native drag and drop, so a drag starts only after the finger
// is held still for the long press delay; moving further than the scroll
// threshold first means the operator is scrolling.
type Recognizer struct {
	mu   sync.Mutex
	opts RecognizerOptions

	touch      touchState
	session    *Session
	timer      Timer
	generation uint64
	editing    bool
	lastAbort  error
}

func NewRecognizer(opts RecognizerOptions) *Recognizer {
	if opts.LongPress <= 0 {
		opts.LongPress = DefaultLongPress
	}
	if opts.ScrollThreshold <= 0 {
		opts.ScrollThreshold = DefaultScrollThreshold
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.HitTester == nil {
		opts.HitTester = NewLayout()
	}
	return &Recognizer{opts: opts}
}

// Session returns a copy of the drag in progress, if any.
func (r *Recognizer) Session() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return Session{}, false
	}
	return *r.session, true
}

// LastAbort is the reason the most recent gesture ended without a drop.
func (r *Recognizer) LastAbort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAbort
}

// SetEditing disables drag for all entries while one is edited inline.
// Entering edit mode cancels a drag in progress.
func (r *Recognizer) SetEditing(editing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.editing = editing
	if editing {
		r.cancelLocked(nil)
	}
}

func (r *Recognizer) eligibleLocked() bool {
	if r.editing || r.session != nil || r.touch != touchIdle {
		return false
	}
	return r.opts.Gate == nil || r.opts.Gate()
}

// DragStart begins a pointer drag on id. It returns false when drag is not allowed.
func (r *Recognizer) DragStart(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.eligibleLocked() {
		return false
	}

	r.session = &Session{DraggedID: id, Active: true, Source: SourcePointer}
	r.lastAbort = nil
	r.emit(Event{Kind: DragStarted, Source: SourcePointer, DraggedID: id})
	return true
}

// DragOver accepts any candidate while a pointer drag is active.
func (r *Recognizer) DragOver(candidateID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.Source != SourcePointer {
		return false
	}
	r.emit(Event{Kind: DragMoved, Source: SourcePointer, DraggedID: r.session.DraggedID, TargetID: candidateID})
	return true
}

// Drop ends a pointer drag over targetID. A zero draggedID means the session's entry.
func (r *Recognizer) Drop(draggedID, targetID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.Source != SourcePointer {
		return
	}

	dragged := r.session.DraggedID
	if (draggedID != 0 && draggedID != dragged) || targetID == 0 || targetID == dragged {
		r.cancelLocked(ErrNoOpDrop)
		return
	}

	r.session = nil
	r.emit(Event{Kind: Dropped, Source: SourcePointer, DraggedID: dragged, TargetID: targetID})
}

// DragEnd closes a pointer drag; without a prior Drop it cancels.
func (r *Recognizer) DragEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil && r.session.Source == SourcePointer {
		r.cancelLocked(ErrNoOpDrop)
	}
}

// TouchStart arms the long press timer for a touch on id at vertical position y.
func (r *Recognizer) TouchStart(id int64, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.eligibleLocked() {
		return
	}

	origin := Point{Y: y}
	r.session = &Session{DraggedID: id, Source: SourceTouch, Origin: origin, Current: origin}
	r.touch = touchPending
	r.lastAbort = nil
	r.generation++

	gen := r.generation
	r.timer = r.opts.AfterFunc(r.opts.LongPress, func() { r.longPress(gen) })
}

func (r *Recognizer) longPress(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation || r.touch != touchPending || r.session == nil {
		return
	}

	r.touch = touchActive
	r.timer = nil
	r.session.Active = true
	r.emit(Event{
		Kind:           DragStarted,
		Source:         SourceTouch,
		DraggedID:      r.session.DraggedID,
		Current:        r.session.Current,
		SuppressScroll: true,
		Haptic:         r.opts.Haptics,
	})
}

// TouchMove tracks the finger. It returns true when the caller must prevent
// native scrolling.
func (r *Recognizer) TouchMove(y float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.touch {
	case touchPending:
		r.session.Current.Y = y
		if math.Abs(y-r.session.Origin.Y) > r.opts.ScrollThreshold {
			r.resetTouchLocked(ErrGestureAmbiguous)
		}
		return false

	case touchActive:
		r.session.Current.Y = y
		r.emit(Event{Kind: DragMoved, Source: SourceTouch, DraggedID: r.session.DraggedID, Current: r.session.Current})
		return true
	}

	return false
}

// TouchEnd releases the finger at (x, y) and drops on the entry rendered there.
func (r *Recognizer) TouchEnd(x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.touch {
	case touchPending:
		// a tap, not a drag
		r.resetTouchLocked(nil)

	case touchActive:
		dragged := r.session.DraggedID
		target, ok := r.opts.HitTester.HitTest(x, y)
		if !ok || target == dragged {
			r.cancelLocked(ErrNoOpDrop)
			return
		}

		r.resetTouchLocked(nil)
		r.emit(Event{
			Kind:      Dropped,
			Source:    SourceTouch,
			DraggedID: dragged,
			TargetID:  target,
			Current:   Point{X: x, Y: y},
		})
	}
}

// TouchCancel handles a system interruption from any state.
func (r *Recognizer) TouchCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil && r.session.Source == SourceTouch {
		r.cancelLocked(nil)
	}
}

// cancelLocked ends any gesture. Only a drag that had started is reported.
func (r *Recognizer) cancelLocked(reason error) {
	s := r.session
	if s == nil {
		return
	}

	if s.Source == SourceTouch {
		r.resetTouchLocked(reason)
	} else {
		r.session = nil
		r.lastAbort = reason
	}

	if s.Active {
		r.emit(Event{Kind: Cancelled, Source: s.Source, DraggedID: s.DraggedID})
	}
}

func (r *Recognizer) resetTouchLocked(reason error) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	// invalidates a timer callback that is already running
	r.generation++
	r.touch = touchIdle
	r.session = nil
	r.lastAbort = reason
}

func (r *Recognizer) emit(ev Event) {
	if r.opts.OnEvent != nil {
		r.opts.OnEvent(ev)
	}
}
