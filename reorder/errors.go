package reorder

import "errors"

var (
	// ErrGestureAmbiguous means the finger moved past the scroll threshold
	// before the long press fired. It never leaves the recognizer.
	ErrGestureAmbiguous = errors.New("gesture ambiguous: treated as scroll")

	// ErrNoOpDrop covers drops onto the dragged entry itself or outside any target.
	ErrNoOpDrop = errors.New("drop has no effect")

	// ErrPersistence wraps any failure to commit a new order.
	ErrPersistence = errors.New("failed to persist order")

	// ErrBusy is returned while an earlier reorder is still being submitted.
	ErrBusy = errors.New("reorder already in progress")
)
