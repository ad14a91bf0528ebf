package reorder

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CrowderSoup/email-collector/database"
)

const DefaultTimeout = 5 * time.Second

const NoticePersistenceFailure = "persistence_failure"

// Store is the storage the engine reads from and writes orders to.
// BulkSetOrder must apply every assignment or none.
type Store interface {
	FetchAll(ctx context.Context) ([]database.Entry, error)
	BulkSetOrder(ctx context.Context, assignments []database.OrderAssignment) error
}

// Snapshot is the ordered view as currently rendered.
type Snapshot struct {
	Entries    []database.Entry `json:"entries"`
	Total      int              `json:"total"`
	Query      string           `json:"query"`
	DraggingID int64            `json:"draggingId,omitempty"`
	EditingID  int64            `json:"editingId,omitempty"`
	Pending    bool             `json:"pending"`
}

// Notice is a transient, dismissable message for the operator.
type Notice struct {
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	Dismissable bool   `json:"dismissable"`
}

type Config struct {
	// Timeout bounds one order submission. A timeout counts as a failure.
	Timeout         time.Duration
	LongPress       time.Duration
	ScrollThreshold float64
	Haptics         bool
	AfterFunc       AfterFunc
	HitTester       HitTester
}

// Engine owns the master collection and the ordered view for one operator
// session and runs every reorder as apply-locally, submit, then reconcile or
// revert.
type Engine struct {
	store      Store
	timeout    time.Duration
	recognizer *Recognizer

	mu         sync.Mutex
	master     []database.Entry
	view       []database.Entry
	query      string
	dragging   int64
	editing    int64
	resyncDue  bool
	generation uint64
	onView     []func(Snapshot)
	onNotice   []func(Notice)
	onGesture  []func(Event)
	onPersist  []func()
	submitting sync.WaitGroup

	pending atomic.Bool
}

func NewEngine(store Store, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	e := &Engine{
		store:   store,
		timeout: cfg.Timeout,
		master:  []database.Entry{},
		view:    []database.Entry{},
	}
	e.recognizer = NewRecognizer(RecognizerOptions{
		LongPress:       cfg.LongPress,
		ScrollThreshold: cfg.ScrollThreshold,
		Haptics:         cfg.Haptics,
		AfterFunc:       cfg.AfterFunc,
		HitTester:       cfg.HitTester,
		Gate:            func() bool { return !e.pending.Load() },
		OnEvent:         e.handleGesture,
	})
	return e
}

// Gestures is the recognizer that feeds this engine.
func (e *Engine) Gestures() *Recognizer {
	return e.recognizer
}

// Subscribe registers fn to receive every new ordered view.
func (e *Engine) Subscribe(fn func(Snapshot)) {
	e.mu.Lock()
	e.onView = append(e.onView, fn)
	e.mu.Unlock()
}

// OnNotice registers fn to receive operator notices.
func (e *Engine) OnNotice(fn func(Notice)) {
	e.mu.Lock()
	e.onNotice = append(e.onNotice, fn)
	e.mu.Unlock()
}

// OnGesture registers fn to receive drag lifecycle events.
func (e *Engine) OnGesture(fn func(Event)) {
	e.mu.Lock()
	e.onGesture = append(e.onGesture, fn)
	e.mu.Unlock()
}

// OnPersisted registers fn to run after every order this engine saved.
func (e *Engine) OnPersisted(fn func()) {
	e.mu.Lock()
	e.onPersist = append(e.onPersist, fn)
	e.mu.Unlock()
}

// Snapshot returns the current view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Master returns the full collection as last applied.
func (e *Engine) Master() []database.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.master)
}

// Load replaces the master collection with the authoritative one from storage.
// A read that overlaps a reorder is discarded: while the submission is pending
// the reload is deferred until it settles, and once it has settled the read is
// repeated.
func (e *Engine) Load(ctx context.Context) error {
	for {
		e.mu.Lock()
		gen := e.generation
		e.mu.Unlock()

		entries, err := e.store.FetchAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch entries: %w", err)
		}

		e.mu.Lock()
		if e.pending.Load() {
			e.resyncDue = true
			e.mu.Unlock()
			return nil
		}
		if e.generation != gen {
			e.mu.Unlock()
			continue
		}
		e.replaceLocked(entries)
		snap := e.snapshotLocked()
		e.mu.Unlock()

		e.publish(snap)
		return nil
	}
}

// Resync reloads from storage, or once the outstanding submission settles.
func (e *Engine) Resync(ctx context.Context) error {
	e.mu.Lock()
	if e.pending.Load() {
		e.resyncDue = true
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	return e.Load(ctx)
}

// SetQuery re-derives the view for a new search query.
func (e *Engine) SetQuery(query string) {
	e.mu.Lock()
	e.query = query
	e.view = Derive(e.master, query)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.publish(snap)
}

// SetEditing marks id as being edited inline, or ends editing when id is 0.
// Drag is disabled for every entry while editing.
func (e *Engine) SetEditing(id int64) {
	e.mu.Lock()
	e.editing = id
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.recognizer.SetEditing(id != 0)
	e.publish(snap)
}

// Wait blocks until submissions started by drop gestures have settled.
func (e *Engine) Wait() {
	e.submitting.Wait()
}

// Reorder moves draggedID onto targetID. The move is visible to subscribers
// before storage is contacted; on failure the master collection is re-fetched
// and a single notice is published.
func (e *Engine) Reorder(ctx context.Context, draggedID, targetID int64) error {
	plan, confirmed, err := e.begin(draggedID, targetID)
	if err != nil {
		return err
	}
	return e.submit(ctx, plan, confirmed)
}

// begin applies the move locally and claims the single submission slot.
func (e *Engine) begin(draggedID, targetID int64) (Plan, []database.Entry, error) {
	e.mu.Lock()
	if e.pending.Load() {
		e.mu.Unlock()
		return Plan{}, nil, ErrBusy
	}

	plan, err := Apply(e.master, e.view, draggedID, targetID)
	if err != nil {
		e.dragging = 0
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.publish(snap)
		return Plan{}, nil, err
	}

	confirmed := e.master
	e.master = plan.Master
	e.view = Derive(e.master, e.query)
	e.dragging = 0
	e.generation++
	e.pending.Store(true)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.publish(snap)
	return plan, confirmed, nil
}

func (e *Engine) submit(ctx context.Context, plan Plan, confirmed []database.Entry) error {
	submitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	err := e.store.BulkSetOrder(submitCtx, plan.Assignments)
	cancel()

	if err != nil {
		log.Printf("Error persisting order (entry %d onto %d): %v", plan.DraggedID, plan.TargetID, err)
		resync := e.revert(ctx, confirmed)
		e.notify(Notice{
			Kind:        NoticePersistenceFailure,
			Message:     "The new order could not be saved. The list has been reloaded.",
			Dismissable: true,
		})
		if resync {
			// the revert could not read storage; try once more
			if err := e.Load(ctx); err != nil {
				log.Printf("Error resyncing entries: %v", err)
			}
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	e.mu.Lock()
	e.master = Fold(e.master, plan.Assignments)
	e.view = Derive(e.master, e.query)
	resync := e.settleLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.publish(snap)
	log.Printf("Order persisted: entry %d moved onto %d (%d assignments)", plan.DraggedID, plan.TargetID, len(plan.Assignments))
	e.persisted()

	if resync {
		return e.Load(ctx)
	}
	return nil
}

// revert discards the optimistic order. When storage cannot be read either,
// the last confirmed collection is restored instead and revert reports that a
// follow-up load is needed.
func (e *Engine) revert(ctx context.Context, confirmed []database.Entry) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	entries, err := e.store.FetchAll(fetchCtx)
	cancel()

	e.mu.Lock()
	if err != nil {
		log.Printf("Error re-fetching entries after failed reorder: %v", err)
		entries = confirmed
	}
	e.replaceLocked(entries)
	// a successful re-fetch also serves any resync that was waiting on it
	e.settleLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.publish(snap)
	return err != nil
}

func (e *Engine) settleLocked() bool {
	e.pending.Store(false)
	due := e.resyncDue
	e.resyncDue = false
	return due
}

func (e *Engine) replaceLocked(entries []database.Entry) {
	e.master = Sorted(entries)
	e.view = Derive(e.master, e.query)
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Entries:    e.view,
		Total:      len(e.master),
		Query:      e.query,
		DraggingID: e.dragging,
		EditingID:  e.editing,
		Pending:    e.pending.Load(),
	}
}

// handleGesture runs with the recognizer lock held.
func (e *Engine) handleGesture(ev Event) {
	e.mu.Lock()
	listeners := slices.Clone(e.onGesture)

	var snap *Snapshot
	switch ev.Kind {
	case DragStarted:
		e.dragging = ev.DraggedID
		s := e.snapshotLocked()
		snap = &s
	case Cancelled:
		e.dragging = 0
		s := e.snapshotLocked()
		snap = &s
	}
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
	if snap != nil {
		e.publish(*snap)
	}

	if ev.Kind != Dropped {
		return
	}

	// claim the submission slot before the recognizer can start another drag
	plan, confirmed, err := e.begin(ev.DraggedID, ev.TargetID)
	if err != nil {
		return
	}

	e.submitting.Add(1)
	go func() {
		defer e.submitting.Done()
		// a submitted order is never cancelled, only bounded by the timeout
		_ = e.submit(context.Background(), plan, confirmed)
	}()
}

func (e *Engine) publish(snap Snapshot) {
	e.mu.Lock()
	listeners := slices.Clone(e.onView)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (e *Engine) persisted() {
	e.mu.Lock()
	listeners := slices.Clone(e.onPersist)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (e *Engine) notify(n Notice) {
	e.mu.Lock()
	listeners := slices.Clone(e.onNotice)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(n)
	}
}
