package reorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CrowderSoup/email-collector/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type viewLog struct {
	mu      sync.Mutex
	views   []Snapshot
	notices []Notice
}

func (l *viewLog) view(s Snapshot) {
	l.mu.Lock()
	l.views = append(l.views, s)
	l.mu.Unlock()
}

func (l *viewLog) notice(n Notice) {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
}

func (l *viewLog) last() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.views[len(l.views)-1]
}

func (l *viewLog) noticeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.notices)
}

func newTestEngine(t *testing.T, store Store, cfg Config) (*Engine, *viewLog) {
	t.Helper()

	e := NewEngine(store, cfg)
	log := &viewLog{}
	e.Subscribe(log.view)
	e.OnNotice(log.notice)

	require.NoError(t, e.Load(context.Background()))
	return e, log
}

func TestEngine_ReorderSuccess(t *testing.T) {
	store := newMemStore(abc())
	e, log := newTestEngine(t, store, Config{})
	ctx := context.Background()

	require.NoError(t, e.Reorder(ctx, 1, 3))

	snap := log.last()
	assert.Equal(t, []int64{2, 3, 1}, ids(snap.Entries))
	assert.Equal(t, []int{1, 2, 3}, orders(snap.Entries))
	assert.False(t, snap.Pending)
	assert.Zero(t, log.noticeCount())

	fetched, err := store.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1}, ids(fetched))
}

func TestEngine_OptimisticViewPublishedBeforeConfirmation(t *testing.T) {
	store := newMemStore(abc())
	store.block = make(chan struct{})
	e, log := newTestEngine(t, store, Config{})

	done := make(chan error, 1)
	go func() { done <- e.Reorder(context.Background(), 1, 3) }()

	require.Eventually(t, func() bool { return e.Snapshot().Pending }, time.Second, time.Millisecond)

	snap := e.Snapshot()
	assert.Equal(t, []int64{2, 3, 1}, ids(snap.Entries))

	// no new drag while the submission is outstanding
	assert.False(t, e.Gestures().DragStart(2))
	assert.ErrorIs(t, e.Reorder(context.Background(), 2, 3), ErrBusy)

	close(store.block)
	require.NoError(t, <-done)

	assert.False(t, log.last().Pending)
	assert.True(t, e.Gestures().DragStart(2))
}

func TestEngine_FailureRevertsToAuthoritativeOrder(t *testing.T) {
	store := newMemStore(abc())
	store.failBulk = errStorageDown
	e, log := newTestEngine(t, store, Config{})
	ctx := context.Background()

	var optimistic []int64
	e.Subscribe(func(s Snapshot) {
		if s.Pending {
			optimistic = ids(s.Entries)
		}
	})

	err := e.Reorder(ctx, 1, 3)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, errStorageDown)

	assert.Equal(t, []int64{2, 3, 1}, optimistic)
	assert.Equal(t, []int64{1, 2, 3}, ids(log.last().Entries))
	assert.Equal(t, []int{1, 2, 3}, orders(log.last().Entries))

	fetched, err := store.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(fetched))

	require.Equal(t, 1, log.noticeCount())
	assert.Equal(t, NoticePersistenceFailure, log.notices[0].Kind)
	assert.True(t, log.notices[0].Dismissable)
}

func TestEngine_FailureRefetchesInsteadOfPatching(t *testing.T) {
	store := new(mockStore)
	initial := abc()
	// someone else deleted C in the meantime
	authoritative := abc()[:2]

	store.On("FetchAll", mock.Anything).Return(initial, nil).Once()
	store.On("BulkSetOrder", mock.Anything, []database.OrderAssignment{
		{ID: 2, Order: 1},
		{ID: 3, Order: 2},
		{ID: 1, Order: 3},
	}).Return(database.ErrStaleOrder).Once()
	store.On("FetchAll", mock.Anything).Return(authoritative, nil).Once()

	e, log := newTestEngine(t, store, Config{})

	err := e.Reorder(context.Background(), 1, 3)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, database.ErrStaleOrder)

	assert.Equal(t, []int64{1, 2}, ids(log.last().Entries))
	assert.Equal(t, 2, log.last().Total)
	store.AssertExpectations(t)
}

func TestEngine_FailureWithUnreadableStorageRestoresLastConfirmed(t *testing.T) {
	store := newMemStore(abc())
	e, log := newTestEngine(t, store, Config{})

	store.failBulk = errStorageDown
	store.failRead = errStorageDown

	err := e.Reorder(context.Background(), 3, 1)
	require.ErrorIs(t, err, ErrPersistence)

	assert.Equal(t, []int64{1, 2, 3}, ids(log.last().Entries))
	assert.False(t, log.last().Pending)
	assert.Equal(t, 1, log.noticeCount())
}

func TestEngine_TimeoutCountsAsFailure(t *testing.T) {
	store := new(mockStore)
	store.On("FetchAll", mock.Anything).Return(abc(), nil)
	store.On("BulkSetOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(context.DeadlineExceeded).Once()

	e, log := newTestEngine(t, store, Config{Timeout: 10 * time.Millisecond})

	err := e.Reorder(context.Background(), 1, 2)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []int64{1, 2, 3}, ids(log.last().Entries))
	assert.Equal(t, 1, log.noticeCount())
}

func TestEngine_SelfDropLeavesEverythingUnchanged(t *testing.T) {
	store := newMemStore(abc())
	e, _ := newTestEngine(t, store, Config{})

	err := e.Reorder(context.Background(), 2, 2)
	require.ErrorIs(t, err, ErrNoOpDrop)

	assert.Equal(t, abc(), e.Master())
	assert.Zero(t, store.bulk)
}

func TestEngine_FilteredReorderRenumbersWholeMaster(t *testing.T) {
	entries := []database.Entry{
		entry(1, "a@work.io", 1),
		entry(2, "b@home.io", 2),
		entry(3, "c@work.io", 3),
	}
	store := newMemStore(entries)
	e, log := newTestEngine(t, store, Config{})
	ctx := context.Background()

	e.SetQuery("WORK")
	assert.Equal(t, []int64{1, 3}, ids(log.last().Entries))
	assert.Equal(t, 3, log.last().Total)

	require.NoError(t, e.Reorder(ctx, 3, 1))
	assert.Equal(t, []int64{3, 1}, ids(log.last().Entries))

	master := e.Master()
	assert.Equal(t, []int64{3, 2, 1}, ids(master))
	assert.True(t, DistinctOrders(master))

	fetched, err := store.FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, master, fetched)

	e.SetQuery("")
	assert.Equal(t, []int64{3, 2, 1}, ids(log.last().Entries))
}

func TestEngine_ResyncDeferredWhilePending(t *testing.T) {
	store := newMemStore(abc())
	store.block = make(chan struct{})
	e, log := newTestEngine(t, store, Config{})

	done := make(chan error, 1)
	go func() { done <- e.Reorder(context.Background(), 1, 3) }()
	require.Eventually(t, func() bool { return e.Snapshot().Pending }, time.Second, time.Millisecond)

	// a new entry shows up in storage while the reorder is in flight
	store.mu.Lock()
	store.entries = append(store.entries, entry(4, "d@example.com", 4))
	store.mu.Unlock()

	require.NoError(t, e.Resync(context.Background()))
	assert.Len(t, e.Snapshot().Entries, 3)

	close(store.block)
	require.NoError(t, <-done)

	assert.Equal(t, []int64{2, 3, 1, 4}, ids(log.last().Entries))
}

func TestEngine_ResyncReadOverlappingPendingReorderIsDropped(t *testing.T) {
	store := newMemStore(abc())
	e, log := newTestEngine(t, store, Config{})
	ctx := context.Background()

	reading, release := store.holdNextFetch()
	resynced := make(chan error, 1)
	go func() { resynced <- e.Resync(ctx) }()
	<-reading

	// the drop lands after the resync has read [A, B, C]
	store.block = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- e.Reorder(ctx, 1, 3) }()
	require.Eventually(t, func() bool { return e.Snapshot().Pending }, time.Second, time.Millisecond)

	close(release)
	require.NoError(t, <-resynced)

	snap := e.Snapshot()
	assert.True(t, snap.Pending)
	assert.Equal(t, []int64{2, 3, 1}, ids(snap.Entries))

	close(store.block)
	require.NoError(t, <-done)

	assert.False(t, log.last().Pending)
	assert.Equal(t, []int64{2, 3, 1}, ids(log.last().Entries))
}

func TestEngine_ResyncReadOverlappingSettledReorderIsRepeated(t *testing.T) {
	store := newMemStore(abc())
	e, log := newTestEngine(t, store, Config{})
	ctx := context.Background()

	reading, release := store.holdNextFetch()
	resynced := make(chan error, 1)
	go func() { resynced <- e.Resync(ctx) }()
	<-reading

	require.NoError(t, e.Reorder(ctx, 1, 3))

	close(release)
	require.NoError(t, <-resynced)

	assert.Equal(t, []int64{2, 3, 1}, ids(e.Snapshot().Entries))
	assert.Equal(t, []int64{2, 3, 1}, ids(log.last().Entries))
}

func TestEngine_FailedRefetchIsFollowedByOneLoad(t *testing.T) {
	store := new(mockStore)
	// a new entry arrived by the time storage answers again
	recovered := append(abc(), entry(4, "d@example.com", 4))

	store.On("FetchAll", mock.Anything).Return(abc(), nil).Once()
	store.On("BulkSetOrder", mock.Anything, mock.Anything).Return(errStorageDown).Once()
	store.On("FetchAll", mock.Anything).Return(nil, errStorageDown).Once()
	store.On("FetchAll", mock.Anything).Return(recovered, nil).Once()

	e, log := newTestEngine(t, store, Config{})

	err := e.Reorder(context.Background(), 1, 3)
	require.ErrorIs(t, err, ErrPersistence)

	assert.Equal(t, []int64{1, 2, 3, 4}, ids(log.last().Entries))
	assert.False(t, log.last().Pending)
	assert.Equal(t, 1, log.noticeCount())
	store.AssertNumberOfCalls(t, "FetchAll", 3)
	store.AssertExpectations(t)
}

func TestEngine_OnPersistedRunsOnlyAfterSave(t *testing.T) {
	store := newMemStore(abc())
	e, _ := newTestEngine(t, store, Config{})
	ctx := context.Background()

	var saved int
	e.OnPersisted(func() { saved++ })

	require.NoError(t, e.Reorder(ctx, 1, 3))
	assert.Equal(t, 1, saved)

	store.failBulk = errStorageDown
	require.ErrorIs(t, e.Reorder(ctx, 2, 1), ErrPersistence)
	assert.Equal(t, 1, saved)
}

func TestEngine_TouchGestureEndToEnd(t *testing.T) {
	clock := &fakeClock{}
	layout := NewLayout()
	layout.Update([]Rect{
		{ID: 1, Top: 0, Bottom: 50},
		{ID: 2, Top: 50, Bottom: 100},
		{ID: 3, Top: 100, Bottom: 150},
	})

	store := newMemStore(abc())
	e, log := newTestEngine(t, store, Config{AfterFunc: clock.AfterFunc, HitTester: layout})

	var gestures []EventKind
	e.OnGesture(func(ev Event) { gestures = append(gestures, ev.Kind) })

	g := e.Gestures()
	g.TouchStart(1, 20)
	require.True(t, clock.Fire())
	assert.EqualValues(t, 1, e.Snapshot().DraggingID)

	g.TouchMove(120)
	g.TouchEnd(10, 120)
	e.Wait()

	assert.Equal(t, []EventKind{DragStarted, DragMoved, Dropped}, gestures)
	assert.Equal(t, []int64{2, 3, 1}, ids(log.last().Entries))
	assert.Zero(t, log.last().DraggingID)

	fetched, err := store.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1}, ids(fetched))
}

func TestEngine_PointerDropFailureNoticesOnce(t *testing.T) {
	store := newMemStore(abc())
	store.failBulk = errStorageDown
	e, log := newTestEngine(t, store, Config{})

	g := e.Gestures()
	require.True(t, g.DragStart(3))
	g.Drop(3, 1)
	g.DragEnd()
	e.Wait()

	assert.Equal(t, []int64{1, 2, 3}, ids(log.last().Entries))
	assert.Equal(t, 1, log.noticeCount())
}

func TestEngine_EditingBlocksDrag(t *testing.T) {
	e, log := newTestEngine(t, newMemStore(abc()), Config{})

	e.SetEditing(2)
	assert.EqualValues(t, 2, log.last().EditingID)
	assert.False(t, e.Gestures().DragStart(1))

	e.SetEditing(0)
	assert.True(t, e.Gestures().DragStart(1))
	assert.EqualValues(t, 1, log.last().DraggingID)

	e.Gestures().DragEnd()
	assert.Zero(t, log.last().DraggingID)
}

func TestEngine_IdempotentLoad(t *testing.T) {
	e, log := newTestEngine(t, newMemStore(abc()), Config{})
	first := log.last()

	require.NoError(t, e.Load(context.Background()))
	assert.Equal(t, first, log.last())
}
