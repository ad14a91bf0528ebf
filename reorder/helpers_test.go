package reorder

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/CrowderSoup/email-collector/database"
	"github.com/stretchr/testify/mock"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func entry(id int64, email string, order int) database.Entry {
	return database.Entry{
		ID:        id,
		Email:     email,
		Order:     order,
		CreatedAt: baseTime.Add(time.Duration(id) * time.Minute),
	}
}

// abc is the collection [A(1), B(2), C(3)]
func abc() []database.Entry {
	return []database.Entry{
		entry(1, "a@example.com", 1),
		entry(2, "b@example.com", 2),
		entry(3, "c@example.com", 3),
	}
}

func ids(entries []database.Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func orders(entries []database.Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Order
	}
	return out
}

// memStore applies a batch to a copy and keeps it only when the whole batch succeeds.
type memStore struct {
	mu       sync.Mutex
	entries  []database.Entry
	failBulk error
	failRead error
	// block, when set, holds BulkSetOrder until it is closed
	block chan struct{}
	bulk  int
	// reading and release, when set, hold the next FetchAll after it has read
	reading chan struct{}
	release chan struct{}
}

func newMemStore(entries []database.Entry) *memStore {
	return &memStore{entries: slices.Clone(entries)}
}

func (m *memStore) FetchAll(ctx context.Context) ([]database.Entry, error) {
	m.mu.Lock()
	if m.failRead != nil {
		m.mu.Unlock()
		return nil, m.failRead
	}
	entries := Sorted(m.entries)
	reading, release := m.reading, m.release
	m.reading, m.release = nil, nil
	m.mu.Unlock()

	if reading != nil {
		close(reading)
		<-release
	}
	return entries, nil
}

// holdNextFetch makes the next FetchAll wait after reading until the returned
// release channel is closed. The first channel is closed once the read happened.
func (m *memStore) holdNextFetch() (<-chan struct{}, chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reading = make(chan struct{})
	m.release = make(chan struct{})
	return m.reading, m.release
}

func (m *memStore) BulkSetOrder(ctx context.Context, assignments []database.OrderAssignment) error {
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulk++

	work := slices.Clone(m.entries)
	for i, a := range assignments {
		// simulated interruption half way through the batch
		if m.failBulk != nil && i == len(assignments)/2 {
			return m.failBulk
		}
		idx := indexOf(work, a.ID)
		if idx < 0 {
			return database.ErrStaleOrder
		}
		work[idx].Order = a.Order
	}

	m.entries = work
	return nil
}

var errStorageDown = errors.New("storage down")

// fakeClock hands out timers that only fire when the test says so.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

// Fire runs the most recent timer unless it was stopped.
func (c *fakeClock) Fire() bool {
	t := c.last()
	if t == nil || t.stopped || t.fired {
		return false
	}
	t.fired = true
	t.f()
	return true
}

// mockStore is a testify mock of Store.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) FetchAll(ctx context.Context) ([]database.Entry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.Entry), args.Error(1)
}

func (m *mockStore) BulkSetOrder(ctx context.Context, assignments []database.OrderAssignment) error {
	args := m.Called(ctx, assignments)
	return args.Error(0)
}
