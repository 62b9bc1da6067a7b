package metrics

import "sync"

// Mock is a mock implementation of the Metrics interface for testing.
// It is safe for concurrent use.
type Mock struct {
	mu          sync.Mutex
	sessions    int
	activeLocks int
	intents     map[string]int
	committed   int
	conflicts   int
	rejections  map[string]int
	durations   []float64
}

// NewMock creates a new mock instance.
func NewMock() *Mock {
	return &Mock{
		intents:    make(map[string]int),
		rejections: make(map[string]int),
	}
}

func (m *Mock) SessionJoined() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions++
}

func (m *Mock) SessionLeft() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions--
}

func (m *Mock) SetActiveLocks(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeLocks = n
}

func (m *Mock) IncLockIntent(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[result]++
}

func (m *Mock) IncBookingCommitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed++
}

func (m *Mock) IncBookingConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *Mock) IncBookingRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[reason]++
}

func (m *Mock) ObserveCommitDuration(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = append(m.durations, seconds)
}

// Sessions returns the current session gauge value.
func (m *Mock) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

// ActiveLocks returns the last value passed to SetActiveLocks.
func (m *Mock) ActiveLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocks
}

// LockIntents returns how many intents ended with result.
func (m *Mock) LockIntents(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intents[result]
}

// Committed returns the number of times IncBookingCommitted was called.
func (m *Mock) Committed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// Conflicts returns the number of times IncBookingConflict was called.
func (m *Mock) Conflicts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conflicts
}

// Rejections returns how many rejections were recorded for reason.
func (m *Mock) Rejections(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejections[reason]
}
