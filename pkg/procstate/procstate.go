// Package procstate records which internal code paths executed, so tests can
// assert on behavior that is invisible in API results, such as whether the
// core service was contacted while verifying a session.
package procstate

import (
	"sync"
	"time"
)

// Event names an internal code path.
type Event string

// CallingServiceInVerify is recorded when session verification cannot
// complete locally and falls back to a core service call.
const CallingServiceInVerify Event = "CALLING_SERVICE_IN_VERIFY"

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(event Event)
}

// Discard drops every event. It is the default sink outside of tests.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(Event) {}

// A Record is one observed event and the time it was recorded.
type Record struct {
	Event Event
	At    time.Time
}

// Tracker is an append-only in-memory Sink. Attach a fresh Tracker per test
// to observe which paths a scenario exercised.
type Tracker struct {
	mu      sync.Mutex
	history []Record
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Record(event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, Record{Event: event, At: time.Now()})
}

// History returns a copy of all records in the order they were recorded.
func (t *Tracker) History() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, len(t.history))
	copy(out, t.history)

	return out
}

// Seen reports whether event has been recorded at least once.
func (t *Tracker) Seen(event Event) bool {
	return t.Count(event) > 0
}

// Count returns how many times event has been recorded.
func (t *Tracker) Count(event Event) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, r := range t.history {
		if r.Event == event {
			n++
		}
	}

	return n
}

// Reset clears the history.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = nil
}
