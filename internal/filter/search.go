package filter

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSearchDebounce is the idle time before a typed search term is committed.
const DefaultSearchDebounce = 450 * time.Millisecond

// SearchInput decouples keystrokes from the committed search term. Each
// keystroke updates the draft at once and restarts a single idle timer; when
// the timer fires the draft is committed unless it already equals the
// committed term.
type SearchInput struct {
	filter *Filter
	clock  clockwork.Clock
	delay  time.Duration

	mu     sync.Mutex
	draft  string
	timer  clockwork.Timer
	gen    uint64
	closed bool
}

// NewSearchInput creates a debounced input over f, seeded with the committed term.
func NewSearchInput(f *Filter, clock clockwork.Clock, delay time.Duration) *SearchInput {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if delay <= 0 {
		delay = DefaultSearchDebounce
	}
	return &SearchInput{
		filter: f,
		clock:  clock,
		delay:  delay,
		draft:  f.State().SearchTerm,
	}
}

// Type records a keystroke: the draft changes now, the commit is rescheduled.
func (s *SearchInput) Type(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.draft = text
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.delay, func() { s.fire(gen) })
}

// fire commits if no newer keystroke superseded generation gen.
func (s *SearchInput) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	draft := s.draft
	s.mu.Unlock()

	s.commit(draft)
}

func (s *SearchInput) commit(draft string) {
	if draft == s.filter.State().SearchTerm {
		return
	}
	s.filter.SetSearchTerm(draft)
}

// Flush commits the draft immediately and cancels the pending timer.
func (s *SearchInput) Flush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	draft := s.draft
	s.mu.Unlock()

	s.commit(draft)
}

// Draft returns the uncommitted text.
func (s *SearchInput) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Pending reports whether a commit is scheduled.
func (s *SearchInput) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Close cancels any scheduled commit. Later keystrokes are ignored.
func (s *SearchInput) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
