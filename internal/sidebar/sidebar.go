// Package sidebar tracks the detail sidebar's open/close lifecycle. Closing
// is two-phase: Close starts the exit animation and the selection is only
// cleared once the animation reports it has ended.
package sidebar

import "sync"

// Phase is the sidebar lifecycle stage.
type Phase string

const (
	PhaseClosed  Phase = "closed"
	PhaseOpen    Phase = "open"
	PhaseClosing Phase = "closing"
)

// State is a snapshot of the sidebar. SelectedID is set in Open and Closing.
type State struct {
	Phase      Phase  `json:"phase"`
	SelectedID string `json:"selectedId,omitempty"`
}

// IsOpen reports whether the sidebar should render as open.
func (s State) IsOpen() bool { return s.Phase == PhaseOpen }

// Sidebar is safe for concurrent use.
type Sidebar struct {
	mu    sync.Mutex
	state State
}

// New returns a closed sidebar.
func New() *Sidebar {
	return &Sidebar{state: State{Phase: PhaseClosed}}
}

// State returns the current snapshot.
func (s *Sidebar) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open selects id. Opening from any phase, including mid-close, lands in Open.
func (s *Sidebar) Open(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{Phase: PhaseOpen, SelectedID: id}
	return s.state
}

// Close starts the exit animation. No-op unless open.
func (s *Sidebar) Close() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == PhaseOpen {
		s.state.Phase = PhaseClosing
	}
	return s.state
}

// AnimationEnd clears the selection if a close is in flight. An animation
// end that arrives after a reopen is ignored.
func (s *Sidebar) AnimationEnd() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == PhaseClosing {
		s.state = State{Phase: PhaseClosed}
	}
	return s.state
}
