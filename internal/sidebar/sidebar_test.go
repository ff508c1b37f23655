package sidebar

import "testing"

func TestSidebar_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps func(s *Sidebar)
		want  State
	}{
		{
			name:  "initially closed",
			steps: func(*Sidebar) {},
			want:  State{Phase: PhaseClosed},
		},
		{
			name:  "open selects",
			steps: func(s *Sidebar) { s.Open("sr-1") },
			want:  State{Phase: PhaseOpen, SelectedID: "sr-1"},
		},
		{
			name:  "close keeps selection while animating",
			steps: func(s *Sidebar) { s.Open("sr-1"); s.Close() },
			want:  State{Phase: PhaseClosing, SelectedID: "sr-1"},
		},
		{
			name:  "animation end clears",
			steps: func(s *Sidebar) { s.Open("sr-1"); s.Close(); s.AnimationEnd() },
			want:  State{Phase: PhaseClosed},
		},
		{
			name:  "close when closed is a no-op",
			steps: func(s *Sidebar) { s.Close() },
			want:  State{Phase: PhaseClosed},
		},
		{
			name:  "animation end while open is ignored",
			steps: func(s *Sidebar) { s.Open("sr-1"); s.AnimationEnd() },
			want:  State{Phase: PhaseOpen, SelectedID: "sr-1"},
		},
		{
			name:  "reopen during close",
			steps: func(s *Sidebar) { s.Open("sr-1"); s.Close(); s.Open("sr-2"); s.AnimationEnd() },
			want:  State{Phase: PhaseOpen, SelectedID: "sr-2"},
		},
		{
			name:  "open another while open",
			steps: func(s *Sidebar) { s.Open("sr-1"); s.Open("sr-2") },
			want:  State{Phase: PhaseOpen, SelectedID: "sr-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New()
			tt.steps(s)
			if got := s.State(); got != tt.want {
				t.Errorf("State = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestState_IsOpen(t *testing.T) {
	t.Parallel()

	if (State{Phase: PhaseClosing}).IsOpen() {
		t.Error("closing should not render as open")
	}
	if !(State{Phase: PhaseOpen}).IsOpen() {
		t.Error("open should render as open")
	}
}
