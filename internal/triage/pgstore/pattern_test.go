package pgstore

import "testing"

func TestContainsPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		term string
		want string
	}{
		{"plain", "nadja", "%nadja%"},
		{"trimmed", "  fall at home\t", "%fall at home%"},
		{"blank matches all", "   ", "%%"},
		{"percent is literal", "50%", `%50\%%`},
		{"underscore is literal", "sr_1", `%sr\_1%`},
		{"backslash is literal", `a\b`, `%a\\b%`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := containsPattern(tt.term); got != tt.want {
				t.Errorf("containsPattern(%q) = %q, want %q", tt.term, got, tt.want)
			}
		})
	}
}
