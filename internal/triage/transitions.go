package triage

import (
	"fmt"

	"github.com/linnemanlabs/reviewqueue/internal/status"
)

// Order picks which forward move of a status to take.
type Order string

const (
	// OrderPrimary is the main forward move offered on every non-terminal card
	OrderPrimary Order = "primary"

	// OrderSecondary is the alternate move, offered only where the table defines one
	OrderSecondary Order = "secondary"
)

// ParseOrder validates an order string.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case OrderPrimary, OrderSecondary:
		return Order(s), nil
	}
	return "", fmt.Errorf("unknown transition order %q", s)
}

// Move is the set of legal forward moves out of one status.
type Move struct {
	Primary   string
	Secondary string
}

// moves is keyed by the current status slug. Accepted is terminal for the board.
var moves = map[string]Move{
	status.SlugRequested:          {Primary: status.SlugClinicalScreening},
	status.SlugClinicalScreening:  {Primary: status.SlugAccepted, Secondary: status.SlugSecondaryScreening},
	status.SlugSecondaryScreening: {Primary: status.SlugAccepted},
}

// Next returns the target slug for order out of current.
func Next(current string, order Order) (string, bool) {
	m, ok := moves[current]
	if !ok {
		return "", false
	}
	var target string
	switch order {
	case OrderPrimary:
		target = m.Primary
	case OrderSecondary:
		target = m.Secondary
	}
	return target, target != ""
}

// HasSecondary reports whether a secondary action is offered for slug.
func HasSecondary(slug string) bool {
	_, ok := Next(slug, OrderSecondary)
	return ok
}

// PrimaryLabel is the button text for the primary action of a card.
func PrimaryLabel(slug string) string {
	switch slug {
	case status.SlugRequested:
		return "Clinical Screening"
	case status.SlugAccepted:
		return "Schedule Evaluation Visit"
	}
	return "Accept"
}

// SecondaryLabel is the button text for the secondary action, or "" when none is offered.
func SecondaryLabel(slug string) string {
	if !HasSecondary(slug) {
		return ""
	}
	return "Secondary Screening"
}
