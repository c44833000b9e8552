package order

import "fmt"

// Status is an order lifecycle state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPaid          Status = "paid"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
	StatusRefundPending Status = "refund_pending"
	StatusRefunded      Status = "refunded"
)

// Cancellation reasons recorded on the order and its status history.
const (
	ReasonUserCancelled = "user_cancelled"
	ReasonExpired       = "expired"
)

// transitions is the only source of truth for allowed status changes. Every
// write path (user action, admin action, expiry sweep, refund flow) checks it
// before touching the repository, and the repository re-checks the "from"
// state at write time, so racing writers cannot bypass it.
var transitions = map[Status][]Status{
	StatusPending:       {StatusPaid, StatusCancelled},
	StatusPaid:          {StatusCompleted, StatusRefundPending},
	StatusRefundPending: {StatusRefunded, StatusPaid},
	StatusCompleted:     {},
	StatusCancelled:     {},
	StatusRefunded:      {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// CanTransitionTo reports whether the s -> to transition is allowed.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a wire string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

// InvalidTransitionError reports a status change outside the transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition %s -> %s", e.From, e.To)
}
