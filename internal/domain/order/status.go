package order

import "fmt"

// Status is the fulfillment state of an order.
type Status string

// Fulfillment pipeline states, in order.
const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
)

// next maps each status to the only status it may advance to. The pipeline is
// strictly linear and forward-only: no skipping, no cancellation, no
// back-transitions. Delivered is terminal and maps to itself.
var next = map[Status]Status{
	StatusPending:   StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusDelivered,
	StatusDelivered: StatusDelivered,
}

// InvalidTransitionError indicates a requested status change that the
// pipeline does not permit.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := next[s]
	return ok
}

// Next returns the only legal successor of s. For the terminal state it
// returns the terminal state itself.
func (s Status) Next() Status {
	return next[s]
}

// Terminal reports whether s has no further legal transition.
func (s Status) Terminal() bool {
	return next[s] == s && s.Valid()
}

// CanTransition reports whether an order currently at s may be moved to
// target. Repeating the terminal state is allowed (callers treat it as a
// no-op); every other request must match Next(s).
func (s Status) CanTransition(target Status) bool {
	if !target.Valid() {
		return false
	}
	return next[s] == target
}
