package billing

import "fmt"

// InvoiceState is the confirmation lifecycle state of a customer-month.
type InvoiceState string

const (
	StateUnconfirmed InvoiceState = "unconfirmed"
	StateConfirmed   InvoiceState = "confirmed"
)

// InvoiceEvent triggers a lifecycle transition.
type InvoiceEvent string

const (
	EventConfirm   InvoiceEvent = "confirm"
	EventUnconfirm InvoiceEvent = "unconfirm"
)

var invoiceTransitions = map[InvoiceState]map[InvoiceEvent]InvoiceState{
	StateUnconfirmed: {
		EventConfirm:   StateConfirmed,
		EventUnconfirm: StateUnconfirmed,
	},
	StateConfirmed: {
		EventConfirm:   StateConfirmed,
		EventUnconfirm: StateUnconfirmed,
	},
}

// Transition resolves the next state for ev. changed is false when the
// event is a tolerated repeat, such as confirming a confirmed month.
func Transition(from InvoiceState, ev InvoiceEvent) (InvoiceState, bool, error) {
	events, ok := invoiceTransitions[from]
	if !ok {
		return from, false, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}
	to, ok := events[ev]
	if !ok {
		return from, false, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, from)
	}
	return to, to != from, nil
}
