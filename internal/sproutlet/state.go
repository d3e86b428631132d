// Package sproutlet implements the Transaction Dispatcher: the
// per-inbound-transaction state machine that hands requests to a
// Sproutlet, forks outgoing requests, aggregates fork responses, and
// enforces the send_request/send_response contract.
package sproutlet

import "fmt"

// State is the inbound transaction's position in the dispatcher's state
// machine (spec.md §4.E).
type State int

const (
	StateInit State = iota
	StateDispatched
	StateForwarding
	StateResponding
	StateCancelling
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateDispatched:
		return "Dispatched"
	case StateForwarding:
		return "Forwarding"
	case StateResponding:
		return "Responding"
	case StateCancelling:
		return "Cancelling"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

func (s State) IsTerminal() bool {
	return s == StateTerminated
}
