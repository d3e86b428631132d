// Package overload implements the process-wide load monitor described in
// spec.md §7: when the token bucket for non-ACK methods runs dry, the
// SIP request handlers in cmd/scscf reject the request with 503 rather than letting
// queueing pressure build up unbounded.
package overload

import (
	"github.com/emiago/sipgo/sip"
	"golang.org/x/time/rate"
)

// Monitor gates inbound non-ACK requests behind a token bucket. ACK is never
// throttled — rejecting an ACK would leave a dialog without acknowledgment
// and is explicitly excluded by spec.md §7.
type Monitor struct {
	limiter *rate.Limiter
}

// New creates a load monitor allowing a sustained ratePerSec requests/sec
// with the given burst capacity.
func New(ratePerSec float64, burst int) *Monitor {
	return &Monitor{
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// Allow reports whether the request identified by method should proceed.
// ACK is always allowed.
func (m *Monitor) Allow(method sip.RequestMethod) bool {
	if method == sip.ACK {
		return true
	}
	return m.limiter.Allow()
}
