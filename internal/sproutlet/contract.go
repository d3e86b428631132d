package sproutlet

import (
	"context"

	"github.com/emiago/sipgo/sip"
)

// Invoke runs sp.Handle and enforces the dispatcher contract: the
// handler must have issued at least one SendRequest or one final
// SendResponse before returning. A handler that does neither is an
// internal contract violation; the dispatcher synthesizes a 503 and
// logs it rather than letting the inbound transaction hang forever
// (spec.md §4.E / §7).
func (d *Dispatcher) Invoke(ctx context.Context, sp Sproutlet, req *sip.Request) {
	d.mu.Lock()
	d.state = StateDispatched
	d.mu.Unlock()

	sp.Handle(ctx, d, req)

	d.mu.Lock()
	forked := len(d.forks) > 0
	responded := d.respondedUp
	d.mu.Unlock()

	if forked || responded {
		return
	}

	d.logger.Error("sproutlet returned without forwarding or responding", "sproutlet", sp.Name())
	resp := d.CreateResponse(req, 503, "Service Unavailable")
	d.SendResponse(resp)
}

// HandleCancel cancels every non-final fork and notifies onCancel
// exactly once (spec.md §4.E cancellation semantics). Further message
// callbacks for this transaction must be suppressed by the caller.
func (d *Dispatcher) HandleCancel(onCancel func(code int)) {
	d.CancelNonFinalForks(0)
	if onCancel != nil {
		onCancel(487)
	}
	d.Terminate()
}
