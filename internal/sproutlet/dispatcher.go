package sproutlet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/sipmsg"
)

// Sproutlet is the minimal contract a routing component implements (in
// this module, internal/scscf's S-CSCF). The dispatcher invokes Handle
// once per inbound request; Handle must call exactly one of
// Dispatcher.SendRequest (one or more times) or Dispatcher.SendResponse
// with a final response before returning.
type Sproutlet interface {
	Name() string
	Handle(ctx context.Context, d *Dispatcher, req *sip.Request)
}

// forkState tracks one outstanding outbound request issued via
// SendRequest, grounded on flowpbx's forker.go forkLeg/collectResponses
// shape generalized from "fork to registered contacts" to "fork to any
// hop a sproutlet names" (AS chain hop or contact binding alike).
type forkState struct {
	id       int
	tx       sip.ClientTransaction
	req      *sip.Request
	bindingID string // set by the caller for contact forks; empty for AS hops
	final    *sip.Response
	done     bool
}

// Dispatcher is the per-inbound-transaction Transaction Dispatcher
// named in spec.md §4.E.
type Dispatcher struct {
	client        *sipgo.Client
	inbound       sip.ServerTransaction
	inboundReq    *sip.Request
	homeDomain    string
	sproutletName string
	trailID       string
	logger        *slog.Logger

	mu          sync.Mutex
	state       State
	forks       map[int]*forkState
	nextForkID  int
	dialogID    string
	recordRoute bool
	respondedUp bool

	onForkFinal       func(forkID int, resp *sip.Response, bindingID string)
	onForkProvisional func(forkID int, resp *sip.Response, bindingID string)
	cancelled         chan int
}

// New creates a Dispatcher for one inbound server transaction.
func New(client *sipgo.Client, inbound sip.ServerTransaction, req *sip.Request, homeDomain, sproutletName, trailID string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:        client,
		inbound:       inbound,
		inboundReq:    req,
		homeDomain:    homeDomain,
		sproutletName: sproutletName,
		trailID:       trailID,
		logger:        logger.With("subsystem", "dispatcher", "trail", trailID),
		state:         StateInit,
		forks:         make(map[int]*forkState),
	}
}

// InboundRequest returns the request that started this transaction.
func (d *Dispatcher) InboundRequest() *sip.Request {
	return d.inboundReq
}

// CloneRequest deep-copies req into a fresh handle the sproutlet can
// mutate without affecting the original (spec.md §4.E clone_request).
func (d *Dispatcher) CloneRequest(req *sip.Request) *sip.Request {
	return req.Clone()
}

// CreateResponse synthesizes a response bound to req (spec.md §4.E
// create_response).
func (d *Dispatcher) CreateResponse(req *sip.Request, code sip.StatusCode, reason string) *sip.Response {
	return sip.NewResponseFromRequest(req, code, reason, nil)
}

// GetPool returns the message's allocation arena, for sproutlets that
// need to track appended headers (spec.md §4.E get_pool).
func (d *Dispatcher) GetPool(msg *sipmsg.Message) *sipmsg.Arena {
	return msg.Pool()
}

// FreeMsg releases a clone's tracked-header bookkeeping.
func (d *Dispatcher) FreeMsg(msg *sipmsg.Message) {
	msg.Free()
}

// AddToDialog requests Record-Route insertion with dialogID (or, if
// empty, a generated one) on every outbound request this dispatcher
// issues from here on.
func (d *Dispatcher) AddToDialog(dialogID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dialogID == "" {
		dialogID = generateDialogID()
	}
	d.dialogID = dialogID
	d.recordRoute = true
}

// recordRouteURI builds the Record-Route URI this dispatcher inserts
// when AddToDialog has been called (spec.md §6): "sip:<sproutlet-name>.
// <home-domain>;lr[;<dialog-id-param>=<value>]".
func (d *Dispatcher) recordRouteURI() string {
	uri := fmt.Sprintf("sip:%s.%s;lr", d.sproutletName, d.homeDomain)
	if d.dialogID != "" {
		uri += ";dlg=" + d.dialogID
	}
	return uri
}

func (d *Dispatcher) insertRecordRoute(req *sip.Request) {
	d.mu.Lock()
	recordRoute := d.recordRoute
	uri := d.recordRouteURI()
	d.mu.Unlock()

	if !recordRoute {
		return
	}
	var parsed sip.Uri
	if err := sip.ParseUri(uri, &parsed); err != nil {
		d.logger.Error("failed to parse record-route uri", "uri", uri, "error", err)
		return
	}
	req.AppendHeader(&sip.RecordRouteHeader{Address: parsed})
}

// SendRequest issues req as a client transaction and relinquishes the
// sproutlet's ownership of it. Returns a monotonically increasing
// fork id unique within this transaction context (spec.md §4.E
// send_request).
func (d *Dispatcher) SendRequest(ctx context.Context, req *sip.Request, bindingID string) (int, error) {
	d.insertRecordRoute(req)

	tx, err := d.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return 0, fmt.Errorf("send_request: %w", err)
	}

	d.mu.Lock()
	d.nextForkID++
	id := d.nextForkID
	fork := &forkState{id: id, tx: tx, req: req, bindingID: bindingID}
	d.forks[id] = fork
	if d.state == StateInit || d.state == StateDispatched {
		d.state = StateForwarding
	}
	d.mu.Unlock()

	go d.collectResponses(fork)

	return id, nil
}

// SendResponse enqueues resp for upstream delivery. A final response
// and an outgoing request are mutually exclusive in the same drain
// cycle (spec.md §4.E); the dispatcher does not check this and sends
// every response it is given, so the sproutlet is solely responsible
// for the exclusivity invariant.
func (d *Dispatcher) SendResponse(resp *sip.Response) error {
	d.mu.Lock()
	if resp.StatusCode >= 200 {
		d.state = StateResponding
		d.respondedUp = true
	}
	d.mu.Unlock()

	return d.inbound.Respond(resp)
}

// collectResponses relays fork responses until a final response
// arrives, mirroring forker.go's collectResponses.
func (d *Dispatcher) collectResponses(fork *forkState) {
	for {
		select {
		case res, ok := <-fork.tx.Responses():
			if !ok {
				return
			}
			d.mu.Lock()
			if res.StatusCode >= 200 {
				fork.final = res
				fork.done = true
			}
			onFinal := d.onForkFinal
			onProvisional := d.onForkProvisional
			d.mu.Unlock()

			if res.StatusCode >= 200 {
				if onFinal != nil {
					onFinal(fork.id, res, fork.bindingID)
				}
				return
			}
			if onProvisional != nil {
				onProvisional(fork.id, res, fork.bindingID)
			}
		case <-fork.tx.Done():
			d.mu.Lock()
			if !fork.done {
				fork.done = true
				fork.final = synthesizeTimeout(fork.req)
			}
			onFinal := d.onForkFinal
			final := fork.final
			d.mu.Unlock()
			if onFinal != nil {
				onFinal(fork.id, final, fork.bindingID)
			}
			return
		}
	}
}

func synthesizeTimeout(req *sip.Request) *sip.Response {
	return sip.NewResponseFromRequest(req, 408, "Request Timeout", nil)
}

// OnForkFinal registers a callback invoked once per fork's final
// response (including the synthetic 408 on transaction timeout), with
// the binding id the fork was tagged with (empty for AS-chain hops).
func (d *Dispatcher) OnForkFinal(fn func(forkID int, resp *sip.Response, bindingID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onForkFinal = fn
}

// OnForkProvisional registers a callback invoked for every 1xx a fork
// receives, per spec.md §4.D's "2xx / 1xx: cancel the liveness timer;
// forward upstream normally" handling. Unlike OnForkFinal this may fire
// more than once per fork.
func (d *Dispatcher) OnForkProvisional(fn func(forkID int, resp *sip.Response, bindingID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onForkProvisional = fn
}

// CancelNonFinalForks sends CANCEL to every fork still awaiting a
// final response; HandleCancel uses it on upstream CANCEL.
func (d *Dispatcher) CancelNonFinalForks(except int) {
	d.mu.Lock()
	d.state = StateCancelling
	forks := make([]*forkState, 0, len(d.forks))
	for id, f := range d.forks {
		if id == except || f.done {
			continue
		}
		forks = append(forks, f)
	}
	d.mu.Unlock()

	for _, f := range forks {
		cancelReq := sip.NewRequest(sip.CANCEL, f.req.Recipient)
		cancelReq.SetTransport(f.req.Transport())
		if cid := f.req.CallID(); cid != nil {
			cancelReq.AppendHeader(sip.NewHeader("Call-ID", cid.Value()))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		tx, err := d.client.TransactionRequest(ctx, cancelReq, sipgo.ClientRequestBuild)
		cancel()
		if err != nil {
			d.logger.Debug("cancel failed", "fork", f.id, "error", err)
			continue
		}
		tx.Terminate()
	}
}

// Terminate marks the transaction terminated and releases dispatcher
// state. Idempotent.
func (d *Dispatcher) Terminate() {
	d.mu.Lock()
	d.state = StateTerminated
	d.mu.Unlock()
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ForkCount returns the number of forks issued so far, for tests and
// the all-forks-final aggregation check.
func (d *Dispatcher) ForkCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.forks)
}

// FinalResponses returns the final response collected so far for every
// fork that has one.
func (d *Dispatcher) FinalResponses() []*sip.Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*sip.Response, 0, len(d.forks))
	for _, f := range d.forks {
		if f.final != nil {
			out = append(out, f.final)
		}
	}
	return out
}

// BindingIDForFork returns the binding id a fork was tagged with
// (empty for AS-chain hops), used to map a 430 back to a binding.
func (d *Dispatcher) BindingIDForFork(forkID int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.forks[forkID]; ok {
		return f.bindingID
	}
	return ""
}

func generateDialogID() string {
	return fmt.Sprintf("%x", time.Now().UnixNano())
}
