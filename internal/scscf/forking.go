package scscf

import (
	"context"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/aschain"
	"github.com/sebas/imscscf/internal/location"
	"github.com/sebas/imscscf/internal/sproutlet"
)

// forkToBindings implements spec.md §4.D case (d): terminating-side
// forking to every non-expired contact binding of the served user. A
// 430 Flow Failed on any fork removes that binding from the store; the
// aggregated best response is forwarded upstream once every fork is
// final.
func (s *Scscf) forkToBindings(ctx context.Context, d *sproutlet.Dispatcher, req *sip.Request, chain *aschain.Chain) {
	rec, _ := s.locStore.Get(chain.ServedUser)

	now := time.Now()
	type target struct {
		bindingID string
		uri       string
	}
	var targets []target
	for id, b := range rec.Bindings {
		if b.IsExpired(now) {
			continue
		}
		targets = append(targets, target{bindingID: id, uri: b.ContactURI})
	}

	if len(targets) == 0 {
		d.SendResponse(d.CreateResponse(req, 480, "Temporarily Unavailable"))
		return
	}

	var (
		mu              sync.Mutex
		once            sync.Once
		provisionalOnce sync.Once
		responses       []*sip.Response
		remaining       = len(targets)
	)

	finish := func() {
		once.Do(func() {
			mu.Lock()
			best := sproutlet.BestFinalResponse(responses)
			mu.Unlock()
			if best == nil {
				best = d.CreateResponse(req, 500, "Internal Server Error")
			}
			d.SendResponse(best)
		})
	}

	d.OnForkProvisional(func(forkID int, resp *sip.Response, bindingID string) {
		provisionalOnce.Do(func() {
			d.SendResponse(resp)
		})
	})

	d.OnForkFinal(func(forkID int, resp *sip.Response, bindingID string) {
		if resp != nil && resp.StatusCode == 430 && bindingID != "" {
			s.removeBinding(chain.ServedUser, bindingID)
		}

		mu.Lock()
		if resp != nil {
			responses = append(responses, resp)
		}
		remaining--
		done := remaining <= 0
		mu.Unlock()

		if done {
			finish()
		}
	})

	for _, t := range targets {
		outbound := d.CloneRequest(req)
		uri, err := parseURI(t.uri)
		if err != nil {
			s.logger.Error("invalid binding contact uri", "binding", t.bindingID, "uri", t.uri, "error", err)
			mu.Lock()
			remaining--
			mu.Unlock()
			continue
		}
		outbound.Recipient = uri

		if _, err := d.SendRequest(ctx, outbound, t.bindingID); err != nil {
			s.logger.Warn("fork to binding failed", "binding", t.bindingID, "error", err)
			mu.Lock()
			remaining--
			mu.Unlock()
		}
	}

	mu.Lock()
	done := remaining <= 0
	mu.Unlock()
	if done {
		finish()
	}
}

// removeBinding deletes bindingID from aor under the CAS protocol,
// retrying on conflict, per spec.md §4.D's 430-Flow-Failed handling.
func (s *Scscf) removeBinding(aor, bindingID string) {
	for attempt := 0; attempt < 5; attempt++ {
		rec, token := s.locStore.Get(aor)
		if _, ok := rec.Bindings[bindingID]; !ok {
			return
		}
		delete(rec.Bindings, bindingID)
		outcome := s.locStore.Set(aor, rec, token, true)
		if outcome.Result != location.SetConflict {
			return
		}
	}
	s.logger.Warn("failed to remove flow-failed binding after retries", "aor", aor, "binding", bindingID)
}
