package registrar

import (
	"context"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/hss"
	"github.com/sebas/imscscf/internal/ifc"
)

const thirdPartyRegisterTimeout = 5 * time.Second

// fanOutThirdPartyRegister implements spec.md §4.C step 10 and
// SPEC_FULL.md §13's third-party REGISTER walk: every compiled iFC whose
// trigger matches method REGISTER under the served user's registered state
// gets its own outbound REGISTER. A TERMINATED default-handling hop that
// fails de-registers the public identity.
func (r *Registrar) fanOutThirdPartyRegister(ctx context.Context, original *sip.Request, aor string, raw []hss.IFCRaw, trailID string) {
	compiled, err := ifc.CompileAll(raw)
	if err != nil {
		r.logger.Error("ifc compile failed for third-party register fan-out", "aor", aor, "error", err)
		return
	}

	in := ifc.MatchInput{
		Method:     "REGISTER",
		Registered: true,
		RequestURI: aor,
		Header: func(name string) []string {
			var values []string
			for _, h := range original.GetHeaders(name) {
				values = append(values, h.Value())
			}
			return values
		},
	}

	for _, hop := range compiled {
		if !ifc.Matches(hop.Trigger, in) {
			continue
		}
		if err := r.sendThirdPartyRegister(ctx, original, hop.AS.URI, trailID); err != nil {
			r.logger.Warn("third-party register failed", "aor", aor, "as", hop.AS.URI, "error", err)
			if hop.DefaultHandling == ifc.Terminated {
				r.deregisterOnThirdPartyFailure(ctx, aor, trailID)
				return
			}
		}
	}
}

func (r *Registrar) sendThirdPartyRegister(ctx context.Context, original *sip.Request, asURI, trailID string) error {
	uri, err := parseURI(asURI)
	if err != nil {
		return err
	}

	req := sip.NewRequest(sip.REGISTER, uri)
	req.AppendHeader(sip.NewHeader("Route", "<"+asURI+">"))
	for _, name := range []string{"From", "To", "Call-ID", "CSeq", "Contact", "Expires"} {
		if h := original.GetHeader(name); h != nil {
			req.AppendHeader(sip.NewHeader(name, h.Value()))
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, thirdPartyRegisterTimeout)
	defer cancel()

	tx, err := r.client.TransactionRequest(reqCtx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return err
	}
	defer tx.Terminate()

	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return errThirdPartyRegisterFailed
			}
			if res.StatusCode >= 200 && res.StatusCode < 300 {
				return nil
			}
			if res.StatusCode >= 300 {
				return errThirdPartyRegisterFailed
			}
		case <-tx.Done():
			return errThirdPartyRegisterFailed
		case <-reqCtx.Done():
			return reqCtx.Err()
		}
	}
}

func (r *Registrar) deregisterOnThirdPartyFailure(ctx context.Context, aor, trailID string) {
	rec, cas := r.store.Get(aor)
	for _, id := range rec.NonEmergencyBindingIDs() {
		delete(rec.Bindings, id)
	}
	if outcome := r.store.Set(aor, rec, cas, true); outcome.Result != 0 {
		r.logger.Warn("failed to deregister after third-party register failure", "aor", aor)
	}
	if _, err := r.hssClient.UpdateRegistrationState(ctx, aor, "", hss.OpDeregUser, 0, trailID); err != nil {
		r.logger.Warn("hss dereg_user after third-party register failure failed", "aor", aor, "error", err)
	}
}

func parseURI(s string) (sip.Uri, error) {
	var uri sip.Uri
	if err := sip.ParseUri(s, &uri); err != nil {
		return sip.Uri{}, err
	}
	return uri, nil
}

var errThirdPartyRegisterFailed = &thirdPartyRegisterError{}

type thirdPartyRegisterError struct{}

func (e *thirdPartyRegisterError) Error() string { return "third-party register did not succeed" }
