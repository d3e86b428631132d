package registrar

import (
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/location"
)

// parsedContact is one Contact header off the REGISTER, normalized for the
// write loop.
type parsedContact struct {
	wildcard   bool
	uri        sip.Uri
	path       []string
	instanceID string
	emergency  bool
	qValue     int
	params     map[string]string
	expires    *int // nil means "use the request/header default"
}

func (c parsedContact) effectiveExpiry(defaultExpiry int) int {
	if c.expires == nil {
		return defaultExpiry
	}
	return *c.expires
}

// gatherContacts extracts and normalizes every Contact header on req,
// rejecting malformed wildcard usage per spec.md §4.C step 3.
func gatherContacts(req *sip.Request) ([]parsedContact, error) {
	headers := req.GetHeaders("Contact")
	out := make([]parsedContact, 0, len(headers))

	pathHeaders := req.GetHeaders("Path")
	path := make([]string, 0, len(pathHeaders))
	for _, h := range pathHeaders {
		if route, ok := h.(*sip.RouteHeader); ok {
			path = append(path, route.Address.String())
		} else {
			path = append(path, h.Value())
		}
	}

	for _, h := range headers {
		ch, ok := h.(*sip.ContactHeader)
		if !ok {
			continue
		}

		pc := parsedContact{
			wildcard: ch.Address.Wildcard,
			uri:      ch.Address,
			path:     path,
			qValue:   1000,
		}

		if pc.wildcard {
			exp, ok := contactExpires(ch)
			if !ok {
				exp = parseDefaultExpiry(req, -1)
			}
			if exp != 0 {
				return nil, &wildcardExpiryError{}
			}
			zero := 0
			pc.expires = &zero
			out = append(out, pc)
			continue
		}

		if exp, ok := contactExpires(ch); ok {
			pc.expires = &exp
		}
		if q, ok := ch.Params.Get("q"); ok {
			pc.qValue = parseQValue(q)
		}
		if inst, ok := ch.Params.Get("+sip.instance"); ok {
			pc.instanceID = trimInstanceID(inst)
		}
		if _, ok := ch.Address.UriParams.Get("sos"); ok {
			pc.emergency = true
		}

		pc.params = make(map[string]string)
		for k, v := range iterHeaderParams(ch.Params) {
			switch k {
			case "q", "expires":
			default:
				pc.params[k] = v
			}
		}

		out = append(out, pc)
	}

	return out, nil
}

type wildcardExpiryError struct{}

func (e *wildcardExpiryError) Error() string {
	return "wildcard contact requires Expires: 0"
}

func contactExpires(ch *sip.ContactHeader) (int, bool) {
	if v, ok := ch.Params.Get("expires"); ok {
		if n, err := parseInt(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

func parseInt(s string) (int, error) {
	n := 0
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return 0, &wildcardExpiryError{}
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, &wildcardExpiryError{}
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

// parseQValue converts a "0.8"-style q-value into the store's 0-1000
// fixed-point scale.
func parseQValue(s string) int {
	n, err := parseInt(fixedPointQ(s))
	if err != nil {
		return 1000
	}
	return n
}

func fixedPointQ(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			whole := s[:i]
			frac := s[i+1:]
			for len(frac) < 3 {
				frac += "0"
			}
			return whole + frac[:3]
		}
	}
	return s + "000"
}

func trimInstanceID(raw string) string {
	s := raw
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if len(s) >= 2 && s[0] == '<' && s[len(s)-1] == '>' {
		s = s[1 : len(s)-1]
	}
	return s
}

func iterHeaderParams(p sip.HeaderParams) map[string]string {
	out := make(map[string]string)
	if p == nil {
		return out
	}
	for k, v := range p {
		out[k] = v
	}
	return out
}

// writeLoop implements spec.md §4.C's optimistic write loop against st,
// retrying on CAS conflict. sendNotify is passed straight through to the
// store (true for the primary store, false for the geo-redundant remote per
// spec.md §4.C step 7). callID/cseq gate the tie-break rule: a binding
// update only applies when cseq strictly increases or the Call-ID differs.
func (r *Registrar) writeLoop(st *location.Store, aor string, contacts []parsedContact, defaultExpiry int, sendNotify bool, callID string, cseq uint32, privateID string) (*location.Record, []location.BindingDelta, location.SetOutcome, error) {
	now := time.Now()

	for attempt := 0; attempt < 8; attempt++ {
		rec, cas := st.Get(aor)

		var deltas []location.BindingDelta
		for _, c := range contacts {
			if c.wildcard {
				for _, id := range rec.NonEmergencyBindingIDs() {
					b := rec.Bindings[id]
					delete(rec.Bindings, id)
					deltas = append(deltas, location.BindingDelta{BindingID: id, ContactURI: b.ContactURI, Event: location.EventUnregistered})
				}
				break
			}

			effective := c.effectiveExpiry(defaultExpiry)
			if effective < r.cfg.minExpires() && effective != 0 {
				effective = r.cfg.minExpires()
			}
			if effective > r.cfg.maxExpires() {
				effective = r.cfg.maxExpires()
			}

			bindingID := location.GenerateBindingID(c.uri.String(), c.instanceID, c.emergency)

			b, existed := rec.Bindings[bindingID]
			if !existed {
				b = &location.Binding{ID: bindingID, Emergency: c.emergency}
				rec.Bindings[bindingID] = b
			}

			if effective == 0 {
				delete(rec.Bindings, bindingID)
				if existed {
					deltas = append(deltas, location.BindingDelta{BindingID: bindingID, ContactURI: b.ContactURI, Event: location.EventUnregistered})
				}
				continue
			}

			if existed && b.CallID == callID && cseq <= b.CSeq {
				continue // stale retransmission within the same call
			}

			event := location.EventRefreshed
			if !existed || b.CallID != callID {
				event = location.EventCreated
			}

			b.ContactURI = c.uri.String()
			b.Path = c.path
			b.Params = c.params
			b.QValue = c.qValue
			b.CallID = callID
			b.CSeq = cseq
			b.PrivateID = privateID

			if !(c.emergency && existed && effective < b.RemainingSeconds(now)) {
				b.ExpiresAt = now.Add(time.Duration(effective) * time.Second)
			}

			deltas = append(deltas, location.BindingDelta{BindingID: bindingID, ContactURI: b.ContactURI, Event: event, Expires: effective})
		}

		outcome := st.Set(aor, rec, cas, sendNotify)
		switch outcome.Result {
		case location.SetOK:
			if sendNotify {
				st.NotifyDeltas(rec, deltas)
			}
			return rec, deltas, outcome, nil
		case location.SetConflict:
			continue
		default:
			return nil, nil, outcome, &storeError{}
		}
	}

	return nil, nil, location.SetOutcome{}, &storeError{}
}

type storeError struct{}

func (e *storeError) Error() string { return "registration store write failed after retries" }
