// Package scscf implements the S-CSCF sproutlet: served-user and
// session-case derivation, iFC-driven AS-chain routing, and
// terminating-side forking to registered contact bindings.
package scscf

import (
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/ifc"
)

// Domains decides whether a URI's host names this S-CSCF's home
// network, for served-user locality and session-case derivation.
type Domains struct {
	Home    string
	Aliases []string
}

// IsLocal reports whether host matches the home domain or any
// configured alias.
func (d Domains) IsLocal(host string) bool {
	host = strings.ToLower(host)
	if strings.EqualFold(host, d.Home) {
		return true
	}
	for _, alias := range d.Aliases {
		if strings.EqualFold(host, alias) {
			return true
		}
	}
	return false
}

// DeriveSessionCase implements spec.md §3's session-case derivation:
// a top Route header carrying the `orig` parameter gives ORIGINATING and
// any other top Route gives TERMINATING. With no Route header, a
// Request-URI whose host is local gives TERMINATING and any other host
// gives ORIGINATING.
func DeriveSessionCase(req *sip.Request, domains Domains) ifc.SessionCase {
	if route := topRoute(req); route != nil {
		if _, hasOrig := route.Params.Get("orig"); hasOrig {
			return ifc.Originating
		}
		return ifc.Terminating
	}

	if domains.IsLocal(req.Recipient.Host) {
		return ifc.Terminating
	}
	return ifc.Originating
}

// DeriveServedUser implements spec.md §3: for originating, the first
// P-Asserted-Identity or else the From header; for terminating, the
// Request-URI.
func DeriveServedUser(req *sip.Request, sessionCase ifc.SessionCase) string {
	if sessionCase == ifc.Terminating {
		return req.Recipient.String()
	}

	if pai := req.GetHeader("P-Asserted-Identity"); pai != nil {
		if uri := firstURIFromNameAddr(pai.Value()); uri != "" {
			return uri
		}
	}
	if from := req.From(); from != nil {
		return from.Address.String()
	}
	return ""
}

func topRoute(req *sip.Request) *sip.RouteHeader {
	routes := req.GetHeaders("Route")
	if len(routes) == 0 {
		return nil
	}
	if r, ok := routes[0].(*sip.RouteHeader); ok {
		return r
	}
	return nil
}

// firstURIFromNameAddr extracts the URI from a single name-addr header
// value such as `"Alice" <sip:alice@example.com>` or a bare URI.
func firstURIFromNameAddr(value string) string {
	start := strings.IndexByte(value, '<')
	if start < 0 {
		if idx := strings.IndexByte(value, ';'); idx >= 0 {
			return strings.TrimSpace(value[:idx])
		}
		return strings.TrimSpace(value)
	}
	end := strings.IndexByte(value[start:], '>')
	if end < 0 {
		return ""
	}
	return value[start+1 : start+end]
}
