package registrar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/hss"
	"github.com/sebas/imscscf/internal/location"
)

// buildOKResponse implements spec.md §4.C step 9: one Contact per live
// binding (with pub-gruu if the UA advertised Supported: gruu), Path echo
// with Require: outbound, a Service-Route loopback, P-Associated-URI per
// associated identity, and P-Charging-Function-Addresses from the HSS.
func (r *Registrar) buildOKResponse(req *sip.Request, rec *location.Record, result *hss.Result) *sip.Response {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Supported", "outbound"))

	now := time.Now()
	var publicURI sip.Uri
	gruuWanted := supportsGRUU(req) && sip.ParseUri(rec.AoR, &publicURI) == nil
	hasPath := false

	for _, b := range rec.Bindings {
		contact := sip.Uri{}
		if err := sip.ParseUri(b.ContactURI, &contact); err != nil {
			continue
		}
		params := sip.NewParams()
		for k, v := range b.Params {
			params.Add(k, v)
		}
		params.Add("expires", strconv.Itoa(b.RemainingSeconds(now)))
		if gruuWanted {
			if gr := pubGRUU(publicURI, b); gr != "" {
				params.Add("pub-gruu", fmt.Sprintf("%q", gr))
			}
		}
		res.AppendHeader(&sip.ContactHeader{Address: contact, Params: params})
		if len(b.Path) > 0 {
			hasPath = true
		}
	}

	for _, h := range req.GetHeaders("Path") {
		res.AppendHeader(sip.NewHeader("Path", h.Value()))
	}
	if hasPath {
		res.AppendHeader(sip.NewHeader("Require", "outbound"))
	}

	serviceRouteURI := fmt.Sprintf("sip:%s.%s;lr;orig", r.cfg.SproutletName, r.cfg.HomeDomain)
	res.AppendHeader(sip.NewHeader("Service-Route", "<"+serviceRouteURI+">"))

	for _, uri := range result.URIs {
		res.AppendHeader(sip.NewHeader("P-Associated-URI", "<"+uri+">"))
	}

	if len(result.CCFs) > 0 || len(result.ECFs) > 0 {
		res.AppendHeader(sip.NewHeader("P-Charging-Function-Addresses", chargingAddressesValue(result)))
	}

	return res
}

func chargingAddressesValue(result *hss.Result) string {
	var parts []string
	for _, ccf := range result.CCFs {
		parts = append(parts, fmt.Sprintf("ccf=%q", ccf))
	}
	for _, ecf := range result.ECFs {
		parts = append(parts, fmt.Sprintf("ecf=%q", ecf))
	}
	return strings.Join(parts, ";")
}

// supportsGRUU reports whether the REGISTER's Supported header lists gruu.
func supportsGRUU(req *sip.Request) bool {
	h := req.GetHeader("Supported")
	if h == nil {
		return false
	}
	for _, tok := range strings.Split(h.Value(), ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "gruu") {
			return true
		}
	}
	return false
}

// pubGRUU computes the public GRUU named in SPEC_FULL.md §13: the public
// identity URI with a gr parameter set to the binding's instance-id.
func pubGRUU(publicURI sip.Uri, b *location.Binding) string {
	instance := b.Params["+sip.instance"]
	if instance == "" {
		return ""
	}
	gr := strings.Trim(instance, `"<>`)
	return publicURI.String() + ";gr=" + gr
}
