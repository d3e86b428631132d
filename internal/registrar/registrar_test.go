package registrar

import (
	"testing"

	"github.com/emiago/sipgo/sip"
)

func TestRouteScopeOKNoRouteHeaders(t *testing.T) {
	r := &Registrar{cfg: Config{HomeDomain: "ims.example.com"}}
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))
	if !r.routeScopeOK(req) {
		t.Error("expected no Route headers to be in scope")
	}
}

func TestRouteScopeOKLocalTopRoute(t *testing.T) {
	r := &Registrar{cfg: Config{HomeDomain: "ims.example.com"}}
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))
	req.AppendHeader(&sip.RouteHeader{Address: mustURI(t, "sip:ims.example.com;lr")})
	if !r.routeScopeOK(req) {
		t.Error("expected local top Route to be in scope")
	}
}

func TestRouteScopeOKRejectsForeignTopRoute(t *testing.T) {
	r := &Registrar{cfg: Config{HomeDomain: "ims.example.com"}}
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))
	req.AppendHeader(&sip.RouteHeader{Address: mustURI(t, "sip:other.example.com;lr")})
	if r.routeScopeOK(req) {
		t.Error("expected foreign top Route to be rejected")
	}
}

func TestPrivateIdentityFromDigestAuthorization(t *testing.T) {
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))
	req.AppendHeader(sip.NewHeader("Authorization",
		`Digest username="alice@ims.example.com", realm="ims.example.com", nonce="abc", uri="sip:scscf.ims.example.com", response="deadbeef"`))
	to := &sip.ToHeader{Address: mustURI(t, "sip:alice@ims.example.com")}

	got := privateIdentity(req, to)
	if got != "alice@ims.example.com" {
		t.Errorf("got %q, want alice@ims.example.com", got)
	}
}

func TestPrivateIdentityFallsBackToToURI(t *testing.T) {
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))
	to := &sip.ToHeader{Address: mustURI(t, "sip:alice@ims.example.com")}

	got := privateIdentity(req, to)
	if got != "alice@ims.example.com" {
		t.Errorf("got %q, want alice@ims.example.com derived from To-URI", got)
	}
}

func TestAllDeregisteringTrueWhenEveryContactZero(t *testing.T) {
	zero := 0
	contacts := []parsedContact{{expires: &zero}, {expires: &zero}}
	if !allDeregistering(contacts, 3600) {
		t.Error("expected all-zero contacts to be a full de-registration")
	}
}

func TestAllDeregisteringFalseWhenAnyContactNonZero(t *testing.T) {
	zero := 0
	nonzero := 3600
	contacts := []parsedContact{{expires: &zero}, {expires: &nonzero}}
	if allDeregistering(contacts, 3600) {
		t.Error("expected mixed contacts to not be a full de-registration")
	}
}

func TestAllDeregisteringFalseWhenNoContacts(t *testing.T) {
	if allDeregistering(nil, 3600) {
		t.Error("expected no contacts (a fetch-bindings query) to not be a de-registration")
	}
}

func TestParseDefaultExpiryFromHeader(t *testing.T) {
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))
	req.AppendHeader(sip.NewHeader("Expires", "1800"))
	if got := parseDefaultExpiry(req, 3600); got != 1800 {
		t.Errorf("got %d, want 1800", got)
	}
}

func TestParseDefaultExpiryFallback(t *testing.T) {
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))
	if got := parseDefaultExpiry(req, 3600); got != 3600 {
		t.Errorf("got %d, want fallback 3600", got)
	}
}
