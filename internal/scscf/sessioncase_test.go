package scscf

import (
	"testing"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/ifc"
)

func mustURI(t *testing.T, s string) sip.Uri {
	t.Helper()
	var u sip.Uri
	if err := sip.ParseUri(s, &u); err != nil {
		t.Fatalf("parse uri %q: %v", s, err)
	}
	return u
}

func TestDomainsIsLocal(t *testing.T) {
	d := Domains{Home: "ims.example.com", Aliases: []string{"ims2.example.com"}}
	if !d.IsLocal("IMS.example.com") {
		t.Error("expected case-insensitive match on home domain")
	}
	if !d.IsLocal("ims2.example.com") {
		t.Error("expected alias to match")
	}
	if d.IsLocal("other.example.com") {
		t.Error("expected non-local host to not match")
	}
}

func TestDeriveSessionCaseFromOrigRouteParam(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, mustURI(t, "sip:bob@ims.example.com"))
	route := &sip.RouteHeader{Address: mustURI(t, "sip:scscf.ims.example.com;lr;orig")}
	req.AppendHeader(route)

	domains := Domains{Home: "ims.example.com"}
	if got := DeriveSessionCase(req, domains); got != ifc.Originating {
		t.Errorf("got %v, want Originating", got)
	}
}

func TestDeriveSessionCaseFromRouteWithoutOrig(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, mustURI(t, "sip:bob@ims.example.com"))
	route := &sip.RouteHeader{Address: mustURI(t, "sip:scscf.ims.example.com;lr")}
	req.AppendHeader(route)

	domains := Domains{Home: "ims.example.com"}
	if got := DeriveSessionCase(req, domains); got != ifc.Terminating {
		t.Errorf("got %v, want Terminating", got)
	}
}

func TestDeriveSessionCaseNoRouteLocalRecipient(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, mustURI(t, "sip:bob@ims.example.com"))
	domains := Domains{Home: "ims.example.com"}
	if got := DeriveSessionCase(req, domains); got != ifc.Terminating {
		t.Errorf("got %v, want Terminating for local recipient with no route", got)
	}
}

func TestDeriveSessionCaseNoRouteRemoteRecipient(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, mustURI(t, "sip:bob@other.example.com"))
	domains := Domains{Home: "ims.example.com"}
	if got := DeriveSessionCase(req, domains); got != ifc.Originating {
		t.Errorf("got %v, want Originating for remote recipient with no route", got)
	}
}

func TestDeriveServedUserTerminatingUsesRequestURI(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, mustURI(t, "sip:bob@ims.example.com"))
	got := DeriveServedUser(req, ifc.Terminating)
	if got != req.Recipient.String() {
		t.Errorf("got %q, want request-uri %q", got, req.Recipient.String())
	}
}

func TestDeriveServedUserOriginatingPrefersPAI(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, mustURI(t, "sip:bob@ims.example.com"))
	req.AppendHeader(sip.NewHeader("P-Asserted-Identity", `"Alice" <sip:alice@ims.example.com>`))
	req.AppendHeader(&sip.FromHeader{Address: mustURI(t, "sip:someoneelse@ims.example.com"), Params: sip.NewParams()})

	got := DeriveServedUser(req, ifc.Originating)
	if got != "sip:alice@ims.example.com" {
		t.Errorf("got %q, want sip:alice@ims.example.com", got)
	}
}

func TestDeriveServedUserOriginatingFallsBackToFrom(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, mustURI(t, "sip:bob@ims.example.com"))
	req.AppendHeader(&sip.FromHeader{Address: mustURI(t, "sip:alice@ims.example.com"), Params: sip.NewParams()})

	got := DeriveServedUser(req, ifc.Originating)
	if got != req.From().Address.String() {
		t.Errorf("got %q, want from-header uri %q", got, req.From().Address.String())
	}
}

func TestFirstURIFromNameAddrBareURI(t *testing.T) {
	if got := firstURIFromNameAddr("sip:alice@example.com;tag=abc"); got != "sip:alice@example.com" {
		t.Errorf("got %q", got)
	}
}
