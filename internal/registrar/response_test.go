package registrar

import (
	"strings"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/hss"
	"github.com/sebas/imscscf/internal/location"
)

func TestBuildOKResponseOmitsGRUUWithoutSupportedHeader(t *testing.T) {
	r := &Registrar{cfg: Config{HomeDomain: "ims.example.com", SproutletName: "scscf"}}
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))

	rec := location.NewRecord("sip:alice@ims.example.com")
	rec.Bindings["b1"] = &location.Binding{
		ID:         "b1",
		ContactURI: "sip:alice@192.0.2.1",
		ExpiresAt:  time.Now().Add(time.Hour),
		Params:     map[string]string{"+sip.instance": `"<urn:uuid:abc>"`},
	}

	res := r.buildOKResponse(req, rec, &hss.Result{})
	contact := res.GetHeader("Contact")
	if contact == nil {
		t.Fatal("expected a Contact header")
	}
	if strings.Contains(contact.Value(), "pub-gruu") {
		t.Error("pub-gruu must not be present without Supported: gruu")
	}
}

func TestBuildOKResponseIncludesGRUUWhenSupported(t *testing.T) {
	r := &Registrar{cfg: Config{HomeDomain: "ims.example.com", SproutletName: "scscf"}}
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))
	req.AppendHeader(sip.NewHeader("Supported", "gruu"))

	rec := location.NewRecord("sip:alice@ims.example.com")
	rec.Bindings["b1"] = &location.Binding{
		ID:         "b1",
		ContactURI: "sip:alice@192.0.2.1",
		ExpiresAt:  time.Now().Add(time.Hour),
		Params:     map[string]string{"+sip.instance": `"<urn:uuid:abc>"`},
	}

	res := r.buildOKResponse(req, rec, &hss.Result{})
	contact := res.GetHeader("Contact")
	if contact == nil || !strings.Contains(contact.Value(), "pub-gruu") {
		t.Error("expected pub-gruu in Contact header")
	}
}

func TestBuildOKResponseEchoesPathAndRequiresOutbound(t *testing.T) {
	r := &Registrar{cfg: Config{HomeDomain: "ims.example.com", SproutletName: "scscf"}}
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))
	req.AppendHeader(sip.NewHeader("Path", "<sip:edge.example.com;lr>"))

	rec := location.NewRecord("sip:alice@ims.example.com")
	rec.Bindings["b1"] = &location.Binding{
		ID:         "b1",
		ContactURI: "sip:alice@192.0.2.1",
		ExpiresAt:  time.Now().Add(time.Hour),
		Path:       []string{"<sip:edge.example.com;lr>"},
	}

	res := r.buildOKResponse(req, rec, &hss.Result{})
	if res.GetHeader("Path") == nil {
		t.Error("expected Path header echoed on 200 OK")
	}
	if res.GetHeader("Require") == nil {
		t.Error("expected Require: outbound since a binding carries a Path")
	}
}

func TestBuildOKResponseSetsServiceRouteAndAssociatedURIs(t *testing.T) {
	r := &Registrar{cfg: Config{HomeDomain: "ims.example.com", SproutletName: "scscf"}}
	req := sip.NewRequest(sip.REGISTER, mustURI(t, "sip:scscf.ims.example.com"))

	rec := location.NewRecord("sip:alice@ims.example.com")
	result := &hss.Result{URIs: []string{"sip:alice@ims.example.com", "tel:+15551234"}, CCFs: []string{"sip:ccf.example.com"}}

	res := r.buildOKResponse(req, rec, result)
	sr := res.GetHeader("Service-Route")
	if sr == nil || !strings.Contains(sr.Value(), "scscf.ims.example.com") {
		t.Errorf("expected Service-Route loopback to scscf sproutlet, got %v", sr)
	}
	pais := res.GetHeaders("P-Associated-URI")
	if len(pais) != 2 {
		t.Fatalf("expected 2 P-Associated-URI headers, got %d", len(pais))
	}
	if res.GetHeader("P-Charging-Function-Addresses") == nil {
		t.Error("expected P-Charging-Function-Addresses when CCFs present")
	}
}
