package sipmsg

import "testing"

func TestSessionExpiresRoundTrip(t *testing.T) {
	cases := []string{
		"1800",
		"1800;refresher=uac",
		"600;refresher=uas",
	}
	for _, body := range cases {
		se, err := ParseSessionExpires(body)
		if err != nil {
			t.Fatalf("parse %q: %v", body, err)
		}
		if got := se.Print(); got != body {
			t.Errorf("round trip %q: got %q", body, got)
		}
	}
}

func TestSessionExpiresMalformed(t *testing.T) {
	_, err := ParseSessionExpires("not-a-number")
	if err == nil {
		t.Fatal("expected error")
	}
	var me *MalformedHeader
	if !asMalformed(err, &me) {
		t.Fatalf("expected MalformedHeader, got %T", err)
	}
	if me.Header != "Session-Expires" {
		t.Errorf("header = %q", me.Header)
	}
}

func TestChargingVectorRoundTrip(t *testing.T) {
	body := "icid-value=abc123;icid-generated-at=10.1.1.1;orig-ioi=home.net;term-ioi=visited.net;transit-ioi=a.net;transit-ioi=b.net"
	cv, err := ParseChargingVector(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cv.ICIDValue != "abc123" || cv.OrigIOI != "home.net" || len(cv.TransitIOIs) != 2 {
		t.Fatalf("unexpected parse result: %+v", cv)
	}
	if got := cv.Print(); got != body {
		t.Errorf("round trip: got %q want %q", got, body)
	}
}

func TestChargingFunctionAddressesRoundTrip(t *testing.T) {
	body := `ccf="ccf1.example.com";ccf="ccf2.example.com";ecf="ecf1.example.com"`
	cfa, err := ParseChargingFunctionAddresses(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfa.CCF) != 2 || len(cfa.ECF) != 1 {
		t.Fatalf("unexpected parse result: %+v", cfa)
	}
	if got := cfa.Print(); got != body {
		t.Errorf("round trip: got %q want %q", got, body)
	}
}

func TestParseNameAddrList(t *testing.T) {
	body := `<sip:alice@example.com>, "Bob" <sip:bob@example.com>;tag=xyz`
	entries, err := ParseNameAddrList("P-Associated-URI", body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].URI != "sip:alice@example.com" {
		t.Errorf("entry0 uri = %q", entries[0].URI)
	}
	if entries[1].DisplayName != "Bob" || entries[1].URI != "sip:bob@example.com" {
		t.Errorf("entry1 = %+v", entries[1])
	}
	if len(entries[1].Params) != 1 || entries[1].Params[0].key != "tag" {
		t.Errorf("entry1 params = %+v", entries[1].Params)
	}
}

func TestParseNameAddrListEmpty(t *testing.T) {
	if _, err := ParseNameAddrList("Path", ""); err == nil {
		t.Fatal("expected error on empty list")
	}
}

// asMalformed avoids importing errors.As at every call site in this file.
func asMalformed(err error, target **MalformedHeader) bool {
	me, ok := err.(*MalformedHeader)
	if !ok {
		return false
	}
	*target = me
	return true
}
