package ifc

import (
	"testing"

	"github.com/sebas/imscscf/internal/hss"
)

func TestMatchesMethodOnly(t *testing.T) {
	ifc, err := Compile(hss.IFCRaw{
		Priority: 0,
		SPTs: []hss.SPTRaw{
			{Group: 0, Method: "INVITE"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !Matches(ifc.Trigger, MatchInput{Method: "INVITE"}) {
		t.Fatal("expected INVITE to match")
	}
	if Matches(ifc.Trigger, MatchInput{Method: "MESSAGE"}) {
		t.Fatal("expected MESSAGE not to match")
	}
}

func TestMatchesCNFAndAcrossGroups(t *testing.T) {
	ifc, err := Compile(hss.IFCRaw{
		ConditionCNF: true,
		SPTs: []hss.SPTRaw{
			{Group: 0, Method: "INVITE"},
			{Group: 1, RequestURIRegex: `^sip:\+1`},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !Matches(ifc.Trigger, MatchInput{Method: "INVITE", RequestURI: "sip:+14155551212@example.com"}) {
		t.Fatal("expected both groups to be satisfied")
	}
	if Matches(ifc.Trigger, MatchInput{Method: "INVITE", RequestURI: "sip:alice@example.com"}) {
		t.Fatal("expected mismatch on second group to fail CNF AND")
	}
}

func TestMatchesCNFOrWithinGroup(t *testing.T) {
	ifc, err := Compile(hss.IFCRaw{
		ConditionCNF: true,
		SPTs: []hss.SPTRaw{
			{Group: 0, Method: "INVITE"},
			{Group: 0, Method: "MESSAGE"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !Matches(ifc.Trigger, MatchInput{Method: "MESSAGE"}) {
		t.Fatal("expected OR within group to match MESSAGE")
	}
	if Matches(ifc.Trigger, MatchInput{Method: "BYE"}) {
		t.Fatal("expected BYE to match neither")
	}
}

func TestMatchesDNFOrAcrossGroups(t *testing.T) {
	ifc, err := Compile(hss.IFCRaw{
		ConditionCNF: false,
		SPTs: []hss.SPTRaw{
			{Group: 0, Method: "INVITE"},
			{Group: 1, Method: "MESSAGE"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !Matches(ifc.Trigger, MatchInput{Method: "MESSAGE"}) {
		t.Fatal("expected DNF OR across groups to match MESSAGE")
	}
	if !Matches(ifc.Trigger, MatchInput{Method: "INVITE"}) {
		t.Fatal("expected DNF OR across groups to match INVITE")
	}
	if Matches(ifc.Trigger, MatchInput{Method: "BYE"}) {
		t.Fatal("expected BYE to match neither")
	}
}

func TestMatchesNegatedSPT(t *testing.T) {
	ifc, err := Compile(hss.IFCRaw{
		SPTs: []hss.SPTRaw{
			{Group: 0, Method: "INVITE", Negated: true},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if Matches(ifc.Trigger, MatchInput{Method: "INVITE"}) {
		t.Fatal("negated method match should exclude INVITE")
	}
	if !Matches(ifc.Trigger, MatchInput{Method: "BYE"}) {
		t.Fatal("negated method match should admit BYE")
	}
}

func TestMatchesSessionCaseAndRegisteredOnly(t *testing.T) {
	term := 1
	registeredType := 0
	ifc, err := Compile(hss.IFCRaw{
		SPTs: []hss.SPTRaw{
			{Group: 0, SessionCase: &term, RegistrationType: &registeredType},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !Matches(ifc.Trigger, MatchInput{SessionCase: Terminating, Registered: true}) {
		t.Fatal("expected terminating+registered to match")
	}
	if Matches(ifc.Trigger, MatchInput{SessionCase: Originating, Registered: true}) {
		t.Fatal("expected originating to fail the session-case condition")
	}
	if Matches(ifc.Trigger, MatchInput{SessionCase: Terminating, Registered: false}) {
		t.Fatal("expected unregistered to fail the registration-type condition")
	}
}

func TestMatchesSIPHeaderRegex(t *testing.T) {
	ifc, err := Compile(hss.IFCRaw{
		SPTs: []hss.SPTRaw{
			{Group: 0, SIPHeaderName: "P-Asserted-Identity", SIPHeaderRegex: "alice"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	headers := map[string][]string{"P-Asserted-Identity": {"sip:alice@example.com"}}
	in := MatchInput{Header: func(name string) []string { return headers[name] }}
	if !Matches(ifc.Trigger, in) {
		t.Fatal("expected header regex to match")
	}

	other := map[string][]string{"P-Asserted-Identity": {"sip:bob@example.com"}}
	in2 := MatchInput{Header: func(name string) []string { return other[name] }}
	if Matches(ifc.Trigger, in2) {
		t.Fatal("expected header regex mismatch")
	}
}

func TestCompileInvalidRegexFails(t *testing.T) {
	_, err := Compile(hss.IFCRaw{
		SPTs: []hss.SPTRaw{{Group: 0, RequestURIRegex: "("}},
	})
	if err == nil {
		t.Fatal("expected invalid regex to fail compilation")
	}
}

func TestCompileAllSortsByPriority(t *testing.T) {
	raws := []hss.IFCRaw{
		{Priority: 5, AppServerURI: "sip:as5.example.com"},
		{Priority: 0, AppServerURI: "sip:as0.example.com"},
		{Priority: 2, AppServerURI: "sip:as2.example.com"},
	}
	compiled, err := CompileAll(raws)
	if err != nil {
		t.Fatalf("compile all: %v", err)
	}
	if len(compiled) != 3 {
		t.Fatalf("expected 3 compiled ifcs, got %d", len(compiled))
	}
	if compiled[0].AS.URI != "sip:as0.example.com" || compiled[1].AS.URI != "sip:as2.example.com" || compiled[2].AS.URI != "sip:as5.example.com" {
		t.Fatalf("unexpected order: %+v", compiled)
	}
}
