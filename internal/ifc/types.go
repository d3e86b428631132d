// Package ifc implements the iFC data model and trigger-point evaluator:
// the boolean matching engine that decides, for a given request and
// session context, which initial filter criteria apply.
package ifc

import (
	"fmt"
	"regexp"

	"github.com/sebas/imscscf/internal/hss"
)

// SessionCase is the session case a request is being evaluated under.
type SessionCase int

const (
	Originating SessionCase = iota
	Terminating
	OriginatingCDIV
)

func (c SessionCase) String() string {
	switch c {
	case Originating:
		return "orig"
	case Terminating:
		return "term"
	case OriginatingCDIV:
		return "orig-cdiv"
	default:
		return "unknown"
	}
}

// DefaultHandling decides what happens when an AS hop fails or times out.
type DefaultHandling int

const (
	Continued DefaultHandling = iota
	Terminated
)

func defaultHandlingFromInt(v int) DefaultHandling {
	if v == 1 {
		return Terminated
	}
	return Continued
}

// ASSpec names the application server an iFC routes to.
type ASSpec struct {
	URI             string
	IncludeRegister bool
}

// ServicePointTrigger is one compiled condition within a trigger point.
// Group numbers cluster SPTs: under CNF the trigger is an AND of ORs
// (SPTs sharing a group are OR'd, groups are AND'd); under DNF it is the
// dual (SPTs sharing a group are AND'd, groups are OR'd).
type ServicePointTrigger struct {
	Negated          bool
	Group            int
	Method           string
	SessionCase      *SessionCase
	RegisteredOnly   *bool
	RequestURIRegex  *regexp.Regexp
	SIPHeaderName    string
	SIPHeaderRegex   *regexp.Regexp
	SDPLine          string
	SDPRegex         *regexp.Regexp
}

// TriggerPoint is the compiled boolean combination of SPTs.
type TriggerPoint struct {
	CNF  bool // true: conjunctive normal form; false: disjunctive normal form
	SPTs []ServicePointTrigger
}

// IFC is one compiled initial filter criterion, ready to be matched
// against requests by an AS Chain.
type IFC struct {
	Priority        int
	Trigger         TriggerPoint
	AS              ASSpec
	DefaultHandling DefaultHandling
}

// Compile turns an unevaluated hss.IFCRaw into a matchable IFC,
// pre-compiling every regex the trigger point names.
func Compile(raw hss.IFCRaw) (*IFC, error) {
	tp := TriggerPoint{CNF: raw.ConditionCNF}
	for i, spt := range raw.SPTs {
		compiled, err := compileSPT(spt)
		if err != nil {
			return nil, fmt.Errorf("spt %d: %w", i, err)
		}
		tp.SPTs = append(tp.SPTs, compiled)
	}
	return &IFC{
		Priority: raw.Priority,
		Trigger:  tp,
		AS: ASSpec{
			URI:             raw.AppServerURI,
			IncludeRegister: raw.IncludeRegister,
		},
		DefaultHandling: defaultHandlingFromInt(raw.DefaultHandling),
	}, nil
}

func compileSPT(raw hss.SPTRaw) (ServicePointTrigger, error) {
	spt := ServicePointTrigger{
		Negated:       raw.Negated,
		Group:         raw.Group,
		Method:        raw.Method,
		SIPHeaderName: raw.SIPHeaderName,
		SDPLine:       raw.SDPLine,
	}
	if raw.SessionCase != nil {
		sc := sessionCaseFromHSS(*raw.SessionCase)
		spt.SessionCase = &sc
	}
	if raw.RegistrationType != nil {
		registered := *raw.RegistrationType == 0
		spt.RegisteredOnly = &registered
	}
	if raw.RequestURIRegex != "" {
		re, err := regexp.Compile(raw.RequestURIRegex)
		if err != nil {
			return spt, fmt.Errorf("request-uri regex %q: %w", raw.RequestURIRegex, err)
		}
		spt.RequestURIRegex = re
	}
	if raw.SIPHeaderRegex != "" {
		re, err := regexp.Compile(raw.SIPHeaderRegex)
		if err != nil {
			return spt, fmt.Errorf("sip-header regex %q: %w", raw.SIPHeaderRegex, err)
		}
		spt.SIPHeaderRegex = re
	}
	if raw.SDPRegex != "" {
		re, err := regexp.Compile(raw.SDPRegex)
		if err != nil {
			return spt, fmt.Errorf("sdp regex %q: %w", raw.SDPRegex, err)
		}
		spt.SDPRegex = re
	}
	return spt, nil
}

// sessionCaseFromHSS maps the 3GPP TS 29.228 SessionCase integer
// (0=orig, 1=term, 2=term-unreg, 3=orig-cdiv, 4=orig-unreg) onto the
// three cases this implementation distinguishes.
func sessionCaseFromHSS(v int) SessionCase {
	switch v {
	case 3:
		return OriginatingCDIV
	case 1, 2:
		return Terminating
	default:
		return Originating
	}
}
