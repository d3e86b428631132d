package sipmsg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// MalformedHeader is returned when a custom header's value does not match
// its expected grammar. It is returned to the caller of the Parse function;
// no code in this module turns it into a 400 Bad Request or drops the
// header.
type MalformedHeader struct {
	Header string
	Offset int
	Cause  error
}

func (e *MalformedHeader) Error() string {
	return fmt.Sprintf("malformed %s header at offset %d: %v", e.Header, e.Offset, e.Cause)
}

func (e *MalformedHeader) Unwrap() error {
	return e.Cause
}

// splitParams splits a "value;k1=v1;k2=v2" header body into its bare value
// and parameter map, preserving parameter order for round-trip printing.
func splitParams(body string) (value string, params []paramKV) {
	parts := strings.Split(body, ";")
	value = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i := strings.IndexByte(p, '='); i >= 0 {
			params = append(params, paramKV{key: p[:i], val: p[i+1:]})
		} else {
			params = append(params, paramKV{key: p})
		}
	}
	return value, params
}

type paramKV struct {
	key string
	val string
}

func (p paramKV) String() string {
	if p.val == "" {
		return p.key
	}
	return p.key + "=" + p.val
}

// --- Session-Expires (RFC 4028) ---

// SessionExpires is the parsed form of the Session-Expires header.
type SessionExpires struct {
	DeltaSeconds int
	Refresher    string // "uac", "uas", or "" if absent
}

// ParseSessionExpires parses a Session-Expires header body.
func ParseSessionExpires(body string) (*SessionExpires, error) {
	value, params := splitParams(body)
	delta, err := strconv.Atoi(value)
	if err != nil {
		return nil, &MalformedHeader{Header: "Session-Expires", Offset: 0, Cause: err}
	}
	se := &SessionExpires{DeltaSeconds: delta}
	for _, p := range params {
		if strings.EqualFold(p.key, "refresher") {
			se.Refresher = strings.ToLower(p.val)
		}
	}
	return se, nil
}

// Print renders the header body.
func (se *SessionExpires) Print() string {
	s := strconv.Itoa(se.DeltaSeconds)
	if se.Refresher != "" {
		s += ";refresher=" + se.Refresher
	}
	return s
}

// --- P-Charging-Vector (RFC 3455) ---

// ChargingVector is the parsed form of P-Charging-Vector.
type ChargingVector struct {
	ICIDValue       string
	ICIDGeneratedAt string
	OrigIOI         string
	TermIOI         string
	TransitIOIs     []string
}

// ParseChargingVector parses a P-Charging-Vector header body.
func ParseChargingVector(body string) (*ChargingVector, error) {
	value, params := splitParams(body)
	cv := &ChargingVector{}
	if strings.HasPrefix(value, "icid-value=") {
		cv.ICIDValue = strings.TrimPrefix(value, "icid-value=")
	} else {
		return nil, &MalformedHeader{Header: "P-Charging-Vector", Offset: 0,
			Cause: fmt.Errorf("missing leading icid-value")}
	}
	for _, p := range params {
		switch strings.ToLower(p.key) {
		case "icid-generated-at":
			cv.ICIDGeneratedAt = p.val
		case "orig-ioi":
			cv.OrigIOI = p.val
		case "term-ioi":
			cv.TermIOI = p.val
		case "transit-ioi":
			cv.TransitIOIs = append(cv.TransitIOIs, p.val)
		}
	}
	return cv, nil
}

// Print renders the header body.
func (cv *ChargingVector) Print() string {
	var b strings.Builder
	b.WriteString("icid-value=" + cv.ICIDValue)
	if cv.ICIDGeneratedAt != "" {
		b.WriteString(";icid-generated-at=" + cv.ICIDGeneratedAt)
	}
	if cv.OrigIOI != "" {
		b.WriteString(";orig-ioi=" + cv.OrigIOI)
	}
	if cv.TermIOI != "" {
		b.WriteString(";term-ioi=" + cv.TermIOI)
	}
	for _, t := range cv.TransitIOIs {
		b.WriteString(";transit-ioi=" + t)
	}
	return b.String()
}

// --- P-Charging-Function-Addresses (RFC 3455) ---

// ChargingFunctionAddresses is the parsed form of
// P-Charging-Function-Addresses: repeatable ccf/ecf parameters.
type ChargingFunctionAddresses struct {
	CCF []string
	ECF []string
}

// ParseChargingFunctionAddresses parses the header body.
func ParseChargingFunctionAddresses(body string) (*ChargingFunctionAddresses, error) {
	_, params := splitParams("x;" + body)
	cfa := &ChargingFunctionAddresses{}
	for _, p := range params {
		switch strings.ToLower(p.key) {
		case "ccf":
			cfa.CCF = append(cfa.CCF, strings.Trim(p.val, `"`))
		case "ecf":
			cfa.ECF = append(cfa.ECF, strings.Trim(p.val, `"`))
		}
	}
	if len(cfa.CCF) == 0 && len(cfa.ECF) == 0 {
		return nil, &MalformedHeader{Header: "P-Charging-Function-Addresses", Offset: 0,
			Cause: fmt.Errorf("no ccf or ecf parameters")}
	}
	return cfa, nil
}

// Print renders the header body.
func (cfa *ChargingFunctionAddresses) Print() string {
	var parts []string
	for _, c := range cfa.CCF {
		parts = append(parts, fmt.Sprintf(`ccf=%q`, c))
	}
	for _, e := range cfa.ECF {
		parts = append(parts, fmt.Sprintf(`ecf=%q`, e))
	}
	return strings.Join(parts, ";")
}

// --- identity-family headers: P-Associated-URI, P-Served-User, Path ---
// (RFC 3455 / RFC 5502 / RFC 3327): comma-separated name-addr lists in
// Route-like form, i.e. "<sip:...>;param=value, <sip:...>".

// NameAddr is one entry of a name-addr list header.
type NameAddr struct {
	DisplayName string
	URI         string
	Params      []paramKV
}

// Print renders a single name-addr entry.
func (n NameAddr) Print() string {
	var b strings.Builder
	if n.DisplayName != "" {
		b.WriteString(fmt.Sprintf("%q ", n.DisplayName))
	}
	b.WriteString("<" + n.URI + ">")
	for _, p := range n.Params {
		b.WriteString(";" + p.String())
	}
	return b.String()
}

// ParseNameAddrList parses a comma-separated list of name-addr entries.
func ParseNameAddrList(header, body string) ([]NameAddr, error) {
	var out []NameAddr
	for i, raw := range splitTopLevel(body, ',') {
		entry := strings.TrimSpace(raw)
		na, err := parseOneNameAddr(entry)
		if err != nil {
			return nil, &MalformedHeader{Header: header, Offset: i, Cause: err}
		}
		out = append(out, na)
	}
	if len(out) == 0 {
		return nil, &MalformedHeader{Header: header, Offset: 0, Cause: fmt.Errorf("empty list")}
	}
	return out, nil
}

// PrintNameAddrList renders a name-addr list back to a header body.
func PrintNameAddrList(entries []NameAddr) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Print()
	}
	return strings.Join(parts, ", ")
}

func parseOneNameAddr(entry string) (NameAddr, error) {
	na := NameAddr{}
	rest := entry
	if i := strings.IndexByte(rest, '<'); i >= 0 {
		na.DisplayName = strings.Trim(strings.TrimSpace(rest[:i]), `"`)
		rest = rest[i+1:]
		j := strings.IndexByte(rest, '>')
		if j < 0 {
			return na, fmt.Errorf("unterminated uri angle brackets")
		}
		na.URI = rest[:j]
		rest = rest[j+1:]
	} else {
		// bare URI, no angle brackets (Path/P-Served-User sometimes omit them)
		parts := strings.SplitN(rest, ";", 2)
		na.URI = strings.TrimSpace(parts[0])
		if len(parts) == 2 {
			rest = ";" + parts[1]
		} else {
			rest = ""
		}
	}
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, ";") {
		_, params := splitParams("x" + rest)
		na.Params = params
	}
	if na.URI == "" {
		return na, fmt.Errorf("missing uri")
	}
	return na, nil
}

// splitTopLevel splits on sep, ignoring occurrences inside angle brackets
// or quoted strings.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case c == '<' && !inQuote:
			depth++
		case c == '>' && !inQuote:
			if depth > 0 {
				depth--
			}
		case c == sep && !inQuote && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// --- extraction/attachment helpers against sipgo messages ---

// GetHeaderValue returns the raw value of a header on a request, or "" if
// absent.
func GetHeaderValue(req *sip.Request, name string) string {
	h := req.GetHeader(name)
	if h == nil {
		return ""
	}
	return h.Value()
}

// GetAllHeaderValues returns the raw values of every occurrence of a header
// on a request.
func GetAllHeaderValues(req *sip.Request, name string) []string {
	hdrs := req.GetHeaders(name)
	out := make([]string, len(hdrs))
	for i, h := range hdrs {
		out[i] = h.Value()
	}
	return out
}

// SetHeaderValue appends a header with the given name and value; an
// existing header of the same name is not removed.
func SetHeaderValue(m *Message, name, value string) {
	m.AppendHeader(sip.NewHeader(name, value))
}
