package location

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

const notifyTimeout = 5 * time.Second

var reginfoTemplate = template.Must(template.New("reginfo").Parse(
	`<?xml version="1.0" encoding="UTF-8"?>
<reginfo xmlns="urn:ietf:params:xml:ns:reginfo" version="{{.Version}}" state="full">
  <registration aor="{{.AoR}}" id="{{.AoR}}" state="active">
{{range .Deltas}}    <contact id="{{.BindingID}}" state="{{.State}}" event="{{.EventLower}}">
      <uri>{{.ContactURI}}</uri>
    </contact>
{{end}}  </registration>
</reginfo>
`))

type reginfoDelta struct {
	BindingID  string
	ContactURI string
	State      string
	EventLower string
}

type reginfoData struct {
	Version uint32
	AoR     string
	Deltas  []reginfoDelta
}

// SIPNotifySender delivers reginfo NOTIFYs over an active SIP client,
// grounded on internal/registrar/thirdparty.go's client-transaction pattern
// for building and sending a request with no inbound transaction to
// piggyback on.
type SIPNotifySender struct {
	client *sipgo.Client
	from   sip.Uri
}

// NewSIPNotifySender creates a NotifySender that sends from fromURI (the
// S-CSCF's own identity).
func NewSIPNotifySender(client *sipgo.Client, fromURI sip.Uri) *SIPNotifySender {
	return &SIPNotifySender{client: client, from: fromURI}
}

// SendNotify implements NotifySender.
func (n *SIPNotifySender) SendNotify(sub *Subscription, aor string, notifyCSeq uint32, deltas []BindingDelta) error {
	var target sip.Uri
	if err := sip.ParseUri(sub.RequestURI, &target); err != nil {
		return fmt.Errorf("parse subscription target: %w", err)
	}

	body, err := buildReginfoBody(aor, notifyCSeq, deltas)
	if err != nil {
		return fmt.Errorf("build reginfo body: %w", err)
	}

	req := sip.NewRequest(sip.NOTIFY, target)
	req.AppendHeader(sip.NewHeader("Event", "reginfo"))
	req.AppendHeader(sip.NewHeader("Subscription-State", "active"))
	req.AppendHeader(sip.NewHeader("Content-Type", "application/reginfo+xml"))
	req.AppendHeader(&sip.FromHeader{Address: n.from, Params: sip.NewParams()})
	req.AppendHeader(sip.NewHeader("To", sub.FromURI))
	req.AppendHeader(sip.NewHeader("Call-ID", sub.Tuple.CallID))
	req.AppendHeader(&sip.CSeqHeader{SeqNo: notifyCSeq, MethodName: sip.NOTIFY})
	for _, route := range sub.RouteSet {
		req.AppendHeader(sip.NewHeader("Route", route))
	}
	req.SetBody(body)

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	tx, err := n.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return fmt.Errorf("send notify: %w", err)
	}
	defer tx.Terminate()

	select {
	case res, ok := <-tx.Responses():
		if !ok || res.StatusCode >= 300 {
			return fmt.Errorf("notify rejected")
		}
		return nil
	case <-tx.Done():
		return fmt.Errorf("notify transaction ended without a response")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildReginfoBody(aor string, version uint32, deltas []BindingDelta) ([]byte, error) {
	data := reginfoData{Version: version, AoR: aor}
	for _, d := range deltas {
		state := "active"
		if d.Event == EventExpired || d.Event == EventUnregistered {
			state = "terminated"
		}
		data.Deltas = append(data.Deltas, reginfoDelta{
			BindingID:  d.BindingID,
			ContactURI: d.ContactURI,
			State:      state,
			EventLower: strings.ToLower(string(d.Event)),
		})
	}

	var buf bytes.Buffer
	if err := reginfoTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
