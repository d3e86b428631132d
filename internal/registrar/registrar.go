// Package registrar implements the Registrar named in spec.md §4.C: REGISTER
// acceptance scoping, the optimistic Registration Store write loop, 200 OK
// construction (GRUU, Service-Route, P-Associated-URI, charging addresses),
// and third-party REGISTER fan-out down the REGISTER iFC chain.
package registrar

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/sebas/imscscf/internal/hss"
	"github.com/sebas/imscscf/internal/location"
)

const (
	minExpiresSeconds = 60
	maxExpiresSeconds = 86400
)

// Config configures a Registrar.
type Config struct {
	HomeDomain    string
	Aliases       []string
	SproutletName string // used to build the Service-Route loopback URI

	MinExpires int
	MaxExpires int
}

// defaultExpires is the expiry granted when a REGISTER supplies neither a
// Contact expires param nor an Expires header: spec.md §4.C's write-loop
// pseudocode falls back to max_expires in that case, not an independent
// default-session value.
func (c Config) defaultExpires() int {
	return c.maxExpires()
}

func (c Config) minExpires() int {
	if c.MinExpires > 0 {
		return c.MinExpires
	}
	return minExpiresSeconds
}

func (c Config) maxExpires() int {
	if c.MaxExpires > 0 {
		return c.MaxExpires
	}
	return maxExpiresSeconds
}

func (c Config) isLocal(host string) bool {
	if strings.EqualFold(host, c.HomeDomain) {
		return true
	}
	for _, alias := range c.Aliases {
		if strings.EqualFold(host, alias) {
			return true
		}
	}
	return false
}

// Registrar is the REGISTER-method handler wired directly onto the UA
// (spec.md §4.C), grounded on flowpbx's Registrar.HandleRegister shape:
// authenticate/derive identity, validate contacts, drive the store write
// loop, respond, then fan out third-party REGISTERs.
type Registrar struct {
	cfg Config

	hssClient *hss.Client
	store     *location.Store
	remote    *location.Store // optional geo-redundant peer, written best-effort
	client    *sipgo.Client   // for third-party REGISTER fan-out

	logger *slog.Logger
}

// New creates a Registrar.
func New(cfg Config, hssClient *hss.Client, store, remote *location.Store, client *sipgo.Client, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		cfg:       cfg,
		hssClient: hssClient,
		store:     store,
		remote:    remote,
		client:    client,
		logger:    logger.With("subsystem", "registrar"),
	}
}

// HandleRegister processes one inbound REGISTER transaction.
func (r *Registrar) HandleRegister(req *sip.Request, tx sip.ServerTransaction) {
	to := req.To()
	if to == nil || (to.Address.Scheme != "sip" && to.Address.Scheme != "sips" && to.Address.Scheme != "tel") {
		r.respondError(req, tx, 404, "Not Found")
		return
	}

	if !r.routeScopeOK(req) {
		r.respondError(req, tx, 404, "Not Found")
		return
	}

	contacts, err := gatherContacts(req)
	if err != nil {
		r.respondError(req, tx, 400, "Bad Request")
		return
	}

	defaultExpiry := parseDefaultExpiry(req, r.cfg.defaultExpires())

	allEmergency, allZero := true, true
	for _, c := range contacts {
		if c.wildcard {
			continue
		}
		if !c.emergency {
			allEmergency = false
		}
		if c.effectiveExpiry(defaultExpiry) != 0 {
			allZero = false
		}
	}
	if len(contacts) > 0 && allEmergency && allZero {
		r.respondError(req, tx, 501, "Not Implemented")
		return
	}

	private := privateIdentity(req, to)
	public := to.Address.String()

	op := hss.OpReg
	expiresForHSS := defaultExpiry
	if allDeregistering(contacts, defaultExpiry) {
		op = hss.OpDeregUser
		expiresForHSS = 0
	}

	ctx := context.Background()
	trail := trailID(req)
	callID := trail
	var cseq uint32
	if c := req.CSeq(); c != nil {
		cseq = c.SeqNo
	}

	result, err := r.hssClient.UpdateRegistrationState(ctx, public, private, op, expiresForHSS, trail)
	if err != nil {
		r.respondForHSSError(req, tx, err)
		return
	}

	aor := public
	if len(result.URIs) > 0 {
		aor = result.URIs[0]
	}

	rec, deltas, outcome, err := r.writeLoop(r.store, aor, contacts, defaultExpiry, true, callID, cseq, private)
	if err != nil {
		r.logger.Error("registration store write failed", "aor", aor, "error", err)
		r.respondError(req, tx, 500, "Internal Server Error")
		return
	}
	r.logger.Info("registration written", "aor", aor, "deltas", len(deltas))

	if r.remote != nil {
		if _, _, _, err := r.writeLoop(r.remote, aor, contacts, defaultExpiry, false, callID, cseq, private); err != nil {
			r.logger.Warn("remote registration store write failed", "aor", aor, "error", err)
		}
	}

	if outcome.AllBindingsExpired {
		if _, err := r.hssClient.UpdateRegistrationState(ctx, aor, private, hss.OpDeregUser, 0, trail); err != nil {
			r.logger.Warn("hss dereg_user notification failed", "aor", aor, "error", err)
		}
	}

	res := r.buildOKResponse(req, rec, result)
	if err := tx.Respond(res); err != nil {
		r.logger.Error("failed to send register response", "error", err)
	}

	if allEmergency {
		return
	}
	go r.fanOutThirdPartyRegister(ctx, req, aor, result.IFCs, trail)
}

// routeScopeOK implements spec.md §4.C's acceptance condition (d): either no
// Route headers, or the top Route is a loose-route into this node.
func (r *Registrar) routeScopeOK(req *sip.Request) bool {
	routes := req.GetHeaders("Route")
	if len(routes) == 0 {
		return true
	}
	route, ok := routes[0].(*sip.RouteHeader)
	if !ok {
		return false
	}
	return r.cfg.isLocal(route.Address.Host)
}

func privateIdentity(req *sip.Request, to *sip.ToHeader) string {
	if h := req.GetHeader("Authorization"); h != nil {
		if cred, err := digest.ParseCredentials(h.Value()); err == nil && cred.Username != "" {
			return cred.Username
		}
	}
	return strings.TrimPrefix(to.Address.String(), to.Address.Scheme+":")
}

func trailID(req *sip.Request) string {
	if cid := req.CallID(); cid != nil {
		return cid.Value()
	}
	return ""
}

func parseDefaultExpiry(req *sip.Request, fallback int) int {
	if h := req.GetHeader("Expires"); h != nil {
		if v, err := strconv.Atoi(h.Value()); err == nil {
			return v
		}
	}
	return fallback
}

func allDeregistering(contacts []parsedContact, defaultExpiry int) bool {
	if len(contacts) == 0 {
		return false
	}
	for _, c := range contacts {
		if c.effectiveExpiry(defaultExpiry) != 0 {
			return false
		}
	}
	return true
}

func (r *Registrar) respondError(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, sip.StatusCode(code), reason, nil)
	if err := tx.Respond(res); err != nil {
		r.logger.Error("failed to send error response", "code", code, "error", err)
	}
}

// respondForHSSError maps an HSS error onto spec.md §4.C step 4's response
// taxonomy: not-found maps to 403, any other upstream failure to 504.
func (r *Registrar) respondForHSSError(req *sip.Request, tx sip.ServerTransaction, err error) {
	if errors.Is(err, hss.ErrNotFound) {
		r.respondError(req, tx, 403, "Forbidden")
		return
	}
	r.logger.Warn("hss upstream error", "error", err)
	r.respondError(req, tx, 504, "Server Time-out")
}
