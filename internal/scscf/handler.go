package scscf

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/aschain"
	"github.com/sebas/imscscf/internal/hss"
	"github.com/sebas/imscscf/internal/ifc"
	"github.com/sebas/imscscf/internal/location"
	"github.com/sebas/imscscf/internal/sproutlet"
)

// Config configures the S-CSCF sproutlet.
type Config struct {
	SproutletName   string
	Domains         Domains
	LivenessTimeout time.Duration
	ICSCFURI        string // route target when the served user is not local
	BGCFURI         string // route target for non-SIP / off-net requests
}

// Scscf is the S-CSCF sproutlet named in spec.md §4.D/§6: it derives
// the session case and served user, walks the AS chain, and forks to
// contact bindings on the terminating side.
type Scscf struct {
	cfg      Config
	engine   *aschain.Engine
	hssClient *hss.Client
	locStore *location.Store
	logger   *slog.Logger
}

// New creates an S-CSCF sproutlet.
func New(cfg Config, engine *aschain.Engine, hssClient *hss.Client, locStore *location.Store, logger *slog.Logger) *Scscf {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scscf{
		cfg:       cfg,
		engine:    engine,
		hssClient: hssClient,
		locStore:  locStore,
		logger:    logger.With("subsystem", "scscf"),
	}
}

func (s *Scscf) Name() string { return s.cfg.SproutletName }

// Handle implements sproutlet.Sproutlet.
func (s *Scscf) Handle(ctx context.Context, d *sproutlet.Dispatcher, req *sip.Request) {
	if token, ok := odiTokenFromRoute(req); ok {
		s.resumeChain(ctx, d, req, token)
		return
	}
	s.startChain(ctx, d, req)
}

func (s *Scscf) startChain(ctx context.Context, d *sproutlet.Dispatcher, req *sip.Request) {
	sessionCase := DeriveSessionCase(req, s.cfg.Domains)
	servedUser := DeriveServedUser(req, sessionCase)

	trailID := trailIDFromRequest(req)
	result, err := s.hssClient.Read(ctx, servedUser, trailID)
	if err != nil {
		s.respondForHSSError(d, req, err)
		return
	}

	compiled, err := ifc.CompileAll(result.IFCs)
	if err != nil {
		s.logger.Error("ifc compile failed", "served_user", servedUser, "error", err)
		d.SendResponse(d.CreateResponse(req, 500, "Internal Server Error"))
		return
	}

	chain := aschain.New(newChainID(), servedUser, sessionCase, compiled, trailID)
	s.driveChain(ctx, d, req, chain, result.Registered)
}

func (s *Scscf) resumeChain(ctx context.Context, d *sproutlet.Dispatcher, req *sip.Request, token string) {
	chain, ok := s.engine.Resolve(token)
	if !ok {
		s.logger.Warn("unknown odi token on inbound request", "token", token)
		d.SendResponse(d.CreateResponse(req, 403, "Forbidden"))
		return
	}
	s.engine.CancelLivenessTimer(token)
	s.driveChain(ctx, d, req, chain, true)
}

// driveChain walks the chain from its current cursor, dispatching to
// the next matching AS or, once the chain is exhausted, to the
// termination route for the session case.
func (s *Scscf) driveChain(ctx context.Context, d *sproutlet.Dispatcher, req *sip.Request, chain *aschain.Chain, registered bool) {
	in := matchInputFor(req, chain.SessionCase, registered)

	hop, ok := chain.NextTrigger(in)
	if !ok {
		s.routeTermination(ctx, d, req, chain)
		return
	}
	s.dispatchToAS(ctx, d, req, chain, hop)
}

func (s *Scscf) dispatchToAS(ctx context.Context, d *sproutlet.Dispatcher, req *sip.Request, chain *aschain.Chain, hop aschain.Hop) {
	outbound := d.CloneRequest(req)

	asURI, err := parseURI(hop.IFC.AS.URI)
	if err != nil {
		s.logger.Error("invalid as uri", "uri", hop.IFC.AS.URI, "error", err)
		d.SendResponse(d.CreateResponse(req, 500, "Internal Server Error"))
		return
	}
	outbound.AppendHeader(&sip.RouteHeader{Address: asURI})

	token := s.engine.Mint(chain)
	returnURI, err := parseURI(fmt.Sprintf("sip:%s@%s;sescase=%s", token, s.cfg.SproutletName+"."+s.cfg.Domains.Home, chain.SessionCase))
	if err != nil {
		s.logger.Error("failed building odi return route", "error", err)
		d.SendResponse(d.CreateResponse(req, 500, "Internal Server Error"))
		return
	}
	outbound.AppendHeader(&sip.RouteHeader{Address: returnURI})

	var once sync.Once
	settle := func(statusCode int) {
		once.Do(func() {
			s.engine.CancelLivenessTimer(token)
			s.handleHopOutcome(ctx, d, req, chain, hop, statusCode)
		})
	}

	forkID, err := d.SendRequest(ctx, outbound, "")
	if err != nil {
		s.logger.Warn("send to as failed", "as", hop.IFC.AS.URI, "error", err)
		settle(0)
		return
	}

	if s.cfg.LivenessTimeout > 0 {
		s.engine.StartLivenessTimer(token, s.cfg.LivenessTimeout, func() { settle(0) })
	}

	d.OnForkProvisional(func(provForkID int, resp *sip.Response, _ string) {
		if provForkID != forkID {
			return
		}
		s.engine.CancelLivenessTimer(token)
		d.SendResponse(resp)
	})

	d.OnForkFinal(func(finalForkID int, resp *sip.Response, _ string) {
		if finalForkID != forkID {
			return
		}
		once.Do(func() {
			s.engine.CancelLivenessTimer(token)
			s.handleHopResponse(ctx, d, req, chain, hop, resp)
		})
	})
}

// handleHopOutcome classifies a synthetic (timer/transport-failure)
// outcome with no response object to forward.
func (s *Scscf) handleHopOutcome(ctx context.Context, d *sproutlet.Dispatcher, req *sip.Request, chain *aschain.Chain, hop aschain.Hop, statusCode int) {
	s.handleHopResponse(ctx, d, req, chain, hop, nil)
	_ = statusCode
}

// handleHopResponse classifies an AS hop's response (nil means a
// liveness timeout or send failure, treated as a synthetic 408) and
// either forwards it upstream or resumes the chain at the next iFC,
// per spec.md §4.D.
func (s *Scscf) handleHopResponse(ctx context.Context, d *sproutlet.Dispatcher, req *sip.Request, chain *aschain.Chain, hop aschain.Hop, resp *sip.Response) {
	statusCode := 0
	if resp != nil {
		statusCode = int(resp.StatusCode)
	}

	switch aschain.ClassifyResponse(statusCode, hop.IFC.DefaultHandling) {
	case aschain.OutcomeContinueChain:
		s.driveChain(ctx, d, req, chain, true)
	case aschain.OutcomeForwardUpstream, aschain.OutcomeCancelTimer:
		if resp != nil {
			d.SendResponse(resp)
			return
		}
		d.SendResponse(d.CreateResponse(req, sip.StatusCode(aschain.EffectiveStatusCode(statusCode)), "Request Timeout"))
	}
}

// routeTermination implements spec.md §4.D's chain-termination routing
// decision once the AS chain is exhausted.
func (s *Scscf) routeTermination(ctx context.Context, d *sproutlet.Dispatcher, req *sip.Request, chain *aschain.Chain) {
	if chain.SessionCase == ifc.Terminating {
		s.forkToBindings(ctx, d, req, chain)
		return
	}

	if req.Recipient.Scheme != "sip" && req.Recipient.Scheme != "sips" {
		s.routeToStaticTarget(ctx, d, req, s.cfg.BGCFURI)
		return
	}

	if !s.cfg.Domains.IsLocal(req.Recipient.Host) {
		s.routeToStaticTarget(ctx, d, req, s.cfg.ICSCFURI)
		return
	}

	// Originating side, callee is local: loop back to the terminating
	// side under a fresh chain whose served user is the callee.
	termReq := d.CloneRequest(req)
	trailID := trailIDFromRequest(req)
	result, err := s.hssClient.Read(ctx, req.Recipient.String(), trailID)
	if err != nil {
		s.respondForHSSError(d, termReq, err)
		return
	}
	compiled, err := ifc.CompileAll(result.IFCs)
	if err != nil {
		s.logger.Error("ifc compile failed on loopback", "error", err)
		d.SendResponse(d.CreateResponse(req, 500, "Internal Server Error"))
		return
	}
	termChain := aschain.New(newChainID(), req.Recipient.String(), ifc.Terminating, compiled, trailID)
	s.driveChain(ctx, d, termReq, termChain, result.Registered)
}

func (s *Scscf) routeToStaticTarget(ctx context.Context, d *sproutlet.Dispatcher, req *sip.Request, target string) {
	if target == "" {
		d.SendResponse(d.CreateResponse(req, 404, "Not Found"))
		return
	}
	outbound := d.CloneRequest(req)
	uri, err := parseURI(target)
	if err != nil {
		s.logger.Error("invalid static route target", "target", target, "error", err)
		d.SendResponse(d.CreateResponse(req, 500, "Internal Server Error"))
		return
	}
	outbound.AppendHeader(&sip.RouteHeader{Address: uri})
	if _, err := d.SendRequest(ctx, outbound, ""); err != nil {
		d.SendResponse(d.CreateResponse(req, 500, "Internal Server Error"))
	}
}

func odiTokenFromRoute(req *sip.Request) (string, bool) {
	routes := req.GetHeaders("Route")
	if len(routes) == 0 {
		return "", false
	}
	route, ok := routes[0].(*sip.RouteHeader)
	if !ok {
		return "", false
	}
	return aschain.RouteHeaderToken(route.Address.User)
}

func matchInputFor(req *sip.Request, sessionCase ifc.SessionCase, registered bool) ifc.MatchInput {
	return ifc.MatchInput{
		Method:      req.Method.String(),
		SessionCase: sessionCase,
		Registered:  registered,
		RequestURI:  req.Recipient.String(),
		Header: func(name string) []string {
			var values []string
			for _, h := range req.GetHeaders(name) {
				values = append(values, h.Value())
			}
			return values
		},
		SDP: string(req.Body()),
	}
}

func parseURI(s string) (sip.Uri, error) {
	var uri sip.Uri
	if err := sip.ParseUri(s, &uri); err != nil {
		return sip.Uri{}, err
	}
	return uri, nil
}

func trailIDFromRequest(req *sip.Request) string {
	if cid := req.CallID(); cid != nil {
		return cid.Value()
	}
	return ""
}

var chainSeq uint64

func newChainID() string {
	chainSeq++
	return fmt.Sprintf("chain-%d-%d", time.Now().UnixNano(), chainSeq)
}
