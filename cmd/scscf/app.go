package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/imscscf/internal/api"
	"github.com/sebas/imscscf/internal/aschain"
	"github.com/sebas/imscscf/internal/config"
	"github.com/sebas/imscscf/internal/hss"
	"github.com/sebas/imscscf/internal/location"
	"github.com/sebas/imscscf/internal/overload"
	"github.com/sebas/imscscf/internal/registrar"
	"github.com/sebas/imscscf/internal/scscf"
	"github.com/sebas/imscscf/internal/sproutlet"
)

const (
	livenessTimeout   = 6 * time.Second
	odiTokenGrace     = 30 * time.Second
	dispatcherGrace   = 5 * time.Minute
	sproutletName     = "scscf"
)

// Server wires every collaborator into a running S-CSCF process, grounded on
// services/signaling/app/app.go's SwitchBoard shape: a UA/server/client
// triple from sipgo, one struct holding every subsystem, OnRequest
// registration per method, and a symmetrical Start/Close lifecycle.
type Server struct {
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client
	cfg    *config.Config

	hssClient *hss.Client
	store     *location.Store
	remote    *location.Store
	engine    *aschain.Engine
	overload  *overload.Monitor
	reg       *registrar.Registrar
	sip       *scscf.Scscf
	apiServer *api.Server

	mu          sync.Mutex
	dispatchers map[string]*sproutlet.Dispatcher
}

// NewServer builds every collaborator and registers SIP method handlers.
func NewServer(cfg *config.Config) (*Server, error) {
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	logger := slog.Default()

	hssClient := hss.New(cfg.HSSBaseURL, cfg.HTTPTimeout, logger)

	var remoteStore *location.Store
	var backup location.BackupReader
	if cfg.RemoteStoreAddr != "" {
		rs := location.NewRemoteStore(cfg.RemoteStoreAddr, cfg.HTTPTimeout)
		backup = rs
	}

	fromURI := sip.Uri{Scheme: "sip", User: sproutletName, Host: cfg.HomeDomain}
	notifier := location.NewSIPNotifySender(client, fromURI)

	var timers location.TimerScheduler
	if cfg.ChronosBaseURL != "" {
		callbackURL := fmt.Sprintf("http://%s:8080/timers", cfg.AdvertiseAddr)
		timers = location.NewChronosClient(cfg.ChronosBaseURL, callbackURL, cfg.HTTPTimeout)
	}

	store := location.New(location.Config{
		Backup:   backup,
		Notifier: notifier,
		Timers:   timers,
		Logger:   logger,
	})

	if cfg.RemoteStoreAddr != "" {
		remoteStore = location.New(location.Config{Logger: logger})
	}

	domains := scscf.Domains{Home: cfg.HomeDomain, Aliases: append([]string{}, cfg.Aliases...)}
	domains.Aliases = append(domains.Aliases, cfg.AdditionalDomains...)

	reg := registrar.New(registrar.Config{
		HomeDomain:    cfg.HomeDomain,
		Aliases:       domains.Aliases,
		SproutletName: sproutletName,
		MaxExpires:    cfg.MaxRegisterExpires,
	}, hssClient, store, remoteStore, client, logger)

	engine := aschain.NewEngine(odiTokenGrace)

	sipSproutlet := scscf.New(scscf.Config{
		SproutletName:   sproutletName,
		Domains:         domains,
		LivenessTimeout: livenessTimeout,
		ICSCFURI:        cfg.ICSCFURI,
		BGCFURI:         cfg.BGCFURI,
	}, engine, hssClient, store, logger)

	overloadMonitor := overload.New(cfg.OverloadRatePerSec, cfg.OverloadBurst)

	apiServer := api.New(":8080", store, logger)

	s := &Server{
		ua:          ua,
		srv:         srv,
		client:      client,
		cfg:         cfg,
		hssClient:   hssClient,
		store:       store,
		remote:      remoteStore,
		engine:      engine,
		overload:    overloadMonitor,
		reg:         reg,
		sip:         sipSproutlet,
		apiServer:   apiServer,
		dispatchers: make(map[string]*sproutlet.Dispatcher),
	}

	srv.OnRequest(sip.REGISTER, s.handleRegister)
	srv.OnRequest(sip.INVITE, s.handleRouted)
	srv.OnRequest(sip.MESSAGE, s.handleRouted)
	srv.OnRequest(sip.SUBSCRIBE, s.handleRouted)
	srv.OnRequest(sip.BYE, s.handleRouted)
	srv.OnRequest(sip.CANCEL, s.handleCancel)

	return s, nil
}

// Start begins listening for SIP traffic and the admin HTTP API.
func (s *Server) Start(ctx context.Context) error {
	if err := s.apiServer.Start(); err != nil {
		return fmt.Errorf("start admin api: %w", err)
	}

	listenAddr := fmt.Sprintf("%s:%d", s.cfg.BindAddr, s.cfg.Port)
	slog.Info("starting s-cscf sip listener", "addr", listenAddr)
	return s.srv.ListenAndServe(ctx, "udp", listenAddr)
}

// Close releases every collaborator.
func (s *Server) Close() error {
	s.engine.Close()
	if s.apiServer != nil {
		s.apiServer.Stop()
	}
	if s.ua != nil {
		return s.ua.Close()
	}
	return nil
}

func (s *Server) handleRegister(req *sip.Request, tx sip.ServerTransaction) {
	if !s.overload.Allow(req.Method) {
		res := sip.NewResponseFromRequest(req, 503, "Service Unavailable", nil)
		tx.Respond(res)
		return
	}
	s.reg.HandleRegister(req, tx)
}

// handleRouted runs any non-REGISTER method through the Transaction
// Dispatcher and the S-CSCF sproutlet, tracking the dispatcher by Call-ID so
// a subsequent CANCEL can find it.
func (s *Server) handleRouted(req *sip.Request, tx sip.ServerTransaction) {
	if !s.overload.Allow(req.Method) {
		res := sip.NewResponseFromRequest(req, 503, "Service Unavailable", nil)
		tx.Respond(res)
		return
	}

	trailID := ""
	if cid := req.CallID(); cid != nil {
		trailID = cid.Value()
	}

	d := sproutlet.New(s.client, tx, req, s.cfg.HomeDomain, sproutletName, trailID, slog.Default())

	s.mu.Lock()
	s.dispatchers[trailID] = d
	s.mu.Unlock()
	time.AfterFunc(dispatcherGrace, func() {
		s.mu.Lock()
		delete(s.dispatchers, trailID)
		s.mu.Unlock()
	})

	d.Invoke(context.Background(), s.sip, req)
}

func (s *Server) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	trailID := ""
	if cid := req.CallID(); cid != nil {
		trailID = cid.Value()
	}

	s.mu.Lock()
	d, ok := s.dispatchers[trailID]
	s.mu.Unlock()

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	tx.Respond(res)

	if !ok {
		return
	}
	d.HandleCancel(nil)
}
