// Package api implements the S-CSCF's HTTP admin surface named in spec.md
// §6: the Chronos registration-timeout callback and registration
// introspection, grounded on services/signaling/api/server.go's Server shape
// (mux-per-concern, writeJSON helper, Start/Stop lifecycle) trimmed to the
// endpoints an S-CSCF core actually needs — no dialog/session/admin-UI
// surface, since this node holds no dialog state of its own.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sebas/imscscf/internal/location"
)

// Server is the admin HTTP server.
type Server struct {
	addr       string
	httpServer *http.Server
	store      *location.Store
	startTime  time.Time
	logger     *slog.Logger
}

// New creates an admin Server bound to addr, backed by store for
// registration introspection and timer-sweep callbacks.
func New(addr string, store *location.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:      addr,
		store:     store,
		startTime: time.Now(),
		logger:    logger.With("subsystem", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/registrations/", s.handleRegistrationByAOR)
	mux.HandleFunc("/timers", s.handleTimerCallback)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting admin api", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin api server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": int64(time.Since(s.startTime).Seconds()),
	})
}

type bindingView struct {
	BindingID  string            `json:"binding_id"`
	ContactURI string            `json:"contact_uri"`
	Path       []string          `json:"path,omitempty"`
	QValue     int               `json:"q"`
	Expires    int               `json:"expires"`
	Emergency  bool              `json:"emergency,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// handleRegistrationByAOR implements GET /api/v1/registrations/{aor}.
func (s *Server) handleRegistrationByAOR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/registrations/")
	if path == "" {
		http.Error(w, "aor required", http.StatusBadRequest)
		return
	}
	aor, err := url.PathUnescape(path)
	if err != nil {
		http.Error(w, "invalid aor encoding", http.StatusBadRequest)
		return
	}

	rec, token := s.store.Get(aor)
	if token == 0 || len(rec.Bindings) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	now := time.Now()
	views := make([]bindingView, 0, len(rec.Bindings))
	for _, b := range rec.Bindings {
		views = append(views, bindingView{
			BindingID:  b.ID,
			ContactURI: b.ContactURI,
			Path:       b.Path,
			QValue:     b.QValue,
			Expires:    b.RemainingSeconds(now),
			Emergency:  b.Emergency,
			Params:     b.Params,
		})
	}
	s.writeJSON(w, views)
}

type timerCallback struct {
	Opaque map[string]string `json:"opaque"`
}

// handleTimerCallback implements spec.md §6's registration-timeout
// callback: Chronos posts back at expiry, naming the AoR in the opaque
// data supplied at Schedule time. Reaping is driven by a Get/Set round
// trip, matching how every other write path forces Store.Set's own
// ReapExpired pass rather than duplicating that logic here.
func (s *Server) handleTimerCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cb timerCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "invalid callback body", http.StatusBadRequest)
		return
	}
	aor := cb.Opaque["aor"]
	if aor == "" {
		http.Error(w, "missing aor in callback", http.StatusBadRequest)
		return
	}

	rec, token := s.store.Get(aor)
	if outcome := s.store.Set(aor, rec, token, true); outcome.Result != location.SetOK {
		s.logger.Warn("timer sweep failed to commit", "aor", aor, "result", outcome.Result)
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode json response", "error", err)
	}
}
