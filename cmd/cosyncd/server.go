package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cosync/core"
)

// DebugServer exposes read-only node introspection over HTTP: health,
// Prometheus metrics, and per-CoValue status. It never accepts a
// control-plane mutation — spec.md's external interfaces are
// wire-message driven, not HTTP — adapting cmd/explorer/server.go's
// router-plus-thin-handlers shape from gorilla/mux to chi.
type DebugServer struct {
	router     chi.Router
	httpServer *http.Server
	app        *App
}

// NewDebugServer constructs the router and HTTP server bound to addr.
func NewDebugServer(addr string, app *App) *DebugServer {
	s := &DebugServer{router: chi.NewRouter(), app: app}
	s.router.Use(middleware.Logger)
	s.routes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

// Start blocks serving HTTP until the listener is closed.
func (s *DebugServer) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *DebugServer) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.app.metrics.Registry(), promhttp.HandlerOpts{}))
	s.router.Get("/covalues/{id}", s.handleCoValue)
	s.router.Get("/peers", s.handlePeers)
	s.router.Get("/sync", s.handleSyncStatus)
}

func (s *DebugServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *DebugServer) handleCoValue(w http.ResponseWriter, r *http.Request) {
	idHex := chi.URLParam(r, "id")
	raw, err := hex.DecodeString(idHex)
	if err != nil || len(raw) != 32 {
		http.Error(w, "bad covalue id", http.StatusBadRequest)
		return
	}
	var id core.CoValueID
	copy(id[:], raw)

	c, ok := s.app.node.Get(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"id":    id.String(),
		"state": c.State().String(),
		"known": c.KnownState(),
	})
}

func (s *DebugServer) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := s.app.node.Peers()
	out := make([]map[string]any, 0, len(peers))
	for _, p := range peers {
		out = append(out, map[string]any{"id": p.ID(), "role": p.Role()})
	}
	writeJSON(w, out)
}

func (s *DebugServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.app.sync.Status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
