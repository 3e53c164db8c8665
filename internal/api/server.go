// Package api provides a read-only HTTP view of a running simulation.
// GET endpoints are public. POST endpoints require a bearer token.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/morphosim/internal/agents"
	"github.com/talgya/morphosim/internal/engine"
	"github.com/talgya/morphosim/internal/persistence"
	"github.com/talgya/morphosim/internal/space"
)

// Server serves simulation state over HTTP. Every read goes through
// Simulation.Snapshot, so handlers never observe a step in progress.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // Optional; enables /api/v1/stats/history
	Addr     string
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	srv *http.Server
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	// Full snapshots are the expensive reads.
	snapshotLimiter := NewRateLimiter(120, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", RateLimitMiddleware(snapshotLimiter, s.handleAgents))
	mux.HandleFunc("/api/v1/field", RateLimitMiddleware(snapshotLimiter, s.handleField))
	mux.HandleFunc("/api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("/api/v1/stop", s.adminOnly(s.handleStop))
	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", s.Addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed origins. Set
// MORPHOSIM_CORS_ORIGINS to a comma-separated list; localhost dev servers are
// always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("MORPHOSIM_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires POST with a valid bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no MORPHOSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Snapshot()

	status := map[string]any{
		"model":      snap.Model,
		"step":       snap.Step,
		"end_step":   s.Sim.Params.EndStep,
		"seed":       snap.Seed,
		"population": snap.Stats.Population,
		"extinct":    snap.Extinct,
		"states":     stateCounts(snap.States),
		"stats":      snap.Stats,
	}
	if s.Eng != nil {
		status["running"] = s.Eng.Running()
	}
	writeJSON(w, status)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("state")
	limit := -1
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v >= 0 {
			limit = v
		}
	}

	type agentSummary struct {
		Index    int        `json:"index"`
		Location space.Vec3 `json:"location"`
		Radius   float64    `json:"radius"`
		State    string     `json:"state"`
	}

	snap := s.Sim.Snapshot()
	result := []agentSummary{}
	for i, loc := range snap.Locations {
		if limit >= 0 && len(result) >= limit {
			break
		}
		state := snap.States[i]
		if filter != "" && state.String() != filter {
			continue
		}
		result = append(result, agentSummary{
			Index:    i,
			Location: loc,
			Radius:   snap.Radii[i],
			State:    state.String(),
		})
	}
	writeJSON(w, map[string]any{
		"step":   snap.Step,
		"count":  len(snap.Locations),
		"agents": result,
	})
}

func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Snapshot()
	if snap.Field == nil {
		http.Error(w, "model "+snap.Model+" has no field", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"step":  snap.Step,
		"field": snap.Field,
	})
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil || s.DB.RunID() == "" {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	rows, err := s.DB.PopulationHistory(s.DB.RunID())
	if err != nil {
		slog.Error("stats history query failed", "error", err)
		writeJSON(w, []persistence.StepRow{})
		return
	}
	if rows == nil {
		rows = []persistence.StepRow{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "no engine attached", http.StatusServiceUnavailable)
		return
	}
	s.Eng.Stop()
	slog.Info("stop requested over HTTP", "step", s.Sim.CurrentStep())
	writeJSON(w, map[string]any{"stopping": true, "step": s.Sim.CurrentStep()})
}

// stateCounts tallies agents per state name.
func stateCounts(states []agents.State) map[string]int {
	out := make(map[string]int, 3)
	for _, st := range states {
		out[st.String()]++
	}
	return out
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
