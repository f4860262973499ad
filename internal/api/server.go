// Package api serves the HTTP status surface next to the WebSocket
// endpoints. Pure read-side: every handler works from registry snapshots.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fordward/relay/internal/history"
	"github.com/fordward/relay/internal/registry"
	"github.com/fordward/relay/pkg/types"
)

const serviceName = "fordward-relay"

// Server exposes /, /health, /robots, /robots/{id} and /history.
type Server struct {
	robots  *registry.Robots
	clients *registry.Clients
	store   *history.Store // may be nil
	mux     *http.ServeMux
	log     zerolog.Logger
}

// NewServer builds the HTTP surface over the shared registries.
func NewServer(robots *registry.Robots, clients *registry.Clients, store *history.Store, log zerolog.Logger) *Server {
	s := &Server{
		robots:  robots,
		clients: clients,
		store:   store,
		mux:     http.NewServeMux(),
		log:     log.With().Str("component", "api").Logger(),
	}
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/robots", s.handleRobots)
	s.mux.HandleFunc("/robots/", s.handleRobotByID)
	s.mux.HandleFunc("/history", s.handleHistory)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// RobotProjection is the HTTP view of one robot.
type RobotProjection struct {
	RobotID      string            `json:"robotId"`
	Online       bool              `json:"online"`
	LastSeen     time.Time         `json:"lastSeen"`
	Version      string            `json:"version"`
	Capabilities []string          `json:"capabilities"`
	Mode         string            `json:"mode"`
	Telemetry    map[string]any    `json:"telemetry,omitempty"`
	Control      types.ControlView `json:"control"`
}

func projection(snap registry.RobotSnapshot) RobotProjection {
	mode := "unknown"
	if m, ok := snap.Telemetry["mode"].(string); ok && m != "" {
		mode = m
	}
	return RobotProjection{
		RobotID:      snap.ID,
		Online:       snap.Online,
		LastSeen:     snap.LastSeen,
		Version:      snap.Version,
		Capabilities: snap.Capabilities,
		Mode:         mode,
		Telemetry:    snap.Telemetry,
		Control:      snap.Control,
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.sendError(w, http.StatusNotFound, "Not found")
		return
	}

	snaps := s.robots.List()
	robots := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		proj := projection(snap)
		robots = append(robots, map[string]any{
			"robotId":    proj.RobotID,
			"online":     proj.Online,
			"lastSeen":   proj.LastSeen,
			"mode":       proj.Mode,
			"hasControl": snap.Control.OwnerClientID != nil,
		})
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"robots":    robots,
		"uiClients": s.clients.Count(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	historyStatus := "disabled"
	if s.store != nil {
		historyStatus = "healthy"
		if err := s.store.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			historyStatus = fmt.Sprintf("error: %v", err)
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, map[string]any{
		"status":    status,
		"history":   historyStatus,
		"robots":    s.robots.Count(),
		"uiClients": s.clients.Count(),
	})
}

func (s *Server) handleRobots(w http.ResponseWriter, _ *http.Request) {
	snaps := s.robots.List()
	robots := make([]RobotProjection, 0, len(snaps))
	for _, snap := range snaps {
		robots = append(robots, projection(snap))
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"robots":    robots,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleRobotByID(w http.ResponseWriter, r *http.Request) {
	robotID := strings.TrimPrefix(r.URL.Path, "/robots/")
	if robotID == "" || strings.Contains(robotID, "/") {
		s.sendError(w, http.StatusNotFound, "Robot not found")
		return
	}

	snap, ok := s.robots.Snapshot(robotID)
	if !ok {
		s.sendError(w, http.StatusNotFound, "Robot not found")
		return
	}
	s.sendJSON(w, http.StatusOK, projection(snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.sendError(w, http.StatusNotFound, "History disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("history query failed")
		s.sendError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"events":    events,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("response encode failed")
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
