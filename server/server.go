// Package server exposes the coordination core over the narrow HTTP and
// websocket boundary the host UI consumes: the group-config endpoint
// pair, the plan/trigger/release operations, a debug stats endpoint and
// the push-notification channel.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/richinsley/comfycoord/cache"
	"github.com/richinsley/comfycoord/coordinator"
	"github.com/richinsley/comfycoord/groupexec"
	"github.com/richinsley/comfycoord/monitor"
)

// Options tunes the composed services.
type Options struct {
	Coordinator *coordinator.Options
	Trigger     *groupexec.TriggerOptions
	Manager     *groupexec.ManagerOptions
	Store       *cache.StoreOptions
	ImageCache  *cache.ImageCacheManagerOptions
}

// Server is the composition root: it constructs the single per-process
// instance of every core service and wires them together. Nothing here is
// an ambient global; tests build isolated Servers of their own.
type Server struct {
	router *mux.Router
	hub    *Hub

	Config      *groupexec.ConfigStore
	Coordinator *coordinator.Coordinator
	Manager     *groupexec.Manager
	Trigger     *groupexec.Trigger
	Images      *cache.ImageCacheManager
	Texts       *cache.TextCacheManager
}

// New builds a fully wired server. tempDir is the host-provided directory
// for cached image files; opts may be nil for defaults.
func New(tempDir string, opts *Options) *Server {
	if opts == nil {
		opts = &Options{}
	}

	hub := NewHub()
	coord := coordinator.NewCoordinator(opts.Coordinator)
	config := groupexec.NewConfigStore()
	images := cache.NewImageCacheManager(cache.NewStore(opts.Store), tempDir, hub, opts.ImageCache)
	texts := cache.NewTextCacheManager(cache.NewStore(opts.Store), hub)
	manager := groupexec.NewManager(config, coord, opts.Manager)
	trigger := groupexec.NewTrigger(hub, []groupexec.Clearer{images, texts}, opts.Trigger)

	s := &Server{
		router:      mux.NewRouter(),
		hub:         hub,
		Config:      config,
		Coordinator: coord,
		Manager:     manager,
		Trigger:     trigger,
		Images:      images,
		Texts:       texts,
	}
	s.routes()
	return s
}

// Hub returns the push hub, for callers that need to push their own
// events through the same connections.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	slog.Info("comfycoord server listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) routes() {
	s.router.HandleFunc("/group_config/save", s.handleConfigSave).Methods("POST")
	s.router.HandleFunc("/group_config/load", s.handleConfigLoad).Methods("GET")
	s.router.HandleFunc("/groupexec/plan", s.handlePlan).Methods("POST")
	s.router.HandleFunc("/groupexec/trigger", s.handleTrigger).Methods("POST")
	s.router.HandleFunc("/groupexec/release", s.handleRelease).Methods("POST")
	s.router.HandleFunc("/groupexec/force_release", s.handleForceRelease).Methods("POST")
	s.router.HandleFunc("/system_stats", s.handleSystemStats).Methods("GET")
	s.router.HandleFunc("/ws", s.hub.ServeWS)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) handleConfigSave(w http.ResponseWriter, r *http.Request) {
	var groups []groupexec.GroupDescriptor
	if err := json.NewDecoder(r.Body).Decode(&groups); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.Config.SetGroupConfig(groups)
	hash, err := s.Config.Hash()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"group_count": len(groups),
		"config_hash": hash,
	})
}

func (s *Server) handleConfigLoad(w http.ResponseWriter, r *http.Request) {
	groups := s.Config.GetGroupConfig()
	hash, _ := s.Config.Hash()
	writeJSON(w, http.StatusOK, map[string]any{
		"groups":      groups,
		"config_hash": hash,
	})
}

// handlePlan builds a plan for the requesting client. The payload is
// already plan-shaped for every failure mode, so the HTTP status is
// always 200; callers inspect execution_plan.disabled.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	payload := s.Manager.CreateExecutionPlanFor(clientID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, payload)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result := s.Trigger.Trigger(string(body), clientID)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExecutionID string `json:"execution_id"`
		Status      string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.Manager.ReleaseExecution(req.ExecutionID, coordinator.Status(req.Status))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	s.Coordinator.ForceReleaseAll()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"memory":        monitor.Snapshot(),
		"push_clients":  s.hub.ClientCount(),
		"image_session": s.Images.Store().Stats(),
		"text_session":  s.Texts.Store().Stats(),
		"current_exec":  s.Coordinator.CurrentExecution(),
	})
}
