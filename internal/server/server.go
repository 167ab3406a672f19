// Package server exposes the approval channel over HTTP: pending
// approvals and their resolution, dry-run permission checks, the live
// policy, the audit trail, grants, and a WebSocket event stream. It is
// the surface an external approval UI talks to.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mackeh/WardClaw/internal/approval"
	"github.com/mackeh/WardClaw/internal/config"
	"github.com/mackeh/WardClaw/internal/grants"
	"github.com/mackeh/WardClaw/internal/policy"
	"github.com/mackeh/WardClaw/internal/system"
	"github.com/mackeh/WardClaw/internal/warden"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAddr is the loopback address the API binds to when the
// configuration does not say otherwise.
const DefaultAddr = "127.0.0.1:8787"

// Options configures a Server.
type Options struct {
	Addr    string
	Auth    config.AuthConfig
	Version string
}

// Server is the approval-channel HTTP API over one warden.Manager.
type Server struct {
	manager *warden.Manager
	pending *PendingStore
	hub     *Hub
	auth    config.AuthConfig
	addr    string
	version string
	httpSrv *http.Server
}

// New builds a server around a manager. The hub is registered on the
// manager's event dispatcher so decisions stream to WebSocket clients;
// installing the pending store as the approval handler is the caller's
// choice (SetApprovalHandler(srv.Pending())).
func New(m *warden.Manager, opts Options) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		manager: m,
		pending: NewPendingStore(),
		hub:     NewHub(),
		auth:    opts.Auth,
		addr:    addr,
		version: opts.Version,
	}
	m.Events().Register(s.hub.Notifier())
	return s
}

// Pending exposes the pending-approval store, an approval.Approver.
func (s *Server) Pending() *PendingStore { return s.pending }

// Hub exposes the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	viewer := func(h http.HandlerFunc) http.HandlerFunc {
		return AuthMiddleware(s.auth, RoleViewer, h)
	}
	operator := func(h http.HandlerFunc) http.HandlerFunc {
		return AuthMiddleware(s.auth, RoleOperator, h)
	}
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return AuthMiddleware(s.auth, RoleAdmin, h)
	}

	mux.HandleFunc("POST /api/check", viewer(s.handleCheck))
	mux.HandleFunc("GET /api/tools", viewer(s.handleTools))
	mux.HandleFunc("GET /api/approvals", operator(s.handleApprovalsList))
	mux.HandleFunc("POST /api/approvals/{id}", operator(s.handleApprovalResolve))
	mux.HandleFunc("GET /api/policy", viewer(s.handlePolicyGet))
	mux.HandleFunc("PATCH /api/policy", admin(s.handlePolicyPatch))
	mux.HandleFunc("POST /api/policy/blocked-paths", admin(s.handleAddBlockedPath))
	mux.HandleFunc("POST /api/policy/blocked-commands", admin(s.handleAddBlockedCommand))
	mux.HandleFunc("POST /api/policy/allowed-paths", admin(s.handleAddAllowedPath))
	mux.HandleFunc("GET /api/audit", viewer(s.handleAuditList))
	mux.HandleFunc("GET /api/audit/verify", viewer(s.handleAuditVerify))
	mux.HandleFunc("GET /api/grants", operator(s.handleGrantsList))
	mux.HandleFunc("POST /api/grants", operator(s.handleGrantsAdd))
	mux.HandleFunc("POST /api/grants/revoke", operator(s.handleGrantsRevoke))
	mux.HandleFunc("POST /api/lockdown", admin(s.handleLockdown))
	mux.HandleFunc("POST /api/unlock", admin(s.handleUnlock))
	mux.HandleFunc("GET /api/ws", viewer(s.hub.ServeWS))

	return mux
}

// Start blocks serving the API until Shutdown or a listener error.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	fmt.Printf("📡 WardClaw approval API listening on %s\n", s.addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	locked, _, _ := system.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"lockdown":          locked,
		"pending_approvals": s.pending.Len(),
		"ws_clients":        s.hub.ClientCount(),
	})
}

type checkRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// handleCheck runs a dry-run permission check. No audit entry is
// written and no approval is requested.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	result := s.manager.Check(r.Context(), req.Tool, req.Args)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.manager.Registry().Names(),
	})
}

func (s *Server) handleApprovalsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": s.pending.List(),
	})
}

type resolveRequest struct {
	Verdict string `json:"verdict"` // approve | deny | always
}

func (s *Server) handleApprovalResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var verdict approval.Verdict
	switch req.Verdict {
	case "approve":
		verdict = approval.VerdictApprove
	case "deny":
		verdict = approval.VerdictDeny
	case "always":
		verdict = approval.VerdictAlways
	default:
		writeError(w, http.StatusBadRequest, "verdict must be approve, deny, or always")
		return
	}

	if !s.pending.Resolve(id, verdict) {
		writeError(w, http.StatusNotFound, "no pending approval with that id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": id, "verdict": req.Verdict})
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Policy())
}

func (s *Server) handlePolicyPatch(w http.ResponseWriter, r *http.Request) {
	var patch policy.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.manager.UpdatePolicy(patch))
}

type patternRequest struct {
	Pattern string `json:"pattern"`
}

func (s *Server) handleAddBlockedPath(w http.ResponseWriter, r *http.Request) {
	s.handleAddPattern(w, r, s.manager.AddBlockedPath)
}

func (s *Server) handleAddBlockedCommand(w http.ResponseWriter, r *http.Request) {
	s.handleAddPattern(w, r, s.manager.AddBlockedCommand)
}

func (s *Server) handleAddAllowedPath(w http.ResponseWriter, r *http.Request) {
	s.handleAddPattern(w, r, s.manager.AddAllowedPath)
}

func (s *Server) handleAddPattern(w http.ResponseWriter, r *http.Request, add func(string)) {
	var req patternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	add(req.Pattern)
	writeJSON(w, http.StatusOK, s.manager.Policy())
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.manager.Audit().Recent(limit),
	})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Audit().Verify(); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleGrantsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": s.manager.Principal(),
		"grants":    s.manager.Grants().List(s.manager.Principal()),
	})
}

type grantRequest struct {
	Category   string `json:"category"`
	Scope      string `json:"scope,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

func (s *Server) handleGrantsAdd(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}

	g := s.manager.Grants().Grant(req.Category, req.Scope, grants.Options{
		Duration:  time.Duration(req.DurationMS) * time.Millisecond,
		Principal: s.manager.Principal(),
		GrantedBy: grants.GrantedByUser,
	})
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleGrantsRevoke(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	removed := s.manager.Grants().Revoke(req.Category, req.Scope, s.manager.Principal())
	if !removed {
		writeError(w, http.StatusNotFound, "no matching grant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

type lockdownRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleLockdown(w http.ResponseWriter, r *http.Request) {
	var req lockdownRequest
	if r.Body != nil {
		// Body is optional; a bare POST engages with a generic reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "engaged via API"
	}
	s.manager.Lockdown(req.Reason)
	writeJSON(w, http.StatusOK, map[string]any{"lockdown": true, "reason": req.Reason})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	s.manager.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"lockdown": false})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
