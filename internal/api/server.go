// Package api is the HTTP boundary: it translates requests into
// component calls under role-based authorization and renders the
// uniform JSON surface.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatepass/backend/internal/audit"
	"github.com/gatepass/backend/internal/auth"
	"github.com/gatepass/backend/internal/geofence"
	"github.com/gatepass/backend/internal/metrics"
	"github.com/gatepass/backend/internal/notify"
	"github.com/gatepass/backend/internal/pass"
	"github.com/gatepass/backend/internal/store"
	"github.com/gatepass/backend/internal/verify"
)

// Server wires every component behind the HTTP surface.
type Server struct {
	store     store.Store
	sessions  *auth.Sessions
	engine    *pass.Engine
	verifier  *verify.Verifier
	recorder  *audit.Recorder
	analytics *audit.Analytics
	stream    *audit.StreamHandler
	fence     *geofence.Evaluator
	policies  *geofence.PolicyStore
	notify    *notify.Dispatcher
	metrics   *metrics.Metrics

	allowedOrigins []string
	limiter        *rateLimiter
	router         *mux.Router
}

// Deps carries the constructor dependencies for Server.
type Deps struct {
	Store     store.Store
	Sessions  *auth.Sessions
	Engine    *pass.Engine
	Verifier  *verify.Verifier
	Recorder  *audit.Recorder
	Analytics *audit.Analytics
	Stream    *audit.StreamHandler
	Fence     *geofence.Evaluator
	Policies  *geofence.PolicyStore
	Notify    *notify.Dispatcher
	Metrics   *metrics.Metrics

	AllowedOrigins []string
}

func NewServer(d Deps) *Server {
	s := &Server{
		store:          d.Store,
		sessions:       d.Sessions,
		engine:         d.Engine,
		verifier:       d.Verifier,
		recorder:       d.Recorder,
		analytics:      d.Analytics,
		stream:         d.Stream,
		fence:          d.Fence,
		policies:       d.Policies,
		notify:         d.Notify,
		metrics:        d.Metrics,
		allowedOrigins: d.AllowedOrigins,
		limiter:        newRateLimiter(60),
	}
	s.router = s.routes()
	return s
}

// Handler returns the fully middleware-wrapped root handler.
func (s *Server) Handler() http.Handler { return s.cors(s.router) }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	// Sessions.
	r.HandleFunc("/auth/login", s.limit(s.handleLogin)).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.requireAuth(s.handleMe)).Methods(http.MethodGet)

	// Pass lifecycle.
	r.HandleFunc("/passes", s.requireRole(s.handleCreatePass, store.RoleStudent)).Methods(http.MethodPost)
	r.HandleFunc("/passes", s.requireAuth(s.handleListPasses)).Methods(http.MethodGet)
	r.HandleFunc("/passes/daily-entry", s.requireRole(s.handleDailyPass, store.RoleStudent)).Methods(http.MethodPost)
	r.HandleFunc("/passes/{id:[0-9]+}/approve", s.requireRole(s.handleApprovePass, store.RoleAdmin)).Methods(http.MethodPost)
	r.HandleFunc("/passes/{id:[0-9]+}/reject", s.requireRole(s.handleRejectPass, store.RoleAdmin)).Methods(http.MethodPost)
	r.HandleFunc("/passes/{id:[0-9]+}", s.requireAuth(s.handleGetPass)).Methods(http.MethodGet)

	// Gate.
	r.HandleFunc("/verify", s.limit(s.requireRole(s.handleVerify, store.RoleGuard, store.RoleAdmin))).Methods(http.MethodPost)
	r.HandleFunc("/api/emergency_exit", s.requireRole(s.handleEmergencyExit, store.RoleStudent)).Methods(http.MethodPost)

	// Scan log and analytics.
	r.HandleFunc("/scans", s.requireRole(s.handleListScans, store.RoleAdmin, store.RoleGuard)).Methods(http.MethodGet)
	r.HandleFunc("/scans/stats", s.requireRole(s.handleScanStats, store.RoleAdmin, store.RoleGuard)).Methods(http.MethodGet)
	r.HandleFunc("/api/logs/recent", s.requireRole(s.handleLogsRecent, store.RoleAdmin, store.RoleGuard)).Methods(http.MethodGet)
	r.HandleFunc("/api/logs/statistics", s.requireRole(s.handleLogsStatistics, store.RoleAdmin, store.RoleGuard)).Methods(http.MethodGet)
	r.HandleFunc("/api/logs/hourly", s.requireRole(s.handleLogsHourly, store.RoleAdmin, store.RoleGuard)).Methods(http.MethodGet)
	r.HandleFunc("/api/logs/daily", s.requireRole(s.handleLogsDaily, store.RoleAdmin, store.RoleGuard)).Methods(http.MethodGet)
	r.HandleFunc("/api/logs/top_students", s.requireRole(s.handleLogsTopStudents, store.RoleAdmin, store.RoleGuard)).Methods(http.MethodGet)
	r.HandleFunc("/api/logs/search", s.requireRole(s.handleLogsSearch, store.RoleAdmin, store.RoleGuard)).Methods(http.MethodGet)
	r.Handle("/ws/logs", s.stream).Methods(http.MethodGet)

	// Location policy.
	r.HandleFunc("/api/admin/location", s.requireRole(s.handleGetPolicy, store.RoleAdmin)).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/location", s.requireRole(s.handleSetPolicy, store.RoleAdmin)).Methods(http.MethodPost)
	r.HandleFunc("/api/location", s.handlePublicLocation).Methods(http.MethodGet)
	r.HandleFunc("/api/validate_location", s.requireAuth(s.handleValidateLocation)).Methods(http.MethodPost)

	// Profile and guardians.
	r.HandleFunc("/api/update_contact", s.requireRole(s.handleUpdateContact, store.RoleStudent)).Methods(http.MethodPost)
	r.HandleFunc("/api/register_fcm_token", s.requireAuth(s.handleRegisterPushToken)).Methods(http.MethodPost)
	r.HandleFunc("/api/parent/student_history/{code}", s.requireAuth(s.handleStudentHistory)).Methods(http.MethodGet)

	// Operational.
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}
