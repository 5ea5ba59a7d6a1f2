package server

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/expenso/bill-tracker/internal/bill"
	"github.com/expenso/bill-tracker/internal/extraction"
	"github.com/expenso/bill-tracker/internal/policy"
	"github.com/expenso/bill-tracker/internal/risk"
)

// defaultOwner is applied when a request names no owner.
const defaultOwner = "default_user"

// Server handles HTTP requests for bills. The extractor, policy checker and
// risk scorer are optional collaborators; endpoints depending on a missing
// one answer 503.
type Server struct {
	service   *bill.Service
	extractor extraction.Extractor
	checker   policy.Checker
	scorer    risk.Scorer
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// New creates a new Server with default mux.
func New(service *bill.Service, extractor extraction.Extractor, checker policy.Checker, scorer risk.Scorer, basicAuth BasicAuth) *Server {
	s := &Server{
		service:   service,
		extractor: extractor,
		checker:   checker,
		scorer:    scorer,
		basicAuth: basicAuth,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials.
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers and answers preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// requireAuth middleware.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Bill Tracker"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes, most specific paths first.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/process-invoice", s.requireAuth(s.handleProcessInvoice))
	s.mux.HandleFunc("POST /api/policy-check", s.requireAuth(s.handlePolicyCheck))

	s.mux.HandleFunc("POST /api/bills/check", s.requireAuth(s.handleCheckBill))
	s.mux.HandleFunc("POST /api/bills/risk", s.requireAuth(s.handleAnnotateRisk))
	s.mux.HandleFunc("GET /api/bills/all", s.requireAuth(s.handleListAllBills))
	s.mux.HandleFunc("GET /api/bills", s.requireAuth(s.handleListBills))
	s.mux.HandleFunc("POST /api/bills", s.requireAuth(s.handleAcceptBill))
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(s.mux.ServeHTTP)(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux.ServeHTTP)(w, r)
}
