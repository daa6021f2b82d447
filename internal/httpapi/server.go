package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/xdien/cipher/internal/fleet"
	"github.com/xdien/cipher/internal/logger"
	"github.com/xdien/cipher/internal/tools/unified"
	"github.com/xdien/cipher/internal/util"
)

// Config holds the management surface's own listener settings, separate
// from the fleet/tools config it serves.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// GlobalRequestsPerMinute and PerIPRequestsPerMinute bound the
	// management surface's request rate; 0 disables that check.
	GlobalRequestsPerMinute int
	PerIPRequestsPerMinute  int
	BurstSize               int

	// TrustProxyHeaders and TrustedProxyCIDRs control whether
	// X-Forwarded-For/X-Real-IP are honoured for client-IP resolution
	// (logging, rate limiting). Off by default: the management surface is
	// meant to be bound to localhost, not sat behind a reverse proxy.
	TrustProxyHeaders bool
	TrustedProxyCIDRs []string
}

// DefaultConfig mirrors the teacher's server section defaults.
func DefaultConfig() Config {
	return Config{
		Host:                    "localhost",
		Port:                    19842,
		ReadTimeout:             30 * time.Second,
		WriteTimeout:            30 * time.Second,
		ShutdownTimeout:         10 * time.Second,
		GlobalRequestsPerMinute: 600,
		PerIPRequestsPerMinute:  120,
		BurstSize:               20,
	}
}

// Server is the management HTTP surface over a fleet and its unified tool
// catalog.
type Server struct {
	cfg          Config
	fleet        *fleet.Manager
	tools        *unified.Manager
	log          *logger.StyledLogger
	server       *http.Server
	limiter      *rateLimiter
	trustedCIDRs []*net.IPNet
}

// New constructs a Server. Routes are registered at construction; Start
// only opens the listener. If any entry in cfg.TrustedProxyCIDRs is
// malformed, the error is logged and the whole list is ignored (no proxy
// is trusted) rather than failing construction.
func New(cfg Config, f *fleet.Manager, t *unified.Manager, log *logger.StyledLogger) *Server {
	s := &Server{cfg: cfg, fleet: f, tools: t, log: log}
	if cfg.GlobalRequestsPerMinute > 0 || cfg.PerIPRequestsPerMinute > 0 {
		s.limiter = newRateLimiter(cfg.GlobalRequestsPerMinute, cfg.PerIPRequestsPerMinute, cfg.BurstSize)
	}
	if cidrs, err := util.ParseTrustedCIDRs(cfg.TrustedProxyCIDRs); err != nil {
		if log != nil {
			log.Warn("ignoring invalid trusted proxy CIDRs", "error", err)
		}
	} else {
		s.trustedCIDRs = cidrs
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers", s.handleListServers)
	mux.HandleFunc("POST /servers", s.handleAddServer)
	mux.HandleFunc("DELETE /servers/{name}", s.handleRemoveServer)
	mux.HandleFunc("GET /servers/{name}/tools", s.handleServerTools)
	mux.HandleFunc("POST /servers/{name}/tools/{tool}/execute", s.handleExecuteServerTool)
	mux.HandleFunc("GET /tools", s.handleListAllTools)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.logRequests(s.rateLimit(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// logRequests logs every management-surface request at debug level with
// the caller's address.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.log != nil {
			s.log.Debug("management request",
				"method", r.Method,
				"path", r.URL.Path,
				"client", util.GetClientIP(r, s.cfg.TrustProxyHeaders, s.trustedCIDRs),
				"duration", time.Since(start),
			)
		}
	})
}

// Start opens the listener in the background. A brief pause lets the
// listener bind before returning, mirroring the teacher's readiness-report
// convention.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.Error("management http server error", "error", err)
			}
		}
	}()
	time.Sleep(100 * time.Millisecond)
	if s.log != nil {
		s.log.Info("management surface listening", "address", s.server.Addr)
	}
	return nil
}

// Stop gracefully shuts the listener down, bounded by cfg.ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the underlying http.Handler for tests that want to drive
// it with httptest.NewServer/NewRequest directly instead of going through
// Start/Stop.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
