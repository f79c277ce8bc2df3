package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/apiresponses"
	"github.com/telekom/mailqueue/pkg/config"
	"github.com/telekom/mailqueue/pkg/metrics"
	"github.com/telekom/mailqueue/pkg/ratelimit"
	"github.com/telekom/mailqueue/pkg/system"
	"github.com/telekom/mailqueue/pkg/version"
)

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin            *gin.Engine
	http           *http.Server
	config         config.Server
	log            *zap.SugaredLogger
	contactLimiter *ratelimit.IPRateLimiter
}

// devOrigins are allowed in debug mode when no origins are configured.
var devOrigins = []string{"http://localhost:5173", "http://127.0.0.1:8080"}

func NewServer(log *zap.Logger, cfg config.Server, debug bool) (*Server, error) {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
	)

	// nil disables trusting X-Forwarded-For so rate limiting keys on the peer address.
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server.trustedProxies: %w", err)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 && debug {
		origins = devOrigins
	}
	if len(origins) > 0 {
		corsCfg := cors.Config{
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", system.RequestIDHeader},
			MaxAge:       12 * time.Hour,
		}
		if containsWildcard(origins) {
			corsCfg.AllowAllOrigins = true
		} else {
			corsCfg.AllowOrigins = origins
		}
		if err := corsCfg.Validate(); err != nil {
			return nil, fmt.Errorf("server.allowedOrigins: %w", err)
		}
		engine.Use(cors.New(corsCfg))
	}

	engine.NoRoute(func(c *gin.Context) {
		apiresponses.RespondNotFoundSimple(c, "no route for "+c.Request.Method+" "+c.Request.URL.Path)
	})

	s := &Server{
		gin:            engine,
		config:         cfg,
		log:            log.Sugar().Named("api"),
		contactLimiter: ratelimit.New(ratelimit.FromServerConfig(cfg.RateLimit)),
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))
	engine.GET("/api/version", func(c *gin.Context) {
		apiresponses.RespondOK(c, version.GetBuildInfo())
	})

	return s, nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// RegisterHealth adds /healthz, which always succeeds while the process
// serves requests, and /readyz, which reports ready().
func (s *Server) RegisterHealth(ready func() (bool, string)) {
	s.gin.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.gin.GET("/readyz", func(c *gin.Context) {
		ok, reason := ready()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": reason})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api")
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// ContactRateLimit returns the middleware limiting contact form submissions.
func (s *Server) ContactRateLimit() gin.HandlerFunc {
	return s.contactLimiter.Middleware()
}

// UpdateRateLimit applies a reloaded server.rateLimit section.
func (s *Server) UpdateRateLimit(rl config.RateLimit) {
	cfg := ratelimit.FromServerConfig(rl)
	s.contactLimiter.Update(cfg.Rate, cfg.Burst)
}

func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves on the configured address, with TLS when both certificate
// and key are configured. It returns nil after Shutdown.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	s.log.Infow("HTTP server listening", "address", l.Addr().String(), "tls", s.tlsEnabled())
	var err error
	if s.tlsEnabled() {
		err = s.http.ServeTLS(l, s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.http.Serve(l)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) tlsEnabled() bool {
	return s.config.TLSCertFile != "" && s.config.TLSKeyFile != ""
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

// Close releases background resources. It is safe to call more than once.
func (s *Server) Close() {
	if s.contactLimiter != nil {
		s.contactLimiter.Stop()
	}
}
