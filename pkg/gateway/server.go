package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/sameehj/gencad/pkg/metrics"
	"github.com/sameehj/gencad/pkg/pipeline"
	"github.com/sameehj/gencad/pkg/safety"
)

const shutdownTimeout = 5 * time.Second

// Server exposes the pipeline over HTTP.
type Server struct {
	addr           string
	controller     *pipeline.Controller
	validator      *safety.Validator
	authorizer     Authorizer
	audit          *safety.MemoryRecorder
	allowedOrigins []string
	tracing        bool
	logger         *slog.Logger
	started        time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	once    sync.Once
	handler http.Handler
}

// NewServer returns a gateway on addr. A nil validator or authorizer falls
// back to the defaults.
func NewServer(addr string, controller *pipeline.Controller, validator *safety.Validator, authorizer Authorizer) *Server {
	if authorizer == nil {
		authorizer = NoopAuthorizer{}
	}
	if validator == nil {
		validator = safety.Default()
	}
	return &Server{
		addr:       addr,
		controller: controller,
		validator:  validator,
		authorizer: authorizer,
		started:    time.Now(),
		sessions:   make(map[string]*Session),
	}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetAudit exposes recent validation decisions on /v1/audit.
func (s *Server) SetAudit(audit *safety.MemoryRecorder) {
	s.audit = audit
}

// SetAllowedOrigins enables CORS for the given browser origins.
func (s *Server) SetAllowedOrigins(origins []string) {
	s.allowedOrigins = origins
}

// EnableTracing wraps every request in an OpenTelemetry span.
func (s *Server) EnableTracing(enabled bool) {
	s.tracing = enabled
}

// Handler builds the router on first use.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		s.handler = s.router()
	})
	return s.handler
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.tracing {
		r.Use(otelgin.Middleware("gencad"))
	}
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.allowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Content-Type", requestIDHeader},
			MaxAge:       12 * time.Hour,
		}))
	}
	r.Use(s.authorize(), s.track(), observe())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	v1 := r.Group("/v1")
	v1.POST("/generate", s.handleGenerate)
	v1.POST("/validate", s.handleValidate)
	v1.GET("/rules", s.handleRules)
	v1.GET("/audit", s.handleAudit)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logInfo("gateway_listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logError("gateway_failed", "error", err)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logError("gateway_shutdown_failed", "error", err)
			return err
		}
		s.logInfo("gateway_stopped", "addr", s.addr)
		return ctx.Err()
	}
}

// observe records request counters and latency per route.
func observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) String() string {
	return fmt.Sprintf("gateway(%s)", s.addr)
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
