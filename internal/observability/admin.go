package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Health is the /health body.
type Health struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	SessionID string `json:"session_id,omitempty"`
	MachineID uint32 `json:"machine_id,omitempty"`
	State     string `json:"state,omitempty"`
}

// HealthFunc reports the current endpoint state.
type HealthFunc func() Health

// AdminServer exposes /health and /metrics over HTTP.
type AdminServer struct {
	node    string
	logger  zerolog.Logger
	health  HealthFunc
	origins []string
	srv     *http.Server
	ln      net.Listener
}

// NewAdminServer builds the admin surface. Browser dashboards are allowed
// from origins, or from http://localhost:3000 when none are given.
func NewAdminServer(node string, logger zerolog.Logger, health HealthFunc, origins ...string) *AdminServer {
	gin.SetMode(gin.ReleaseMode)
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	a := &AdminServer{node: node, logger: logger, health: health, origins: origins}
	a.srv = &http.Server{Handler: a.Router(), ReadHeaderTimeout: 5 * time.Second}
	return a
}

// Router builds the gin engine; exposed for httptest.
func (a *AdminServer) Router() *gin.Engine {
	RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(a.logger), RequestMetricsMiddleware(a.node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: a.origins,
		AllowMethods: []string{http.MethodGet},
		AllowHeaders: []string{"Origin"},
		MaxAge:       12 * time.Hour,
	}))
	r.GET("/health", func(c *gin.Context) {
		h := Health{Status: "ok"}
		if a.health != nil {
			h = a.health()
			if h.Status == "" {
				h.Status = "ok"
			}
		}
		c.JSON(http.StatusOK, h)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Start listens on addr and serves in the background.
func (a *AdminServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.ln = ln
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("admin server stopped")
		}
	}()
	a.logger.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")
	return nil
}

// Addr is the bound address once Start has returned.
func (a *AdminServer) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}
