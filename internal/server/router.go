package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/respawn/internal/metrics"
	"github.com/loykin/respawn/internal/supervisor"
)

// StatusSource is implemented by *supervisor.Supervisor.
type StatusSource interface {
	Status() supervisor.Status
}

// Router provides embeddable HTTP handlers exposing supervisor state.
// Endpoints:
//
//	GET {basePath}/status   supervisor status as JSON
//	GET {basePath}/healthz  200 while a worker runs, 503 otherwise
//	GET /metrics            Prometheus metrics (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      StatusSource
	basePath string
	metrics  bool
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/sup" results in /sup/status and /sup/healthz.
func NewRouter(src StatusSource, basePath string, withMetrics bool) *Router {
	return &Router{src: src, basePath: sanitizeBase(basePath), metrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealth)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

type healthResp struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Phase  string `json:"phase"`
	PID    int    `json:"pid,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.src.Status())
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.src.Status()
	resp := healthResp{State: st.State, Phase: string(st.Phase), PID: st.PID}
	if st.Running() {
		resp.Status = "ok"
		writeJSON(c, http.StatusOK, resp)
		return
	}
	resp.Status = "unavailable"
	writeJSON(c, http.StatusServiceUnavailable, resp)
}

// NewServer returns an unstarted HTTP server for handler with the usual timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Start binds srv.Addr synchronously, so address errors surface to the
// caller, and serves in the background. TLS is used when srv.TLSConfig is
// set. The returned channel receives the serve error, if any, and is closed
// when serving stops.
func Start(srv *http.Server) (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return ln.Addr(), errCh, nil
}
