// Package proxy implements the HTTP/1.1 reverse proxy that distributes
// client traffic across the cluster's workers.
package proxy

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/utopia-dart/utopia-loadbalancer/internal/cluster"
	"github.com/utopia-dart/utopia-loadbalancer/internal/config"
	"github.com/utopia-dart/utopia-loadbalancer/internal/metrics"
)

// Roster is the proxy's view of the supervisor's worker list.
type Roster interface {
	Snapshot() []*cluster.WorkerHandle
}

// Server reverse-proxies every incoming request to a worker chosen by
// the configured strategy, tracking in-flight streams per worker.
type Server struct {
	echo      *echo.Echo
	roster    Roster
	selector  Selector
	port      int
	transport *http.Transport
}

// New creates a proxy over the given roster.
func New(cfg *config.Config, roster Roster) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		roster:   roster,
		selector: NewSelector(cfg.Strategy),
		port:     cfg.ProxyPort,
		// One upstream connection per request keeps the per-worker
		// counters aligned with actual in-flight streams. No dial or
		// response timeouts: an exchange runs until a side closes.
		transport: &http.Transport{DisableKeepAlives: true},
	}

	e.Any("/*", s.handle)
	return s
}

// Start binds 0.0.0.0 on the configured port and serves until the
// listener is closed.
func (s *Server) Start() error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.port)
	log.Printf("proxy: listening on %s", addr)
	return s.echo.Start(addr)
}

// Close closes the listener.
func (s *Server) Close() error {
	return s.echo.Close()
}

func (s *Server) handle(c echo.Context) error {
	w := s.selector.Select(s.roster.Snapshot())
	if w == nil {
		metrics.ProxyErrorsTotal.WithLabelValues("no_backend").Inc()
		return badGateway(c)
	}

	workerLabel := strconv.Itoa(w.ID)
	w.AcquireConnection()
	metrics.ActiveConnections.WithLabelValues(workerLabel).Inc()
	defer func() {
		w.ReleaseConnection()
		metrics.ActiveConnections.WithLabelValues(workerLabel).Dec()
	}()

	req := c.Request()
	target := fmt.Sprintf("http://127.0.0.1:%d%s", w.Port, req.URL.RequestURI())
	upstream, err := http.NewRequestWithContext(req.Context(), req.Method, target, req.Body)
	if err != nil {
		metrics.ProxyErrorsTotal.WithLabelValues("bad_request").Inc()
		return badGateway(c)
	}

	// Every header crosses verbatim. Host is not among them: Go keeps
	// it outside the header map, and the upstream request derives its
	// own Host from the loopback target.
	copyHeaders(upstream.Header, req.Header)
	upstream.ContentLength = req.ContentLength

	resp, err := s.transport.RoundTrip(upstream)
	if err != nil {
		log.Printf("proxy: worker %d (port %d): %v", w.ID, w.Port, err)
		metrics.ProxyErrorsTotal.WithLabelValues("upstream").Inc()
		return badGateway(c)
	}
	defer resp.Body.Close()

	copyHeaders(c.Response().Header(), resp.Header)
	c.Response().WriteHeader(resp.StatusCode)
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		// Client or worker went away mid-stream; the response can no
		// longer be completed, and no error body may follow bytes
		// already written.
		return nil
	}

	metrics.ProxyRequestsTotal.WithLabelValues(workerLabel, strconv.Itoa(resp.StatusCode)).Inc()
	return nil
}

// badGateway writes the fixed 502 error response. Errors while writing
// it are swallowed.
func badGateway(c echo.Context) error {
	_ = c.Blob(http.StatusBadGateway, "text/plain", []byte("Bad Gateway"))
	return nil
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
