// Package workerserver is the demonstration worker: a small HTTP
// server that reports which worker answered and exposes the compute
// pool over HTTP. Real deployments replace it with their own server;
// the supervisor and proxy do not depend on it.
package workerserver

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/utopia-dart/utopia-loadbalancer/internal/computepool"
)

// Server answers every request with worker identity and delegates
// /compute calls to the pool.
type Server struct {
	echo *echo.Echo
	pool *computepool.Pool
	id   int
	port int
}

// New creates a worker server for the given identity.
func New(id, port int, pool *computepool.Pool) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, pool: pool, id: id, port: port}

	e.POST("/compute/:handler", s.compute)
	e.Any("/*", s.info)
	return s
}

// Start binds the worker port and serves until the listener is closed.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("worker %d: listening on %s", s.id, addr)
	return s.echo.Start(addr)
}

// Close closes the listener.
func (s *Server) Close() error {
	return s.echo.Close()
}

func (s *Server) info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"worker": s.id,
		"port":   s.port,
		"pid":    os.Getpid(),
	})
}

// compute runs the named handler on the request body and returns its
// result. Handler failures are the submitter's to see, not the pool's.
func (s *Server) compute(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}

	value, err := s.pool.Submit(c.Param("handler"), string(body))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"result": value})
}
