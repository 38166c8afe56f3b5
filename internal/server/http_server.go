package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smukkama/signaltrail/pkg/config"
)

// NewRouter registers the API routes on a new gin engine
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		ingest := v1.Group("/ingest")
		ingest.POST("", h.Ingest)
		ingest.POST("/", h.Ingest)
		ingest.GET("/health", h.IngestHealth)

		navigate := v1.Group("/navigate")
		navigate.GET("/vector", h.Vector)
		navigate.GET("/heatmap", h.Heatmap)
		navigate.POST("/aggregate-area", h.AggregateArea)
	}

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[HTTP] %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// HTTPServer serves the API
type HTTPServer struct {
	config   *config.HTTPConfig
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewHTTPServer creates a new HTTP server for handler
func NewHTTPServer(cfg *config.HTTPConfig, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		config: cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Start starts listening and serving in the background
func (s *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.listener = listener
	fmt.Printf("HTTP server listening on %s\n", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTP] Server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address, useful when the port is 0
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully
func (s *HTTPServer) Stop() error {
	fmt.Println("Stopping HTTP server...")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.wg.Wait()

	fmt.Println("HTTP server stopped")
	return err
}
