package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"attendance-bridge/internal/events"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP surface over the sync engine, the monitor
// coordinator and the realtime event stream.
type Server struct {
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	handlers   *Handlers
}

// NewServer wires the handlers and routes. listenAddr is host:port.
func NewServer(listenAddr string, syncer SyncService, monitor MonitorService, store Store, bus *events.Bus, logger *logrus.Logger) *Server {
	s := &Server{
		logger:   logger,
		router:   mux.NewRouter(),
		handlers: NewHandlers(syncer, monitor, store, bus, logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errChan:
		return err
	}
}

// Shutdown drains in-flight requests with a bounded timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.corsMiddleware)
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handlers.Health).Methods("GET")

	api.HandleFunc("/devices", s.handlers.ListDevices).Methods("GET")
	api.HandleFunc("/devices/{id}/records", s.handlers.DeviceRecords).Methods("GET")

	api.HandleFunc("/sync", s.handlers.SyncAll).Methods("POST")
	api.HandleFunc("/sync/status", s.handlers.SyncStatus).Methods("GET")
	api.HandleFunc("/sync/statistics", s.handlers.SyncStatistics).Methods("GET")
	api.HandleFunc("/sync/{id}", s.handlers.SyncDevice).Methods("POST")

	api.HandleFunc("/monitor/start", s.handlers.StartMonitoring).Methods("POST")
	api.HandleFunc("/monitor/stop", s.handlers.StopMonitoring).Methods("POST")
	api.HandleFunc("/monitor/status", s.handlers.MonitorStatus).Methods("GET")
	api.HandleFunc("/monitor/settings", s.handlers.UpdateMonitorSettings).Methods("PATCH")
	api.HandleFunc("/monitor/devices/{id}/start", s.handlers.StartDeviceMonitoring).Methods("POST")
	api.HandleFunc("/monitor/devices/{id}/stop", s.handlers.StopDeviceMonitoring).Methods("POST")
	api.HandleFunc("/monitor/devices/{id}/restart", s.handlers.RestartDeviceMonitoring).Methods("POST")

	api.HandleFunc("/stream", s.handlers.Stream).Methods("GET")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade pass through the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("Request handled")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithField("panic", rec).Error("Handler panicked")
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
