package web

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Smartdcs2026/Scan-Dcs/config"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is the local HTTP bridge for the presentation layer
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	listener   net.Listener

	handlers *Handlers
	hub      *EventHub
	preview  http.Handler
}

// NewServer creates a new web server. preview may be nil.
func NewServer(cfg *config.Config, handlers *Handlers, hub *EventHub, preview http.Handler, logger *zap.Logger) *Server {
	return &Server{
		config:   cfg,
		logger:   logger,
		handlers: handlers,
		hub:      hub,
		preview:  preview,
	}
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handlers.HandleHealth).Methods(http.MethodGet, http.MethodOptions)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handlers.HandleAPIStatus).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/cameras", s.handlers.HandleAPICameras).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/camera/start", s.handlers.HandleAPIStart).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/camera/stop", s.handlers.HandleAPIStop).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/camera/switch", s.handlers.HandleAPISwitch).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/search", s.handlers.HandleAPISearch).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/activity", s.handlers.HandleAPIActivity).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/events", s.handlers.HandleAPIEvents).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/stats", s.handlers.HandleAPIStats).Methods(http.MethodGet, http.MethodOptions)

	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.HandleWebSocket)
	}
	if s.preview != nil {
		r.Handle("/preview.mjpg", s.preview).Methods(http.MethodGet, http.MethodOptions)
	}

	// Subrouters do not inherit the parent's handler
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.handlers.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	r.MethodNotAllowedHandler = notAllowed
	api.MethodNotAllowedHandler = notAllowed

	r.Use(s.corsMiddleware, s.loggingMiddleware)
	return r
}

// Start starts the web server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.BindIP, s.config.Server.WebPort)
	s.logger.Info("Starting web server", zap.String("address", addr))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server error", zap.Error(err))
		}
	}()

	s.logger.Info("Web server started",
		zap.String("address", ln.Addr().String()),
		zap.String("url", fmt.Sprintf("http://%s:%d", s.config.Server.Host, s.config.Server.WebPort)))

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// corsMiddleware answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin(r))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(r *http.Request) string {
	origin := r.Header.Get("Origin")
	for _, allowed := range s.config.Server.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && origin == allowed {
			return origin
		}
	}
	return "null"
}

// loggingMiddleware logs each request
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lw, r)

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Hijack is needed for the websocket upgrade
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacking not supported")
	}
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// Stop gracefully stops the web server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping web server")

	if s.hub != nil {
		s.hub.Close()
	}
	if s.httpServer == nil {
		return nil
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Web server stopped")
	return nil
}
