// Package admin serves the HTTP operations surface of sessiond: health,
// Prometheus metrics, the presence directory and session kicks.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/presence"
	"github.com/cyberinferno/go-tcpsession/protocol"
)

const shutdownTimeout = 5 * time.Second

// Kicker disconnects sessions by id. *tcpserver.TCPServer implements it.
type Kicker interface {
	Kick(ctx context.Context, id uint32, delay time.Duration) bool
}

// Server is the admin HTTP server.
type Server struct {
	addr     string
	presence presence.Store
	kicker   Kicker
	gatherer prometheus.Gatherer
	logger   logger.Logger
	started  time.Time
	router   chi.Router
}

// NewServer wires the admin routes.
//
// Parameters:
//   - addr: The "host:port" to listen on
//   - store: Presence directory listed by /sessions
//   - kicker: Target of DELETE /sessions/{id}
//   - gatherer: Metrics exposed on /metrics
//   - log: Logger for requests and failures
//
// Returns:
//   - The server, not yet listening
func NewServer(addr string, store presence.Store, kicker Kicker, gatherer prometheus.Gatherer, log logger.Logger) *Server {
	s := &Server{
		addr:     addr,
		presence: store,
		kicker:   kicker,
		gatherer: gatherer,
		logger:   log.With(logger.Field{Key: "component", Value: "admin"}),
		started:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Get("/{id}", s.getSession)
		r.Delete("/{id}", s.kickSession)
	})

	s.router = r
	return s
}

// Handler returns the admin router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server started", logger.Field{Key: "addr", Value: s.addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	s.logger.Info("admin server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug("admin request",
			logger.Field{Key: "method", Value: r.Method},
			logger.Field{Key: "path", Value: r.URL.Path},
			logger.Field{Key: "status", Value: ww.Status()},
			logger.Field{Key: "duration", Value: time.Since(start).String()},
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	count, err := s.presence.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.started).String(),
		"sessions": count,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.presence.List(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", logger.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	record, err := s.presence.Get(r.Context(), id)
	if errors.Is(err, presence.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// kickSession disconnects a session, optionally after ?delay=N seconds.
func (s *Server) kickSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	delay := 0
	if raw := r.URL.Query().Get("delay"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, errors.New("delay must be a non-negative number of seconds"))
			return
		}
		delay = d
	}

	if !s.kicker.Kick(r.Context(), id, protocol.SecondsToDuration(delay)) {
		writeError(w, http.StatusNotFound, errors.New("session not connected"))
		return
	}

	s.logger.Info("session kicked", logger.Field{Key: "session", Value: id}, logger.Field{Key: "delay", Value: delay})
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "delay": delay})
}

func sessionID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, errors.New("session id must be a positive 32-bit integer"))
		return 0, false
	}

	return uint32(id), true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
