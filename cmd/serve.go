package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/buffer"
	"github.com/sells-group/forecast-cli/internal/forecast"
	"github.com/sells-group/forecast-cli/internal/metrics"
	"github.com/sells-group/forecast-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the forecast HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return eris.Wrap(err, "register metrics")
		}

		sessions, err := newSessionManager(ctx, cfg.Server.MaxSessions, func(ctx context.Context, question string, buf *buffer.Manager) (*model.ForecastResult, error) {
			return env.Pipeline.WithBuffer(buf).Run(ctx, question, forecast.NonInteractive)
		})
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(sessions, cfg.Server.AllowedOrigins, promhttp.Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		sessions.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// Session states reported by the API.
const (
	sessionRunning  = "running"
	sessionComplete = "complete"
	sessionRejected = "rejected"
	sessionCanceled = "canceled"
	sessionFailed   = "failed"
)

// sessionRunner executes one forecast writing into buf.
type sessionRunner func(ctx context.Context, question string, buf *buffer.Manager) (*model.ForecastResult, error)

// session is one asynchronous forecast started over HTTP.
type session struct {
	ID        string
	Question  string
	CreatedAt time.Time
	buf       *buffer.Manager

	mu     sync.Mutex
	status string
	result *model.ForecastResult
	err    string
}

// sessionView is the JSON form of a session.
type sessionView struct {
	ID        string                `json:"id"`
	Question  string                `json:"question"`
	Status    string                `json:"status"`
	Result    *model.ForecastResult `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	Buffers   map[string]string     `json:"buffers"`
	CreatedAt time.Time             `json:"created_at"`
}

func (s *session) view() sessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionView{
		ID:        s.ID,
		Question:  s.Question,
		Status:    s.status,
		Result:    s.result,
		Error:     s.err,
		Buffers:   s.buf.Snapshot(),
		CreatedAt: s.CreatedAt,
	}
}

func (s *session) finish(res *model.ForecastResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil && forecast.IsRejection(err):
		s.status = sessionRejected
		s.err = err.Error()
	case err != nil:
		s.status = sessionFailed
		s.err = err.Error()
	case res == nil:
		s.status = sessionCanceled
	default:
		s.status = sessionComplete
		s.result = res
	}
}

// sessionManager keeps the most recent sessions in memory. Older sessions
// are evicted once maxSessions is reached; their runs remain in the store.
type sessionManager struct {
	ctx      context.Context
	run      sessionRunner
	sessions *lru.Cache[string, *session]
	wg       sync.WaitGroup
	now      func() time.Time
}

func newSessionManager(ctx context.Context, maxSessions int, run sessionRunner) (*sessionManager, error) {
	if maxSessions <= 0 {
		maxSessions = 256
	}
	cache, err := lru.New[string, *session](maxSessions)
	if err != nil {
		return nil, eris.Wrap(err, "create session cache")
	}
	return &sessionManager{ctx: ctx, run: run, sessions: cache, now: time.Now}, nil
}

// Start launches a forecast in the background and returns its session.
func (m *sessionManager) Start(question string) *session {
	s := &session{
		ID:        uuid.New().String(),
		Question:  question,
		CreatedAt: m.now().UTC(),
		buf:       buffer.New(),
		status:    sessionRunning,
	}
	m.sessions.Add(s.ID, s)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res, err := m.run(m.ctx, question, s.buf)
		if err != nil {
			zap.L().Error("session forecast failed", zap.String("session_id", s.ID), zap.Error(err))
		}
		s.finish(res, err)
	}()
	return s
}

// Get returns a session by id.
func (m *sessionManager) Get(id string) (*session, bool) {
	return m.sessions.Get(id)
}

// Wait blocks until every started forecast has returned.
func (m *sessionManager) Wait() {
	m.wg.Wait()
}

// newRouter builds the HTTP API.
func newRouter(sessions *sessionManager, allowedOrigins []string, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Post("/forecast", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Question string `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Question == "" {
			writeError(w, http.StatusBadRequest, "question is required")
			return
		}

		s := sessions.Start(req.Question)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"session_id": s.ID,
			"status":     sessionRunning,
		})
	})

	r.Get("/forecast/{id}", func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, s.view())
	})

	r.Get("/forecast/{id}/buffers", func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, s.buf.Snapshot())
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
