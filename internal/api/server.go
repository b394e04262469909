package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"shadowcam/internal/analysis"
	"shadowcam/internal/history"
	"shadowcam/internal/logging"
	"shadowcam/internal/services"
	"shadowcam/internal/session"
)

// Controller is the session surface exposed over HTTP.
type Controller interface {
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
	Open(ctx context.Context) error
	TakePhoto(ctx context.Context) (analysis.Verdict, error)
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (analysis.Verdict, error)
	ToggleLive(ctx context.Context) (bool, error)
	DismissError()
	Close()
}

// HistoryReader lists recorded verdicts.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// HealthChecker probes the analysis service.
type HealthChecker interface {
	Health(ctx context.Context) (analysis.HealthStatus, error)
	BaseURL() string
}

// Options configures a Server. History, Health and Prompts are optional.
type Options struct {
	Bind             string
	AllowedOrigins   []string
	SnapshotInterval time.Duration
	Controller       Controller
	History          HistoryReader
	Health           HealthChecker
	Prompts          func() int64
	Logger           *slog.Logger
}

// Server is the control API.
type Server struct {
	opts    Options
	logger  *slog.Logger
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

// NewServer builds the router. It does not listen until Start.
func NewServer(opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New("api server requires a session controller")
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{opts: opts, logger: logging.NewComponentLogger(logger, "api")}

	router := mux.NewRouter()
	router.Use(s.requestMiddleware)
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/session/open", s.handleOpen).Methods(http.MethodPost)
	api.HandleFunc("/session/photo", s.handlePhoto).Methods(http.MethodPost)
	api.HandleFunc("/session/close", s.handleClose).Methods(http.MethodPost)
	api.HandleFunc("/session/recording/start", s.handleRecordingStart).Methods(http.MethodPost)
	api.HandleFunc("/session/recording/stop", s.handleRecordingStop).Methods(http.MethodPost)
	api.HandleFunc("/session/live/toggle", s.handleLiveToggle).Methods(http.MethodPost)
	api.HandleFunc("/session/error", s.handleDismissError).Methods(http.MethodDelete)
	api.HandleFunc("/session/ws", s.handleWebSocket).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	// Subrouters do not inherit these from the root router.
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	for _, r := range []*mux.Router{router, api} {
		r.MethodNotAllowedHandler = methodNotAllowed
		r.NotFoundHandler = notFound
	}

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	})
	s.handler = c.Handler(router)
	return s, nil
}

// Handler returns the HTTP handler (used by tests and embedding).
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.opts.Bind)
	if bind == "" {
		return errors.New("api bind address required")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr reports the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := services.WithRequestID(r.Context(), id)
		started := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		s.logger.Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldRequestID, id),
			logging.Duration("elapsed", time.Since(started)),
		)
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.writeSession(w, nil, nil)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Controller.Open(r.Context()); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeSession(w, nil, nil)
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	verdict, err := s.opts.Controller.TakePhoto(r.Context())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeSession(w, &verdict, nil)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.opts.Controller.Close()
	s.writeSession(w, nil, nil)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Controller.StartRecording(r.Context()); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeSession(w, nil, nil)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	verdict, err := s.opts.Controller.StopRecording(r.Context())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeSession(w, &verdict, nil)
}

func (s *Server) handleLiveToggle(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.opts.Controller.ToggleLive(r.Context())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeSession(w, nil, &enabled)
}

func (s *Server) handleDismissError(w http.ResponseWriter, r *http.Request) {
	s.opts.Controller.DismissError()
	s.writeSession(w, nil, nil)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		s.writeJSON(w, http.StatusOK, HistoryResponse{Entries: []history.Entry{}})
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}
	entries, err := s.opts.History.Recent(r.Context(), limit)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Error: "health checks disabled"})
		return
	}
	resp := HealthResponse{BaseURL: s.opts.Health.BaseURL()}
	status, err := s.opts.Health.Health(r.Context())
	if err != nil {
		resp.Error = services.Message(err)
		s.writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	resp.Reachable = true
	resp.Status = status.Status
	resp.Service = status.Service
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) prompts() int64 {
	if s.opts.Prompts == nil {
		return 0
	}
	return s.opts.Prompts()
}

func (s *Server) writeSession(w http.ResponseWriter, verdict *analysis.Verdict, live *bool) {
	s.writeJSON(w, http.StatusOK, SessionResponse{
		Session:       s.opts.Controller.Snapshot(),
		Verdict:       verdict,
		LiveEnabled:   live,
		SignInPrompts: s.prompts(),
	})
}

func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	snap := s.opts.Controller.Snapshot()
	kind := services.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("session action failed",
			logging.Error(err),
			logging.String("error_kind", string(kind)),
		)
	}
	s.writeJSON(w, status, ErrorResponse{
		Error:   services.Message(err),
		Kind:    string(kind),
		Session: &snap,
	})
}

func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindAuthRequired:
		return http.StatusUnauthorized
	case services.KindBusy, services.KindInvalidState, services.KindRecording:
		return http.StatusConflict
	case services.KindCamera:
		return http.StatusServiceUnavailable
	case services.KindRemoteRejected:
		return http.StatusBadGateway
	case services.KindUnreachable:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}
