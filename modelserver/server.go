package modelserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	libhttp "genai/lib/http"
	"genai/lib/timer"

	"github.com/gorilla/mux"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ErrNotImplemented is returned by predictors that do not support an operation.
var ErrNotImplemented = errors.New("not implemented")

// Predictor serves the model behind the server.
type Predictor interface {
	Predict(ctx context.Context, body []byte) ([]byte, error)
	ChatHistory(ctx context.Context) ([]byte, error)
}

// ReadinessChecker is implemented by predictors that need time to load their model.
type ReadinessChecker interface {
	Ready() error
}

type ServerArgs struct {
	Host                  string        `arg:"--host,env:MODEL_SERVER_HOST" default:"127.0.0.1"`
	Port                  uint          `arg:"--port,env:MODEL_SERVER_PORT" default:"8082"`
	ContentType           string        `arg:"--content-type,env:MODEL_SERVER_CONTENT_TYPE" default:"application/json"`
	RequestTimeout        time.Duration `arg:"--request-timeout,env:MODEL_SERVER_REQUEST_TIMEOUT" default:"60s"`
	MaxConcurrentRequests int           `arg:"--max-concurrent-requests,env:MODEL_SERVER_MAX_CONCURRENT_REQUESTS" default:"8"`
}

// DefaultServerArgs mirrors the defaults of the arg tags for callers that do not parse flags.
func DefaultServerArgs() ServerArgs {
	return ServerArgs{
		Host:                  "127.0.0.1",
		Port:                  8082,
		ContentType:           "application/json",
		RequestTimeout:        60 * time.Second,
		MaxConcurrentRequests: 8,
	}
}

type Server struct {
	name      string
	predictor Predictor
	args      ServerArgs
	logger    *zap.Logger
	router    *mux.Router
}

func NewServer(name string, predictor Predictor, args ServerArgs, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		name:      name,
		predictor: predictor,
		args:      args,
		logger:    logger.With(zap.String("model", name)),
		router:    mux.NewRouter(),
	}
	s.setRoutes()
	return s
}

func (s *Server) setRoutes() {
	api := s.router.NewRoute().Subrouter()
	if s.args.RequestTimeout > 0 {
		api.Use(libhttp.TimeoutMiddleware(s.args.RequestTimeout))
	}
	if s.args.MaxConcurrentRequests > 0 {
		api.Use(libhttp.ConcurrencyLimitMiddleware(s.args.MaxConcurrentRequests))
	}
	api.HandleFunc("/predict", s.Predict).Methods(http.MethodPost)
	api.HandleFunc("/chat_history", s.ChatHistory).Methods(http.MethodGet)

	health := healthcheck.NewHandler()
	if rc, ok := s.predictor.(ReadinessChecker); ok {
		health.AddReadinessCheck("predictor", rc.Ready)
	}
	s.router.Handle("/live", health)
	s.router.Handle("/ready", health)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Predict(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	ctx, t := timer.Start(req.Context(), "modelserver.predict")
	resp, err := s.predictor.Predict(ctx, body)
	t.Stop(err)
	s.write(w, "predict", resp, err)
}

func (s *Server) ChatHistory(w http.ResponseWriter, req *http.Request) {
	ctx, t := timer.Start(req.Context(), "modelserver.chat_history")
	resp, err := s.predictor.ChatHistory(ctx)
	t.Stop(err)
	s.write(w, "chat_history", resp, err)
}

func (s *Server) write(w http.ResponseWriter, op string, resp []byte, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotImplemented) {
			status = http.StatusNotImplemented
		} else {
			s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", s.args.ContentType)
	_, _ = w.Write(resp)
}

// ListenAndServe serves until ctx is done, then shuts the server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.args.Host, s.args.Port),
		Handler: s.router,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting model server", zap.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown model server: %w", err)
		}
		return nil
	}
}
