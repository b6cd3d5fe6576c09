// Package server exposes dataset updates over HTTP so that a scheduler can
// trigger them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"sgcars-go/internal/app"
)

// Updater is the part of app.App the server needs.
type Updater interface {
	Update(ctx context.Context, name string) (*app.Report, error)
	UpdateAll(ctx context.Context) ([]*app.Report, error)
	Status(ctx context.Context) ([]*app.DatasetStatus, error)
}

var _ Updater = (*app.App)(nil)

const shutdownTimeout = 30 * time.Second

// Server routes HTTP requests to an Updater.
type Server struct {
	updater Updater
	logger  *slog.Logger
	router  *mux.Router
}

// New creates a Server. A nil logger discards request logs.
func New(u Updater, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{updater: u, logger: logger, router: mux.NewRouter()}

	// Path before method, or mux reports a method mismatch as 404.
	s.router.Path("/updates/{dataset}").Methods(http.MethodPost).Handler(s.handle(s.updateOne))
	s.router.Path("/updates").Methods(http.MethodPost).Handler(s.handle(s.updateAll))
	s.router.Path("/status").Methods(http.MethodGet).Handler(s.handle(s.status))
	s.router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully, letting in-flight updates finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

type updateAllBody struct {
	Reports []*app.Report `json:"reports"`
	Error   string        `json:"error,omitempty"`
}

// apiFunc returns the status code and the value to encode as the response.
type apiFunc func(r *http.Request) (int, any, error)

type apiHandler struct {
	logger *slog.Logger
	fn     apiFunc
}

func (s *Server) handle(fn apiFunc) http.Handler {
	return &apiHandler{logger: s.logger, fn: fn}
}

func (h *apiHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code, body, err := h.fn(r)
	if err != nil {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
		if body == nil {
			body = errorBody{Error: err.Error()}
		}
	} else {
		h.logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", code, "duration", time.Since(start))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("writing response", "path", r.URL.Path, "error", err)
	}
}

// runContext detaches an update from the client connection.
func runContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) updateOne(r *http.Request) (int, any, error) {
	name := mux.Vars(r)["dataset"]

	rep, err := s.updater.Update(runContext(r), name)
	switch {
	case err == nil:
		return http.StatusOK, rep, nil
	case errors.Is(err, app.ErrUnknownDataset):
		return http.StatusNotFound, nil, err
	case errors.Is(err, app.ErrRunInProgress):
		return http.StatusConflict, nil, err
	case rep != nil:
		return http.StatusBadGateway, rep, err
	default:
		return http.StatusInternalServerError, nil, err
	}
}

func (s *Server) updateAll(r *http.Request) (int, any, error) {
	reports, err := s.updater.UpdateAll(runContext(r))
	if err != nil {
		if reports == nil {
			return http.StatusInternalServerError, nil, err
		}
		return http.StatusBadGateway, updateAllBody{Reports: reports, Error: err.Error()}, err
	}
	return http.StatusOK, updateAllBody{Reports: reports}, nil
}

func (s *Server) status(r *http.Request) (int, any, error) {
	st, err := s.updater.Status(r.Context())
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	return http.StatusOK, st, nil
}
