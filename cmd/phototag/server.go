package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/chriskillpack/phototag/internal/bridge"
)

// Image paths are small JSON objects, anything bigger is a mistake.
const maxArgsSize = 64 << 10

type Server struct {
	hs     *http.Server
	b      *bridge.Bridge
	reg    *prometheus.Registry
	logger zerolog.Logger
}

func NewServer(b *bridge.Bridge, reg *prometheus.Registry, addr string, logger zerolog.Logger) *Server {
	srv := &Server{
		b:      b,
		reg:    reg,
		logger: logger,
	}

	srv.hs = &http.Server{
		Addr:    addr,
		Handler: srv.serveHandler(),
	}

	return srv
}

func (s *Server) Start() error {
	return s.hs.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.hs.Shutdown(ctx)
}

func (s *Server) serveHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /invoke/{command}", s.serveInvoke())
	mux.Handle("GET /commands", s.serveCommands())
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func (s *Server) serveInvoke() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		args, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxArgsSize))
		if err != nil {
			s.logger.Warn().Err(err).Msg("reading invoke body")
			status := http.StatusBadRequest
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				status = http.StatusRequestEntityTooLarge
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}

		result, err := s.b.Invoke(req.Context(), req.PathValue("command"), args)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": result})
	}
}

func (s *Server) serveCommands() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, bridge.Commands())
	}
}

// runServer serves until ctx is cancelled or lame duck is entered, then shuts
// down gracefully.
func runServer(ctx context.Context, srv *Server) error {
	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info().Str("addr", srv.hs.Addr).Msg("serving command bridge")
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-lameduckCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
