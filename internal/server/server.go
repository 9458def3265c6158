// Package server exposes metrics, health and the Telegram webhook over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr        string
	WebhookPath string
	Webhook     http.Handler
	Checks      map[string]Pinger
}

type Server struct {
	srv *http.Server
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           Handler(cfg, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log.With().Str("component", "http").Logger(),
	}
}

func Handler(cfg Config, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", health(cfg.Checks, log))
	if cfg.Webhook != nil && cfg.WebhookPath != "" {
		mux.Handle("POST "+cfg.WebhookPath, cfg.Webhook)
	}
	return mux
}

func health(checks map[string]Pinger, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{}
		for name, c := range checks {
			if err := c.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("check", name).Msg("health check failed")
				status = http.StatusServiceUnavailable
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Start listens synchronously so a taken port fails startup, then serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server stopped")
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
