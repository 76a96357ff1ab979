package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/born-ml/accel/internal/lifecycle"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		addr     string
		activate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Activate the accelerator and expose /status and /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			ctrl, err := controller(cfg, log)
			if err != nil {
				return err
			}
			if activate {
				if err := ctrl.ActivateAll(); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, ctrl, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9464", "listen address")
	cmd.Flags().BoolVar(&activate, "activate", true, "route every element type to the accelerator on start")
	return cmd
}

// serve runs the HTTP server until ctx is done, then stops it and shuts the
// controller down.
func serve(ctx context.Context, addr string, ctrl *lifecycle.Controller, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(ctrl),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(serveErr, srv.Shutdown(shutdownCtx), ctrl.Shutdown())
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	State       string   `json:"state"`
	Runtime     string   `json:"runtime"`
	ActiveTypes []string `json:"active_types"`
	Pinned      int      `json:"pinned"`
	Regions     int      `json:"regions"`
	Bytes       int      `json:"bytes"`
	Pending     int      `json:"pending"`
}

func newRouter(ctrl *lifecycle.Controller) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		resp := statusResponse{
			State:       ctrl.State().String(),
			Runtime:     ctrl.Config().Runtime,
			ActiveTypes: []string{},
			Pinned:      ctrl.Tracker().Len(),
		}
		for _, dt := range ctrl.Registry().Active() {
			resp.ActiveTypes = append(resp.ActiveTypes, dt.String())
		}
		if rt := ctrl.Runtime(); rt != nil {
			st := rt.Stats()
			resp.Regions, resp.Bytes, resp.Pending = st.Regions, st.Bytes, st.Pending
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	r.Post("/flush", func(w http.ResponseWriter, _ *http.Request) {
		if err := ctrl.Flush(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	return r
}
