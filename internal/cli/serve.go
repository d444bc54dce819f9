package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run background consolidation until interrupted",
		Long:  "Run the consolidation scheduler and, when an address is set, serve Prometheus metrics at /metrics.",
		Run:   runServe,
	}

	cmd.Flags().String("metrics-addr", "", "Metrics listen address, e.g. :9090 (default: metrics.addr)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("metrics-addr")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()
	log := a.log.With("serve")

	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.svc.Start(ctx); err != nil {
		exitErr("start scheduler", err)
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			log.Info().Str("addr", addr).Msg("serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	log.Info().Str("store", a.cfg.Store.Backend).Msg("persona-memory running")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		log.Error().Err(err).Msg("metrics server failed")
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}
}
