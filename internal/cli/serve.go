package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/extloader/pkg/extension"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve [base-path...]",
	Short: "Initialize webapp extensions and serve their assets and routes",
	Long: `Initialize the webapp role and serve the resulting router: static
mounts, extension routes and, when metrics are enabled, /metrics. Stops on
SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	h, err := newHost(cmd)
	if err != nil {
		return err
	}
	defer h.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := h.runPass(ctx, extension.RoleWebapp, h.basePaths(args))
	if err != nil {
		return err
	}
	defer p.result.Close()

	if h.metrics != nil {
		p.router.Mux().Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}

	server := &http.Server{
		Addr:              serveAddr,
		Handler:           p.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log := h.zerolog().With().Str("component", "server").Logger()
	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", serveAddr).
			Int("extensions", len(p.result.Initialized)).
			Msg("Serving webapp extensions")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
