package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elderwise/companion/pkg/config"
	"github.com/elderwise/companion/pkg/models"
	"github.com/elderwise/companion/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := cmd.Context()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ai, err := models.BuildChain(ctx, cfg.AIProvider, cfg.AIFallbacks, cfg.ModelFor,
		models.ClientOptions{Timeout: cfg.AITimeout})
	if err != nil {
		return fmt.Errorf("ai providers: %w", err)
	}

	if err := st.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer st.scheduler.Stop()

	srv := server.New(st.controller, ai, st.scheduler, st.store, st.cache, VersionString())
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "companion serving on %s\n", cfg.HTTPAddr)
		fmt.Fprintf(os.Stderr, "  store: %s\n", cfg.StoreBackend)
		fmt.Fprintf(os.Stderr, "  vectors: %s\n", cfg.VectorBackend)
		fmt.Fprintf(os.Stderr, "  ai: %s\n", cfg.AIProvider)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}
