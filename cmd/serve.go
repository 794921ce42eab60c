package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rollcall/rollcall/internal/attendance"
	"github.com/rollcall/rollcall/internal/database/postgres"
	"github.com/rollcall/rollcall/internal/embedder"
	"github.com/rollcall/rollcall/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the Rollcall HTTP API.
The API serves kiosk recognition requests, subject enrollment, and
attendance reports. Schema migrations run automatically on startup.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	pool, cfg, err := connectPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := context.Background()
	if err := migratePool(ctx, pool); err != nil {
		return err
	}

	loc, err := attendanceLocation(cfg)
	if err != nil {
		return err
	}

	subjects := postgres.NewSubjectRepository(pool)
	ledger := postgres.NewAttendanceRepository(pool, loc)
	users := postgres.NewUserRepository(pool)
	extractor := embedder.New(cfg.Embedder.URL, cfg.Embedder.Dim)

	engine := attendance.NewEngine(subjects, ledger, extractor, attendance.Config{
		Threshold: cfg.Matching.Threshold,
		Location:  loc,
		Status:    cfg.Matching.Status,
		Dim:       cfg.Embedder.Dim,
	})

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, port, host, web.Deps{
		Subjects:  subjects,
		Ledger:    ledger,
		Users:     users,
		Engine:    engine,
		Extractor: extractor,
	})
	server.WarmUp(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Rollcall API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
