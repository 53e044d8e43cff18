package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cobaltdata/schemaport/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "daemon",
	Short:   "Start the WebSocket progress dashboard",
	Long: `Start a standalone WebSocket dashboard server for monitoring runs.

The server broadcasts run events to connected clients. Generate and
apply embed their own server when started with --dashboard; this command
is for keeping one running across runs.

WebSocket messages include:
- run_started: generation began (engine, object/unit/item counts)
- progress: work items completed so far
- run_complete: generation finished (written, copied, failed, duration)
- apply_bucket: one replay bucket finished
- violations: foreign key check results after the data load

Example usage:
  spt dashboard                  # Start on default port 8080
  spt dashboard --port 9000      # Start on custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Run: runDashboard,
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	port, _ := cmd.Flags().GetInt("port")
	if !cmd.Flags().Changed("port") && cfg.Dashboard.Port != 0 {
		port = cfg.Dashboard.Port
	}

	server := dashboard.NewServer(&dashboard.Config{
		Port:   port,
		Logger: newLogger(cfg, "[dashboard] "),
	})

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
	fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
	fmt.Printf("Health check: http://localhost:%d/health\n", port)
	fmt.Println("\nPress Ctrl+C to stop...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()

	fmt.Println("\nShutting down dashboard server...")
	if err := server.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Dashboard server stopped")
}
