package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loreguard/loreguard/internal/mcp"
	"github.com/loreguard/loreguard/internal/server"
)

var serveJanitorEvery time.Duration

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&serveJanitorEvery, "session-sweep", 5*time.Minute, "How often to sweep expired sessions")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long:  "Runs loreguard as an MCP server over stdio.\nAgents create a session, then call the knowledge tools with its token.\nSupports hot-reload of the config file.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	srv, err := server.New(configPath)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.RunJanitor(ctx, serveJanitorEvery)
	go func() {
		if err := srv.WatchConfig(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "loreguard MCP server on stdio (config %s)\n", srv.ConfigHash())
	return mcp.New(srv.Dispatcher()).Run(ctx)
}
