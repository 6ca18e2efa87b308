package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codecowboy/cowboy/internal/config"
	"github.com/codecowboy/cowboy/internal/logging"
	"github.com/codecowboy/cowboy/internal/relay"
)

var (
	relayHTTPPort int
	relayWSPort   int
	relayHost     string
)

// relayCmd represents the relay command
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the generation relay server",
	Long: `Run the relay that bridges backend job completions to browser
clients: an HTTP webhook endpoint the job runner posts results to, and a
WebSocket broadcast the browser listens on.

Delivery is best effort with no replay; the most recent payload per
session stays retrievable for a short while via the latest endpoint.

Example:
  cowboy relay                    # HTTP on 5174, WebSocket on 8080
  cowboy relay --http-port 6000   # Custom webhook port`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().IntVar(&relayHTTPPort, "http-port", 0, "Webhook HTTP port (default from config, 5174)")
	relayCmd.Flags().IntVar(&relayWSPort, "ws-port", 0, "WebSocket broadcast port (default from config, 8080)")
	relayCmd.Flags().StringVar(&relayHost, "host", "", "Bind host (default from config, 127.0.0.1)")
}

func runRelay(cmd *cobra.Command, args []string) error {
	logger := logging.Relay()

	relayCfg := cfg.Relay
	if relayHTTPPort != 0 {
		relayCfg.HTTPPort = relayHTTPPort
	}
	if relayWSPort != 0 {
		relayCfg.WebSocketPort = relayWSPort
	}
	if relayHost != "" {
		relayCfg.Host = relayHost
	}

	srv := relay.NewServer(relay.Config{
		APIPrefix:     config.DefaultAPIPrefix,
		HTTPPort:      relayCfg.HTTPPort,
		WebSocketPort: relayCfg.WebSocketPort,
		CacheTTL:      cfg.CacheTTL(),
		SweepInterval: cfg.SweepInterval(),
		Logger:        logger,
	})

	httpLn, err := net.Listen("tcp", net.JoinHostPort(relayCfg.Host, fmt.Sprintf("%d", relayCfg.HTTPPort)))
	if err != nil {
		return fmt.Errorf("failed to listen on webhook port %d: %w", relayCfg.HTTPPort, err)
	}
	wsLn, err := net.Listen("tcp", net.JoinHostPort(relayCfg.Host, fmt.Sprintf("%d", relayCfg.WebSocketPort)))
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("failed to listen on websocket port %d: %w", relayCfg.WebSocketPort, err)
	}

	fmt.Printf("🤠 Starting generation relay...\n")
	fmt.Printf("   Webhook URL:   http://%s%s/sessions/{id}/webhook/generation-complete\n",
		httpLn.Addr(), config.DefaultAPIPrefix)
	fmt.Printf("   Health URL:    http://%s%s/health\n", httpLn.Addr(), config.DefaultAPIPrefix)
	fmt.Printf("   WebSocket URL: ws://%s/ws\n", wsLn.Addr())
	fmt.Printf("\n   Press Ctrl+C to stop\n\n")

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Printf("\n🤠 Received %v, shutting down...\n", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}()

	if err := srv.Serve(httpLn, wsLn); err != nil && !srv.IsShutdown() {
		return fmt.Errorf("relay server error: %w", err)
	}

	fmt.Printf("🤠 Relay stopped\n")
	return nil
}
