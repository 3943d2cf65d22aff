package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RexEtImperator/skaner-faktur-projekt/internal/keystore"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/ksef"
	"github.com/RexEtImperator/skaner-faktur-projekt/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server exposing the KSeF client.

The API provides endpoints for:
  - POST /api/v1/ksef/test      - Verify a session can be established
  - POST /api/v1/ksef/invoices  - List invoices acquired since a date
  - POST /api/v1/ksef/import    - Download one invoice by reference
  - GET  /health                - Health check

Each request carries the taxpayer credentials in its body, so one
server instance can serve many taxpayers.

Examples:
  # Start server on default port
  skaner-faktur serve

  # Start on custom port in debug mode
  skaner-faktur serve --address :9000 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (default from SERVER_ADDRESS)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 5*time.Minute, "HTTP write timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	address := serverAddr
	if address == "" {
		address = cfg.ServerAddress
	}

	keys := keystore.NewFileStore(cfg.KeystoreDir, cfg.KeystorePassphrase)

	serverConfig := &server.Config{
		Address:      address,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		Debug:        serverDebug || cfg.Debug,
	}

	srv := server.NewServer(serverConfig, func(creds ksef.Credentials) server.Facade {
		return ksef.NewClient(creds, keys,
			ksef.WithBaseURL(cfg.BaseURL),
			ksef.WithRequestTimeout(cfg.RequestTimeout),
			ksef.WithSessionOptions(
				ksef.WithSessionDuration(cfg.SessionDuration),
				ksef.WithSafetyMargin(cfg.SafetyMargin),
			),
		)
	})

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down server...")
		os.Exit(0)
	}()

	fmt.Printf("Starting server on %s (KSeF: %s)\n", address, cfg.BaseURL)
	return srv.Run()
}
