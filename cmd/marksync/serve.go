package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/crypto"
	"github.com/marksync/marksync/internal/logging"
	"github.com/marksync/marksync/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the marksync backend server",
	Long: `Run the backend: the encrypted bookmark store, the REST API, the
reconciliation endpoint, and the WebSocket push channel.

Requires an encryption key and at least one auth token, e.g.:

  MARKSYNC_ENCRYPTION_KEY=... marksync serve

with auth_tokens configured in the config file.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		if cfg.EncryptionKey == "" {
			fmt.Fprintf(os.Stderr, "Error: encryption_key is required (set MARKSYNC_ENCRYPTION_KEY)\n")
			os.Exit(1)
		}
		if len(cfg.AuthTokens) == 0 {
			fmt.Fprintf(os.Stderr, "Error: at least one auth token is required (set auth_tokens in the config file)\n")
			os.Exit(1)
		}

		sink := logging.NewSink(logging.Options{File: cfg.LogFile, Console: true})
		defer sink.Close()
		logger := sink.Logger("server")

		cipher, err := crypto.New(cfg.EncryptionKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing cipher: %v\n", err)
			os.Exit(1)
		}

		store, err := server.OpenStore(cfg.ServerDBPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening bookmark store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		srv := server.New(store, cipher, server.NewStaticVerifier(cfg.AuthTokens), &server.Config{
			Listen: cfg.Listen,
			Logger: logger,
		})

		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Server listening on %s\n", srv.Addr())
		fmt.Printf("Press Ctrl+C to stop\n")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
