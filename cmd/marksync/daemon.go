package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/api"
	"github.com/marksync/marksync/internal/daemon"
	"github.com/marksync/marksync/internal/engine"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/localstore"
	"github.com/marksync/marksync/internal/logging"
	"github.com/marksync/marksync/internal/wsclient"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon (foreground)",
	Long: `Run the client-side sync daemon in the foreground.

The daemon:
  1. Restores the local bookmark tree from its snapshot
  2. Performs a full sync against the server (unless disabled)
  3. Streams local changes to the server as they happen
  4. Applies server-pushed changes from the WebSocket channel
  5. Watches the import file, if configured, for bulk additions`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		sink := logging.NewSink(logging.Options{File: cfg.LogFile, Console: true})
		defer sink.Close()

		tree := localstore.NewTree()

		ids, err := idmap.Open(cfg.IDMapPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening id map: %v\n", err)
			os.Exit(1)
		}
		defer ids.Close()

		token := func() string { return cfg.Token }
		client := api.New(nil, cfg.ServerURL, token)

		eng := engine.New(tree, ids, client, &engine.Config{
			SyncFolderTitle: cfg.SyncFolderTitle,
			MaxDepth:        cfg.MaxDepth,
			Logger:          sink.Logger("engine"),
		})

		wsConfig := wsclient.DefaultConfig(cfg.ServerURL, token)
		wsConfig.Logger = sink.Logger("ws")

		d, err := daemon.New(tree, eng, nil, &daemon.Config{
			TreePath:        cfg.TreePath(),
			SyncOnStartup:   cfg.SyncOnStartup,
			ImportFile:      cfg.ImportFile,
			SyncFolderTitle: cfg.SyncFolderTitle,
			Logger:          sink.Logger("daemon"),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		wsConfig.OnBookmarkChange = d.ApplyRemoteChange
		d.SetPushChannel(wsclient.New(wsConfig))

		fmt.Printf("Starting sync daemon against %s\n", cfg.ServerURL)
		fmt.Printf("Press Ctrl+C to stop\n\n")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
		}()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
