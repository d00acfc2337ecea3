package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/api"
	"github.com/marksync/marksync/internal/engine"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/localstore"
	"github.com/marksync/marksync/internal/logging"
)

var syncPush bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync pass and exit",
	Long: `Reconcile the persisted local tree against the server once.

This pulls the remote bookmark set into the local sync folder. With
--push, the local sync folder is also reported to the reconciliation
endpoint afterwards, so purely local bookmarks reach the server.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		if cfg.Token == "" {
			fmt.Fprintf(os.Stderr, "Error: not logged in (set MARKSYNC_TOKEN)\n")
			os.Exit(1)
		}

		sink := logging.NewSink(logging.Options{File: cfg.LogFile, Console: true})
		defer sink.Close()

		tree := localstore.NewTree()
		if err := tree.LoadFile(cfg.TreePath()); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading tree snapshot: %v\n", err)
			os.Exit(1)
		}

		ids, err := idmap.Open(cfg.IDMapPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening id map: %v\n", err)
			os.Exit(1)
		}
		defer ids.Close()

		client := api.New(nil, cfg.ServerURL, func() string { return cfg.Token })
		eng := engine.New(tree, ids, client, &engine.Config{
			SyncFolderTitle: cfg.SyncFolderTitle,
			MaxDepth:        cfg.MaxDepth,
			Logger:          sink.Logger("engine"),
		})

		ctx := context.Background()
		start := time.Now()

		if err := eng.FullSync(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during full sync: %v\n", err)
			os.Exit(1)
		}
		if syncPush {
			if err := eng.PushLocal(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error pushing local bookmarks: %v\n", err)
				os.Exit(1)
			}
		}

		if err := tree.SaveFile(cfg.TreePath()); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving tree snapshot: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncPush, "push", false, "also push local sync-folder bookmarks to the server")
	rootCmd.AddCommand(syncCmd)
}
