package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/api"
	"github.com/marksync/marksync/internal/idmap"
	"github.com/marksync/marksync/internal/localstore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Display the current sync state.

Shows:
  - Server address and reachability
  - Login state
  - Size of the persisted local tree snapshot
  - Number of id-mapped bookmarks`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		fmt.Printf("\nMarksync Status\n\n")
		fmt.Printf("Server: %s\n", cfg.ServerURL)

		client := api.New(nil, cfg.ServerURL, func() string { return cfg.Token })
		if client.Health(context.Background(), 5*time.Second) {
			fmt.Printf("Reachable: yes\n")
		} else {
			fmt.Printf("Reachable: no\n")
		}

		if cfg.Token != "" {
			fmt.Printf("Logged in: yes\n")
		} else {
			fmt.Printf("Logged in: no\n")
		}

		tree := localstore.NewTree()
		if err := tree.LoadFile(cfg.TreePath()); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading tree snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Local nodes: %d\n", len(tree.Snapshot()))

		ids, err := idmap.Open(cfg.IDMapPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening id map: %v\n", err)
			os.Exit(1)
		}
		defer ids.Close()

		count, err := ids.Count(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting id mappings: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Mapped bookmarks: %d\n\n", count)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
