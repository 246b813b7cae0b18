// Package indexcmd builds and verifies the reverse hash index.
package indexcmd

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/b-open-io/token-index/hashindex"
)

var (
	indexURL  string
	levels    []int
	force     bool
	withCIDs  bool
	batchSize int
	sample    int
	full      bool
)

var Command = &cobra.Command{
	Use:   "index",
	Short: "Manage the hash lookup index",
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Enumerate the token universe and persist hash -> (level, number)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		builder := &hashindex.Builder{Store: store, BatchSize: batchSize}
		if err := builder.Build(cmd.Context(), levels, force); err != nil {
			return err
		}
		count, err := store.Count()
		if err != nil {
			return err
		}
		log.Printf("Index now holds %d entries", count)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-derive entries and report mismatches without mutating state",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		step := sample
		if full {
			step = 1
		}
		builder := &hashindex.Builder{Store: store}
		report, err := builder.Verify(cmd.Context(), step)
		if err != nil {
			return err
		}
		log.Printf("Verified %d entries: %d missing, %d mismatched",
			report.Checked, report.Missing, report.Mismatched)
		if !report.OK() {
			os.Exit(1)
		}
		return nil
	},
}

func openStore() (hashindex.Store, error) {
	store, err := hashindex.Open(indexURL)
	if err != nil {
		return nil, err
	}
	if sqlite, ok := store.(*hashindex.SQLiteStore); ok && withCIDs {
		sqlite.WithCIDs()
	}
	return store, nil
}

func init() {
	defaultURL := os.Getenv("HASH_INDEX_URL")
	if defaultURL == "" {
		defaultURL = "hash_index"
	}
	Command.PersistentFlags().StringVar(&indexURL, "index", defaultURL,
		"index location: pebble directory, *.db path, or sqlite://path")
	buildCmd.Flags().IntSliceVar(&levels, "level", nil, "levels to build (default all)")
	buildCmd.Flags().BoolVar(&force, "force", false, "clear the index and rebuild from scratch")
	buildCmd.Flags().BoolVar(&withCIDs, "with-cids", false,
		"populate legacy cid/content columns (sqlite backend only)")
	buildCmd.Flags().IntVar(&batchSize, "batch-size", hashindex.DefaultBatchSize,
		"entries per commit")
	verifyCmd.Flags().IntVar(&sample, "sample", 1000, "check every Nth token")
	verifyCmd.Flags().BoolVar(&full, "full", false, "check every token")
	Command.AddCommand(buildCmd)
	Command.AddCommand(verifyCmd)
}
