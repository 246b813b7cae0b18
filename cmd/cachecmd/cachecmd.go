// Package cachecmd populates the CID cache for a token range.
package cachecmd

import (
	"context"
	"log"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/b-open-io/token-index/cidcache"
	"github.com/b-open-io/token-index/ipfs"
)

var (
	cacheURL   string
	level      int
	start      int
	end        int
	workers    int
	batchSize  int
	configFile string
)

var Command = &cobra.Command{
	Use:   "cache",
	Short: "Manage the CID cache",
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compute and persist CIDs for a token number range",
	Long: `Derives canonical content for every token in [start, end] of the given
level, obtains each CID from the storage network, and persists the
results. The range is the unit of checkpointing: rerunning a range is
idempotent, so restart from the last completed range after a failure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := ipfs.Resolve(configFile)
		if err != nil {
			return err
		}
		log.Printf("Using storage network API at %s", client.URL())

		store, err := cidcache.Open(cacheURL)
		if err != nil {
			return err
		}
		defer store.Close()

		builder := &cidcache.Builder{
			Store:     store,
			Adder:     onlyHashAdder{client},
			Workers:   workers,
			BatchSize: batchSize,
		}
		_, err = builder.Run(cmd.Context(), level, start, end)
		return err
	},
}

// onlyHashAdder derives CIDs without storing copies on the node; the cache
// needs the network's CID algorithm, not the network's disk.
type onlyHashAdder struct {
	client *ipfs.Client
}

func (a onlyHashAdder) Add(ctx context.Context, content string) (string, error) {
	return a.client.OnlyHash(ctx, content)
}

func init() {
	defaultURL := os.Getenv("CID_CACHE_URL")
	if defaultURL == "" {
		defaultURL = "cid_tokens.db"
	}
	Command.PersistentFlags().StringVar(&cacheURL, "cache", defaultURL,
		"cache location: sqlite path or redis:// URL")
	buildCmd.Flags().IntVar(&level, "level", 0, "token level (1-4)")
	buildCmd.Flags().IntVar(&start, "start", 1, "start token number (inclusive)")
	buildCmd.Flags().IntVar(&end, "end", 0, "end token number (inclusive, clamped to the level limit)")
	buildCmd.Flags().IntVar(&workers, "workers", max(1, runtime.NumCPU()-1), "parallel workers")
	buildCmd.Flags().IntVar(&batchSize, "batch-size", cidcache.DefaultBatchSize, "entries per commit")
	buildCmd.Flags().StringVar(&configFile, "config", "ipfs_config.txt", "storage network config file")
	buildCmd.MarkFlagRequired("level")
	buildCmd.MarkFlagRequired("end")
	Command.AddCommand(buildCmd)
}
