// Package validatecmd runs the token admission workflow over ledger nodes.
package validatecmd

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/b-open-io/token-index/hashindex"
	"github.com/b-open-io/token-index/ipfs"
	"github.com/b-open-io/token-index/ledger"
	"github.com/b-open-io/token-index/validator"
)

var (
	indexURL    string
	walletsPath string
	nodeName    string
	dryRun      bool
	concurrency int
	admitStatus int
)

var Command = &cobra.Command{
	Use:   "validate",
	Short: "Validate pending ledger tokens and pin the admitted ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := hashindex.Open(indexURL)
		if err != nil {
			return err
		}
		defer store.Close()
		if count, err := store.Count(); err != nil {
			return fmt.Errorf("hash index not usable: %w", err)
		} else if count == 0 {
			return fmt.Errorf("hash index at %s is empty, run 'index build' first", indexURL)
		} else {
			log.Printf("Hash index loaded: %d entries", count)
		}

		var nodes []ledger.Node
		if nodeName != "" {
			node, err := ledger.Find(walletsPath, nodeName)
			if err != nil {
				return err
			}
			nodes = []ledger.Node{node}
		} else if nodes, err = ledger.Discover(walletsPath); err != nil {
			return err
		}
		if len(nodes) == 0 {
			return fmt.Errorf("no valid node directories found in %s", walletsPath)
		}
		log.Printf("Found %d node(s) to process", len(nodes))
		if dryRun {
			log.Println("DRY RUN - no status updates, no pins")
		}

		// Each node's network client and ledger handle are bound to that
		// node only; nothing is shared across the concurrent runs.
		contexts := make([]validator.NodeContext, 0, len(nodes))
		closers := make([]func() error, 0, len(nodes))
		defer func() {
			for _, close := range closers {
				close()
			}
		}()
		for _, node := range nodes {
			client, err := ipfs.NewClientFromPath(node.RepoPath)
			if err != nil {
				log.Printf("Skipping %s: %v", node.Name, err)
				continue
			}
			ldg, err := ledger.Open(node.LedgerPath)
			if err != nil {
				log.Printf("Skipping %s: %v", node.Name, err)
				continue
			}
			closers = append(closers, ldg.Close)
			contexts = append(contexts, validator.NodeContext{
				Name:    node.Name,
				Network: client,
				Ledger:  ldg,
			})
		}

		v := &validator.Validator{Index: store, AdmitStatus: admitStatus}
		results := validator.ProcessAll(cmd.Context(), v, contexts, concurrency, dryRun)
		for name, stats := range results {
			log.Printf("%s: processed %d, pinned %d, invalid %d, errors %d",
				name, stats.Processed, stats.Pinned, stats.Invalid, stats.Errors)
		}
		return nil
	},
}

func init() {
	defaultIndex := os.Getenv("HASH_INDEX_URL")
	if defaultIndex == "" {
		defaultIndex = "hash_index"
	}
	defaultWallets := os.Getenv("WALLETS_PATH")
	defaultAdmit, _ := strconv.Atoi(os.Getenv("TOKEN_ADMIT_STATUS"))
	Command.Flags().StringVar(&indexURL, "index", defaultIndex, "hash index location")
	Command.Flags().StringVar(&walletsPath, "wallets-path", defaultWallets, "directory holding node wallets")
	Command.Flags().StringVar(&nodeName, "node", "", "process only this node")
	Command.Flags().BoolVar(&dryRun, "dry-run", false, "report outcomes without mutating anything")
	Command.Flags().IntVar(&concurrency, "concurrency", 1, "nodes processed in parallel")
	Command.Flags().IntVar(&admitStatus, "admit-status", defaultAdmit,
		"status written after a successful pin (0 leaves the record untouched)")
}
