package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Node locates one ledger node's on-disk state: its storage-network repo and
// its ledger database.
type Node struct {
	Name       string
	RepoPath   string
	LedgerPath string
}

const (
	repoDirName    = ".ipfs"
	ledgerFileName = "ledger.db"
)

// Discover scans a wallets directory for node layouts: any subdirectory
// holding both a .ipfs repo and a ledger database, either directly or nested
// one level under a same-named directory.
func Discover(walletsPath string) ([]Node, error) {
	items, err := os.ReadDir(walletsPath)
	if err != nil {
		return nil, fmt.Errorf("read wallets dir %s: %w", walletsPath, err)
	}
	var nodes []Node
	for _, item := range items {
		if !item.IsDir() || !strings.HasPrefix(item.Name(), "node") {
			continue
		}
		if node, ok := locate(walletsPath, item.Name()); ok {
			nodes = append(nodes, node)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// Find resolves a single named node under the wallets directory.
func Find(walletsPath, name string) (Node, error) {
	if node, ok := locate(walletsPath, name); ok {
		return node, nil
	}
	return Node{}, fmt.Errorf("node %s not found under %s", name, walletsPath)
}

func locate(walletsPath, name string) (Node, bool) {
	for _, base := range []string{
		filepath.Join(walletsPath, name),
		filepath.Join(walletsPath, name, name),
	} {
		repo := filepath.Join(base, repoDirName)
		db := filepath.Join(base, ledgerFileName)
		if dirExists(repo) && fileExists(db) {
			return Node{Name: name, RepoPath: repo, LedgerPath: db}, true
		}
	}
	return Node{}, false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
