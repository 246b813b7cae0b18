package ipfs

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Resolve picks the node endpoint for standalone tools, in order: the
// IPFS_API_URL env var, the IPFS_PATH env var (repo directory), then an
// optional config file holding an IPFS_PATH= line.
func Resolve(configFile string) (*Client, error) {
	if apiURL := os.Getenv("IPFS_API_URL"); apiURL != "" {
		return NewClient(apiURL), nil
	}
	if repoPath := os.Getenv("IPFS_PATH"); repoPath != "" {
		return NewClientFromPath(repoPath)
	}
	if configFile != "" {
		if repoPath, err := pathFromConfig(configFile); err == nil && repoPath != "" {
			return NewClientFromPath(repoPath)
		}
	}
	return nil, fmt.Errorf("no storage network endpoint configured: set IPFS_API_URL or IPFS_PATH")
}

func pathFromConfig(configFile string) (string, error) {
	f, err := os.Open(configFile)
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if value, ok := strings.CutPrefix(line, "IPFS_PATH="); ok {
			return strings.TrimSpace(value), nil
		}
	}
	return "", scanner.Err()
}
