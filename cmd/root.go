package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/b-open-io/token-index/cmd/cachecmd"
	"github.com/b-open-io/token-index/cmd/indexcmd"
	"github.com/b-open-io/token-index/cmd/servecmd"
	"github.com/b-open-io/token-index/cmd/validatecmd"
)

var rootCmd = &cobra.Command{
	Use:   "token-index",
	Short: "Token CID index and admission service",
	Long: `Builds and serves the content-addressable lookup index for the token
universe: the reverse hash index, the CID cache, the per-node token
validator, and the CID lookup API.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	godotenv.Load(".env")
	rootCmd.AddCommand(indexcmd.Command)
	rootCmd.AddCommand(cachecmd.Command)
	rootCmd.AddCommand(validatecmd.Command)
	rootCmd.AddCommand(servecmd.Command)
}
