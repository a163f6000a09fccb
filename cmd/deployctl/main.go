package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var outputJSON bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "deployctl",
	Short: "Trigger pre-configured deployments on remote hosts",
	Long: `deployctl triggers a pre-configured deployment command on a remote host,
authenticated by a shared secret.

A host runs 'deployctl listen' (usually supervised in the background via
'deployctl start'); operators register that host once with 'deployctl init
client' and then fire deployments with 'deployctl deploy <server>'.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(deployCmd)
}
