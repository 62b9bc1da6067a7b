package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	host  string
	token string
)

var rootCmd = &cobra.Command{
	Use:   "slotctl",
	Short: "A CLI to interact with the slot reservation server",
	Long: `A command-line interface for inspecting match grids, minting development
tokens, watching a match's live seat locks and booking positions.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "The host address of the server")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("SLOT_TOKEN"), "Bearer token (defaults to $SLOT_TOKEN)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "slotctl: %s\n", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
