package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "movegrid",
	Short: "Movegrid - Aptos wallet agents with conversational runtimes",
	Long: `Movegrid hosts wallet-bound AI agents on the Aptos network. Each agent
pairs a chain signer with a conversational runtime so users can check
balances, send transfers, and verify signatures in plain language.`,
}

func Execute() error {
	return rootCmd.Execute()
}
