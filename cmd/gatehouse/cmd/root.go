package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Gatehouse is the Train Station Dashboard security service",
	Long: `Gatehouse provides the security-hardening layer for the Train Station
Dashboard: input sanitization, one-time-use CSRF tokens, security response
headers, file upload validation, and session management.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
