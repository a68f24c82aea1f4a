package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "attendance-bridge",
	Short: "Attendance Bridge - Connect biometric terminals to the attendance ledger",
	Long: `A local agent that connects biometric attendance terminals (fingerprint,
face, card readers speaking the vendor binary protocol) to a canonical
attendance ledger. The bridge reconciles historical records from each
terminal, monitors the fleet for new punches in the background, and fans
events out to realtime subscribers.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
