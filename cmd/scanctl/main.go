package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dispatchrx/dispatchrx-backend/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scanctl",
		Short: "Offline tools for warehouse barcode scanning",
		Long: `scanctl decodes pharmaceutical barcodes, prints test labels and replays
scan files against a fulfillment document without the fulfillment service.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.DecodeCmd())
	rootCmd.AddCommand(cli.EncodeCmd())
	rootCmd.AddCommand(cli.ReplayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
