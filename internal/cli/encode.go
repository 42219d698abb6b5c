package cli

import (
	"errors"
	"fmt"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/barcode"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/spf13/cobra"
)

// EncodeCmd returns the encode command
func EncodeCmd() *cobra.Command {
	var (
		fields  barcode.Fields
		expiry  string
		carrier string
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print a DataMatrix element string or carrier label",
		Long: `Build the unseparated 01/21/17/10 element string of a serialized unit,
or a carrier label from an SSCC with --carrier. The output decodes back to
the given fields.`,
		Example: `  scanctl encode --gtin 08699293700258 --serial 100208320043222 --expiry 280831 --lot 2509178
  scanctl encode --carrier 123456789012345675`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if carrier != "" {
				code, err := barcode.EncodeCarrier(barcode.DefaultOptions().CarrierPrefix, carrier)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), code)
				return nil
			}

			if fields.GTIN == "" || fields.Serial == "" {
				return errors.New("--gtin and --serial are required")
			}
			fields.Expiry = domain.Expiry(expiry)
			code, err := barcode.EncodeSerialized(fields)
			if err != nil {
				return fmt.Errorf("cannot encode: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}

	cmd.Flags().StringVar(&fields.GTIN, "gtin", "", "GTIN, zero-padded to 14 digits")
	cmd.Flags().StringVar(&fields.Serial, "serial", "", "Serial number")
	cmd.Flags().StringVar(&expiry, "expiry", "", "Expiry as YYMMDD")
	cmd.Flags().StringVar(&fields.Lot, "lot", "", "Lot number")
	cmd.Flags().StringVar(&carrier, "carrier", "", "SSCC body of a carrier label")
	return cmd
}
