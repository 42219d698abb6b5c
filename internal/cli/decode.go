// Package cli implements scanctl, the offline companion of the
// fulfillment service: decoding labels, printing test codes and replaying
// scan files against a document.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/barcode"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// DecodeCmd returns the decode command
func DecodeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "decode <barcode>...",
		Short: "Classify barcodes the way the scanner does",
		Long: `Decode each argument into a serialized unit, a carrier label, a plain
stock code or an invalid scan. A plain code may carry a multiplier, e.g. 12*X100.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decoder := barcode.NewDecoder(barcode.DefaultOptions())
			out := cmd.OutOrStdout()

			if asJSON {
				payloads := make([]domain.Payload, 0, len(args))
				for _, raw := range args {
					payloads = append(payloads, decoder.Decode(raw))
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payloads)
			}

			for _, raw := range args {
				printPayload(out, raw, decoder.Decode(raw))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print payloads as JSON")
	return cmd
}

func printPayload(w io.Writer, raw string, p domain.Payload) {
	fmt.Fprintf(w, "%s %s\n", kindLabel(p.Kind), raw)
	switch p.Kind {
	case domain.PayloadSerialized:
		fmt.Fprintf(w, "  gtin:   %s (%s)\n", p.GTIN, p.RawGTIN)
		fmt.Fprintf(w, "  serial: %s\n", p.SerialNumber)
		expiry := string(p.Expiry)
		if t, err := p.Expiry.Time(); err == nil {
			expiry += " (" + t.Format("2006-01-02") + ")"
		}
		fmt.Fprintf(w, "  expiry: %s\n", expiry)
		fmt.Fprintf(w, "  lot:    %s\n", p.Lot)
	case domain.PayloadCarrier:
		fmt.Fprintf(w, "  label:  %s\n", p.Label)
	case domain.PayloadPlain:
		fmt.Fprintf(w, "  code:   %s\n", p.Code)
		fmt.Fprintf(w, "  units:  %d\n", p.Multiplier)
	case domain.PayloadInvalid:
		fmt.Fprintf(w, "  reason: %s\n", p.Reason)
	}
}

func kindLabel(k domain.PayloadKind) string {
	label := fmt.Sprintf("[%s]", k)
	switch k {
	case domain.PayloadSerialized:
		return color.New(color.FgHiGreen).Sprint(label)
	case domain.PayloadCarrier:
		return color.New(color.FgCyan).Sprint(label)
	case domain.PayloadPlain:
		return color.New(color.FgWhite).Sprint(label)
	default:
		return color.New(color.FgRed).Sprint(label)
	}
}
