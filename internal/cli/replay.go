package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/barcode"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/journal"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/service"
	"github.com/dispatchrx/dispatchrx-backend/pkg/i18n"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type replayOptions struct {
	document    string
	scans       string
	manifests   string
	journalPath string
	operator    string
	lang        string
	verbose     bool
}

// scanLine is one line of a scan file: an optional mode followed by the
// barcode
type scanLine struct {
	number  int
	mode    domain.ScanMode
	barcode string
}

// replayStats counts scan outcomes
type replayStats struct {
	Accepted int
	Warned   int
	Partial  int
	Rejected int
	Replayed int
}

// ReplayCmd returns the replay command
func ReplayCmd() *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reconcile a scan file against a document",
		Long: `Replay a file of scans against a document and print each verdict and the
final progress. Each line holds a barcode, optionally preceded by "add" or
"remove". Blank lines and lines starting with # are skipped.

With --journal the applied changes are kept in a SQLite file; running the
same scan file again resumes from it without counting anything twice.`,
		Example: `  scanctl replay --document invoice.json --scans shift1.txt
  scanctl replay --document invoice.json --scans shift1.txt --manifests carriers.json --journal invoice.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, complete, err := runReplay(cmd.Context(), cmd.OutOrStdout(), opts)
			if err != nil {
				return err
			}
			if !complete {
				fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgYellow).Sprint("document is not complete"))
			}
			if stats.Rejected > 0 {
				return fmt.Errorf("%d scan(s) rejected", stats.Rejected)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.document, "document", "", "Document JSON file (required)")
	cmd.Flags().StringVar(&opts.scans, "scans", "", "Scan file, one barcode per line (required)")
	cmd.Flags().StringVar(&opts.manifests, "manifests", "", "Carrier manifests JSON, label to entries")
	cmd.Flags().StringVar(&opts.journalPath, "journal", "", "SQLite journal to persist and resume scans")
	cmd.Flags().StringVar(&opts.operator, "operator", "scanctl", "Operator recorded on each scan")
	cmd.Flags().StringVar(&opts.lang, "lang", i18n.DefaultLocale, "Message language (en, tr)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log service activity to stderr")
	_ = cmd.MarkFlagRequired("document")
	_ = cmd.MarkFlagRequired("scans")
	return cmd
}

func runReplay(ctx context.Context, out io.Writer, opts replayOptions) (replayStats, bool, error) {
	var stats replayStats

	doc, err := loadDocumentFile(opts.document)
	if err != nil {
		return stats, false, err
	}
	manifests, err := loadManifestFile(opts.manifests)
	if err != nil {
		return stats, false, err
	}
	lines, err := readScanFile(opts.scans)
	if err != nil {
		return stats, false, err
	}

	log := logger.Nop()
	if opts.verbose {
		log = logger.NewWithWriter("scanctl", os.Stderr)
	}

	docs := &fileDocuments{doc: *doc}
	deps := service.Dependencies{
		Documents: docs,
		Manifests: manifests,
		Decoder:   barcode.NewDecoder(barcode.DefaultOptions()),
	}
	if opts.journalPath != "" {
		j, err := journal.Open(opts.journalPath)
		if err != nil {
			return stats, false, err
		}
		defer j.Close()
		docs.journal = j
		deps.Deltas = j
	}

	svc := service.NewFulfillmentService(deps, log)
	if _, err := svc.OpenDocument(ctx, doc.ID); err != nil {
		return stats, false, err
	}

	localizer := i18n.NewLocalizer(opts.lang)
	prefix := filepath.Base(opts.scans)
	for _, l := range lines {
		scanID := fmt.Sprintf("%s:%s:%d", doc.ID, prefix, l.number)
		if docs.journal != nil {
			seen, err := docs.journal.Seen(ctx, scanID)
			if err != nil {
				return stats, false, err
			}
			if seen {
				printOutcome(out, localizer, l, &service.ScanOutcome{ScanID: scanID, Replayed: true}, &stats)
				continue
			}
		}

		outcome, err := svc.Scan(ctx, service.ScanRequest{
			DocumentID: doc.ID,
			ScanID:     scanID,
			Barcode:    l.barcode,
			Mode:       l.mode,
			Operator:   opts.operator,
		})
		if err != nil {
			return stats, false, err
		}
		printOutcome(out, localizer, l, outcome, &stats)
	}

	summary, err := svc.Summary(ctx, doc.ID)
	if err != nil {
		return stats, false, err
	}
	printSummary(out, summary, stats)
	return stats, summary.Complete, nil
}

func readScanFile(path string) ([]scanLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scan file: %w", err)
	}
	defer f.Close()

	var lines []scanLine
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		line := scanLine{number: n, mode: domain.ModeAdd, barcode: text}
		if fields := strings.Fields(text); len(fields) == 2 {
			mode, err := domain.ParseScanMode(fields[0])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, n, err)
			}
			line.mode = mode
			line.barcode = fields[1]
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scan file: %w", err)
	}
	return lines, nil
}

func printOutcome(w io.Writer, l *i18n.Localizer, line scanLine, o *service.ScanOutcome, stats *replayStats) {
	var marker, detail string
	switch {
	case o.Replayed:
		stats.Replayed++
		marker = color.New(color.FgHiBlack).Sprint("=")
		detail = "already recorded"
	case o.Rejection != nil && !o.Changed():
		stats.Rejected++
		marker = color.New(color.FgRed).Sprint("✗")
		detail = l.T("scan."+string(o.Rejection.Reason), o.Rejection.Params)
	case o.Rejection != nil:
		stats.Partial++
		marker = color.New(color.FgYellow).Sprint("!")
		detail = l.T("scan."+string(o.Rejection.Reason), o.Rejection.Params)
	case o.Warning != nil:
		stats.Warned++
		marker = color.New(color.FgYellow).Sprint("!")
		detail = l.T("scan."+string(o.Warning.Reason), o.Warning.Params)
	default:
		stats.Accepted++
		marker = color.New(color.FgGreen).Sprint("✓")
		detail = acceptedDetail(o)
	}

	mode := ""
	if line.mode == domain.ModeRemove {
		mode = "remove "
	}
	fmt.Fprintf(w, "%4d %s %s%s  %s\n", line.number, marker, mode, line.barcode, detail)
}

func acceptedDetail(o *service.ScanOutcome) string {
	switch {
	case o.Result != nil:
		return fmt.Sprintf("%d/%d", o.Result.NewScanned, o.Result.Expected)
	case o.Cascade != nil:
		return fmt.Sprintf("%d line(s) from carrier", len(o.Cascade.Applied))
	}
	return ""
}

func printSummary(w io.Writer, s *service.Summary, stats replayStats) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Document %s [%s]\n", s.Number, s.Kind)
	for _, l := range s.Lines {
		status := color.New(color.FgYellow).Sprintf("%d/%d", l.Scanned, l.Expected)
		if l.Complete {
			status = color.New(color.FgGreen).Sprintf("%d/%d", l.Scanned, l.Expected)
		}
		if l.Overage > 0 {
			status += color.New(color.FgRed).Sprintf(" +%d", l.Overage)
		}
		fmt.Fprintf(w, "  %-20s %-16s %s\n", l.ProductCode, l.TrackingMode, status)
	}
	if len(s.Carriers) > 0 {
		fmt.Fprintf(w, "  carriers: %s\n", strings.Join(s.Carriers, ", "))
	}
	fmt.Fprintf(w, "Progress: %d/%d (%d%%)\n", s.Aggregate.TotalScanned, s.Aggregate.TotalExpected, s.Aggregate.PercentComplete)
	fmt.Fprintf(w, "Scans: %d accepted, %d warned, %d partial, %d rejected, %d replayed\n",
		stats.Accepted, stats.Warned, stats.Partial, stats.Rejected, stats.Replayed)
}
