package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ethpandaops/resultoor/pkg/classifier"
	"github.com/ethpandaops/resultoor/pkg/config"
	"github.com/ethpandaops/resultoor/pkg/fsutil"
	"github.com/ethpandaops/resultoor/pkg/scanner"
	"github.com/ethpandaops/resultoor/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	scanLogFile string
	scanStdin   bool
	scanOutput  string
)

var scanCmd = &cobra.Command{
	Use:   "scan <unit|functional|fuzz>",
	Short: "Classify a test log and print the numbered outcomes",
	Long: `Classify every line of a test log and print one numbered line per
outcome followed by the total. With --stdin, live test output is read from
standard input, echoed to standard error and classified as it arrives.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanLogFile, "log-file", "",
		"log file to scan (defaults to the variant's configured log_file)")
	scanCmd.Flags().BoolVar(&scanStdin, "stdin", false,
		"read live test output from standard input")
	scanCmd.Flags().StringVar(&scanOutput, "output", "",
		"also write the formatted report to this file")
}

func runScan(cmd *cobra.Command, args []string) error {
	variant, err := variantArg(args)
	if err != nil {
		return err
	}

	var cfg *config.Config

	// Scanning an explicit source works without a config file.
	if len(cfgFiles) > 0 {
		cfg, err = loadConfig(cmd, config.ValidateOpts{})
		if err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	s := scanner.NewScanner(log, classifier.New(variant))

	var (
		report  *scanner.Report
		scanErr error
	)

	switch {
	case scanStdin:
		collector := classifier.NewCollector(classifier.New(variant), cmd.ErrOrStderr())

		if _, err := io.Copy(collector.Writer(), cmd.InOrStdin()); err != nil {
			return fmt.Errorf("reading standard input: %w", err)
		}

		collector.Flush()
		report = s.ScanLines(collector.Lines())
	default:
		path := scanLogFile
		if path == "" && cfg != nil {
			if vc, ok := cfg.Variant(string(variant)); ok {
				path = vc.LogFile
			}
		}

		if path == "" {
			return fmt.Errorf("no log file given (use --log-file or configure variants.%s.log_file)", variant)
		}

		report, scanErr = s.ScanFile(ctx, path)
		if scanErr != nil && !errors.Is(scanErr, scanner.ErrSourceNotFound) {
			return scanErr
		}
	}

	if _, err := report.WriteTo(cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if scanErr != nil {
		return scanErr
	}

	if scanOutput == "" {
		return nil
	}

	if err := writeReportFile(report, scanOutput, cfg); err != nil {
		return err
	}

	if cfg == nil || !cfg.Report.UploadEnabled() {
		return nil
	}

	uploader, err := upload.NewS3Uploader(log, cfg.Report.Upload.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("s3 preflight: %w", err)
	}

	if _, err := uploader.UploadReport(ctx, string(variant), scanOutput); err != nil {
		return fmt.Errorf("uploading report: %w", err)
	}

	return nil
}

func writeReportFile(report *scanner.Report, path string, cfg *config.Config) error {
	var owner *fsutil.OwnerConfig

	if cfg != nil {
		parsed, err := fsutil.ParseOwner(cfg.Report.Owner)
		if err != nil {
			return fmt.Errorf("parsing report owner: %w", err)
		}

		owner = parsed
	}

	var buf bytes.Buffer
	if _, err := report.WriteTo(&buf); err != nil {
		return fmt.Errorf("formatting report: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644, owner); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}

	log.WithField("path", path).Info("Report written")

	return nil
}
