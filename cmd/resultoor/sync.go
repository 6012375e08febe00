package main

import (
	"fmt"

	"github.com/ethpandaops/resultoor/pkg/classifier"
	"github.com/ethpandaops/resultoor/pkg/config"
	"github.com/ethpandaops/resultoor/pkg/ingest"
	"github.com/ethpandaops/resultoor/pkg/scanner"
	"github.com/spf13/cobra"
)

var (
	syncPublishRun bool
	syncNoRemote   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync <unit|functional|fuzz>",
	Short: "Ingest a test log into the store and reconcile remote cases",
	Long: `Scan the variant's configured log file, store new outcomes with
deduplication and create every missing test case in the remote suite.
The suite is created when absent and its id is written back to the config.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncPublishRun, "publish-run", false,
		"also open a run, post every result and complete it")
	syncCmd.Flags().BoolVar(&syncNoRemote, "no-remote", false,
		"only ingest into the store, skip remote reconciliation")
}

func runSync(cmd *cobra.Command, args []string) error {
	variant, err := variantArg(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, config.ValidateOpts{
		Variant:        string(variant),
		RequireLogFile: true,
		RequireRemote:  !syncNoRemote,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	vc, _ := cfg.Variant(string(variant))

	report, err := scanner.NewScanner(log, classifier.New(variant)).ScanFile(ctx, vc.LogFile)
	if err != nil {
		return fmt.Errorf("scanning %s log: %w", variant, err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	result, err := ingest.New(log, st).Ingest(ctx, report)
	if err != nil {
		return fmt.Errorf("ingesting %s outcomes: %w", variant, err)
	}

	out := cmd.OutOrStdout()

	if result.Inserted == 0 {
		fmt.Fprintln(out, "No new data was inserted.")
	} else {
		fmt.Fprintf(out, "%d new rows inserted into the database.\n", result.Inserted)
	}

	if syncNoRemote {
		return nil
	}

	summary, err := reconcileVariant(ctx, cfg, st, variant, syncPublishRun)
	printSummary(cmd, summary)

	return err
}
