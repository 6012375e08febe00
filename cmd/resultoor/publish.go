package main

import (
	"github.com/ethpandaops/resultoor/pkg/config"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish <unit|functional|fuzz>",
	Short: "Publish stored outcomes as a completed remote run",
	Long: `Open a timestamped run in the variant's remote suite, post the latest
stored result of every test and complete the run. Missing cases are created
first so every stored test has a case to post against.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	variant, err := variantArg(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, config.ValidateOpts{
		Variant:       string(variant),
		RequireRemote: true,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	summary, err := reconcileVariant(ctx, cfg, st, variant, true)
	printSummary(cmd, summary)

	return err
}
