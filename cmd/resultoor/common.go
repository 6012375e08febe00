package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/resultoor/pkg/config"
	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/ethpandaops/resultoor/pkg/qase"
	"github.com/ethpandaops/resultoor/pkg/reconciler"
	"github.com/ethpandaops/resultoor/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// loadConfig loads and validates the config files. The config log level
// applies unless --log-level was given explicitly.
func loadConfig(cmd *cobra.Command, opts config.ValidateOpts) (*config.Config, error) {
	if len(cfgFiles) == 0 {
		return nil, fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(opts); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !cmd.Flags().Changed("log-level") {
		level, _ := cfg.Global.ParsedLogLevel()
		log.SetLevel(level)
	}

	return cfg, nil
}

func variantArg(args []string) (outcome.Variant, error) {
	variant := outcome.Variant(strings.ToLower(strings.TrimSpace(args[0])))
	if !variant.IsValid() {
		names := make([]string, 0, len(outcome.Variants))
		for _, v := range outcome.Variants {
			names = append(names, string(v))
		}

		return "", fmt.Errorf("unknown variant %q (expected one of %s)",
			args[0], strings.Join(names, ", "))
	}

	return variant, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	return st, nil
}

func newReconciler(cfg *config.Config) *reconciler.Reconciler {
	client := qase.NewClient(log, qase.Config{
		BaseURL:           cfg.Qase.BaseURL,
		ProjectCode:       cfg.Qase.ProjectCode,
		Token:             cfg.Qase.APIToken,
		Timeout:           cfg.Qase.TimeoutDuration(),
		Retries:           cfg.Qase.Retries,
		RequestsPerMinute: cfg.Qase.RequestsPerMinute,
	})

	return reconciler.New(log, client, reconciler.Options{
		PageSize: cfg.Qase.PageSize,
	})
}

// reconcileVariant runs one pass over every stored record of variant and
// persists a newly created suite id back into the config.
func reconcileVariant(
	ctx context.Context,
	cfg *config.Config,
	st store.Store,
	variant outcome.Variant,
	publishRun bool,
) (*reconciler.Summary, error) {
	vc, _ := cfg.Variant(string(variant))

	records, err := st.QueryAll(ctx, variant)
	if err != nil {
		return nil, fmt.Errorf("reading stored outcomes: %w", err)
	}

	summary, err := newReconciler(cfg).Reconcile(ctx, reconciler.Pass{
		Variant:    variant,
		SuiteID:    vc.SuiteID,
		SuiteName:  vc.SuiteName,
		RunName:    vc.RunName,
		Records:    records,
		PublishRun: publishRun,
	})
	if err != nil {
		return summary, fmt.Errorf("reconciling %s: %w", variant, err)
	}

	if summary.SuiteCreated {
		vc.SuiteID = summary.SuiteID

		if err := persistSuiteID(variant, summary.SuiteID); err != nil {
			log.WithError(err).WithField("suite_id", summary.SuiteID).
				Warn("Failed to persist new suite id")
		}
	}

	return summary, nil
}

func persistSuiteID(variant outcome.Variant, suiteID int64) error {
	path, err := config.SuiteIDFile(cfgFiles, string(variant))
	if err != nil {
		return err
	}

	if err := config.SaveSuiteID(path, string(variant), suiteID); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"variant":  variant,
		"suite_id": suiteID,
		"file":     path,
	}).Info("Persisted new suite id")

	return nil
}

func printSummary(cmd *cobra.Command, summary *reconciler.Summary) {
	if summary == nil {
		return
	}

	fmt.Fprintln(cmd.OutOrStdout(), summary.String())

	if !summary.OK() {
		log.Warn("Some remote updates failed")
	}
}
