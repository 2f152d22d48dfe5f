package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/intelliquery/intent-agent/internal/app"
	"github.com/intelliquery/intent-agent/pkg/config"
	"github.com/intelliquery/intent-agent/pkg/logger"
)

var version = "dev"

type globalFlags struct {
	configPath string
	logLevel   string
	noAudit    bool
	noLLM      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "intentctl",
		Short: "Classify queries and evaluate the intent pipeline offline",
		Long: `intentctl runs the intent pipeline outside the API server.

Run 'intentctl classify "show sales in Mumbai"' to analyse one query.
Run 'intentctl eval dataset.yaml' to score the pipeline on labelled queries.
Run 'intentctl catalog check catalog.yaml' to validate a workspace catalog.
Run 'intentctl cache flush' to drop cached embeddings.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(flags.logLevel, "console", "stderr")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.noAudit, "no-audit", false, "do not record requests in the audit store")
	root.PersistentFlags().BoolVar(&flags.noLLM, "no-llm", false, "skip the remote model and use the classifier fallback")

	root.AddCommand(
		classifyCmd(flags),
		evalCmd(flags),
		catalogCmd(),
		cacheCmd(flags),
		versionCmd(),
	)
	return root
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	v := viper.New()
	if flags.configPath != "" {
		v.SetConfigFile(flags.configPath)
	}
	cfg, err := config.LoadWith(v)
	if err != nil {
		return nil, err
	}
	if flags.noAudit {
		cfg.SQLite.Enabled = false
	}
	if flags.noLLM {
		cfg.LLM.Provider = "none"
	}
	return cfg, nil
}

func loadRuntime(ctx context.Context, flags *globalFlags) (*app.Runtime, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "intentctl %s\n", version)
		},
	}
}
