package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cacheredis "github.com/intelliquery/intent-agent/internal/cache/redis"
)

func cacheCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the redis embedding cache",
	}
	cmd.AddCommand(cacheFlushCmd(flags))
	return cmd
}

func cacheFlushCmd(flags *globalFlags) *cobra.Command {
	var embedder string

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Drop cached embeddings, e.g. after switching embedding models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return fmt.Errorf("redis cache is not enabled")
			}

			cache, err := cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			defer cache.Close()

			removed, err := cache.InvalidateEmbeddings(cmd.Context(), embedder)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached embeddings\n", removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&embedder, "embedder", "", "only drop entries of this embedder, e.g. hash-384")
	return cmd
}
