package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"web/papercloud/cluster"
	"web/papercloud/paper"
	"web/papercloud/render"
)

func newGenerateCmd() *cobra.Command {
	var (
		synthetic int
		seed      int64
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build the convex hull cache for every cluster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("compress") {
				v, _ := flags.GetBool("compress")
				cfg.Set("cluster.compress", v)
			}
			if flags.Changed("obj") {
				v, _ := flags.GetBool("obj")
				cfg.Set("cluster.export_obj", v)
			}
			if flags.Changed("skip-degenerate") {
				v, _ := flags.GetBool("skip-degenerate")
				cfg.Set("cluster.skip_degenerate", v)
			}
			if flags.Changed("workers") {
				v, _ := flags.GetInt("workers")
				cfg.Set("cluster.workers", v)
			}

			if synthetic > 0 {
				if err := writeSynthetic(cfg.DataPath(), synthetic, seed, cfg.Delimiter()); err != nil {
					return err
				}
				log.Info().Str("path", cfg.DataPath()).Int("papers", synthetic).Msg("Wrote synthetic dataset")
			}

			_, ix, err := loadDataset(cfg, log, true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			m, err := cluster.Generate(ctx, cfg.CacheDir(), ix, cluster.GenerateOptions{
				Compress:       cfg.Compress(),
				ExportOBJ:      cfg.ExportOBJ(),
				SkipDegenerate: cfg.SkipDegenerate(),
				Workers:        cfg.Workers(),
				Source:         cfg.DataPath(),
				Logger:         log,
			})
			if err != nil {
				return fmt.Errorf("failed to generate hulls: %w", err)
			}

			log.Info().
				Str("dir", cfg.CacheDir()).
				Int("hulls", len(m.Entries)).
				Int("skipped", m.Skipped).
				Str("size", render.FormatBytes(dirSize(cfg.CacheDir()))).
				Dur("took", time.Since(start)).
				Msg("Generate finished")
			return nil
		},
	}
	cmd.Flags().IntVar(&synthetic, "synthetic", 0, "write N synthetic papers to data.path first")
	cmd.Flags().Int64Var(&seed, "seed", 1, "seed for --synthetic")
	cmd.Flags().Bool("compress", true, "zstd-compress hull files, overrides cluster.compress")
	cmd.Flags().Bool("obj", false, "export an .obj beside each hull")
	cmd.Flags().Bool("skip-degenerate", false, "skip clusters without a hull instead of failing")
	cmd.Flags().Int("workers", 0, "hull workers, 0 for one per CPU")
	return cmd
}

func writeSynthetic(path string, n int, seed int64, delim rune) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	defer f.Close()

	opts := paper.DefaultSyntheticOptions()
	opts.Seed = seed
	opts.Delimiter = delim
	if err := paper.WriteSynthetic(f, n, opts); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	return f.Close()
}

func dirSize(dir string) int64 {
	var size int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !e.IsDir() {
			size += info.Size()
		}
	}
	return size
}
