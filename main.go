package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"web/papercloud/cluster"
	"web/papercloud/config"
	"web/papercloud/paper"
	"web/papercloud/render"
)

var (
	configFile string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "papercloud",
		Short:         "Explore a clustered paper collection in 3D",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides logging.level")

	root.AddCommand(newGenerateCmd(), newPlayCmd(), newServeCmd())
	return root
}

// setup loads the config and builds the logger shared by every command.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Set("logging.level", logLevel)
	}
	return cfg, cfg.CreateLogger(os.Stderr), nil
}

// loadDataset reads data.path and clusters it on the configured axis.
func loadDataset(cfg *config.Config, log zerolog.Logger, keepVertices bool) (*paper.Store, *cluster.Index, error) {
	enc, err := cfg.Encoding()
	if err != nil {
		return nil, nil, err
	}
	axis, err := cfg.Axis()
	if err != nil {
		return nil, nil, err
	}

	store := paper.NewStore(
		paper.WithLogger(log),
		paper.WithDelimiter(cfg.Delimiter()),
		paper.WithEncoding(enc),
	)
	if _, err := store.Load(cfg.DataPath()); err != nil {
		return nil, nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	start := time.Now()
	ix := cluster.Build(store.Papers(), cluster.Options{Axis: axis, KeepVertices: keepVertices})
	log.Info().
		Stringer("axis", axis).
		Int("roots", ix.Len(paper.MinDepth)).
		Int("leaves", ix.Len(paper.MaxDepth)).
		Dur("took", time.Since(start)).
		Msg("Clusters built")
	return store, ix, nil
}

// openMeshes opens the hull cache. A missing cache falls back to centroids.
func openMeshes(cfg *config.Config, log zerolog.Logger) (render.MeshSource, error) {
	cache, err := cluster.OpenCache(cfg.CacheDir(), log)
	if errors.Is(err, cluster.ErrCacheMissing) {
		log.Warn().Str("dir", cfg.CacheDir()).Msg("No hull cache, run generate first. Drawing centroids only")
		return render.NoMeshes{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open hull cache: %w", err)
	}
	return cache, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
