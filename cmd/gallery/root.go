package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SorenWeile/comfyui-gallery/internal/config"
	"github.com/SorenWeile/comfyui-gallery/internal/favorites"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/scan"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
)

// app carries state shared by subcommands once configuration is loaded.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "gallery",
		Short:         "Browse, sync and favorite ComfyUI outputs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logging.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.String("root", "", "gallery root directory (default $COMFYUI_OUTPUT_DIR or /ComfyUI/output)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: json or console")
	_ = a.v.BindPFlag("root_dir", flags.Lookup("root"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log_format", flags.Lookup("log-format"))

	root.AddCommand(
		newServeCmd(a),
		newSyncCmd(a),
		newFavoritesCmd(a),
		newVacuumCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) scanOptions() (scan.Options, error) {
	opts := scan.Options{IncludeVideos: a.cfg.IncludeVideos, Exclude: a.cfg.Exclude}
	if err := opts.ValidatePatterns(); err != nil {
		return opts, err
	}
	return opts, nil
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, a.cfg.RootDir, store.Options{BusyTimeout: a.cfg.StoreBusyTimeout})
}

// withStore opens the record store for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(*store.Store, *favorites.Manager) error) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s, favorites.NewManager(s))
}
