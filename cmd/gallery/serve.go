package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SorenWeile/comfyui-gallery/internal/api"
	"github.com/SorenWeile/comfyui-gallery/internal/events"
	"github.com/SorenWeile/comfyui-gallery/internal/favorites"
	"github.com/SorenWeile/comfyui-gallery/internal/gallery"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
	"github.com/SorenWeile/comfyui-gallery/internal/reconcile"
	"github.com/SorenWeile/comfyui-gallery/internal/retry"
	"github.com/SorenWeile/comfyui-gallery/internal/storage"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
	"github.com/SorenWeile/comfyui-gallery/internal/tree"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gallery HTTP server with background sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("listen", "", "HTTP listen address (default :3002)")
	cmd.Flags().String("metrics-listen", "", "metrics listen address, empty to disable (default :9090)")
	_ = a.v.BindPFlag("listen_addr", cmd.Flags().Lookup("listen"))
	_ = a.v.BindPFlag("metrics_addr", cmd.Flags().Lookup("metrics-listen"))
	return cmd
}

func (a *app) serve(parent context.Context) error {
	cfg := a.cfg
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("gallery server starting",
		zap.String("root", cfg.RootDir),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	scanOpts, err := a.scanOptions()
	if err != nil {
		return err
	}

	// A schema error is fatal; an unavailable store is too, since nothing
	// can be served without it.
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	mediaStore, err := storage.New(cfg.RootDir, false)
	if err != nil {
		return err
	}
	thumbStore, err := storage.New(filepath.Join(store.Dir(cfg.RootDir), gallery.ThumbDirName), true)
	if err != nil {
		return err
	}

	broadcaster := events.NewBroadcaster()
	treeCache := tree.NewCache(cfg.TreeCacheTTL, tree.WithScanOptions(scanOpts))
	favs := favorites.NewManager(s)

	thumbnailer := gallery.NewThumbnailer(mediaStore, thumbStore, cfg.ThumbnailSize, cfg.ThumbnailQuality)
	processor := gallery.NewProcessor(thumbnailer, cfg.ThumbnailWorkers)
	processor.Start(ctx)
	defer processor.Stop()

	retryCfg := retry.DefaultConfig()
	retryCfg.Retryable = retry.On(store.ErrStoreBusy)
	scheduler := reconcile.NewScheduler(reconcile.NewReconciler(s, scanOpts), cfg.RootDir, reconcile.SchedulerOptions{
		Interval: cfg.SyncInterval,
		Watch:    cfg.Watch,
		Debounce: cfg.WatchDebounce,
		Retry:    retryCfg,
		Cache:    treeCache,
		Events:   broadcaster,
	})
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := scheduler.Run(ctx); err != nil {
			logging.Error("sync scheduler stopped", zap.Error(err))
		}
	}()

	if n, err := favs.Count(ctx); err == nil {
		metrics.SetFavorites(n)
	}

	srv := api.NewServer(api.Deps{
		Store:        s,
		Favorites:    favs,
		Scheduler:    scheduler,
		Tree:         treeCache,
		Media:        mediaStore,
		Thumbnails:   thumbnailer,
		Processor:    processor,
		Broadcaster:  broadcaster,
		ScanOptions:  scanOpts,
		RefreshRate:  cfg.RefreshRate,
		RefreshBurst: cfg.RefreshBurst,
	})

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with the signal so SSE streams close.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("HTTP server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logging.Info("shutting down...")
	case err := <-serveErr:
		stop()
		if err != nil {
			logging.Error("HTTP server error", zap.Error(err))
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
		<-schedDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		httpServer.Close()
	}
	if metricsServer != nil {
		metricsServer.Close()
	}
	<-schedDone
	logging.Info("gallery server stopped")
	return nil
}
