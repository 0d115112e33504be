package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/SorenWeile/comfyui-gallery/internal/favorites"
	"github.com/SorenWeile/comfyui-gallery/internal/reconcile"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass and print what changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := a.scanOptions()
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s *store.Store, favs *favorites.Manager) error {
				return runSync(cmd, s, favs, a.cfg.RootDir, reconcile.NewReconciler(s, opts))
			})
		},
	}
}

func runSync(cmd *cobra.Command, s *store.Store, favs *favorites.Manager, root string, rec *reconcile.Reconciler) error {
	ctx := cmd.Context()
	res, err := rec.Reconcile(ctx, root)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "added %s, updated %s, deleted %s in %s\n",
		humanize.Comma(int64(res.Added)),
		humanize.Comma(int64(res.Updated)),
		humanize.Comma(int64(res.Deleted)),
		res.Duration.Round(time.Millisecond))

	total, err := s.CountFiles(ctx)
	if err != nil {
		return err
	}
	nfav, err := favs.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s files indexed, %s favorites\n", humanize.Comma(int64(total)), humanize.Comma(int64(nfav)))

	for _, p := range res.Collisions {
		fmt.Fprintf(out, "skipped (identifier collision): %s\n", p)
	}
	for _, e := range res.ScanErrors {
		fmt.Fprintf(out, "unreadable: %v\n", e)
	}
	return nil
}
