package main

import (
	"fmt"
	"math"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/SorenWeile/comfyui-gallery/internal/favorites"
	"github.com/SorenWeile/comfyui-gallery/internal/storage"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
)

func newFavoritesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"fav"},
		Short:   "List and change favorites",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List favorite files, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(_ *store.Store, favs *favorites.Manager) error {
				records, err := favs.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PATH\tSIZE\tMODIFIED")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Path, humanize.Bytes(uint64(r.Size)), humanize.Time(mtimeTime(r.MTime)))
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of favorites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(_ *store.Store, favs *favorites.Manager) error {
				n, err := favs.Count(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <path>",
		Short: "Flip the favorite flag of an indexed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel, err := storage.CleanKey(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(_ *store.Store, favs *favorites.Manager) error {
				value, err := favs.Toggle(cmd.Context(), rel)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: favorite=%t\n", rel, value)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <true|false> <path>...",
		Short: "Set the favorite flag on indexed files",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseBool(args[0])
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[0], err)
			}
			paths := make([]string, 0, len(args)-1)
			for _, p := range args[1:] {
				rel, err := storage.CleanKey(p)
				if err != nil {
					return err
				}
				paths = append(paths, rel)
			}
			return a.withStore(cmd.Context(), func(_ *store.Store, favs *favorites.Manager) error {
				n, err := favs.SetBatch(cmd.Context(), paths, value)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %d of %d\n", n, len(paths))
				return nil
			})
		},
	})

	return cmd
}

func mtimeTime(mtime float64) time.Time {
	sec, frac := math.Modf(mtime)
	return time.Unix(int64(sec), int64(frac*1e9))
}
