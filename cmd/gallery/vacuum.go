package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/SorenWeile/comfyui-gallery/internal/favorites"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
)

func newVacuumCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the record store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(s *store.Store, _ *favorites.Manager) error {
				before := fileSize(s.Path())
				if err := s.Compact(cmd.Context()); err != nil {
					return err
				}
				after := fileSize(s.Path())
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", s.Path(),
					humanize.Bytes(uint64(before)), humanize.Bytes(uint64(after)))
				return nil
			})
		},
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
