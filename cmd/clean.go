package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nilfheim/boltget/internal/display"
	"github.com/nilfheim/boltget/internal/store"
)

var cleanAll bool

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [DIR]",
		Short: "Remove stale resume-meta sidecars (and their partial files with --all)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if err := cleanDir(dir); err != nil {
				display.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}
	cmd.Flags().BoolVar(&cleanAll, "all", false, "Also remove the partial output file next to each sidecar")
	return cmd
}

func cleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var removed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), store.MetaSuffix) {
			continue
		}
		sidecar := filepath.Join(dir, entry.Name())
		outputPath := strings.TrimSuffix(sidecar, store.MetaSuffix)
		if err := store.Delete(sidecar); err != nil {
			display.PrintWarning("Failed to remove " + sidecar)
			continue
		}
		removed++
		if cleanAll {
			os.Remove(outputPath)
		}
	}
	display.PrintSuccess(fmt.Sprintf("Removed %d resume sidecar(s)", removed))
	return nil
}
