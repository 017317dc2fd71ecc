package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nilfheim/boltget/internal/display"
	"github.com/nilfheim/boltget/internal/engine"
	"github.com/nilfheim/boltget/internal/manager"
)

// BatchEntry mirrors the teacher's DownloadEntry shape, dropping its
// Type field since every entry here is an HTTP multi-connection
// download.
type BatchEntry struct {
	OutputPath string `yaml:"op"`
	URL        string `yaml:"link"`
}

var batchWorkers int

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Download every entry in a YAML list concurrently",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			entries, err := readBatchFile(args[0])
			if err != nil {
				display.PrintError(fmt.Sprintf("Failed to read batch file: %v", err))
				os.Exit(1)
			}
			if len(entries) == 0 {
				display.PrintError("No valid entries found in the batch file")
				os.Exit(1)
			}
			runBatch(entries)
		},
	}
	cmd.Flags().IntVarP(&batchWorkers, "workers", "w", 4, "Number of downloads to run in parallel")
	return cmd
}

func readBatchFile(path string) ([]BatchEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []BatchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	var valid []BatchEntry
	for _, e := range entries {
		if e.URL == "" {
			display.PrintWarning("Skipping entry with no link")
			continue
		}
		valid = append(valid, e)
	}
	return valid, nil
}

// runBatch fans each entry out to its own engine, bounding concurrency
// to batchWorkers the way the teacher's scheduler bounds job workers,
// and renders all of them through one shared display.Manager.
func runBatch(entries []BatchEntry) {
	m := manager.New(engineConfig())
	dm := display.NewManager()
	if !quiet {
		dm.Start()
	}

	sem := make(chan struct{}, max(batchWorkers, 1))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures int

	for _, entry := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(entry BatchEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			out := entry.OutputPath
			if out == "" {
				inferred, err := defaultOutputPath(entry.URL)
				if err != nil {
					display.PrintError(fmt.Sprintf("Invalid URL %q, skipping", entry.URL))
					mu.Lock()
					failures++
					mu.Unlock()
					return
				}
				out = inferred
			}

			e, err := m.Create(entry.URL)
			if err != nil {
				display.PrintError(fmt.Sprintf("Failed to create download for %q: %v", entry.URL, err))
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			e.OutputPath(out)
			dm.Track(e.ID(), entry.URL)
			e.OnProgress(func(s engine.Snapshot) { dm.Update(e.ID(), s) })

			if err := m.Start(e.ID()); err != nil {
				display.PrintError(fmt.Sprintf("Failed to start %q: %v", entry.URL, err))
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			for !e.State().Terminal() {
				time.Sleep(100 * time.Millisecond)
			}
			if e.State() != engine.EngineCompleted {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}(entry)
	}
	wg.Wait()

	if !quiet {
		dm.Stop()
	}
	if failures > 0 {
		fmt.Println()
		display.PrintError(fmt.Sprintf("%d of %d downloads failed", failures, len(entries)))
		os.Exit(1)
	}
}
