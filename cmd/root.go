// Package cmd wires the engine, manager, and display packages into a
// cobra CLI the way the teacher's cmd/root.go wires its downloaders,
// generalized here to one multi-connection engine per URL.
package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nilfheim/boltget/internal/display"
	"github.com/nilfheim/boltget/internal/engine"
	"github.com/nilfheim/boltget/internal/manager"
	"github.com/nilfheim/boltget/internal/resource"
	"github.com/nilfheim/boltget/internal/transport"
)

var (
	output        string
	segments      int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	verbose       bool
	quiet         bool
	infoOnly      bool
)

var BoltgetVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "boltget [URL]",
	Short:   "boltget is a multi-connection HTTP download accelerator",
	Version: BoltgetVersion,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if len(args) == 0 {
			display.PrintError("No URL provided")
			os.Exit(1)
		}
		runSingle(args[0])
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := zerolog.WarnLevel
	switch {
	case verbose:
		level = zerolog.DebugLevel
	case quiet:
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func parseHeaders(raw []string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out
}

// transportConfig builds a transport.Config from the flags shared by
// the single-URL and batch commands.
func transportConfig() transport.Config {
	return transport.Config{
		Timeout:       timeout,
		KeepAlive:     kaTimeout,
		ProxyURL:      proxyURL,
		ProxyUsername: proxyUsername,
		ProxyPassword: proxyPassword,
		UserAgent:     userAgent,
		Headers:       parseHeaders(headers),
	}
}

func engineConfig() engine.Config {
	return engine.Config{
		Transport:        transportConfig(),
		Planner:          engine.PlannerConfig{Pinned: segments},
		AdaptiveSegments: segments == 0,
		ProbeSize:        transport.DefaultProbeSize,
	}
}

func defaultOutputPath(rawURL string) (string, error) {
	u, err := resource.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Filename(), nil
}

// runSingle drives one download to completion, rendering progress with
// a display.Manager the way the teacher's output.Manager drives a
// single danzo job.
func runSingle(rawURL string) {
	out := output
	if out == "" {
		inferred, err := defaultOutputPath(rawURL)
		if err != nil {
			display.PrintError("Invalid URL format")
			os.Exit(1)
		}
		out = inferred
	}

	m := manager.New(engineConfig())
	e, err := m.Create(rawURL)
	if err != nil {
		display.PrintError(fmt.Sprintf("Failed to create download: %v", err))
		os.Exit(1)
	}
	e.OutputPath(out)

	if infoOnly {
		printInfo(rawURL, out)
		return
	}

	dm := display.NewManager()
	dm.Track(e.ID(), rawURL)
	e.OnProgress(func(s engine.Snapshot) { dm.Update(e.ID(), s) })
	if !quiet {
		dm.Start()
	}

	if err := m.Start(e.ID()); err != nil {
		display.PrintError(fmt.Sprintf("Failed to start download: %v", err))
		os.Exit(1)
	}

	for !e.State().Terminal() {
		time.Sleep(100 * time.Millisecond)
	}
	if !quiet {
		dm.Stop()
	}

	final := e.Progress()
	if final.State != engine.EngineCompleted {
		fmt.Println()
		display.PrintError(fmt.Sprintf("Download failed: %v", final.Err))
		os.Exit(1)
	}
	display.PrintSuccess(fmt.Sprintf("Saved to %s", out))
}

func printInfo(rawURL, out string) {
	u, err := resource.Parse(rawURL)
	if err != nil {
		display.PrintError("Invalid URL format")
		os.Exit(1)
	}
	display.PrintHeader("Download info")
	fmt.Printf("  URL:    %s\n", u.String())
	fmt.Printf("  Host:   %s\n", u.Host)
	fmt.Printf("  Output: %s\n", out)
}

func init() {
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (inferred from the URL if not provided)")
	rootCmd.PersistentFlags().IntVarP(&segments, "segments", "n", 0, "Number of segments to split the download into, clamped to 2-32 (0 lets boltget decide)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 60*time.Second, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for the connection pool")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", "", "User agent to send with every request")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom header, e.g. 'Authorization: Bearer xyz'; repeatable")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.Flags().BoolVarP(&infoOnly, "info", "i", false, "Print the parsed URL, host, and output path without contacting the server")

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}
