package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/fragship/fragship"
	"github.com/fragship/fragship/internal/adapters/fs"
	"github.com/fragship/fragship/internal/adapters/replay"
	"github.com/fragship/fragship/internal/config"
	"github.com/fragship/fragship/pkg/log"
	"github.com/fragship/fragship/plugins/configwatcher"
)

const helpDescription = `
Ship an HDR broadcast to a live-ingest service as ordered fMP4 fragments.

Highlights:
  - Cuts the encoded stream into keyframe-aligned, independently playable fragments.
  - Delivers in strict sequence order with bounded concurrency and automatic retry.
  - Bounded buffering: under sustained outage the oldest pending fragment is
    dropped and the gap journaled, never unbounded memory.
  - A stream key added to the config file mid-session is picked up live.

Configure via file ($HOME/.fragship/config.toml), FRAGSHIP_* environment
variables, or flags; flags win.
`

var longHelp = strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  fragship --replay capture.fsrp --stream-key <key>
  fragship --replay capture.fsrp --profile custom --ingest-url https://ingest.example/hls
  fragship --config $HOME/.fragship/config.toml --replay capture.fsrp --pace
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := config.DefaultConfig()
	var (
		cfgPath     string
		replayPath  string
		pace        bool
		dumpJournal bool
		journalOut  string
	)

	zl := config.Logger()

	root := &cobra.Command{
		Use:     "fragship",
		Short:   "Ship an HDR broadcast to a live-ingest service as ordered fMP4 fragments",
		Long:    longHelp,
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load config file first (default $HOME/.fragship/config.toml),
			// then apply env and flag overrides.
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = config.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && config.FileExists(cfgFile) {
				fc, err := config.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := config.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			config.ApplyEnvConfig(&cfg, changed)

			if err := cfg.Validate(); err != nil {
				return err
			}

			// Log configuration (masking the stream key)
			logCfg := cfg
			if len(logCfg.StreamKey) > 0 {
				logCfg.StreamKey = "*****"
			}
			zl.Info().Interface("config", logCfg).Msg("configuration")

			if replayPath == "" {
				return fmt.Errorf("--replay is required (live capture runs through the platform adapter, not this CLI)")
			}
			source, err := replay.Open(replayPath, pace)
			if err != nil {
				return err
			}

			logger := log.NewZerologAdapterWithLogger(zl)
			b, err := fragship.New(cfg, source, fragship.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("create broadcaster: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Pick up a stream key written to the config file mid-session.
			if cfgFile != "" && config.FileExists(cfgFile) {
				watcher := configwatcher.New(configwatcher.DefaultConfig(), cfgFile, b, logger)
				go func() {
					if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
						zl.Warn().Err(err).Msg("config watcher stopped")
					}
				}()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			if err := b.Start(ctx); err != nil {
				return fmt.Errorf("start broadcast: %w", err)
			}

			doneCh := make(chan struct{})
			go func() {
				b.Wait(ctx)
				close(doneCh)
			}()

			select {
			case <-sigCh:
				zl.Info().Msg("received signal, stopping...")
				if err := b.Stop(); err != nil {
					zl.Warn().Err(err).Msg("stop")
				}
			case <-doneCh:
				if b.Status() == fragship.StateCrashed {
					zl.Error().Msg("broadcast crashed")
				}
			}

			stats := b.Stats()
			zl.Info().
				Uint64("delivered", stats.Delivered).
				Uint64("dropped", stats.Dropped).
				Float64("throughput_bps", stats.Throughput).
				Msg("session summary")

			if dumpJournal {
				for _, e := range b.Journal().Snapshot() {
					fmt.Fprintf(os.Stderr, "%s [%s] %s\n",
						e.At.Format(time.RFC3339), e.Severity, e.Message)
				}
			}
			if journalOut != "" {
				if err := fs.ExportJournal(journalOut, b.Journal().Snapshot()); err != nil {
					zl.Warn().Err(err).Msg("journal export failed")
				}
			}

			if b.Status() == fragship.StateCrashed {
				return fmt.Errorf("broadcast crashed")
			}
			return nil
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.fragship/config.toml)")
	root.Flags().StringVar(&cfg.Profile, "profile", cfg.Profile, "ingest profile (youtube, custom)")
	root.Flags().StringVar(&cfg.IngestURL, "ingest-url", cfg.IngestURL, "ingest endpoint base URL (required for the custom profile)")
	root.Flags().StringVar(&cfg.StreamKey, "stream-key", cfg.StreamKey, "stream key authenticating the broadcast")
	root.Flags().StringVar(&cfg.SessionID, "session-id", cfg.SessionID, "broadcast session identifier (generated if empty)")

	root.Flags().StringVar(&replayPath, "replay", "", "replay capture file to stream")
	root.Flags().BoolVar(&pace, "pace", false, "throttle replay to recorded timestamps")
	root.Flags().BoolVar(&dumpJournal, "dump-journal", false, "print the diagnostic journal on exit")
	root.Flags().StringVar(&journalOut, "journal-out", "", "write the diagnostic journal to this JSON file on exit")

	root.Flags().DurationVar(&cfg.FragmentDuration, "fragment-duration", cfg.FragmentDuration, "target fragment duration")
	root.Flags().DurationVar(&cfg.MinFragmentDuration, "min-fragment-duration", cfg.MinFragmentDuration, "minimum emitted fragment duration")
	root.Flags().IntVar(&cfg.OverlayGridWidth, "overlay-grid", cfg.OverlayGridWidth, "overlay dirty-region grid width in pixels")
	root.Flags().IntVar(&cfg.MaxBufferedFragments, "max-buffered", cfg.MaxBufferedFragments, "pending fragment queue capacity")
	root.Flags().IntVar(&cfg.MaxConcurrentUploads, "max-concurrent", cfg.MaxConcurrentUploads, "concurrent upload attempts")
	root.Flags().IntVar(&cfg.MaxUploadRetries, "max-retries", cfg.MaxUploadRetries, "per-fragment attempt ceiling")
	root.Flags().DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "single upload attempt timeout")

	if err := root.Execute(); err != nil {
		zl.Error().Err(err).Msg("fragship failed")
		os.Exit(1)
	}
}
