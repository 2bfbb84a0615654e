// Command cncshadowd is the SHADOW rebuild daemon: it watches the master
// program directory, rebuilds the inactive slot's FAT32 image on change,
// and toggles the USB mass-storage gadget to promote it. See pkg/shadow
// for the orchestration and pkg/config for the CNC_* environment
// variables it reads.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cncworks/shadow/pkg/config"
	"github.com/cncworks/shadow/pkg/history"
	"github.com/cncworks/shadow/pkg/ledio"
	"github.com/cncworks/shadow/pkg/lockmgr"
	"github.com/cncworks/shadow/pkg/log"
	"github.com/cncworks/shadow/pkg/metrics"
	"github.com/cncworks/shadow/pkg/rebuild"
	"github.com/cncworks/shadow/pkg/selftest"
	"github.com/cncworks/shadow/pkg/shadow"
	"github.com/cncworks/shadow/pkg/slot"
	"github.com/cncworks/shadow/pkg/statestore"
	"github.com/cncworks/shadow/pkg/sysexec"
	"github.com/cncworks/shadow/pkg/usbgadget"
	"github.com/cncworks/shadow/pkg/watcher"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cncshadowd",
	Short:   "SHADOW rebuild daemon for the CNC control appliance",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"cncshadowd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rebuildCmd)
	rebuildCmd.AddCommand(rebuildDiffCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the watch-rebuild-export loop and the metrics server",
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		selfTestEvery, _ := cmd.Flags().GetInt("selftest-every")

		cfg := config.Load()
		runner := sysexec.NewExecRunner()

		slotMgr := slot.New(slot.Config{
			ImageA:         cfg.ImageA,
			ImageB:         cfg.ImageB,
			ActiveSlotFile: cfg.ActiveSlotFile,
			InitialSlot:    slot.Slot(cfg.InitialSlot),
			TmpSuffix:      cfg.TmpSuffix,
		})

		stateStore := statestore.New(cfg.StateFile)

		rebuildEngine, err := rebuild.New(rebuild.Config{
			MasterDir:  cfg.MasterDir,
			SlotSizeMB: cfg.SlotSizeMB,
			TmpSuffix:  cfg.TmpSuffix,
			Label:      cfg.USBLabel,
		}, runner)
		if err != nil {
			return fmt.Errorf("failed to construct rebuild engine: %w", err)
		}

		usbMgr := usbgadget.New(usbgadget.Config{
			Timeouts: usbgadget.Timeouts{
				StopTimeout:  time.Duration(cfg.USBStopTimeout) * time.Second,
				StartTimeout: time.Duration(cfg.USBStartTimeout) * time.Second,
			},
		}, runner)

		watchSvc := watcher.New(cfg.MasterDir)
		lockMgr := lockmgr.New(cfg.LockFile)
		historyLog := history.New(cfg.HistoryFile, cfg.HistoryLimit)

		var ledSink ledio.Sink = ledio.NoopSink{}
		if ledPath, _ := cmd.Flags().GetString("led-path"); ledPath != "" {
			ledSink = ledio.NewFileSink(ledPath)
		}

		mgr := shadow.New(shadow.Config{
			StateStore:      stateStore,
			Rebuild:         rebuildEngine,
			USB:             usbMgr,
			Slot:            slotMgr,
			Lock:            lockMgr,
			Watcher:         watchSvc,
			History:         historyLog,
			LED:             ledSink,
			DebounceSeconds: cfg.DebounceSeconds,
			ModeNames:       shadow.DefaultModeNames,
		})

		metrics.SetVersion(Version)
		metrics.RegisterComponent("statestore", true, "loaded")
		metrics.RegisterComponent("lock", true, fmt.Sprintf("path=%s", cfg.LockFile))
		metrics.RegisterComponent("watcher", false, "starting")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := mgr.Start(ctx); err != nil {
			metrics.RegisterComponent("watcher", false, err.Error())
			return fmt.Errorf("failed to start shadow manager: %w", err)
		}
		metrics.RegisterComponent("watcher", true, "watching "+cfg.MasterDir)

		collector := metrics.NewCollector(stateStore, runner, selftest.Options{
			EnvFile:      "",
			ValidateRoot: selftest.DefaultValidateRoot,
		}, selfTestEvery)
		collector.Start()

		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.Handle("/health", metrics.HealthHandler())
			http.Handle("/ready", metrics.ReadyHandler())
			http.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		log.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Logger.Info().Msg("shutting down")
		collector.Stop()
		mgr.Stop()
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Operator-facing rebuild utilities",
}

var rebuildDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show what a rebuild would add, modify, or remove in a target directory (the active slot image is not mounted for you)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		slotMgr := slot.New(slot.Config{
			ImageA:         cfg.ImageA,
			ImageB:         cfg.ImageB,
			ActiveSlotFile: cfg.ActiveSlotFile,
			InitialSlot:    slot.Slot(cfg.InitialSlot),
			TmpSuffix:      cfg.TmpSuffix,
		})

		active, err := slotMgr.ReadActiveSlot()
		if err != nil {
			return fmt.Errorf("failed to read active slot: %w", err)
		}
		targetDir, _ := cmd.Flags().GetString("target")
		if targetDir == "" {
			targetDir = cfg.MasterDir
		}

		engine, err := rebuild.New(rebuild.Config{
			MasterDir:  cfg.MasterDir,
			SlotSizeMB: cfg.SlotSizeMB,
			TmpSuffix:  cfg.TmpSuffix,
			Label:      cfg.USBLabel,
		}, sysexec.NewExecRunner())
		if err != nil {
			return fmt.Errorf("failed to construct rebuild engine: %w", err)
		}

		diffs, err := engine.DryRunDiff(targetDir)
		if err != nil {
			return fmt.Errorf("failed to compute diff: %w", err)
		}

		fmt.Printf("active slot: %s\n", active)
		if len(diffs) == 0 {
			fmt.Println("no differences")
			return nil
		}
		for _, d := range diffs {
			fmt.Printf("%-10s %s\n", d.Change, d.Path)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")
	runCmd.Flags().Int("selftest-every", 20, "Number of metrics-collection ticks between background self-test runs (0 disables)")
	runCmd.Flags().String("led-path", "", "Path to the LED mode-name sink file (empty disables LED updates)")

	rebuildDiffCmd.Flags().String("target", "", "Directory to diff against the master (defaults to the master directory itself)")
}
