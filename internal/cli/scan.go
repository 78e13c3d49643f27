package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/cueprep/cueprep/internal/coordinator"
	"github.com/cueprep/cueprep/internal/domain"
	"github.com/cueprep/cueprep/internal/store"
)

var (
	scanMaxFiles int
	scanWorkers  int
)

var scanCmd = &cobra.Command{
	Use:   "scan [directories...]",
	Short: "Analyze directories once and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if scanWorkers > 0 {
			cfg.Workers = scanWorkers
		}
		cfg.WatchLibrary = false
		cfg.LogFile = ""
		if logLevel == "" {
			// keep the bar readable; the store still records everything
			cfg.LogLevel = "warn"
		}

		log := newLogger(cfg)

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		coord := coordinator.New(cfg, db, log)
		if err := coord.Start(); err != nil {
			return fmt.Errorf("start coordinator: %w", err)
		}
		defer coord.Stop()

		parent, err := coord.StartBatch(args, scanMaxFiles)
		if err != nil {
			return err
		}
		if parent.Status.IsTerminal() {
			recordScanHistory(db, args)
			fmt.Println("No audio files found")
			return nil
		}

		bar := progressbar.NewOptions(
			parent.ProgressTotal,
			progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionFullWidth(),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Analyzing library...[reset]"),
		)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				fmt.Fprintln(os.Stderr, "\nInterrupted; finished analyses are kept and the rest resumes next run")
				return nil
			case <-ticker.C:
				view, err := coord.Status(parent.ID)
				if err != nil {
					return err
				}
				_ = bar.Set(view.Task.ProgressDone)
				if !view.Task.Status.IsTerminal() {
					continue
				}

				_ = bar.Finish()
				fmt.Println()
				recordScanHistory(db, args)
				printScanSummary(coord, view)
				if view.Task.Status == domain.TaskStatusFailed {
					return fmt.Errorf("scan failed: %s", taskDetail(view.Task))
				}
				return nil
			}
		}
	},
}

// recordScanHistory remembers when and where the library was last scanned.
// serve falls back to these directories when watching is on but none are
// configured. Best effort; a write failure never fails the scan.
func recordScanHistory(db *store.DB, dirs []string) {
	repo := store.NewSettingsRepo(db)
	_ = repo.Set(store.SettingLastScanAt, time.Now().UTC().Format(time.RFC3339))
	if data, err := json.Marshal(dirs); err == nil {
		_ = repo.Set(store.SettingLibraryDirs, string(data))
	}
}

// maxFailuresShown caps the per-file failure list in the scan summary.
const maxFailuresShown = 10

func printScanSummary(coord *coordinator.Coordinator, view *coordinator.StatusView) {
	cs := view.Children
	if cs == nil {
		return
	}
	fmt.Printf("Analyzed %d of %d files", cs.Succeeded, cs.Total)
	if cs.Failed > 0 {
		fmt.Printf(", %d failed", cs.Failed)
	}
	if cs.Cancelled > 0 {
		fmt.Printf(", %d cancelled", cs.Cancelled)
	}
	fmt.Println()

	if cs.Failed == 0 {
		return
	}
	children, err := coord.Children(view.Task.ID)
	if err != nil {
		return
	}
	shown := 0
	for _, child := range children {
		if child.Status != domain.TaskStatusFailed {
			continue
		}
		if shown == maxFailuresShown {
			fmt.Printf("  ... and %d more\n", cs.Failed-shown)
			break
		}
		fmt.Printf("  %s: %s\n", child.Path, taskDetail(child))
		shown++
	}
}

func taskDetail(t *domain.Task) string {
	if t.Error != nil {
		return *t.Error
	}
	return string(t.Status)
}

func init() {
	scanCmd.Flags().IntVar(&scanMaxFiles, "max-files", -1, "cap the number of files analyzed, -1 for no cap")
	scanCmd.Flags().IntVar(&scanWorkers, "workers", 0, "analysis worker count")
	rootCmd.AddCommand(scanCmd)
}
