package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/cueprep/cueprep/internal/coordinator"
	httpapp "github.com/cueprep/cueprep/internal/http"
	"github.com/cueprep/cueprep/internal/settings"
	"github.com/cueprep/cueprep/internal/store"
)

var (
	servePort    string
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis coordinator and its JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if servePort != "" {
			cfg.Port = servePort
		}
		if serveWorkers > 0 {
			cfg.Workers = serveWorkers
		}

		log := newLogger(cfg)

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.WatchLibrary && len(cfg.LibraryDirs) == 0 {
			if dirs := lastScannedDirs(db); len(dirs) > 0 {
				log.Info("Watching last scanned directories", "dirs", len(dirs))
				cfg.LibraryDirs = dirs
			}
		}

		coord := coordinator.New(cfg, db, log)
		if err := coord.Start(); err != nil {
			return fmt.Errorf("start coordinator: %w", err)
		}
		defer coord.Stop()

		settingsStore, err := settings.NewStore(store.NewSettingsRepo(db), log)
		if err != nil {
			return err
		}

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		httpapp.NewHandler(coord, db, settingsStore, log).RegisterRoutes(r)

		srv := &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: r,
		}

		go func() {
			log.Info("Server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Server error", "error", err)
				os.Exit(1)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

// lastScannedDirs loads the directories recorded by the most recent scan run.
func lastScannedDirs(db *store.DB) []string {
	raw, err := store.NewSettingsRepo(db).Get(store.SettingLibraryDirs)
	if err != nil || raw == "" {
		return nil
	}
	var dirs []string
	if err := json.Unmarshal([]byte(raw), &dirs); err != nil {
		return nil
	}
	return dirs
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "HTTP listen port")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "analysis worker count")
	rootCmd.AddCommand(serveCmd)
}
