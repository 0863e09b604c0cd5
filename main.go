package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"alertbox/pkg/logging"
	"alertbox/process/sweep"
)

// app carries what every subcommand shares once the config is loaded.
type app struct {
	cfg *Config
	log *log.Logger
	fs  afero.Fs
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{fs: afero.NewOsFs()}
	root := &cobra.Command{
		Use:          "alertbox",
		Short:        "Alert reports with file attachments",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.New(cfg.LogLevel, cfg.Debug)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newSweepCmd(a))
	return root
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

// newMigrateCmd runs the schema migration and seeding, then exits. Useful for
// CI or manual DB setup.
func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables, seed the default user and the upload directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(a.cfg)
			if err != nil {
				return err
			}
			if err := setupDB(db, a.fs, a.cfg, true, a.log); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration and seeding completed")
			return nil
		},
	}
}

func newSweepCmd(a *app) *cobra.Command {
	var (
		dryRun   bool
		yes      bool
		watch    bool
		grace    time.Duration
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove upload files that no file row points at",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if !dryRun && !yes {
				fmt.Fprintln(out, "Destructive operation. Pass --yes to confirm execution. Aborting.")
				return nil
			}
			if dryRun {
				fmt.Fprintln(out, "dry-run enabled; no files will be removed. Use --dry-run=false --yes to execute.")
			}
			db, err := openDB(a.cfg)
			if err != nil {
				return err
			}
			s := sweep.New(a.fs, db, a.cfg.UploadDirectory, sweep.Options{
				Grace:    grace,
				Interval: interval,
				DryRun:   dryRun,
			}, a.log)
			if watch {
				return s.Watch(cmd.Context())
			}
			rep, err := s.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "scanned=%d orphans=%d removed=%d\n", rep.Scanned, len(rep.Orphans), rep.Removed)
			for _, name := range rep.Orphans {
				fmt.Fprintln(out, "  ", name)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&dryRun, "dry-run", true, "Don't remove anything; show what would be removed")
	f.BoolVar(&yes, "yes", false, "Confirm destructive action (required to actually remove)")
	f.BoolVar(&watch, "watch", false, "Keep running and follow new files in the upload directory")
	f.DurationVar(&grace, "grace", sweep.DefaultGrace, "Minimum age of a file before it can be treated as an orphan")
	f.DurationVar(&interval, "interval", sweep.DefaultInterval, "Full sweep interval in watch mode")
	return cmd
}

// serve runs the API until ctx is cancelled, then shuts down gracefully.
func (a *app) serve(ctx context.Context) error {
	db, err := openDB(a.cfg)
	if err != nil {
		return err
	}
	if err := setupDB(db, a.fs, a.cfg, a.cfg.DBAutoMigrate, a.log); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.addr(),
		Handler:           newRouter(newServer(db, a.fs, a.cfg, a.log), a.cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
