package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dukerupert/chorebank/internal/backup"
	"github.com/dukerupert/chorebank/internal/config"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/logging"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/push"
	"github.com/dukerupert/chorebank/internal/server"
	"github.com/dukerupert/chorebank/internal/store"
)

const usage = `usage: chorebank [command]

commands:
  serve                            run the HTTP API (default)
  sweep                            run one overdue/expiry pass and exit
  init <family> <parent> [email]   create a family with its first parent
  backup                           upload an encrypted snapshot and prune old ones
  backups                          list stored snapshots
  restore <key> <path>             download a snapshot into a new database file
  vapid-keys                       print a new VAPID key pair`

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	if cmd == "vapid-keys" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("CHOREBANK_VAPID_PUBLIC_KEY=%s\nCHOREBANK_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = serve(ctx, db, cfg, logger)
	case "sweep":
		err = sweepOnce(ctx, db, cfg, logger)
	case "init":
		err = initFamily(ctx, db, os.Args[2:])
	case "backup", "backups", "restore":
		err = runBackup(ctx, db, cfg, logger, cmd, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, db *sql.DB, cfg *config.Config, logger *slog.Logger) error {
	srv, err := server.New(ctx, db, cfg, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if cfg.BackupEnabled() && cfg.Backup.Interval > 0 {
		mgr, err := newBackupManager(ctx, db, cfg, logger)
		if err != nil {
			return err
		}
		mgr.Start(ctx, cfg.Backup.Interval)
		defer mgr.Stop()
	}

	if cfg.SweepInterval > 0 {
		srv.Sweeper().Start(ctx)
		defer srv.Sweeper().Stop()
	} else {
		slog.Info("sweep scheduler disabled")
	}

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	errc := make(chan error, 1)
	go func() {
		slog.Info("chorebank starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	srv.Drain()
	return nil
}

func sweepOnce(ctx context.Context, db *sql.DB, cfg *config.Config, logger *slog.Logger) error {
	srv, err := server.New(ctx, db, cfg, logger)
	if err != nil {
		return err
	}
	report, err := srv.Sweeper().RunOnce(ctx)
	srv.Drain()
	if err != nil {
		return err
	}
	slog.Info("sweep complete", "expired", report.Expired, "escalated", report.Escalated)
	return nil
}

func newBackupManager(ctx context.Context, db *sql.DB, cfg *config.Config, logger *slog.Logger) (*backup.Manager, error) {
	b := cfg.Backup
	return backup.New(ctx, db, backup.Config{
		Bucket:     b.Bucket,
		Prefix:     b.Prefix,
		Region:     b.Region,
		Endpoint:   b.Endpoint,
		AccessKey:  b.AccessKey,
		SecretKey:  b.SecretKey,
		Passphrase: b.Passphrase,
		Retention:  b.Retention,
	}, logger)
}

func runBackup(ctx context.Context, db *sql.DB, cfg *config.Config, logger *slog.Logger, cmd string, args []string) error {
	if !cfg.BackupEnabled() {
		return errors.New("backups are not configured: set CHOREBANK_BACKUP_BUCKET")
	}
	mgr, err := newBackupManager(ctx, db, cfg, logger)
	if err != nil {
		return err
	}

	switch cmd {
	case "backup":
		snap, err := mgr.Run(ctx)
		if err != nil {
			return err
		}
		if _, err := mgr.Prune(ctx); err != nil {
			return err
		}
		fmt.Println(snap.Key)
	case "backups":
		snaps, err := mgr.List(ctx)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			fmt.Printf("%s\t%d\t%s\n", s.Key, s.Size, s.CreatedAt.Format(time.RFC3339))
		}
	case "restore":
		if len(args) != 2 {
			return errors.New(usage)
		}
		return mgr.Restore(ctx, args[0], args[1])
	}
	return nil
}

func initFamily(ctx context.Context, db *sql.DB, args []string) error {
	if len(args) < 2 {
		return errors.New(usage)
	}
	familyName, parentName := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
	var parentEmail string
	if len(args) > 2 {
		parentEmail = strings.TrimSpace(args[2])
	}
	if familyName == "" || parentName == "" {
		return errors.New("family and parent names are required")
	}

	var (
		fam    *model.Family
		parent *model.User
	)
	err := store.WithTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		fam, err = store.NewFamilyStore(tx).Create(ctx, familyName)
		if err != nil {
			return err
		}
		parent, err = store.NewUserStore(tx).Create(ctx, fam.ID, parentName, parentEmail, model.RoleParent)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("family %d (%s) created; parent %d (%s)\n", fam.ID, fam.Name, parent.ID, parent.Name)
	return nil
}
