package main

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"opsync/internal/config"
	"opsync/internal/handlers"
	httpapi "opsync/internal/http"
	"opsync/internal/repos"
	"opsync/internal/services"
	"opsync/internal/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	kv, err := openStore(cfg)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer kv.Close()
	resilient := store.NewResilient(kv, cfg.StoreTimeout)

	opLog := repos.NewOperationLog(resilient, cfg.OperationTTL)
	cursors := repos.NewCursorTracker(resilient, cfg.CursorTTL)
	svc := services.NewReconcileService(opLog, cursors, cfg.OperationTTL, logger)
	h := handlers.NewSyncHandler(svc)
	r := httpapi.NewRouter(cfg, logger, h)

	addr := ":" + cfg.Port
	logger.WithFields(logrus.Fields{"addr": addr, "driver": cfg.StoreDriver}).Info("opsyncd listening")
	if err := r.Run(addr); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func openStore(cfg config.Config) (store.KV, error) {
	switch cfg.StoreDriver {
	case config.DriverBadger:
		return store.NewBadgerKV(cfg.BadgerDir, false)
	case config.DriverSQLite:
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := runMigrations(db, cfg.MigrationsDir); err != nil {
			db.Close()
			return nil, err
		}
		return store.NewSQLiteKV(db), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func runMigrations(db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, f := range files {
		path := filepath.Join(dir, f)
		if err := applySQLFile(db, path); err != nil {
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
	}
	return nil
}

func applySQLFile(db *sql.DB, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
	var sb strings.Builder
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_, err = db.Exec(sb.String())
	return err
}
