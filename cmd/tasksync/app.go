package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Joseda-hg/tasksync/internal/api"
	"github.com/Joseda-hg/tasksync/internal/auth"
	"github.com/Joseda-hg/tasksync/internal/cache"
	"github.com/Joseda-hg/tasksync/internal/config"
	"github.com/Joseda-hg/tasksync/internal/db"
	"github.com/Joseda-hg/tasksync/internal/filterview"
	"github.com/Joseda-hg/tasksync/internal/logging"
	"github.com/Joseda-hg/tasksync/internal/realtime"
	"github.com/Joseda-hg/tasksync/internal/session"
	"github.com/Joseda-hg/tasksync/internal/tui"
	"github.com/Joseda-hg/tasksync/internal/web"
)

type app struct {
	cfgMu   sync.Mutex
	cfg     config.Config
	cfgPath string
	log     *logrus.Logger
	session *session.Session

	closers []io.Closer
}

func (a *app) Close() {
	if a.session != nil {
		a.session.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.log != nil {
			a.log.WithError(err).Warn("close")
		}
	}
}

// recordProject writes a project opened at runtime back to the config file,
// the same place --project ends up.
func (a *app) recordProject(projectID int64) error {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	if a.cfg.ProjectID == projectID {
		return nil
	}
	a.cfg.ProjectID = projectID
	if err := config.Save(a.cfgPath, a.cfg); err != nil {
		return errors.Wrap(err, "save config")
	}
	a.log.WithField("project", projectID).Info("project recorded")
	return nil
}

func runBoard(cmd *cobra.Command, f *flags) error {
	a, err := newApp(cmd, f, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.WebEnabled {
		srv := newHTTPServer(a)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.WithError(err).Error("web server stopped")
			}
		}()
		defer shutdown(srv, a.log)
	}

	return tui.Run(a.session, a.recordProject)
}

func runServe(cmd *cobra.Command, f *flags) error {
	a, err := newApp(cmd, f, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newHTTPServer(a)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown(srv, a.log)
		return nil
	}
}

func runLogin(cmd *cobra.Command, f *flags, token string) error {
	cfg, _, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	sqlDB, store, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := auth.New(store).Set(cmd.Context(), token); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Token saved.")
	return nil
}

func runLogout(cmd *cobra.Command, f *flags) error {
	cfg, _, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	sqlDB, store, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := auth.New(store).Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
	return nil
}

// newApp wires the engine from config. The terminal board owns the screen,
// so its logs go to a file next to the config unless one is set.
func newApp(cmd *cobra.Command, f *flags, board bool) (*app, error) {
	cfg, cfgPath, err := loadConfig(cmd, f)
	if err != nil {
		return nil, err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return nil, errors.Wrap(err, "save config")
	}

	logOpts := logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, ReportCaller: cfg.Log.ReportCaller}
	if board && logOpts.File == "" {
		logOpts.File = filepath.Join(filepath.Dir(cfgPath), "tasksync.log")
	}
	logger, logCloser, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, cfgPath: cfgPath, log: logger, closers: []io.Closer{logCloser}}
	entry := logrus.NewEntry(logger)

	sqlDB, store, err := openStore(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, sqlDB)

	ctx := cmd.Context()
	creds := auth.New(store)
	if err := creds.Load(ctx, cfg.Token); err != nil {
		a.Close()
		return nil, err
	}
	if !creds.Authenticated() {
		logger.Warn("no API token; run tasksync login --token <token>")
	}

	criteria, err := criteriaStore(ctx, cfg, store, entry)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := criteria.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.session = session.New(session.Deps{
		API:         api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, creds, entry),
		Dialer:      realtime.NewWebsocketDialer(cfg.RequestTimeout),
		Credentials: creds,
		Criteria:    criteria,
		Activity:    store,
		Logger:      entry,
	}, session.Options{
		WSBaseURL:         cfg.WSBaseURL,
		BaseDelay:         cfg.Reconnect.BaseDelay,
		MaxAttempts:       cfg.Reconnect.MaxAttempts,
		ReloadOnReconnect: cfg.Reconnect.ReloadOnReconnect,
		NoticeTTL:         cfg.NoticeTTL,
		HighlightTTL:      cfg.HighlightTTL,
	})

	if cfg.ProjectID != 0 {
		// A failed initial load is shown on the board and retried with r.
		if err := a.session.Open(ctx, cfg.ProjectID); err != nil {
			logger.WithError(err).WithField("project", cfg.ProjectID).Warn("initial load failed")
		}
	}
	return a, nil
}

func loadConfig(cmd *cobra.Command, f *flags) (config.Config, string, error) {
	cfgPath := f.configPath
	if cfgPath == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return config.Config{}, "", err
		}
		cfgPath = path
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, "", err
	}

	changed := cmd.Flags().Changed
	if changed("db") {
		cfg.DBPath = f.dbPath
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(cfgPath), "tasksync.db")
	}
	if changed("api") {
		cfg.APIBaseURL = f.apiURL
	}
	if changed("ws") {
		cfg.WSBaseURL = f.wsURL
	}
	if changed("project") {
		cfg.ProjectID = f.project
	}
	if changed("web") {
		cfg.WebEnabled = f.web
	}
	if changed("port") {
		cfg.WebPort = f.port
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if cfg.WebPort == 0 {
		cfg.WebPort = 8080
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	return cfg, cfgPath, nil
}

func openStore(dbPath string) (*sql.DB, *db.Store, error) {
	if err := config.EnsureDir(dbPath); err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, db.NewStore(sqlDB), nil
}

func criteriaStore(ctx context.Context, cfg config.Config, store *db.Store, logger *logrus.Entry) (filterview.CriteriaStore, error) {
	if cfg.Filters.Backend != config.FiltersBackendRedis {
		return store, nil
	}
	client, err := cache.NewRedisClient(ctx, cfg.Filters.Redis)
	if err != nil {
		return nil, err
	}
	return cache.NewCriteriaStore(client, cfg.Filters.Redis.Prefix, logger), nil
}

func newHTTPServer(a *app) *http.Server {
	addr := fmt.Sprintf(":%d", a.cfg.WebPort)
	a.log.WithField("addr", addr).Info("web server listening")
	return &http.Server{
		Addr:              addr,
		Handler:           web.NewServer(a.session, a.recordProject, logrus.NewEntry(a.log)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func shutdown(srv *http.Server, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("web server shutdown")
	}
}
