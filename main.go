package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/banux/nxt-zim/internal/config"
	"github.com/banux/nxt-zim/internal/library"
	"github.com/banux/nxt-zim/internal/logging"
	"github.com/banux/nxt-zim/internal/manager"
	"github.com/banux/nxt-zim/internal/metrics"
	"github.com/banux/nxt-zim/internal/namemapper"
	"github.com/banux/nxt-zim/internal/server"
	"github.com/banux/nxt-zim/internal/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// flags are the command-line overrides. Only flags set explicitly replace
// the configuration file values.
type flags struct {
	configPath string
	cfg        config.Config
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "nxt-zim [flags] [ARCHIVE...]",
		Short: "Serve ZIM-style archives over HTTP with an OPDS catalog",
		Long: `nxt-zim serves the articles of a library of archives, a full-text
search across them and an OPDS catalog describing the library.

Archives are given as arguments, through library.xml files (--library)
or found by scanning a directory (--archive-dir).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.resolve(cmd, args)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, logger); err != nil {
				logger.Error().Err(err).Msg("server stopped")
				return err
			}
			return nil
		},
	}

	def := config.Default()
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "configuration file (default: "+config.EnvPrefix+"CONFIG, ./nxt-zim.yaml, ~/.config/nxt-zim/config.yaml)")
	fl.StringVarP(&f.cfg.ListenAddr, "address", "a", def.ListenAddr, "listen address")
	fl.StringVarP(&f.cfg.Root, "urlRootLocation", "r", def.Root, "URL prefix the content is served under")
	fl.StringSliceVarP(&f.cfg.LibraryFiles, "library", "l", nil, "library.xml files to serve")
	fl.StringVar(&f.cfg.ArchiveDir, "archive-dir", def.ArchiveDir, "directory scanned for archives")
	fl.IntVarP(&f.cfg.Threads, "threads", "t", def.Threads, "burst of the global rate limiter")
	fl.IntVarP(&f.cfg.SearchLimit, "searchLimit", "s", def.SearchLimit, "maximum number of books in a multi-book search (0: no limit)")
	fl.BoolVarP(&f.cfg.Verbose, "verbose", "v", def.Verbose, "log every request")
	fl.BoolVar(&f.cfg.Taskbar, "taskbar", def.Taskbar, "inject the taskbar into articles")
	fl.BoolVarP(&f.cfg.BlockExternalLinks, "blockexternal", "b", def.BlockExternalLinks, "route external links through a warning page")
	fl.IntVarP(&f.cfg.IPConnectionLimit, "ipConnectionLimit", "i", def.IPConnectionLimit, "concurrent requests per client address (0: no limit)")
	fl.Float64Var(&f.cfg.RateLimit, "rate-limit", def.RateLimit, "global requests per second (0: no limit)")
	fl.BoolVarP(&f.cfg.MonitorLibrary, "monitorLibrary", "M", def.MonitorLibrary, "reload the library files when they change")
	fl.BoolVarP(&f.cfg.NoDateAlias, "nodatealias", "z", def.NoDateAlias, "do not create book name aliases without date")
	fl.StringVarP(&f.cfg.CustomIndex, "customIndex", "C", def.CustomIndex, "HTML file served as the welcome page")
	fl.StringVar(&f.cfg.StorePath, "store", def.StorePath, "SQLite snapshot of the library and bookmarks")
	fl.StringVar(&f.cfg.LogLevel, "log-level", def.LogLevel, "log level (trace, debug, info, warn, error)")
	fl.StringVar(&f.cfg.LogFormat, "log-format", def.LogFormat, "log format (json, console)")
	return cmd
}

// resolve merges defaults, the configuration file, the environment and the
// flags set on the command line.
func (f *flags) resolve(cmd *cobra.Command, args []string) (config.Config, error) {
	path := f.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	overrides := []struct {
		flag  string
		apply func()
	}{
		{"address", func() { cfg.ListenAddr = f.cfg.ListenAddr }},
		{"urlRootLocation", func() { cfg.Root = f.cfg.Root }},
		{"library", func() { cfg.LibraryFiles = f.cfg.LibraryFiles }},
		{"archive-dir", func() { cfg.ArchiveDir = f.cfg.ArchiveDir }},
		{"threads", func() { cfg.Threads = f.cfg.Threads }},
		{"searchLimit", func() { cfg.SearchLimit = f.cfg.SearchLimit }},
		{"verbose", func() { cfg.Verbose = f.cfg.Verbose }},
		{"taskbar", func() { cfg.Taskbar = f.cfg.Taskbar }},
		{"blockexternal", func() { cfg.BlockExternalLinks = f.cfg.BlockExternalLinks }},
		{"ipConnectionLimit", func() { cfg.IPConnectionLimit = f.cfg.IPConnectionLimit }},
		{"rate-limit", func() { cfg.RateLimit = f.cfg.RateLimit }},
		{"monitorLibrary", func() { cfg.MonitorLibrary = f.cfg.MonitorLibrary }},
		{"nodatealias", func() { cfg.NoDateAlias = f.cfg.NoDateAlias }},
		{"customIndex", func() { cfg.CustomIndex = f.cfg.CustomIndex }},
		{"store", func() { cfg.StorePath = f.cfg.StorePath }},
		{"log-level", func() { cfg.LogLevel = f.cfg.LogLevel }},
		{"log-format", func() { cfg.LogFormat = f.cfg.LogFormat }},
	}
	for _, o := range overrides {
		if changed(o.flag) {
			o.apply()
		}
	}
	if len(args) > 0 {
		cfg.Archives = append(cfg.Archives, args...)
	}
	return cfg, cfg.Validate()
}

// app holds the long-lived components shared by startup and reloads.
type app struct {
	cfg         config.Config
	logger      zerolog.Logger
	lib         *library.Library
	manipulator *manager.Manipulator
	manager     *manager.Manager
	mapper      *namemapper.Updatable
	store       *store.Store

	// reloadMu serialises reloads triggered by the monitor and SIGHUP.
	reloadMu sync.Mutex
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	a := &app{cfg: cfg, logger: logger}
	a.lib = library.New(nil)
	a.manipulator = manager.NewManipulator(a.lib)
	a.manager = manager.New(a.manipulator, manager.Options{Logger: logging.Component(logger, "manager")})

	if cfg.StorePath != "" {
		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer st.Close()
		a.store = st
		n, err := st.Restore(ctx, a.lib)
		if err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		logger.Info().Int("books", n).Str("path", cfg.StorePath).Msg("snapshot restored")
	}

	// Sources are authoritative: restored books they no longer list are
	// dropped.
	if err := a.manager.Reload(cfg.LibraryFiles, a.loadArchives); err != nil {
		return err
	}

	a.mapper = namemapper.NewUpdatable(a.lib, !cfg.NoDateAlias, logging.Component(logger, "namemapper"))
	srv, err := server.New(a.lib, a.mapper, server.Options{
		Root:               cfg.Root,
		Verbose:            cfg.Verbose,
		WithTaskbar:        cfg.Taskbar,
		BlockExternalLinks: cfg.BlockExternalLinks,
		SearchLimit:        cfg.SearchLimit,
		IPConnectionLimit:  cfg.IPConnectionLimit,
		RateLimit:          cfg.RateLimit,
		RateBurst:          cfg.Threads,
		CustomIndex:        cfg.CustomIndex,
		Logger:             logging.Component(logger, "server"),
	})
	if err != nil {
		return err
	}
	a.manipulator.Observe(srv)
	a.published(ctx)

	if cfg.MonitorLibrary && len(cfg.LibraryFiles) > 0 {
		mon, err := manager.NewMonitor(cfg.LibraryFiles, 0, func() { a.reload(ctx) }, logging.Component(logger, "monitor"))
		if err != nil {
			return err
		}
		defer mon.Close()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				a.reload(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("root", cfg.Root+"/").
			Int("books", a.lib.BookCount(true, true)).
			Msg("nxt-zim starting")
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// loadArchives adds the configured archives and the content of the archive
// directory.
func (a *app) loadArchives() error {
	for _, p := range a.cfg.Archives {
		if _, err := a.manager.AddBookFromPathAndGetID(p, "", "", false); err != nil {
			return err
		}
	}
	if a.cfg.ArchiveDir != "" {
		n, err := a.manager.AddBooksFromDirectory(a.cfg.ArchiveDir)
		if err != nil {
			return err
		}
		a.logger.Debug().Int("archives", n).Str("dir", a.cfg.ArchiveDir).Msg("directory scanned")
	}
	return nil
}

// reload re-reads the sources, drops the books they no longer mention and
// refreshes the name mapping.
func (a *app) reload(ctx context.Context) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	err := a.manager.Reload(a.cfg.LibraryFiles, a.loadArchives)
	metrics.RecordReload(err)
	if err != nil {
		a.logger.Error().Err(err).Msg("library reload failed")
		return
	}
	a.mapper.Update()
	a.published(ctx)
	a.logger.Info().Uint64("revision", a.lib.Revision()).Msg("library reloaded")
}

// published records the library state once a load completes.
func (a *app) published(ctx context.Context) {
	metrics.RecordLibrary(a.lib.BookCount(true, true), a.lib.Revision())
	if a.store == nil {
		return
	}
	if err := a.store.Save(ctx, a.lib); err != nil {
		a.logger.Warn().Err(err).Msg("snapshot not saved")
	}
}
