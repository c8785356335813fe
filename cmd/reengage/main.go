// Command reengage runs the ReEngage conversation engine.
//
// By default it serves the HTTP API; with -console it reads events for a single
// conversant from stdin and writes replies to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/BTreeMap/ReEngage/internal/api"
	"github.com/BTreeMap/ReEngage/internal/fallback"
	"github.com/BTreeMap/ReEngage/internal/flow"
	"github.com/BTreeMap/ReEngage/internal/lifecycle"
	"github.com/BTreeMap/ReEngage/internal/lockfile"
	"github.com/BTreeMap/ReEngage/internal/messaging"
	"github.com/BTreeMap/ReEngage/internal/scheduler"
	"github.com/BTreeMap/ReEngage/internal/session"
	"github.com/BTreeMap/ReEngage/internal/store"
	"github.com/BTreeMap/ReEngage/internal/triage"
	"github.com/BTreeMap/ReEngage/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir holds the instance lock.
	DefaultStateDir = "/var/lib/reengage"

	SessionBackendMemory = "memory"
	SessionBackendSQL    = "sql"

	evictionJobName = "evict-idle-sessions"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("ReEngage failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ReEngage exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	APIAddr          string
	SessionBackend   string
	IdleTimeout      time.Duration
	GatewayTimeout   time.Duration
	Location         *time.Location
	CatalogPath      string
	EvictionSchedule string
	LogLevel         slog.Level
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	apiAddr          *string
	sessionBackend   *string
	idleTimeout      *time.Duration
	gatewayTimeout   *time.Duration
	timezone         *string
	catalogPath      *string
	evictionSchedule *string
	console          *bool
	as               *string
}

// initializeLogger installs a text handler at level on stderr, keeping stdout free for
// console replies.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         util.StringEnv("REENGAGE_STATE_DIR", DefaultStateDir),
		DatabaseURL:      util.StringEnv("DATABASE_URL", ""),
		APIAddr:          util.StringEnv("API_ADDR", api.DefaultAddr),
		SessionBackend:   util.StringEnv("SESSION_BACKEND", SessionBackendMemory),
		IdleTimeout:      util.ParseDurationEnv("SESSION_IDLE_TIMEOUT", messaging.DefaultIdleTimeout),
		GatewayTimeout:   util.ParseDurationEnv("GATEWAY_TIMEOUT", flow.DefaultGatewayTimeout),
		Location:         util.ParseLocationEnv("REENGAGE_TIMEZONE", time.UTC),
		CatalogPath:      util.StringEnv("FALLBACK_CATALOG", ""),
		EvictionSchedule: util.StringEnv("EVICTION_SCHEDULE", scheduler.DefaultEvictionSchedule),
		LogLevel:         util.ParseLevelEnv("LOG_LEVEL", slog.LevelInfo),
	}

	slog.Debug("environment variables loaded",
		"REENGAGE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"SESSION_BACKEND", config.SessionBackend,
		"SESSION_IDLE_TIMEOUT", config.IdleTimeout,
		"GATEWAY_TIMEOUT", config.GatewayTimeout,
		"REENGAGE_TIMEZONE", config.Location,
		"FALLBACK_CATALOG", config.CatalogPath,
		"EVICTION_SCHEDULE", config.EvictionSchedule)
	return config
}

// parseCommandLineFlags parses args with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, config Config, args []string) (Flags, error) {
	flags := Flags{
		stateDir:         fs.String("state-dir", config.StateDir, "state directory holding the instance lock (overrides $REENGAGE_STATE_DIR)"),
		dbDSN:            fs.String("db-dsn", config.DatabaseURL, "Postgres DSN or SQLite path; empty keeps records in memory (overrides $DATABASE_URL)"),
		apiAddr:          fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sessionBackend:   fs.String("session-backend", config.SessionBackend, "session store: memory or sql (overrides $SESSION_BACKEND)"),
		idleTimeout:      fs.Duration("idle-timeout", config.IdleTimeout, "session idle expiry (overrides $SESSION_IDLE_TIMEOUT)"),
		gatewayTimeout:   fs.Duration("gateway-timeout", config.GatewayTimeout, "record store read timeout before demo data is used (overrides $GATEWAY_TIMEOUT)"),
		timezone:         fs.String("timezone", config.Location.String(), "IANA time zone for calendar days (overrides $REENGAGE_TIMEZONE)"),
		catalogPath:      fs.String("catalog", config.CatalogPath, "YAML fallback catalog, reloaded on change (overrides $FALLBACK_CATALOG)"),
		evictionSchedule: fs.String("eviction-schedule", config.EvictionSchedule, "cron spec of the idle-session sweep (overrides $EVICTION_SCHEDULE)"),
		console:          fs.Bool("console", false, "read events from stdin instead of serving HTTP"),
		as:               fs.String("as", "console", "conversant id used in console mode"),
	}
	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"sessionBackend", *flags.sessionBackend,
		"console", *flags.console)
	return flags, nil
}

// resolve merges flags over config and validates the result.
func (f Flags) resolve(config Config) (Config, error) {
	c := config
	c.StateDir = *f.stateDir
	c.DatabaseURL = *f.dbDSN
	c.APIAddr = *f.apiAddr
	c.SessionBackend = *f.sessionBackend
	c.IdleTimeout = *f.idleTimeout
	c.GatewayTimeout = *f.gatewayTimeout
	c.CatalogPath = *f.catalogPath
	c.EvictionSchedule = *f.evictionSchedule

	loc, err := time.LoadLocation(*f.timezone)
	if err != nil {
		return c, fmt.Errorf("timezone %q: %w", *f.timezone, err)
	}
	c.Location = loc
	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendSQL:
	default:
		return c, fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
	if err := scheduler.ValidateSpec(c.EvictionSchedule); err != nil {
		return c, err
	}
	return c, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(config Config) []store.Option {
	var storeOpts []store.Option
	if config.DatabaseURL != "" {
		if store.DetectDSNType(config.DatabaseURL) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(config.DatabaseURL))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", config.DatabaseURL)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(config.DatabaseURL))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildSessionStore picks where in-progress sessions live. The sql backend shares the
// record store's connection, so sessions survive restarts when DATABASE_URL is set.
func buildSessionStore(config Config, st store.Store) session.Store {
	if config.SessionBackend == SessionBackendSQL {
		return session.NewSQLStore(st)
	}
	return session.NewMemoryStore()
}

// loadCatalog returns the fallback catalog, from config.CatalogPath when set.
func loadCatalog(config Config) (*fallback.Reloadable, error) {
	if config.CatalogPath == "" {
		return fallback.NewReloadable(fallback.Default()), nil
	}
	c, err := fallback.Load(config.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load fallback catalog: %w", err)
	}
	return fallback.NewReloadable(c), nil
}

// app is the wired object graph shared by server and console modes.
type app struct {
	config     Config
	store      store.Store
	catalog    *fallback.Reloadable
	dispatcher *messaging.Dispatcher
	triage     *triage.Service
}

func newApp(config Config) (*app, error) {
	st, err := store.Open(buildStoreOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	catalog, err := loadCatalog(config)
	if err != nil {
		st.Close()
		return nil, err
	}

	loc := config.Location
	engine := flow.NewEngine(st, catalog,
		flow.WithLocation(loc),
		flow.WithGatewayTimeout(config.GatewayTimeout))
	exec := lifecycle.NewExecutor(st, lifecycle.NewController(st, lifecycle.WithLocation(loc)), nil)
	dispatcher := messaging.NewDispatcher(engine, buildSessionStore(config, st), exec,
		messaging.WithDedup(st),
		messaging.WithIdleTimeout(config.IdleTimeout))

	return &app{
		config:     config,
		store:      st,
		catalog:    catalog,
		dispatcher: dispatcher,
		triage:     triage.NewService(st, catalog, triage.WithLocation(loc)),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// serve runs the API server with the eviction sweep and catalog watcher until ctx is done.
func (a *app) serve(ctx context.Context) error {
	sched := scheduler.NewScheduler(scheduler.WithLocation(a.config.Location), scheduler.WithJobTimeout(time.Minute))
	if err := sched.AddJob(evictionJobName, a.config.EvictionSchedule, scheduler.EvictionJob(a.dispatcher)); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	if a.config.CatalogPath != "" {
		w, err := fallback.NewWatcher(a.config.CatalogPath, a.catalog)
		if err != nil {
			slog.Warn("app.serve: catalog changes will not be picked up", "path", a.config.CatalogPath, "error", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx)
			}()
		}
	}

	srv := api.NewServer(a.dispatcher, a.triage, a.store,
		api.WithAddr(a.config.APIAddr),
		api.WithClock(time.Now))
	return srv.Run(ctx)
}

// console drives one conversant from stdin until EOF or ctx is done.
func (a *app) console(ctx context.Context, conversantID string) error {
	svc := messaging.NewConsoleService(conversantID, os.Stdin, os.Stdout)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start console: %w", err)
	}
	a.dispatcher.Run(ctx, svc)
	return svc.Stop()
}

func run(args []string) error {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags, err := parseCommandLineFlags(flag.NewFlagSet("reengage", flag.ContinueOnError), config, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	config, err = flags.resolve(config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !*flags.console {
		lock, err := lockfile.Acquire(config.StateDir, lockfile.Holder{Started: time.Now(), Addr: config.APIAddr})
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	a, err := newApp(config)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("Bootstrapping ReEngage",
		"console", *flags.console,
		"dsn_type", dsnType(config.DatabaseURL),
		"session_backend", config.SessionBackend,
		"timezone", config.Location,
		"idle_timeout", config.IdleTimeout)
	if *flags.console {
		return a.console(ctx, *flags.as)
	}
	return a.serve(ctx)
}

func dsnType(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return store.DetectDSNType(dsn)
}
