package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/devilmonastery/oauthlink/internal/auth"
	"github.com/devilmonastery/oauthlink/internal/auth/provider"
	"github.com/devilmonastery/oauthlink/internal/config"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/domain/services"
	"github.com/devilmonastery/oauthlink/internal/infrastructure/database/memory"
	"github.com/devilmonastery/oauthlink/internal/infrastructure/database/postgres"
	"github.com/devilmonastery/oauthlink/internal/pkg/idgen"
	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
	"github.com/devilmonastery/oauthlink/internal/session"
	"github.com/devilmonastery/oauthlink/internal/sites"
	"github.com/devilmonastery/oauthlink/migrations"
	"github.com/devilmonastery/oauthlink/server/internal/handlers"
	"github.com/devilmonastery/oauthlink/server/internal/middleware"
	"github.com/devilmonastery/oauthlink/server/internal/render"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// logFlags are shared by every command
type logFlags struct {
	level         string
	file          string
	toStderr      bool
	alsoLogStderr bool
	format        string
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		logs       logFlags
	)

	cmd := &cobra.Command{
		Use:           "oauthlink",
		Short:         "OAuth2 account linking server",
		Long:          "Links external OAuth2/OIDC identities to admin and visitor accounts and logs accounts in through them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupServerLogging(logs)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (optional)")

	// Add logging flags
	cmd.PersistentFlags().StringVar(&logs.level, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logs.file, "log-file", "", "Log file path (if specified, logs to file instead of stderr)")
	cmd.PersistentFlags().BoolVar(&logs.toStderr, "logtostderr", false, "Log to stderr (default behavior unless --log-file specified)")
	cmd.PersistentFlags().BoolVar(&logs.alsoLogStderr, "alsologtostderr", false, "Log to both file and stderr")
	cmd.PersistentFlags().StringVar(&logs.format, "log-format", "json", "Log format (text, json)")

	serve := newServeCommand(&configPath, &logs)
	cmd.RunE = serve.RunE

	// Add subcommands
	cmd.AddCommand(serve)
	cmd.AddCommand(newMigrateCommand(&configPath))
	cmd.AddCommand(newAccountsCommand(&configPath))
	cmd.AddCommand(newLinksCommand(&configPath))

	return cmd
}

// setupServerLogging configures the global logger
func setupServerLogging(f logFlags) error {
	// Default to stderr logging unless file is specified
	if f.file == "" {
		f.toStderr = true
	}

	globalLogger, err := logger.SetupLogger(logger.Config{
		Level:         logger.ParseLevel(f.level),
		LogFile:       f.file,
		LogToStderr:   f.toStderr,
		AlsoLogStderr: f.alsoLogStderr,
		Format:        f.format,
	})
	if err != nil {
		return err
	}

	slog.SetDefault(globalLogger)
	return nil
}

// applyConfigLogging lets the logging section of the config file fill in
// the flags that were not given on the command line
func applyConfigLogging(cmd *cobra.Command, f logFlags, cfg config.LoggingConfig) error {
	flags := cmd.Flags()
	changed := false
	if !flags.Changed("log-level") && cfg.Level != "" {
		f.level, changed = cfg.Level, true
	}
	if !flags.Changed("log-format") && cfg.Format != "" {
		f.format, changed = cfg.Format, true
	}
	if !flags.Changed("log-file") && cfg.File != "" {
		f.file, changed = cfg.File, true
	}
	if !changed {
		return nil
	}
	return setupServerLogging(f)
}

// loadConfig initializes the ID generator and loads the configuration
func loadConfig(configPath string) (*config.Config, error) {
	if err := idgen.Initialize(1); err != nil {
		return nil, fmt.Errorf("failed to initialize ID generator: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openDatabase connects to PostgreSQL, retrying while it starts up
func openDatabase(ctx context.Context, cfg *config.Config, attempts int) (*postgres.Connection, error) {
	slog.Info("connecting to PostgreSQL",
		slog.String("user", cfg.Database.Postgres.User),
		slog.String("host", cfg.Database.Postgres.Host),
		slog.String("database", cfg.Database.Postgres.Database))

	conn, err := postgres.ConnectWithRetry(ctx, cfg.Database.Postgres.ConnectionString(), attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return conn, nil
}

// postgresRepositories builds every repository over one connection
func postgresRepositories(conn *postgres.Connection) *repositories.Repositories {
	return &repositories.Repositories{
		AdminLinks:      postgres.NewAdminIdentityLinkRepository(conn.DB),
		VisitorLinks:    postgres.NewVisitorIdentityLinkRepository(conn.DB),
		AdminAccounts:   postgres.NewAdminAccountRepository(conn.DB),
		VisitorAccounts: postgres.NewVisitorAccountRepository(conn.DB),
		Audit:           postgres.NewAuditRepository(conn.DB),
	}
}

func newServeCommand(configPath *string, logs *logFlags) *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long:  "Serve the provider, authorize, callback and link endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := applyConfigLogging(cmd, *logs, cfg.Logging); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, dev)
		},
	}

	cmd.Flags().BoolVar(&dev, "dev", false, "Keep accounts and links in memory instead of PostgreSQL")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, dev bool) error {
	log := slog.Default().With(slog.String("component", "server"))
	log.Info("starting server initialization", slog.String("environment", cfg.Environment))

	var (
		repos  *repositories.Repositories
		health repositories.HealthChecker
	)
	if dev {
		log.Warn("development mode, accounts and links are kept in memory")
		repos = memory.NewStore().Repositories()
	} else {
		conn, err := openDatabase(ctx, cfg, 10)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := conn.RunMigrations(migrations.FS); err != nil {
			return fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
		}
		repos = postgresRepositories(conn)
		health = conn
	}

	registry, err := provider.FromConfig(cfg.Auth, provider.Collaborators{})
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}
	for _, audience := range entities.Audiences {
		configured, ok := registry.ListConfigured(audience)
		log.Info("audience providers",
			slog.String("audience", string(audience)),
			slog.Bool("available", ok),
			slog.Int("count", len(configured)))
	}

	resolver, err := sites.NewResolver(cfg.Sites)
	if err != nil {
		return fmt.Errorf("failed to load sites: %w", err)
	}

	var rdb redis.UniversalClient
	var ledger services.NonceLedger
	if cfg.Session.Backend == "redis" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Session.Redis.Addr},
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Session.Redis.Addr, err)
		}
		ledger = session.NewRedisLedger(rdb, cfg.Session.Redis.Prefix)
	} else {
		ledger = session.NewMemoryLedger(cfg.Auth.Flow.StateTTL)
	}

	hostSessions, err := session.NewManager(cfg.Session, rdb)
	if err != nil {
		return fmt.Errorf("failed to initialize sessions: %w", err)
	}
	flowCfg := cfg.Session
	flowCfg.CookieName = cfg.Session.CookieName + "_flow"
	flowCfg.MaxAge = int(cfg.Auth.Flow.StateTTL.Seconds())
	flowSessions, err := session.NewManager(flowCfg, rdb)
	if err != nil {
		return fmt.Errorf("failed to initialize flow sessions: %w", err)
	}

	templates, err := render.Default()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	jwtManager := auth.NewJWTManager(cfg.Auth.JWT.SigningKey, cfg.Auth.JWT.Lifetime)
	h := handlers.New(handlers.Deps{
		Config:    cfg,
		Providers: registry,
		Flow:      services.NewFlowService(registry, ledger, cfg.Auth.Flow),
		Links:     services.NewLinkService(repos),
		Bridges: map[entities.Audience]*services.Bridge{
			entities.AudienceAdmin:   services.NewAdminBridge(repos, jwtManager),
			entities.AudienceVisitor: services.NewVisitorBridge(repos, jwtManager, nil),
		},
		FlowSessions: flowSessions,
		HostSessions: hostSessions,
		JWT:          jwtManager,
		Templates:    templates,
		Health:       health,
	}, slog.Default())
	router := handlers.NewRouter(h, middleware.NewAuthenticator(hostSessions, flowSessions, jwtManager), resolver)

	srv := &http.Server{
		Addr:         cfg.HTTP.Address(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", slog.String("address", srv.Addr), slog.Int("sites", resolver.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMigrateCommand(configPath *string) *cobra.Command {
	var forceVersion int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			conn, err := openDatabase(cmd.Context(), cfg, 3)
			if err != nil {
				return err
			}
			defer conn.Close()

			// Handle force migration if requested
			if forceVersion >= 0 {
				slog.Info("force setting migration version", slog.Int("version", forceVersion))
				if err := conn.ForceMigrationVersion(migrations.FS, forceVersion); err != nil {
					return fmt.Errorf("failed to force migration version: %w", err)
				}
				return nil
			}

			if err := conn.RunMigrations(migrations.FS); err != nil {
				return fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
			}
			slog.Info("migrations applied")
			return nil
		},
	}

	cmd.Flags().IntVar(&forceVersion, "force", -1, "Force migration version (use to fix dirty migration state)")
	return cmd
}
