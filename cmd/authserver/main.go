package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"

	auth "github.com/goliatone/go-auth-privilege"
	authlogrus "github.com/goliatone/go-auth-privilege/adapters/logrus"
	"github.com/goliatone/go-auth-privilege/admin"
	"github.com/goliatone/go-auth-privilege/metrics"
	"github.com/goliatone/go-auth-privilege/middleware/guard"
	"github.com/goliatone/go-auth-privilege/revocation"
)

type App struct {
	opts    *auth.Options
	db      *bun.DB
	logger  *authlogrus.Logger
	revoker auth.RevocationStore
	purger  *revocation.BunStore
	closers []func() error
	debug   bool
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	addr := flag.String("addr", "", "HTTP listen address, overrides http_addr")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	base := logrus.New()
	base.SetLevel(logrus.InfoLevel)
	if *debug {
		base.SetLevel(logrus.DebugLevel)
	}
	logger := authlogrus.New(base)

	opts, err := loadOptions(*configPath)
	if err != nil {
		base.Fatalf("failed to load config: %v", err)
	}

	if *addr != "" {
		opts.HTTPAddr = *addr
	}

	if *debug {
		fmt.Println("============")
		fmt.Println(print.MaybePrettyJSON(redacted(opts)))
		fmt.Println("============")
	}

	ctx := context.Background()
	app := &App{opts: opts, logger: logger, debug: *debug}
	defer app.Close()

	if err := WithPersistence(ctx, app); err != nil {
		base.Fatalf("persistence: %v", err)
	}

	if err := WithRevocation(ctx, app); err != nil {
		base.Fatalf("revocation store: %v", err)
	}

	scheduler, err := WithPurgeSchedule(app)
	if err != nil {
		base.Fatalf("purge schedule: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv, err := WithHTTPServer(app)
	if err != nil {
		base.Fatalf("http server: %v", err)
	}

	go func() {
		logger.Info("listening on %s", opts.HTTPAddr)
		if err := srv.Serve(opts.HTTPAddr); err != nil {
			base.Fatalf("server stopped: %v", err)
		}
	}()

	WaitExitSignal()
}

func loadOptions(path string) (*auth.Options, error) {
	var opts *auth.Options
	if path != "" {
		loaded, err := auth.LoadOptions(path)
		if err != nil {
			return nil, err
		}
		opts = loaded
	} else {
		opts = auth.DefaultOptions()
	}

	if key := os.Getenv("AUTH_SIGNING_KEY"); key != "" {
		opts.SigningKey = key
	}

	if dsn := os.Getenv("AUTH_DATABASE_DSN"); dsn != "" {
		opts.DatabaseDSN = dsn
	}

	if url := os.Getenv("AUTH_REDIS_URL"); url != "" {
		opts.RedisURL = url
	}

	return opts, opts.Validate()
}

func redacted(opts *auth.Options) auth.Options {
	out := *opts
	if out.SigningKey != "" {
		out.SigningKey = "********"
	}
	return out
}

// persistenceConfig exposes the database options to go-persistence-bun
type persistenceConfig struct {
	opts  *auth.Options
	debug bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.opts.DatabaseDriver }
func (c persistenceConfig) GetServer() string             { return c.opts.DatabaseDSN }
func (c persistenceConfig) GetDSN() string                { return c.opts.DatabaseDSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return c.opts.GetStoreTimeout() }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-auth-privilege" }

func WithPersistence(ctx context.Context, app *App) error {
	var (
		sqldb   *sql.DB
		dialect schema.Dialect
		err     error
	)

	switch app.opts.DatabaseDriver {
	case "postgres", "pgx":
		sqldb, err = sql.Open("pgx", app.opts.DatabaseDSN)
		dialect = pgdialect.New()
	case "sqlite", "":
		sqldb, err = sql.Open(sqliteshim.ShimName, app.opts.DatabaseDSN)
		if err == nil {
			sqldb.SetMaxOpenConns(1)
		}
		dialect = sqlitedialect.New()
	default:
		return fmt.Errorf("unsupported database driver %q", app.opts.DatabaseDriver)
	}
	if err != nil {
		return err
	}

	persistence.RegisterModel((*auth.User)(nil))
	persistence.RegisterModel((*auth.Privilege)(nil))
	persistence.RegisterModel((*auth.UserPrivilege)(nil))
	persistence.RegisterModel((*auth.OneTimeToken)(nil))
	persistence.RegisterModel((*revocation.RevokedToken)(nil))

	client, err := persistence.New(persistenceConfig{opts: app.opts, debug: app.debug}, sqldb, dialect)
	if err != nil {
		sqldb.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	db := client.DB()
	app.db = db
	app.closers = append(app.closers, db.Close)

	applied, err := auth.Migrate(ctx, db)
	if err != nil {
		return err
	}
	for _, name := range applied {
		app.logger.Info("applied migration %s", name)
	}

	privileges := auth.NewPrivilegesRepository(db)

	count, err := db.NewSelect().Model((*auth.Privilege)(nil)).Count(ctx)
	if err != nil {
		return err
	}

	// fixtures only load into an empty catalog, Seed fills later additions
	if count == 0 {
		client.RegisterFixtures(auth.GetFixturesFS())
		if err := client.Seed(ctx); err != nil {
			return err
		}
		app.logger.Info("loaded privilege fixtures")
	}

	seeded, err := privileges.Seed(ctx)
	if err != nil {
		return err
	}
	if seeded > 0 {
		app.logger.Info("seeded %d privileges", seeded)
	}

	return nil
}

func WithRevocation(ctx context.Context, app *App) error {
	switch app.opts.RevocationBackend {
	case "redis":
		store, err := revocation.NewRedisStore(ctx, app.opts.RedisURL)
		if err != nil {
			return err
		}
		app.revoker = store
		app.closers = append(app.closers, store.Close)
	case "database", "bun":
		store := revocation.NewBunStore(app.db)
		app.revoker = store
		app.purger = store
	case "memory", "":
		ttl := time.Duration(app.opts.GetTokenExpiration()) * time.Hour
		app.revoker = revocation.NewMemoryStore(ttl)
	default:
		return fmt.Errorf("unsupported revocation backend %q", app.opts.RevocationBackend)
	}

	app.logger.Info("revocation backend: %s", app.opts.RevocationBackend)
	return nil
}

// WithPurgeSchedule drops expired revocations from the database backend
func WithPurgeSchedule(app *App) (*cron.Cron, error) {
	c := cron.New()
	if app.purger == nil {
		return c, nil
	}

	_, err := c.AddFunc(app.opts.PurgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), app.opts.GetStoreTimeout())
		defer cancel()

		n, err := app.purger.Purge(ctx)
		if err != nil {
			app.logger.Error("failed to purge revoked tokens: %v", err)
			return
		}
		app.logger.Debug("purged %d revoked tokens", n)
	})

	return c, err
}

func WithHTTPServer(app *App) (router.Server[*fiber.App], error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink := metrics.NewSink(registry)

	repo := auth.NewRepositoryManager(app.db)
	repo.MustValidate()

	tokens := auth.NewTokenServiceFromConfig(app.opts,
		auth.WithRevocationStore(app.revoker),
		auth.WithTokenLogger(app.logger),
	)

	provider := auth.NewUserProvider(repo.Users()).
		WithLogger(app.logger).
		WithRequireActivation(app.opts.GetRequireActivation()).
		WithStoreTimeout(app.opts.GetStoreTimeout())

	limiter := auth.NewLoginLimiter(app.opts.LoginRate, app.opts.LoginBurst, time.Hour)

	auther := auth.NewAuthenticator(provider, tokens).
		WithLogger(app.logger).
		WithActivitySink(sink).
		WithLoginLimiter(limiter)

	oneTime := auth.NewOneTimeTokenService(repo).
		WithTTL(app.opts.GetOneTimeTokenTTL()).
		WithStoreTimeout(app.opts.GetStoreTimeout()).
		WithLogger(app.logger)

	authz := auth.NewPrivilegeAuthorizer(repo.Privileges()).
		WithLogger(app.logger).
		WithActivitySink(sink).
		WithStoreTimeout(app.opts.GetStoreTimeout())

	httpAuth := auth.NewHTTPAuthenticator(auther, tokens, app.opts).
		WithLogger(app.logger)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		fa := router.DefaultFiberOptions(fiber.New(fiber.Config{
			StrictRouting: false,
		}))
		fa.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		return fa
	})

	srv.Router().Get("/health", func(ctx router.Context) error {
		return ctx.JSON(200, map[string]any{"status": "ok"})
	})

	auth.RegisterAPIRoutes(srv.Router(),
		auth.WithRouteAuthenticator(httpAuth),
		auth.WithAuthorizer(authz),
		auth.WithServices(repo, oneTime, auth.LogNotifier{Logger: app.logger}, sink, app.logger),
		auth.WithControllerLogger(app.logger),
	)

	// privilege catalog, readable by user administrators
	requireAdminRead := guard.RequireAuthority(guard.Config{Authorizer: authz}, "USERS:ADMINS:READ")
	listPrivileges := func(ctx router.Context) error {
		reqs := auth.AllRequirements()
		out := make([]string, 0, len(reqs))
		for _, req := range reqs {
			out = append(out, req.Authority())
		}
		return ctx.JSON(200, map[string]any{"privileges": out})
	}
	srv.Router().Get("/admin/privileges", httpAuth.ProtectedRoute()(requireAdminRead(listPrivileges))).
		SetName("admin.privileges")

	admin.RegisterUserRoutes(srv.Router(), httpAuth.ProtectedRoute(),
		admin.NewUserController(repo, guard.Config{Authorizer: authz},
			admin.WithLogger(app.logger),
			admin.WithActivitySink(sink),
		),
	)

	return srv, nil
}

func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn("close: %v", err)
		}
	}
}

func WaitExitSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
