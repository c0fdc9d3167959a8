package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/khovattu/khovattu/cmd/khovattu/cli"
	"github.com/khovattu/khovattu/internal/app"
	"github.com/khovattu/khovattu/internal/auth"
	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/counting"
	"github.com/khovattu/khovattu/internal/importer"
	"github.com/khovattu/khovattu/internal/observability"
	"github.com/khovattu/khovattu/internal/platform/cache"
	"github.com/khovattu/khovattu/internal/qr"
	"github.com/khovattu/khovattu/internal/shared"
	"github.com/khovattu/khovattu/internal/stock"
	"github.com/khovattu/khovattu/jobs"
)

const usage = `usage:
  khovattu [serve]
  khovattu jobs trigger <qr:regenerate|idempotency:cleanup> [--factory CODE] [--json]
  khovattu jobs stats
  khovattu user create --username NAME --password PASS [--factory CODE] [--all-factories] [--staff] [--superuser]`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	if len(args) == 0 || args[0] == "serve" {
		if err := serve(ctx, stop, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}
	os.Exit(runCommand(ctx, cfg, logger, args))
}

func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	switch {
	case len(args) >= 2 && args[0] == "jobs" && args[1] == "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		factory := fs.String("factory", "", "factory code for qr:regenerate")
		asJSON := fs.Bool("json", false, "print the enqueued task as JSON")
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, usage)
			return 2
		}
		if err := fs.Parse(args[3:]); err != nil {
			return 2
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		return jobsCLI.TriggerCommand(ctx, cli.TriggerOptions{Name: args[2], Factory: *factory, JSONOutput: *asJSON})

	case len(args) >= 2 && args[0] == "jobs" && args[1] == "stats":
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		stats, err := jobsCLI.InspectQueue()
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return 0

	case len(args) >= 2 && args[0] == "user" && args[1] == "create":
		fs := flag.NewFlagSet("user create", flag.ContinueOnError)
		opts := cli.CreateUserOptions{}
		fs.StringVar(&opts.Username, "username", "", "login name")
		fs.StringVar(&opts.Password, "password", "", "initial password")
		fs.StringVar(&opts.FirstName, "first-name", "", "first name")
		fs.StringVar(&opts.LastName, "last-name", "", "last name")
		fs.StringVar(&opts.Email, "email", "", "email address")
		fs.StringVar(&opts.Factory, "factory", "", "factory the user may access")
		fs.BoolVar(&opts.AllFactories, "all-factories", false, "grant access to every factory")
		fs.BoolVar(&opts.Staff, "staff", false, "staff account")
		fs.BoolVar(&opts.Superuser, "superuser", false, "superuser account")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		infra, err := app.Connect(ctx, cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "user create: %v\n", err)
			return 1
		}
		defer infra.Close()
		return cli.CreateUserCommand(ctx, auth.NewRepository(infra.Pool), opts)

	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	infra, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logger.Warn("close infra", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(infra.Pool)
	idempotencyStore := shared.NewIdempotencyStore(infra.Pool)
	sessions := shared.NewSessionStore(infra.Redis, cfg.SessionSecret, cfg.SessionTTL)
	statsCache := cache.NewVersioned(infra.Redis, cfg.StatsCacheTTL)
	generator := qr.NewGenerator(cfg.QRBaseURL, cfg.DefaultFactoryCode)

	catalogService := catalog.NewService(catalog.NewRepository(infra.Pool), generator, infra.Store, auditLogger, logger,
		catalog.ServiceConfig{ImageMaxBytes: cfg.ImageMaxBytes})
	stockService := stock.NewService(stock.NewRepository(infra.Pool), auditLogger, idempotencyStore, metrics, logger,
		stock.ServiceConfig{Location: cfg.Location()})
	countingService := counting.NewService(counting.NewRepository(infra.Pool), statsCache, logger)
	importService := importer.NewService(importer.NewRepository(infra.Pool), stockService, catalogService, countingService,
		metrics, auditLogger, logger, importer.Config{Location: cfg.Location()})
	authService := auth.NewService(auth.NewRepository(infra.Pool), sessions, catalogService)

	jobClient, err := jobs.NewClient(cfg.AsynqOpts())
	if err != nil {
		return err
	}
	defer jobClient.Close()
	inspector := asynq.NewInspector(cfg.AsynqOpts())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		AuthHandler:     auth.NewHandler(logger, authService),
		CatalogHandler:  catalog.NewHandler(logger, catalogService),
		StockHandler:    stock.NewHandler(logger, stockService),
		CountingHandler: counting.NewHandler(logger, countingService),
		ImportHandler:   importer.NewHandler(logger, importService, catalogService, countingService, cfg.ImportMaxBytes),
		JobHandler:      jobs.NewHandler(jobClient, inspector, logger),
		Health: map[string]app.Pinger{
			"postgres": infra.Pool,
			"redis":    app.PingFunc(func(ctx context.Context) error { return infra.Redis.Ping(ctx).Err() }),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
