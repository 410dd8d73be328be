package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vatledger/engine/internal/cache"
	"github.com/vatledger/engine/internal/config"
	"github.com/vatledger/engine/internal/database"
	"github.com/vatledger/engine/internal/handler"
	"github.com/vatledger/engine/internal/jobs"
	"github.com/vatledger/engine/internal/logger"
	"github.com/vatledger/engine/internal/metrics"
	"github.com/vatledger/engine/internal/repository"
	"github.com/vatledger/engine/internal/service"
	"github.com/vatledger/engine/internal/vat"
)

func main() {
	var f runFlags
	flag.BoolVar(&f.recompute, "recompute", false, "recompute every tax record once and exit")
	flag.StringVar(&f.generateReturn, "generate-return", "", "generate the DRAFT return of one period (2024-07, 2024-Q3 or 2024) and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	if err := run(cfg, log, f); err != nil {
		log.Fatal("VAT engine stopped", zap.Error(err))
	}
}

// runFlags select a one-shot task instead of the long-running engine.
type runFlags struct {
	recompute      bool
	generateReturn string
}

func run(cfg *config.Config, log *zap.Logger, f runFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Seller.VatNumber == "" {
		return errors.New("seller.vat_number is required to create tax records")
	}
	rules, err := cfg.Rules.Build()
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}

	db, err := database.NewConnection(cfg.Database, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer func() { _ = sqlDB.Close() }()
	}
	log.Info("Connected to PostgreSQL", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	checks := map[string]handler.HealthCheck{"database": handler.DatabaseCheck(db)}

	var rateCache vat.RateCache
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer func(c *redis.Client) { _ = c.Close() }(client)
		rateCache = cache.NewRedisRateCache(client,
			cache.WithTTL(cfg.Redis.RateTTL),
			cache.WithKeyPrefix(cfg.Redis.KeyPrefix),
			cache.WithLogger(log))
		checks["redis"] = handler.RedisCheck(client)
		log.Info("Rate cache backed by Redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		rateCache = cache.NewMemoryRateCache(cfg.Redis.RateTTL)
		log.Info("Rate cache kept in process")
	}

	m := metrics.New("vat_engine", prometheus.DefaultRegisterer)

	// Repository -> Service
	txManager := repository.NewTransactionManager(db)
	rateRepo := repository.NewVatRateRepository(db)
	recordRepo := repository.NewTaxRecordRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	registry := vat.NewRegistry(rules, rateRepo, vat.WithRateCache(rateCache), vat.WithRegistryLogger(log))

	svcOpts := []service.Option{service.WithLogger(log), service.WithMetrics(m)}
	records := service.NewTaxRecordService(service.TaxRecordConfig{
		Rules:           rules,
		SellerVatNumber: cfg.Seller.VatNumber,
		Location:        loc,
		BatchSize:       cfg.Scheduler.SweepBatchSize,
	}, txManager, repository.NewOrderRepository(db), recordRepo, auditRepo, registry, svcOpts...)
	returns := service.NewTaxReturnService(txManager, recordRepo, repository.NewTaxReturnRepository(db), auditRepo, svcOpts...)

	if f.generateReturn != "" {
		return generateReturn(ctx, returns, f.generateReturn, loc, log)
	}
	if f.recompute {
		res, err := records.RecalculateAllTaxRecords(ctx)
		log.Info("Recompute finished",
			zap.Int("processed", res.Processed),
			zap.Int("succeeded", len(res.Succeeded)),
			zap.Int("failed", len(res.Failed)))
		return err
	}

	var schedule handler.JobSchedule
	if cfg.Scheduler.Enabled {
		scheduler, err := jobs.NewScheduler(jobs.Config{
			SweepInterval: cfg.Scheduler.SweepInterval,
			MonthlyReturn: cfg.Scheduler.MonthlyReturn,
			Location:      loc,
			JobTimeout:    cfg.Scheduler.JobTimeout,
		}, records, returns, log, m)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() {
			if err := scheduler.Stop(); err != nil {
				log.Error("Failed to stop scheduler", zap.Error(err))
			}
		}()
		schedule = scheduler
	}

	// Ops server
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logger.GinMiddleware(log), logger.Recovery(log))
	handler.NewOpsHandler(prometheus.DefaultGatherer, schedule, checks).RegisterRoutes(router.Group(""))
	handler.NewAuditHandler(service.NewAuditService(auditRepo)).RegisterRoutes(router.Group(""))

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("Ops server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// generateReturn builds the draft for a period label, reading the period in loc.
func generateReturn(ctx context.Context, returns service.TaxReturnService, label string, loc *time.Location, log *zap.Logger) error {
	pt, first, _, err := vat.ParsePeriodLabel(label)
	if err != nil {
		return err
	}
	start, end := vat.PeriodBounds(pt, time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, loc))

	ret, err := returns.GenerateTaxReturn(ctx, pt, start, end)
	if err != nil {
		return err
	}
	log.Info("Draft return generated",
		zap.String("id", ret.ID.String()),
		zap.String("period", ret.Period),
		zap.String("period_type", ret.PeriodType),
		zap.Int64("records", ret.RecordCount),
		zap.String("vat_due", ret.TotalVatDue.String()))
	return nil
}
