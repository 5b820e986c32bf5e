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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/batch"
	"retailpos/backend/internal/billing"
	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/httpapi"
	"retailpos/backend/internal/inventoryapi"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
	pgstore "retailpos/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{
		ServiceName: "retailpos",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "server exited", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn(context.Background(), "close failed", err)
			}
		}
	}()

	repo, closeRepo, err := buildRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	batchCache, closeCache := buildCache(ctx, cfg, log)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := billing.New(repo, billing.Config{
		ResetDelay:          cfg.ResetDelay,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		ExpiryWarningDays:   cfg.ExpiryWarningDays,
		BatchCacheTTL:       cfg.BatchCacheTTL,
		Location:            cfg.Location(),
	},
		billing.WithCache(batchCache),
		billing.WithLogger(log),
		billing.WithMetrics(metrics.NewBilling(reg)),
	)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin,
		httpapi.WithLogger(log),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.CollaboratorTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		startCtx := log.WithField(context.Background(), "addr", cfg.Address())
		log.Info(startCtx, "POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "shutdown error", err)
	}
	log.Info(shutdownCtx, "server stopped")
	return nil
}

// buildRepository picks postgres when DATABASE_URL is set, the remote
// inventory API when INVENTORY_API_URL is set, and the seeded in-memory
// store otherwise. The remote API keeps audit logs and accounts locally.
func buildRepository(ctx context.Context, cfg config.Config, log *logger.Logger) (store.Repository, func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.WithLocation(cfg.Location()))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, nil, err
			}
		}
		if err := seedUsers(ctx, pg, log); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		if cfg.SeedDemoCatalogue {
			if err := seedCatalogue(ctx, pg, batch.StartOfDay(time.Now(), cfg.Location()), log); err != nil {
				_ = pg.Close()
				return nil, nil, err
			}
		}
		log.Info(ctx, "repository: postgres")
		return pg, pg.Close, nil

	case cfg.InventoryAPIURL != "":
		client, err := inventoryapi.NewClient(cfg.InventoryAPIURL,
			inventoryapi.WithToken(cfg.InventoryAPIToken),
			inventoryapi.WithHTTPClient(&http.Client{Timeout: cfg.CollaboratorTimeout}),
		)
		if err != nil {
			return nil, nil, err
		}
		local, err := memory.NewSeeded(memory.WithLocation(cfg.Location()))
		if err != nil {
			return nil, nil, err
		}
		warnDefaultCredentials(ctx, local, log)
		log.Info(log.WithField(ctx, "base_url", cfg.InventoryAPIURL), "repository: inventory api")
		return store.Compose(client, local), nil, nil

	default:
		local, err := memory.NewSeeded(memory.WithLocation(cfg.Location()))
		if err != nil {
			return nil, nil, err
		}
		warnDefaultCredentials(ctx, local, log)
		log.Info(ctx, "repository: in-memory")
		return local, nil, nil
	}
}

func buildCache(ctx context.Context, cfg config.Config, log *logger.Logger) (cache.BatchCache, func() error) {
	if cfg.RedisAddr == "" {
		log.Info(ctx, "batch cache: memory")
		return cache.NewMemoryBatchCache(), nil
	}
	redisCache := cache.NewRedisBatchCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Warn(ctx, "redis unavailable, using memory batch cache", err)
		_ = redisCache.Close()
		return cache.NewMemoryBatchCache(), nil
	}
	log.Info(ctx, "batch cache: redis")
	return redisCache, redisCache.Close
}

type userAccounts interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// seedUsers creates the admin and cashier accounts on an empty user table
// from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD. A role without a
// password is skipped.
func seedUsers(ctx context.Context, users userAccounts, log *logger.Logger) error {
	existing, err := users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, role := range []string{domain.RoleAdmin, domain.RoleCashier} {
		password := config.SeedPassword(role, "")
		if password == "" {
			log.Warn(log.WithField(ctx, "role", role), "no seed password set; account not created", nil)
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash seed password for %s: %w", role, err)
		}
		if err := users.CreateUser(ctx, domain.UserAccount{
			Username: role,
			Password: string(hash),
			Role:     role,
			Active:   true,
		}); err != nil {
			return fmt.Errorf("create %s user: %w", role, err)
		}
	}
	return nil
}

type catalogueWriter interface {
	SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
	UpsertProduct(ctx context.Context, p domain.Product) error
	UpsertBatch(ctx context.Context, b domain.Batch) error
}

// seedCatalogue writes the demo catalogue into an empty products table.
// Existing catalogues are never touched so restarts keep sold stock.
func seedCatalogue(ctx context.Context, catalogue catalogueWriter, today time.Time, log *logger.Logger) error {
	existing, err := catalogue.SearchProducts(ctx, "", 1)
	if err != nil {
		return fmt.Errorf("check catalogue: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	products, batches := memory.DemoCatalogue(today)
	for _, p := range products {
		if err := catalogue.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	for _, b := range batches {
		if err := catalogue.UpsertBatch(ctx, b); err != nil {
			return fmt.Errorf("seed batch %s: %w", b.BatchNumber, err)
		}
	}
	log.Info(log.WithField(ctx, "products", len(products)), "demo catalogue seeded")
	return nil
}

func warnDefaultCredentials(ctx context.Context, s *memory.Store, log *logger.Logger) {
	if s.UsesDefaultCredentials() {
		log.Warn(ctx, "seed accounts use built-in dev passwords; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD", nil)
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DatabaseURL != "" && cfg.InventoryAPIURL != "" {
		return errors.New("set only one of DATABASE_URL and INVENTORY_API_URL")
	}
	if cfg.CollaboratorTimeout <= 0 {
		return errors.New("COLLABORATOR_TIMEOUT must be positive")
	}
	return nil
}
