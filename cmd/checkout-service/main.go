package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/MikeMC777/storefront-checkout/docs"
	"github.com/MikeMC777/storefront-checkout/internal/cart"
	"github.com/MikeMC777/storefront-checkout/internal/catalog"
	"github.com/MikeMC777/storefront-checkout/internal/checkout"
	"github.com/MikeMC777/storefront-checkout/internal/config"
	"github.com/MikeMC777/storefront-checkout/internal/customer"
	"github.com/MikeMC777/storefront-checkout/internal/db"
	"github.com/MikeMC777/storefront-checkout/internal/logx"
	"github.com/MikeMC777/storefront-checkout/internal/notify"
	"github.com/MikeMC777/storefront-checkout/internal/order"
	"github.com/MikeMC777/storefront-checkout/internal/payment"
	"github.com/MikeMC777/storefront-checkout/internal/settings"
)

// @title        Storefront Checkout API
// @version      1.0
// @description  Carts, checkout, orders, payments and settings of the storefront.
// @BasePath     /
func main() {
	cfg := config.Load()
	log := logx.New(logx.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("checkout-service stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("checkout-service exited")
}

// stores groups the persistence backends: Postgres when a DSN is set,
// in-memory otherwise.
type stores struct {
	catalog   catalog.Catalog
	customers customer.Directory
	orders    order.Repository
	payments  payment.Repository
	settings  settings.Repository
	attempts  checkout.AttemptRepository
}

func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (stores, func(), error) {
	if cfg.PostgresDSN == "" {
		log.Warn("POSTGRES_DSN not set, using in-memory stores")
		return stores{
			catalog:   pickCatalog(cfg, nil, log),
			customers: customer.NewMemoryDirectory(),
			orders:    order.NewMemoryRepo(),
			payments:  payment.NewMemoryRepo(),
			settings:  settings.NewMemoryRepo(),
			attempts:  checkout.NewMemoryRepo(),
		}, func() {}, nil
	}
	if err := db.Migrate(cfg.PostgresDSN); err != nil {
		return stores{}, nil, err
	}
	log.Info("database migrations completed")
	pool, err := db.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return stores{}, nil, err
	}
	return stores{
		catalog:   pickCatalog(cfg, pool, log),
		customers: customer.NewPGRepo(pool),
		orders:    order.NewPGRepo(pool),
		payments:  payment.NewPGRepo(pool),
		settings:  settings.NewPGRepo(pool),
		attempts:  checkout.NewPGRepo(pool),
	}, pool.Close, nil
}

// pickCatalog prefers a remote catalog service, then the shared products
// table, then a small demo catalog.
func pickCatalog(cfg config.Config, pool *pgxpool.Pool, log *zap.Logger) catalog.Catalog {
	switch {
	case cfg.CatalogURL != "":
		log.Info("catalog over http", zap.String("url", cfg.CatalogURL))
		return catalog.NewHTTPClient(cfg.CatalogURL)
	case pool != nil:
		return catalog.NewPGRepo(pool)
	}
	tax := decimal.NewFromInt(10)
	return catalog.NewMemoryCatalog(
		catalog.Product{ID: "1", Name: "Desk Lamp", SKU: "LMP-1", Price: decimal.NewFromInt(50), TaxRate: &tax, StockQuantity: 25},
		catalog.Product{ID: "2", Name: "Notebook", SKU: "NTB-2", Price: decimal.RequireFromString("4.50"), StockQuantity: 200},
		catalog.Product{ID: "3", Name: "Go Field Guide (PDF)", SKU: "EBK-3", Price: decimal.NewFromInt(12), StockQuantity: 10000, IsDigital: true},
	)
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.UsesDefaultSecret() {
		log.Warn("SETTINGS_SECRET not set; sensitive settings use the built-in key")
	}
	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	g, gctx := errgroup.WithContext(ctx)

	// settings
	cipher, err := settings.NewCipher(cfg.SettingsSecret)
	if err != nil {
		return err
	}
	cache := settings.NewCache(cfg.SettingsCacheTTL)
	settingsOpts := []settings.Option{settings.WithCache(cache), settings.WithLogger(log.Named("settings"))}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		inv := settings.NewRedisInvalidator(rdb, log.Named("settings"))
		settingsOpts = append(settingsOpts, settings.WithInvalidator(inv))
		g.Go(func() error {
			inv.Run(gctx, cache, nil)
			return nil
		})
	}
	settingsStore := settings.NewStore(st.settings, cipher, settingsOpts...)
	if n, err := settingsStore.InitializeDefaults(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Info("default settings created", zap.Int("count", n))
	}

	// notifications
	dispatchers := notify.Multi{notify.NewLogDispatcher(log.Named("notify"))}
	if len(cfg.KafkaBrokers) > 0 {
		kd := notify.NewKafkaDispatcher(cfg.KafkaBrokers)
		defer kd.Close()
		dispatchers = append(dispatchers, kd)
	}

	// domain services
	carts := cart.NewStore(cart.NewMemoryRepo(), st.catalog)
	orders := order.NewManager(st.orders, st.catalog, log.Named("order"))
	proofs := payment.NewLocalProofStore(cfg.UploadDir, cfg.PublicBaseURL)
	payments := payment.NewService(st.payments, orders, settingsStore, proofs, log.Named("payment"))

	gateways := payment.NewRegistry()
	gateways.Register(payment.MethodBankTransfer, payment.NewBankTransferGateway())
	for _, m := range []string{payment.MethodMock, payment.MethodCardTest} {
		mock := payment.NewResilient(m, &payment.MockGateway{Decline: !cfg.MockGatewayApproves}, cfg.GatewayMaxRetries)
		gateways.Register(m, payment.NewSwitchable(mock, settingsStore.MockGatewayEnabled))
	}

	orch := checkout.NewOrchestrator(checkout.Deps{
		Carts:     carts,
		Customers: st.customers,
		Orders:    orders,
		Payments:  payments,
		Gateways:  gateways,
		Settings:  settingsStore,
		Notifier:  dispatchers,
		Attempts:  st.attempts,
		Metrics:   checkout.NewMetrics(reg),
		Log:       log.Named("checkout"),
	}, checkout.Config{Timeout: cfg.CheckoutTimeout, StepTimeout: cfg.CheckoutStepTimeout})

	// background resume of attempts left in flight by a crash
	g.Go(func() error {
		every := cfg.CheckoutTimeout
		if every <= 0 {
			every = 30 * time.Second
		}
		resume := func() {
			if n, err := orch.ResumeIncomplete(gctx); err != nil {
				log.Warn("resume incomplete checkouts", zap.Error(err))
			} else if n > 0 {
				log.Info("resumed incomplete checkouts", zap.Int("count", n))
			}
		}
		resume()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				resume()
			}
		}
	})

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(services{
		Checkout: orch,
		Orders:   orders,
		Payments: payments,
		Carts:    carts,
		Settings: settingsStore,
	}, routerOptions{Log: log, Registry: reg, UploadDir: cfg.UploadDir})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	g.Go(func() error {
		log.Info("checkout-service listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	grpcSrv, health := newHealthServer()
	g.Go(func() error { return serveGRPC(grpcSrv, cfg.GRPCAddr, log) })

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
