package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	banklinkhandler "github.com/arcims/arcims-platform/domains/banklink/be/handler"
	banklinkservice "github.com/arcims/arcims-platform/domains/banklink/be/service"
	connectorshandler "github.com/arcims/arcims-platform/domains/connectors/be/handler"
	connectorsservice "github.com/arcims/arcims-platform/domains/connectors/be/service"
	tenantshandler "github.com/arcims/arcims-platform/domains/tenants/be/handler"
	tenantsprov "github.com/arcims/arcims-platform/domains/tenants/be/provisioning"
	tenantsrepo "github.com/arcims/arcims-platform/domains/tenants/be/repo"
	tenantsservice "github.com/arcims/arcims-platform/domains/tenants/be/service"
	webhookshandler "github.com/arcims/arcims-platform/domains/webhooks/be/handler"
	webhooksservice "github.com/arcims/arcims-platform/domains/webhooks/be/service"
	"github.com/arcims/arcims-platform/platform/go/fivetran"
	platformlogging "github.com/arcims/arcims-platform/platform/go/logging"
	"github.com/arcims/arcims-platform/platform/go/metrics"
	platformmiddleware "github.com/arcims/arcims-platform/platform/go/middleware"
	"github.com/arcims/arcims-platform/platform/go/persistence"
	"github.com/arcims/arcims-platform/platform/go/tink"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`

	// FrontendURL is where connect-card and bank-link flows return the user.
	FrontendURL string `env:"FRONTEND_URL,required"`
	// PublicBaseURL is this service's externally reachable address, used when
	// registering webhook subscriptions.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	// Admin session for warehouse provisioning.
	WarehouseDSN         string `env:"WAREHOUSE_DSN,required"`
	WarehouseName        string `env:"WAREHOUSE_NAME,required"`
	WarehouseDatabase    string `env:"WAREHOUSE_DATABASE,required"`
	WarehouseSchema      string `env:"WAREHOUSE_SCHEMA" envDefault:"PUBLIC"`
	WarehouseServiceUser string `env:"WAREHOUSE_SERVICE_USER,required"`

	// Shared warehouse credentials handed to the connector service when a
	// tenant's destination is created.
	WarehouseHost              string `env:"WAREHOUSE_HOST,required"`
	ConnectorWarehouseUser     string `env:"CONNECTOR_WAREHOUSE_USER,required"`
	ConnectorWarehousePassword string `env:"CONNECTOR_WAREHOUSE_PASSWORD,required"`

	ConnectorAPIURL        string `env:"CONNECTOR_API_URL"`
	ConnectorAPIToken      string `env:"CONNECTOR_API_TOKEN,required"`
	ConnectorSourceService string `env:"CONNECTOR_SOURCE_SERVICE" envDefault:"fortnox"`

	BankAPIURL        string `env:"BANK_API_URL"`
	BankLinkURL       string `env:"BANK_LINK_URL"`
	BankClientID      string `env:"BANK_CLIENT_ID,required"`
	BankClientSecret  string `env:"BANK_CLIENT_SECRET,required"`
	BankActorClientID string `env:"BANK_ACTOR_CLIENT_ID,required"`
	BankSourceService string `env:"BANK_SOURCE_SERVICE" envDefault:"tink"`
	BankMarket        string `env:"BANK_MARKET" envDefault:"SE"`
	BankLocale        string `env:"BANK_LOCALE" envDefault:"sv_SE"`

	SyncWebhookSecret     string `env:"SYNC_WEBHOOK_SECRET"`
	IdentityWebhookSecret string `env:"IDENTITY_WEBHOOK_SECRET"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "onboarding-api",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	metrics.Init()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	tenantStore, err := persistence.NewTenantStore(ctx, pool)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}

	tenantRepo := tenantsrepo.NewPostgresRepository(tenantStore)
	tenantService := tenantsservice.New(tenantRepo)
	tenantHTTPHandler := tenantshandler.NewHandler(tenantService, logger)

	warehouseDB, err := sql.Open("snowflake", cfg.WarehouseDSN)
	if err != nil {
		logger.Fatal("open warehouse admin session", zap.Error(err))
	}
	defer warehouseDB.Close()

	warehouseProv, err := tenantsprov.NewWarehouseProvisioner(warehouseDB, tenantsprov.WarehouseConfig{
		Warehouse:   cfg.WarehouseName,
		Database:    cfg.WarehouseDatabase,
		Schema:      cfg.WarehouseSchema,
		ServiceUser: cfg.WarehouseServiceUser,
	})
	if err != nil {
		logger.Fatal("init warehouse provisioner", zap.Error(err))
	}

	connectorClient := fivetran.NewClient(fivetran.Config{
		BaseURL:   cfg.ConnectorAPIURL,
		AuthToken: cfg.ConnectorAPIToken,
	})

	connectorService := connectorsservice.New(tenantService, connectorClient, warehouseProv, connectorsservice.Config{
		SourceService:      cfg.ConnectorSourceService,
		DestinationService: "snowflake",
		DestinationConfig: map[string]any{
			"host":      cfg.WarehouseHost,
			"database":  cfg.WarehouseDatabase,
			"warehouse": cfg.WarehouseName,
			"user":      cfg.ConnectorWarehouseUser,
			"password":  cfg.ConnectorWarehousePassword,
			"auth_type": "PASSWORD",
		},
		RedirectURI:   cfg.FrontendURL + "/onboarding/connected",
		WebhookURL:    webhookURL(cfg.PublicBaseURL),
		WebhookSecret: cfg.SyncWebhookSecret,
	}, logger)
	connectorHTTPHandler := connectorshandler.NewHandler(connectorService, logger)

	bankClient := tink.NewClient(tink.Config{
		BaseURL:       cfg.BankAPIURL,
		LinkBaseURL:   cfg.BankLinkURL,
		ClientID:      cfg.BankClientID,
		ClientSecret:  cfg.BankClientSecret,
		ActorClientID: cfg.BankActorClientID,
	})

	banklinkService := banklinkservice.New(tenantService, bankClient, connectorClient, banklinkservice.Config{
		SourceService: cfg.BankSourceService,
		Market:        cfg.BankMarket,
		Locale:        cfg.BankLocale,
		RedirectURI:   cfg.FrontendURL + "/onboarding/bank-linked",
	}, logger)
	banklinkHTTPHandler := banklinkhandler.NewHandler(banklinkService, logger)

	ingester := webhooksservice.NewIngester(tenantService, webhooksservice.Config{
		SyncSecret:     cfg.SyncWebhookSecret,
		IdentitySecret: cfg.IdentityWebhookSecret,
	}, logger)
	webhookHTTPHandler := webhookshandler.NewHandler(ingester, logger)

	router := chi.NewRouter()
	router.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	router.Use(platformlogging.RequestLogger(logger))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	tenantHTTPHandler.Mount(router)
	connectorHTTPHandler.Mount(router)
	banklinkHTTPHandler.Mount(router)
	webhookHTTPHandler.Mount(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting onboarding api", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func webhookURL(publicBase string) string {
	if publicBase == "" {
		return ""
	}
	return strings.TrimSuffix(publicBase, "/") + "/api/webhooks/sync-status"
}
