package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pbtcpay "github.com/purplebtc/pbtc-payments-go"
	"github.com/purplebtc/pbtc-payments-go/chain"
	"github.com/purplebtc/pbtc-payments-go/config"
	pbtchttp "github.com/purplebtc/pbtc-payments-go/http"
	"github.com/purplebtc/pbtc-payments-go/ledger"
	"github.com/purplebtc/pbtc-payments-go/logger"
	"github.com/purplebtc/pbtc-payments-go/metrics"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	network := config.Mainnet
	network.RPCURL = cfg.RPCURL

	appLogger := logger.NewZapLogger(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	var store pbtcpay.Ledger
	if cfg.DBSource != "" {
		pgLedger, err := ledger.NewPostgresLedger(context.Background(), cfg.DBSource)
		if err != nil {
			log.Fatalf("unable to connect to database: %v", err)
		}
		defer pgLedger.Close()
		if err := pgLedger.InitSchema(context.Background()); err != nil {
			log.Fatalf("unable to initialize schema: %v", err)
		}
		store = pgLedger
	} else {
		appLogger.Warn("DB_SOURCE not set, using in-memory ledger", nil)
		store = ledger.NewMemoryLedger()
	}

	reader := chain.NewSolanaReader(network.RPCURL)
	protocol := pbtcpay.New(store, reader,
		pbtcpay.WithLogger(appLogger),
		pbtcpay.WithMetrics(recorder),
		pbtcpay.WithAssetResolver(config.ResolveAsset),
	)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	pbtchttp.NewServer(protocol, network).RegisterRoutes(router)

	appLogger.Info("server starting", map[string]any{"port": cfg.Port, "network": network.Network})
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal(err)
	}
}
