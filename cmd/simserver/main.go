// Command simserver exposes a traffic simulation run over HTTP: a
// control-plane REST API, a websocket stream of per-tick snapshots, a
// Redis fan-out of the same snapshots for other consumers, and a
// Prometheus /metrics endpoint. The simulation core itself (services/engine)
// knows nothing about any of this; simserver is purely the outer shell
// that drives Step in a loop and exposes it to the network.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/Tuzfucius/YULU-simulation/infrastructure/metrics"
	"github.com/Tuzfucius/YULU-simulation/pkg/logger"

	cfgpkg "github.com/Tuzfucius/YULU-simulation/pkg/config"
	"github.com/Tuzfucius/YULU-simulation/services/anomaly"
	"github.com/Tuzfucius/YULU-simulation/services/engine"
	svcgantry "github.com/Tuzfucius/YULU-simulation/services/gantry"
	"github.com/Tuzfucius/YULU-simulation/services/rules"
	"github.com/Tuzfucius/YULU-simulation/services/runstore"
	"github.com/Tuzfucius/YULU-simulation/services/spawner"
)

func main() {
	configPath := flag.String("config", "", "path to simulation.yaml (defaults to CONFIG_FILE env or configs/simulation.yaml)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config server.host/port)")
	dsn := flag.String("dsn", "", "Postgres DSN for run-artifact persistence (overrides config/env; empty disables persistence)")
	migrateFlag := flag.Bool("migrate", true, "apply embedded runstore migrations on startup")
	flag.Parse()

	if *configPath != "" {
		_ = os.Setenv("CONFIG_FILE", *configPath)
	}

	cfg, err := cfgpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	entry := logrus.NewEntry(log.Logger).WithField("service", "simserver")

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	m := metrics.New("yulu-simserver")

	var store *runstore.Store
	dsnVal := resolveDSN(*dsn, cfg)
	if dsnVal != "" {
		store, err = runstore.Open(dsnVal, *migrateFlag)
		if err != nil {
			entry.WithError(err).Fatal("open run store")
		}
		defer store.Close()
	} else {
		entry.Warn("no database DSN configured, run artifacts will not be persisted")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	engCfg := engine.FromAppConfig(cfg)

	// newEngine builds a fresh engine on every INIT/RESET. Each build reseeds
	// from cfg.Population.Seed so a replayed run is deterministic, matching
	// the original run's trajectory exactly (spec.md §7 determinism).
	newEngine := func() *engine.Engine {
		return engine.New(
			engCfg,
			cfg.NewRand(),
			entry,
			m,
			spawner.Config{TotalVehicles: cfg.Population.TotalVehicles, BaseRate: float64(cfg.Population.TotalVehicles) / cfg.Population.MaxSimulationTime},
			anomaly.Config{
				AnomalyRatio:       cfg.Anomaly.AnomalyRatio,
				GlobalAnomalyStart: cfg.Anomaly.GlobalAnomalyStart,
				VehicleSafeRunTime: cfg.Anomaly.VehicleSafeRunTime,
				CoolingTicks:       cfg.Anomaly.CoolingTicks,
			},
			svcgantry.NoiseConfig{
				MissedReadRate:    cfg.Noise.MissedReadRate,
				DuplicateRate:     cfg.Noise.DuplicateRate,
				DelayedUploadRate: cfg.Noise.DelayedUploadRate,
				ClockDriftRate:    cfg.Noise.ClockDriftRate,
			},
			svcgantry.DefaultDetectorConfig(),
		).WithRules(rules.New(nil, rules.DefaultRuleSet()))
	}

	h := newHub(entry.WithField("component", "hub"))
	go h.run()

	ticksPerSnapshot := 1
	if cfg.Server.SnapshotHz > 0 && cfg.Population.SimulationDT > 0 {
		ticksPerSnapshot = int(1.0 / (cfg.Population.SimulationDT * float64(cfg.Server.SnapshotHz)))
		if ticksPerSnapshot < 1 {
			ticksPerSnapshot = 1
		}
	}
	ctl := newController(entry.WithField("component", "controller"), newEngine, h, redisClient, cfg.Redis.Channel, store, cfg.Population.Seed, cfg.Population.MaxSimulationTime, ticksPerSnapshot)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), zerologMiddleware(zlog))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1", bearerAuth(cfg.Server.JWTSecret))
	api.GET("/run/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctl.status())
	})
	api.GET("/run/artifact", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctl.artifact())
	})

	// Control-plane routes translate spec.md §6's control messages
	// (INIT/START/PAUSE/RESUME/STOP/RESET) into controller calls.
	control := api.Group("/control")
	control.POST("/init", func(c *gin.Context) {
		ctl.Init()
		c.JSON(http.StatusOK, gin.H{"state": "init"})
	})
	control.POST("/start", func(c *gin.Context) {
		if err := ctl.Start(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": "running"})
	})
	control.POST("/pause", func(c *gin.Context) {
		if err := ctl.Pause(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": "paused"})
	})
	control.POST("/resume", func(c *gin.Context) {
		if err := ctl.Resume(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": "running"})
	})
	control.POST("/stop", func(c *gin.Context) {
		_ = ctl.Stop()
		c.JSON(http.StatusOK, gin.H{"state": "stopped"})
	})
	control.POST("/reset", func(c *gin.Context) {
		ctl.Reset()
		c.JSON(http.StatusOK, gin.H{"state": "init"})
	})

	router.GET("/ws", gin.WrapF(h.serveWS))

	listenAddr := determineAddr(*addr, cfg)
	srv := &http.Server{Addr: listenAddr, Handler: router}

	go func() {
		entry.WithField("addr", listenAddr).Info("simserver listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Fatal("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	_ = ctl.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Error("http shutdown")
	}
}

func determineAddr(flagAddr string, cfg *cfgpkg.Config) string {
	if flagAddr != "" {
		return flagAddr
	}
	host := cfg.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	return host + ":" + strconv.Itoa(port)
}

func resolveDSN(flagDSN string, cfg *cfgpkg.Config) string {
	if flagDSN != "" {
		return flagDSN
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	return cfg.Database.DSN
}

func zerologMiddleware(zlog zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zlog.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
