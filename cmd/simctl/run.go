package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	cfgpkg "github.com/Tuzfucius/YULU-simulation/pkg/config"
	"github.com/Tuzfucius/YULU-simulation/services/anomaly"
	"github.com/Tuzfucius/YULU-simulation/services/engine"
	svcgantry "github.com/Tuzfucius/YULU-simulation/services/gantry"
	"github.com/Tuzfucius/YULU-simulation/services/rules"
	"github.com/Tuzfucius/YULU-simulation/services/runstore"
	"github.com/Tuzfucius/YULU-simulation/services/spawner"
)

// handleRun drives one simulation to completion in-process, per spec.md
// §4.1/§5: it is just a loop over Engine.Step until Done() or a tick
// ceiling is hit, with no server, websocket, or rule-engine dependency on
// anything network-facing.
func handleRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "path to simulation.yaml (defaults to CONFIG_FILE env or configs/simulation.yaml)")
	maxTicks := fs.Int("max-ticks", 20000, "hard ceiling on ticks, as a safety stop if the run never reaches Done()")
	dsn := fs.String("dsn", getenv("DATABASE_URL", ""), "Postgres DSN to persist the artifact to (empty skips persistence)")
	out := fs.String("out", "", "write the JSON run artifact to this file (empty skips writing)")
	quiet := fs.Bool("quiet", false, "suppress the per-tick progress line")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}

	if *configPath != "" {
		_ = os.Setenv("CONFIG_FILE", *configPath)
	}
	cfg, err := cfgpkg.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	engCfg := engine.FromAppConfig(cfg)
	rng := cfg.NewRand()
	eng := engine.New(
		engCfg,
		rng,
		logrus.NewEntry(logrus.StandardLogger()),
		nil,
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

	for i := 0; i < *maxTicks; i++ {
		ev, err := eng.Step(ctx)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if !*quiet && i%100 == 0 {
			fmt.Fprintf(os.Stderr, "tick=%d clock=%.0f active=%d spawned=%d\n", i, eng.Clock(), eng.ActiveCount(), eng.Stats().TotalSpawned)
		}
		if ev.Done {
			break
		}
	}

	artifact := eng.Artifact()
	stats := artifact.Statistics
	fmt.Printf("run complete: spawned=%d finished=%d anomalies=%d alerts=%d transactions=%d ticks=%d clock=%.0f\n",
		stats.TotalSpawned, stats.TotalFinished, stats.TotalAnomalies, stats.TotalAlerts, stats.TotalTransactions, stats.TicksElapsed, stats.FinalClock)

	if *out != "" {
		payload, err := json.MarshalIndent(artifact, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal artifact: %w", err)
		}
		if err := os.WriteFile(*out, payload, 0o644); err != nil {
			return fmt.Errorf("write artifact file: %w", err)
		}
	}

	if *dsn != "" {
		store, err := runstore.Open(*dsn, true)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer store.Close()

		runID := uuid.NewString()
		sum, err := store.SaveRun(ctx, runstore.Meta{
			RunID:        runID,
			Seed:         cfg.Population.Seed,
			RoadLengthKM: cfg.Road.LengthKM,
			NumLanes:     cfg.Road.NumLanes,
			Weather:      engCfg.Weather,
		}, artifact)
		if err != nil {
			return fmt.Errorf("persist artifact: %w", err)
		}
		fmt.Printf("persisted run %s (checksum %s)\n", runID, sum)
	}

	if stats.TotalSpawned == 0 {
		return errors.New("run produced no spawned vehicles; check population.total_vehicles")
	}
	return nil
}
