// Package config loads the simulation configuration: defaults, an
// optional YAML file, and environment variable overrides, following the
// teacher's defaults -> file -> env -> normalize loader shape.
package config

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Tuzfucius/YULU-simulation/infrastructure/errors"
)

// RoadConfig describes the fixed road geometry.
type RoadConfig struct {
	LengthKM        float64   `yaml:"road_length_km" env:"ROAD_LENGTH_KM"`
	SegmentLengthKM float64   `yaml:"segment_length_km" env:"SEGMENT_LENGTH_KM"`
	NumLanes        int       `yaml:"num_lanes" env:"NUM_LANES"`
	LaneWidth       float64   `yaml:"lane_width" env:"LANE_WIDTH"`
	GantryPosKM     []float64 `yaml:"gantry_positions_km"`
}

// PopulationConfig describes vehicle population and run-length parameters.
type PopulationConfig struct {
	TotalVehicles     int     `yaml:"total_vehicles" env:"TOTAL_VEHICLES"`
	SimulationDT      float64 `yaml:"simulation_dt" env:"SIMULATION_DT"`
	MaxSimulationTime float64 `yaml:"max_simulation_time" env:"MAX_SIMULATION_TIME"`
	Seed              int64   `yaml:"seed" env:"SIM_SEED"`
}

// AnomalyConfig controls anomaly activation gating.
type AnomalyConfig struct {
	AnomalyRatio       float64 `yaml:"anomaly_ratio" env:"ANOMALY_RATIO"`
	GlobalAnomalyStart float64 `yaml:"global_anomaly_start" env:"GLOBAL_ANOMALY_START"`
	VehicleSafeRunTime float64 `yaml:"vehicle_safe_run_time" env:"VEHICLE_SAFE_RUN_TIME"`
	CoolingTicks       int     `yaml:"cooling_ticks" env:"ANOMALY_COOLING_TICKS"`
}

// LaneChangeConfig controls MOBIL forced-change and retry behavior.
type LaneChangeConfig struct {
	ForcedChangeDist     float64 `yaml:"forced_change_dist" env:"FORCED_CHANGE_DIST"`
	LaneChangeGap        float64 `yaml:"lane_change_gap" env:"LANE_CHANGE_GAP"`
	MaxRetries           int     `yaml:"lane_change_max_retries" env:"LANE_CHANGE_MAX_RETRIES"`
	RetryIntervalSeconds float64 `yaml:"lane_change_retry_interval" env:"LANE_CHANGE_RETRY_INTERVAL"`
	CooldownSeconds      float64 `yaml:"lane_change_cooldown" env:"LANE_CHANGE_COOLDOWN"`
}

// ImpactConfig controls impacted-vehicle classification and the
// lane-coupling dampening effect of an anomaly onto adjacent lanes.
type ImpactConfig struct {
	ImpactThreshold    float64 `yaml:"impact_threshold" env:"IMPACT_THRESHOLD"`
	ImpactSpeedRatio   float64 `yaml:"impact_speed_ratio" env:"IMPACT_SPEED_RATIO"`
	LaneCouplingDist   float64 `yaml:"lane_coupling_dist" env:"LANE_COUPLING_DIST"`
	LaneCouplingFactor float64 `yaml:"lane_coupling_factor" env:"LANE_COUPLING_FACTOR"`
}

// CongestionConfig controls queue and phantom-jam detection thresholds.
type CongestionConfig struct {
	QueueSpeedThresholdKMH float64 `yaml:"queue_speed_threshold" env:"QUEUE_SPEED_THRESHOLD"`
	QueueMinVehicles       int     `yaml:"queue_min_vehicles" env:"QUEUE_MIN_VEHICLES"`
	PhantomJamSpeedKMH     float64 `yaml:"phantom_jam_speed" env:"PHANTOM_JAM_SPEED"`
	PhantomJamDistM        float64 `yaml:"phantom_jam_dist" env:"PHANTOM_JAM_DIST"`
	PhaseCriticalDensity   float64 `yaml:"phase_critical_density" env:"PHASE_CRITICAL_DENSITY"`
}

// NoiseConfig controls the ETC noise-injection pipeline's stage rates.
type NoiseConfig struct {
	MissedReadRate    float64 `yaml:"missed_read" env:"NOISE_MISSED_READ"`
	DuplicateRate     float64 `yaml:"duplicate_read" env:"NOISE_DUPLICATE_READ"`
	DelayedUploadRate float64 `yaml:"delayed_upload" env:"NOISE_DELAYED_UPLOAD"`
	ClockDriftRate    float64 `yaml:"clock_drift" env:"NOISE_CLOCK_DRIFT"`
}

// LoggingConfig controls application logging, same shape as the teacher's.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// ServerConfig controls the outer HTTP/WebSocket control plane.
type ServerConfig struct {
	Host       string `yaml:"host" env:"SERVER_HOST"`
	Port       int    `yaml:"port" env:"SERVER_PORT"`
	JWTSecret  string `yaml:"jwt_secret" env:"SERVER_JWT_SECRET"`
	SnapshotHz int    `yaml:"snapshot_hz" env:"SERVER_SNAPSHOT_HZ"`
}

// DatabaseConfig controls run-artifact persistence.
type DatabaseConfig struct {
	Driver         string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN            string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns   int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns   int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
	MigrationsPath string `yaml:"migrations_path" env:"DATABASE_MIGRATIONS_PATH"`
}

// RedisConfig controls the outer shell's snapshot pub/sub fan-out cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Channel  string `yaml:"channel" env:"REDIS_SNAPSHOT_CHANNEL"`
}

// Config is the top-level simulation configuration.
type Config struct {
	Road       RoadConfig       `yaml:"road"`
	Population PopulationConfig `yaml:"population"`
	Anomaly    AnomalyConfig    `yaml:"anomaly"`
	LaneChange LaneChangeConfig `yaml:"lane_change"`
	Impact     ImpactConfig     `yaml:"impact"`
	Congestion CongestionConfig `yaml:"congestion"`
	Noise      NoiseConfig      `yaml:"noise"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
}

// New returns a configuration populated with spec.md §6 defaults.
func New() *Config {
	return &Config{
		Road: RoadConfig{
			LengthKM:        20,
			SegmentLengthKM: 2,
			NumLanes:        4,
			LaneWidth:       3.5,
		},
		Population: PopulationConfig{
			TotalVehicles:     1200,
			SimulationDT:      1.0,
			MaxSimulationTime: 3900,
			Seed:              42,
		},
		Anomaly: AnomalyConfig{
			AnomalyRatio:       0.01,
			GlobalAnomalyStart: 200,
			VehicleSafeRunTime: 200,
			CoolingTicks:       1000,
		},
		LaneChange: LaneChangeConfig{
			ForcedChangeDist:     400,
			LaneChangeGap:        25,
			MaxRetries:           5,
			RetryIntervalSeconds: 1.0,
			CooldownSeconds:      5.0,
		},
		Impact: ImpactConfig{
			ImpactThreshold:    0.90,
			ImpactSpeedRatio:   0.70,
			LaneCouplingDist:   50,
			LaneCouplingFactor: 0.01,
		},
		Congestion: CongestionConfig{
			QueueSpeedThresholdKMH: 15,
			QueueMinVehicles:       3,
			PhantomJamSpeedKMH:     30,
			PhantomJamDistM:        200,
			PhaseCriticalDensity:   35,
		},
		Noise: NoiseConfig{
			MissedReadRate:    0.03,
			DuplicateRate:     0.02,
			DelayedUploadRate: 0.05,
			ClockDriftRate:    0.10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8080,
			SnapshotHz: 2,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			MigrateOnStart: true,
			MigrationsPath: "services/runstore/migrations",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "yulu:snapshots",
		},
	}
}

// Load loads configuration from file (if present) and environment
// variables, same precedence as the teacher's pkg/config.Load: defaults,
// then CONFIG_FILE (or configs/simulation.yaml), then env overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/simulation.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate enforces spec.md §7's structural-error class: invalid
// configuration must fail loudly at construction, before a run starts.
func (c *Config) Validate() error {
	var problems []string

	if c.Road.NumLanes < 1 {
		problems = append(problems, "road.num_lanes must be >= 1")
	}
	if c.Road.SegmentLengthKM <= 0 {
		problems = append(problems, "road.segment_length_km must be > 0")
	}
	if c.Road.LengthKM <= 0 {
		problems = append(problems, "road.road_length_km must be > 0")
	}
	if c.Road.LaneWidth <= 0 {
		problems = append(problems, "road.lane_width must be > 0")
	}
	if c.Population.SimulationDT <= 0 {
		problems = append(problems, "population.simulation_dt must be > 0")
	}
	if c.Population.MaxSimulationTime <= 0 {
		problems = append(problems, "population.max_simulation_time must be > 0")
	}
	if c.Population.TotalVehicles < 0 {
		problems = append(problems, "population.total_vehicles must be >= 0")
	}
	if c.Anomaly.AnomalyRatio < 0 || c.Anomaly.AnomalyRatio > 1 {
		problems = append(problems, "anomaly.anomaly_ratio must be in [0,1]")
	}
	for name, rate := range map[string]float64{
		"noise.missed_read":    c.Noise.MissedReadRate,
		"noise.duplicate_read": c.Noise.DuplicateRate,
		"noise.delayed_upload": c.Noise.DelayedUploadRate,
		"noise.clock_drift":    c.Noise.ClockDriftRate,
	} {
		if rate < 0 || rate > 1 {
			problems = append(problems, fmt.Sprintf("%s must be in [0,1]", name))
		}
	}
	if c.LaneChange.MaxRetries < 0 {
		problems = append(problems, "lane_change.lane_change_max_retries must be >= 0")
	}

	if len(problems) > 0 {
		return errors.InvalidConfig(strings.Join(problems, "; "))
	}
	return nil
}

// NewRand constructs the single seeded generator threaded through the
// engine for every stochastic decision, per spec.md §5 "Determinism".
func (c *Config) NewRand() *rand.Rand {
	seed := c.Population.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
