// Package runstore persists completed (or in-progress) simulation run
// artifacts to Postgres, following the transactional-insert and
// dynamic-WHERE-clause pagination idiom of the teacher's Postgres stores.
package runstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/blake2b"

	"github.com/Tuzfucius/YULU-simulation/services/engine"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned when a run id has no stored artifact.
var ErrNotFound = errors.New("runstore: run not found")

// ErrChecksumMismatch is returned by GetRun when the stored digest does
// not match the artifact payload read back from the database, which
// indicates the row was tampered with or corrupted.
var ErrChecksumMismatch = errors.New("runstore: artifact checksum mismatch")

// Store persists RunArtifact documents to Postgres.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres via dsn and, if migrateSchema is true, applies the
// embedded migrations before returning.
func Open(dsn string, migrateSchema bool) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("runstore: connect: %w", err)
	}
	s := &Store{db: db}
	if migrateSchema {
		if err := s.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps an already-open *sqlx.DB.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every embedded migration that has not yet run.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("runstore: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("runstore: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("runstore: migration init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("runstore: migration up: %w", err)
	}
	return nil
}

// Meta carries the run-level fields that are not part of the artifact
// payload itself but identify the run for storage and retrieval.
type Meta struct {
	RunID        string
	Seed         int64
	RoadLengthKM float64
	NumLanes     int
	Weather      string
}

// Checksum computes a blake2b-256 digest over the canonical JSON encoding
// of an artifact, used to detect storage-layer corruption on read-back.
func Checksum(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// dbRun is the named-parameter bag for the simulation_runs upsert.
type dbRun struct {
	RunID             string  `db:"run_id"`
	RoadLengthKM      float64 `db:"road_length_km"`
	NumLanes          int     `db:"num_lanes"`
	TotalSpawned      int     `db:"total_spawned"`
	TotalFinished     int     `db:"total_finished"`
	TotalAnomalies    int     `db:"total_anomalies"`
	TotalAlerts       int     `db:"total_alerts"`
	TotalTransactions int     `db:"total_transactions"`
	TotalNoiseEvents  int     `db:"total_noise_events"`
	TicksElapsed      int     `db:"ticks_elapsed"`
	FinalClock        float64 `db:"final_clock"`
	Seed              int64   `db:"seed"`
	Weather           string  `db:"weather"`
	Checksum          string  `db:"checksum"`
	Artifact          []byte  `db:"artifact"`
}

// dbAlert is the named-parameter bag for one simulation_run_alerts row.
type dbAlert struct {
	RunID       string  `db:"run_id"`
	Seq         int     `db:"seq"`
	RuleName    string  `db:"rule_name"`
	Severity    string  `db:"severity"`
	Timestamp   float64 `db:"timestamp"`
	GantryID    string  `db:"gantry_id"`
	PositionKM  float64 `db:"position_km"`
	Description string  `db:"description"`
	Confidence  float64 `db:"confidence"`
}

// SaveRun persists one completed run's artifact inside a single
// transaction: the summary/JSONB row in simulation_runs, upserted on
// conflict (a re-run with the same run id replaces its prior artifact),
// plus one row per alert in simulation_run_alerts for indexed querying
// without unpacking the JSONB blob.
func (s *Store) SaveRun(ctx context.Context, meta Meta, artifact engine.RunArtifact) (string, error) {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("runstore: marshal artifact: %w", err)
	}
	sum := Checksum(payload)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("runstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run := dbRun{
		RunID:             meta.RunID,
		RoadLengthKM:      meta.RoadLengthKM,
		NumLanes:          meta.NumLanes,
		TotalSpawned:      artifact.Statistics.TotalSpawned,
		TotalFinished:     artifact.Statistics.TotalFinished,
		TotalAnomalies:    artifact.Statistics.TotalAnomalies,
		TotalAlerts:       artifact.Statistics.TotalAlerts,
		TotalTransactions: artifact.Statistics.TotalTransactions,
		TotalNoiseEvents:  artifact.Statistics.TotalNoiseEvents,
		TicksElapsed:      artifact.Statistics.TicksElapsed,
		FinalClock:        artifact.Statistics.FinalClock,
		Seed:              meta.Seed,
		Weather:           meta.Weather,
		Checksum:          sum,
		Artifact:          payload,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO simulation_runs (
			run_id, road_length_km, num_lanes, total_spawned, total_finished,
			total_anomalies, total_alerts, total_transactions, total_noise_events,
			ticks_elapsed, final_clock, seed, weather, checksum, artifact
		) VALUES (
			:run_id, :road_length_km, :num_lanes, :total_spawned, :total_finished,
			:total_anomalies, :total_alerts, :total_transactions, :total_noise_events,
			:ticks_elapsed, :final_clock, :seed, :weather, :checksum, :artifact
		)
		ON CONFLICT (run_id) DO UPDATE SET
			total_spawned      = EXCLUDED.total_spawned,
			total_finished     = EXCLUDED.total_finished,
			total_anomalies    = EXCLUDED.total_anomalies,
			total_alerts       = EXCLUDED.total_alerts,
			total_transactions = EXCLUDED.total_transactions,
			total_noise_events = EXCLUDED.total_noise_events,
			ticks_elapsed      = EXCLUDED.ticks_elapsed,
			final_clock        = EXCLUDED.final_clock,
			checksum           = EXCLUDED.checksum,
			artifact           = EXCLUDED.artifact
	`, run)
	if err != nil {
		return "", fmt.Errorf("runstore: insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM simulation_run_alerts WHERE run_id = $1`, meta.RunID); err != nil {
		return "", fmt.Errorf("runstore: clear prior alerts: %w", err)
	}
	for i, a := range artifact.Alerts {
		alert := dbAlert{
			RunID:       meta.RunID,
			Seq:         i,
			RuleName:    a.RuleName,
			Severity:    string(a.Severity),
			Timestamp:   a.Timestamp,
			GantryID:    a.GantryID,
			PositionKM:  a.PositionKM,
			Description: a.Description,
			Confidence:  a.Confidence,
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO simulation_run_alerts (
				run_id, seq, rule_name, severity, timestamp, gantry_id, position_km, description, confidence
			) VALUES (
				:run_id, :seq, :rule_name, :severity, :timestamp, :gantry_id, :position_km, :description, :confidence
			)
		`, alert)
		if err != nil {
			return "", fmt.Errorf("runstore: insert alert %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("runstore: commit: %w", err)
	}
	return sum, nil
}

// GetRun fetches a stored artifact by run id and verifies it against the
// stored checksum before returning it.
func (s *Store) GetRun(ctx context.Context, runID string) (engine.RunArtifact, error) {
	var row struct {
		Checksum string `db:"checksum"`
		Artifact []byte `db:"artifact"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT checksum, artifact FROM simulation_runs WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.RunArtifact{}, ErrNotFound
	}
	if err != nil {
		return engine.RunArtifact{}, fmt.Errorf("runstore: query run: %w", err)
	}

	if Checksum(row.Artifact) != row.Checksum {
		return engine.RunArtifact{}, ErrChecksumMismatch
	}

	var artifact engine.RunArtifact
	if err := json.Unmarshal(row.Artifact, &artifact); err != nil {
		return engine.RunArtifact{}, fmt.Errorf("runstore: unmarshal artifact: %w", err)
	}
	return artifact, nil
}

// RunSummary is the lightweight row returned by ListRuns, without the
// full artifact payload.
type RunSummary struct {
	RunID             string  `db:"run_id"`
	TotalSpawned      int     `db:"total_spawned"`
	TotalFinished     int     `db:"total_finished"`
	TotalAnomalies    int     `db:"total_anomalies"`
	TotalAlerts       int     `db:"total_alerts"`
	TotalTransactions int     `db:"total_transactions"`
	FinalClock        float64 `db:"final_clock"`
	Seed              int64   `db:"seed"`
	Weather           string  `db:"weather"`
}

// ListFilter narrows ListRuns to a subset of runs, paginated.
type ListFilter struct {
	Weather          string
	MinTotalAnomalie int // zero value means "no minimum"
	Limit            int
	Offset           int
}

// ListRuns returns run summaries matching filter, newest first.
func (s *Store) ListRuns(ctx context.Context, filter ListFilter) ([]RunSummary, error) {
	clauses := []string{"1=1"}
	args := []interface{}{}

	if filter.Weather != "" {
		args = append(args, filter.Weather)
		clauses = append(clauses, fmt.Sprintf("weather = $%d", len(args)))
	}
	if filter.MinTotalAnomalie > 0 {
		args = append(args, filter.MinTotalAnomalie)
		clauses = append(clauses, fmt.Sprintf("total_anomalies >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	limitArg := len(args)
	args = append(args, filter.Offset)
	offsetArg := len(args)

	query := fmt.Sprintf(`
		SELECT run_id, total_spawned, total_finished, total_anomalies, total_alerts,
		       total_transactions, final_clock, seed, weather
		FROM simulation_runs
		WHERE %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(clauses, " AND "), limitArg, offsetArg)

	var out []RunSummary
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("runstore: list runs: %w", err)
	}
	return out, nil
}
