// Package gantry implements the ETC noise-injection pipeline and the
// streaming congestion detector of spec.md §4.6.
package gantry

import (
	"fmt"
	"math/rand"

	domaingantry "github.com/Tuzfucius/YULU-simulation/domain/gantry"
)

// NoiseConfig holds the per-stage injection probabilities of spec.md §6.
type NoiseConfig struct {
	MissedReadRate    float64
	DuplicateRate     float64
	DelayedUploadRate float64
	ClockDriftRate    float64
}

// DefaultNoiseConfig returns the spec.md §6 defaults.
func DefaultNoiseConfig() NoiseConfig {
	return NoiseConfig{
		MissedReadRate:    0.03,
		DuplicateRate:     0.02,
		DelayedUploadRate: 0.05,
		ClockDriftRate:    0.10,
	}
}

// Noise is the ordered pipeline of independent injectors of spec.md §4.6.
type Noise struct {
	cfg NoiseConfig
}

// NewNoise constructs a noise pipeline.
func NewNoise(cfg NoiseConfig) *Noise {
	return &Noise{cfg: cfg}
}

// Apply runs the raw transaction through the noise pipeline and returns
// the surviving copies (0 if missed, 1 normally, 2-3 if duplicated) plus
// the noise events fired along the way.
func (n *Noise) Apply(tx domaingantry.Transaction, rng *rand.Rand) ([]domaingantry.Transaction, []domaingantry.NoiseEvent) {
	var events []domaingantry.NoiseEvent

	// Stage 1: missed read. Drop with no further stages.
	if rng.Float64() < n.cfg.MissedReadRate {
		events = append(events, domaingantry.NoiseEvent{
			VehicleID: tx.VehicleID, GantryID: tx.GantryID, Stage: "missed_read",
			Timestamp: tx.Timestamp, Detail: "dropped",
		})
		return nil, events
	}

	copies := []domaingantry.Transaction{tx}

	// Stage 2: duplicate read. Emit 2 or 3 copies with timestamp jitter.
	if rng.Float64() < n.cfg.DuplicateRate {
		extra := 1
		if rng.Float64() < 0.5 {
			extra = 2
		}
		for i := 0; i < extra; i++ {
			dup := tx
			dup.Timestamp = tx.Timestamp + jitter(rng, 0.1)
			dup.UploadTime = dup.Timestamp
			copies = append(copies, dup)
		}
		events = append(events, domaingantry.NoiseEvent{
			VehicleID: tx.VehicleID, GantryID: tx.GantryID, Stage: "duplicate_read",
			Timestamp: tx.Timestamp, Detail: fmt.Sprintf("%d extra copies", extra),
		})
	}

	for i := range copies {
		c := &copies[i]
		c.UploadTime = c.Timestamp

		// Stage 3: delayed upload.
		if rng.Float64() < n.cfg.DelayedUploadRate {
			delay := 1 + rng.Float64()*4 // U(1,5)
			c.UploadTime = c.Timestamp + delay
			events = append(events, domaingantry.NoiseEvent{
				VehicleID: tx.VehicleID, GantryID: tx.GantryID, Stage: "delayed_upload",
				Timestamp: c.Timestamp, Detail: fmt.Sprintf("delay=%.3fs", delay),
			})
		}

		// Stage 4: clock drift.
		if rng.Float64() < n.cfg.ClockDriftRate {
			drift := jitter(rng, 0.5)
			c.Timestamp += drift
			c.UploadTime += drift
			events = append(events, domaingantry.NoiseEvent{
				VehicleID: tx.VehicleID, GantryID: tx.GantryID, Stage: "clock_drift",
				Timestamp: c.Timestamp, Detail: fmt.Sprintf("drift=%.3fs", drift),
			})
		}
	}

	return copies, events
}

// jitter returns a uniform sample in [-bound, +bound].
func jitter(rng *rand.Rand, bound float64) float64 {
	return (rng.Float64()*2 - 1) * bound
}
