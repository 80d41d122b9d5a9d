package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsValidate(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Road.NumLanes)
	assert.Equal(t, 1200, cfg.Population.TotalVehicles)
	assert.Equal(t, 0.01, cfg.Anomaly.AnomalyRatio)
}

func TestValidateRejectsStructuralErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero lanes", func(c *Config) { c.Road.NumLanes = 0 }},
		{"negative segment length", func(c *Config) { c.Road.SegmentLengthKM = -1 }},
		{"zero dt", func(c *Config) { c.Population.SimulationDT = 0 }},
		{"anomaly ratio above 1", func(c *Config) { c.Anomaly.AnomalyRatio = 1.5 }},
		{"negative noise rate", func(c *Config) { c.Noise.MissedReadRate = -0.1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewRandIsSeeded(t *testing.T) {
	cfg := New()
	cfg.Population.Seed = 7
	r1 := cfg.NewRand()
	r2 := cfg.NewRand()
	for i := 0; i < 10; i++ {
		assert.Equal(t, r1.Float64(), r2.Float64())
	}
}
