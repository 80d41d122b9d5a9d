// Package rules implements the alert condition catalog and the
// composition/cooldown evaluator of spec.md §4.7.
package rules

import (
	"fmt"
	"strings"

	domainalert "github.com/Tuzfucius/YULU-simulation/domain/alert"
	"github.com/Tuzfucius/YULU-simulation/domain/rule"
)

// gantriesInScope returns the gantry snapshots matching scope, or every
// gantry when scope is unrestricted.
func gantriesInScope(ctx *domainalert.Context, scope rule.Scope) []domainalert.GantrySnapshot {
	var out []domainalert.GantrySnapshot
	for id, g := range ctx.Gantries {
		if scope.Matches(id) {
			out = append(out, g)
		}
	}
	return out
}

// SpeedBelowThreshold fires when any in-scope gantry's mean crossing
// speed (km/h) falls below Threshold.
type SpeedBelowThreshold struct {
	Scope        rule.Scope
	ThresholdKMH float64
}

func (c SpeedBelowThreshold) Evaluate(ctx *domainalert.Context) (bool, error) {
	for _, g := range gantriesInScope(ctx, c.Scope) {
		if g.MeanSpeed*3.6 < c.ThresholdKMH {
			return true, nil
		}
	}
	return false, nil
}

func (c SpeedBelowThreshold) Describe() string {
	return fmt.Sprintf("speed below %.1f km/h", c.ThresholdKMH)
}

// TravelTimeOutlier fires when any in-scope gantry's most recent z-score
// exceeds ZThreshold.
type TravelTimeOutlier struct {
	Scope      rule.Scope
	ZThreshold float64
}

func (c TravelTimeOutlier) Evaluate(ctx *domainalert.Context) (bool, error) {
	for _, g := range gantriesInScope(ctx, c.Scope) {
		if g.RecentZScore > c.ZThreshold {
			return true, nil
		}
	}
	return false, nil
}

func (c TravelTimeOutlier) Describe() string {
	return fmt.Sprintf("travel-time z-score above %.1f", c.ZThreshold)
}

// FlowImbalance fires when the density ratio between a downstream and
// an upstream segment exceeds RatioThreshold (or falls below its
// reciprocal), signalling a developing bottleneck.
type FlowImbalance struct {
	UpstreamSegment   int
	DownstreamSegment int
	RatioThreshold    float64
}

func (c FlowImbalance) Evaluate(ctx *domainalert.Context) (bool, error) {
	up := ctx.SegmentDensity[c.UpstreamSegment]
	down := ctx.SegmentDensity[c.DownstreamSegment]
	if up <= 0 || down <= 0 {
		return false, nil
	}
	ratio := down / up
	return ratio > c.RatioThreshold || ratio < 1/c.RatioThreshold, nil
}

func (c FlowImbalance) Describe() string {
	return fmt.Sprintf("flow imbalance segments %d/%d", c.UpstreamSegment, c.DownstreamSegment)
}

// ConsecutiveAlerts fires when at least Count alerts (optionally filtered
// by RuleName) appear in the context's recent-history window within the
// last WithinSeconds.
type ConsecutiveAlerts struct {
	RuleName      string // empty matches any rule
	Count         int
	WithinSeconds float64
}

func (c ConsecutiveAlerts) Evaluate(ctx *domainalert.Context) (bool, error) {
	n := 0
	for _, ev := range ctx.RecentAlerts {
		if c.RuleName != "" && ev.RuleName != c.RuleName {
			continue
		}
		if ctx.Clock-ev.Timestamp <= c.WithinSeconds {
			n++
		}
	}
	return n >= c.Count, nil
}

func (c ConsecutiveAlerts) Describe() string {
	return fmt.Sprintf("%d+ alerts within %.0fs", c.Count, c.WithinSeconds)
}

// QueueLengthExceeds fires when a segment's queue length meets or
// exceeds Threshold. Segment < 0 matches any segment.
type QueueLengthExceeds struct {
	Segment   int
	Threshold int
}

func (c QueueLengthExceeds) Evaluate(ctx *domainalert.Context) (bool, error) {
	if c.Segment >= 0 {
		return ctx.QueueLengths[c.Segment] >= c.Threshold, nil
	}
	for _, n := range ctx.QueueLengths {
		if n >= c.Threshold {
			return true, nil
		}
	}
	return false, nil
}

func (c QueueLengthExceeds) Describe() string {
	return fmt.Sprintf("queue length >= %d", c.Threshold)
}

// SpeedStdHigh fires when an in-scope gantry's crossing-speed standard
// deviation exceeds Threshold (m/s).
type SpeedStdHigh struct {
	Scope     rule.Scope
	Threshold float64
}

func (c SpeedStdHigh) Evaluate(ctx *domainalert.Context) (bool, error) {
	for _, g := range gantriesInScope(ctx, c.Scope) {
		if g.StdSpeed > c.Threshold {
			return true, nil
		}
	}
	return false, nil
}

func (c SpeedStdHigh) Describe() string {
	return fmt.Sprintf("speed std above %.1f m/s", c.Threshold)
}

// SegmentSpeedDrop fires when a segment's average speed falls below
// BaselineKMH*(1-DropRatio).
type SegmentSpeedDrop struct {
	Segment     int
	BaselineKMH float64
	DropRatio   float64
}

func (c SegmentSpeedDrop) Evaluate(ctx *domainalert.Context) (bool, error) {
	avg, ok := ctx.SegmentAvgSpeedKMH[c.Segment]
	if !ok {
		return false, nil
	}
	return avg < c.BaselineKMH*(1-c.DropRatio), nil
}

func (c SegmentSpeedDrop) Describe() string {
	return fmt.Sprintf("segment %d speed drop > %.0f%%", c.Segment, c.DropRatio*100)
}

// WeatherTypeIs fires when the context's weather tag equals Weather
// (case-insensitive).
type WeatherTypeIs struct {
	Weather string
}

func (c WeatherTypeIs) Evaluate(ctx *domainalert.Context) (bool, error) {
	return strings.EqualFold(ctx.Weather, c.Weather), nil
}

func (c WeatherTypeIs) Describe() string {
	return fmt.Sprintf("weather is %s", c.Weather)
}

// HighMissedReadRate fires when the run-wide observed missed-read rate
// exceeds Threshold.
type HighMissedReadRate struct {
	Threshold float64
}

func (c HighMissedReadRate) Evaluate(ctx *domainalert.Context) (bool, error) {
	return ctx.MissedReadRate > c.Threshold, nil
}

func (c HighMissedReadRate) Describe() string {
	return fmt.Sprintf("missed-read rate above %.1f%%", c.Threshold*100)
}

// SpeedChangeRate fires when an in-scope gantry's mean speed has changed
// by more than ThresholdKMHPerSec (km/h per second) since the condition's
// previous evaluation. Unlike the other conditions this one carries
// state across ticks (the last-seen mean speed and clock per gantry) —
// it is still side-effect free with respect to the simulation itself.
type SpeedChangeRate struct {
	Scope              rule.Scope
	ThresholdKMHPerSec float64
	last               map[string]changeSample
}

type changeSample struct {
	speedKMH float64
	clock    float64
}

// NewSpeedChangeRate constructs a SpeedChangeRate condition with its
// internal tracking state initialized.
func NewSpeedChangeRate(scope rule.Scope, thresholdKMHPerSec float64) *SpeedChangeRate {
	return &SpeedChangeRate{Scope: scope, ThresholdKMHPerSec: thresholdKMHPerSec, last: make(map[string]changeSample)}
}

func (c *SpeedChangeRate) Evaluate(ctx *domainalert.Context) (bool, error) {
	fired := false
	for _, g := range gantriesInScope(ctx, c.Scope) {
		speedKMH := g.MeanSpeed * 3.6
		prev, ok := c.last[g.GantryID]
		c.last[g.GantryID] = changeSample{speedKMH: speedKMH, clock: ctx.Clock}
		if !ok {
			continue
		}
		dt := ctx.Clock - prev.clock
		if dt <= 0 {
			continue
		}
		rate := (speedKMH - prev.speedKMH) / dt
		if rate < 0 {
			rate = -rate
		}
		if rate > c.ThresholdKMHPerSec {
			fired = true
		}
	}
	return fired, nil
}

func (c *SpeedChangeRate) Describe() string {
	return fmt.Sprintf("speed change rate above %.1f km/h per second", c.ThresholdKMHPerSec)
}

// OccupancyHigh fires when a segment's density exceeds a configured
// fraction of the critical (jam) density.
type OccupancyHigh struct {
	Segment         int
	CriticalDensity float64 // veh/km
	Fraction        float64 // e.g. 0.8 for 80% of critical density
}

func (c OccupancyHigh) Evaluate(ctx *domainalert.Context) (bool, error) {
	d, ok := ctx.SegmentDensity[c.Segment]
	if !ok || c.CriticalDensity <= 0 {
		return false, nil
	}
	return d >= c.Fraction*c.CriticalDensity, nil
}

func (c OccupancyHigh) Describe() string {
	return fmt.Sprintf("segment %d occupancy above %.0f%% of critical density", c.Segment, c.Fraction*100)
}

// HeadwayAnomaly fires when an in-scope gantry's consecutive-outlier
// streak (the detector's proxy for irregular headways, since per-gantry
// headway ring buffers are optional per spec.md §3) meets or exceeds
// Streak.
type HeadwayAnomaly struct {
	Scope  rule.Scope
	Streak int
}

func (c HeadwayAnomaly) Evaluate(ctx *domainalert.Context) (bool, error) {
	for _, g := range gantriesInScope(ctx, c.Scope) {
		if g.ConsecutiveOutliers >= c.Streak {
			return true, nil
		}
	}
	return false, nil
}

func (c HeadwayAnomaly) Describe() string {
	return fmt.Sprintf("headway anomaly streak >= %d", c.Streak)
}

// DensityExceeds fires when a segment's density exceeds Threshold
// (veh/km). Segment < 0 matches any segment.
type DensityExceeds struct {
	Segment   int
	Threshold float64
}

func (c DensityExceeds) Evaluate(ctx *domainalert.Context) (bool, error) {
	if c.Segment >= 0 {
		return ctx.SegmentDensity[c.Segment] > c.Threshold, nil
	}
	for _, d := range ctx.SegmentDensity {
		if d > c.Threshold {
			return true, nil
		}
	}
	return false, nil
}

func (c DensityExceeds) Describe() string {
	return fmt.Sprintf("density above %.1f veh/km", c.Threshold)
}
