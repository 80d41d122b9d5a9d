package rules

import (
	"github.com/Tuzfucius/YULU-simulation/domain/alert"
	"github.com/Tuzfucius/YULU-simulation/domain/rule"
)

// DefaultRuleSet builds the baseline rule catalog spec.md §4.7 describes as
// examples: a handful of gantry/segment conditions wired to sensible
// defaults, all but the last holding a single condition, plus one ALL rule
// pairing queue length with repeat alerts, each with a cooldown long
// enough to avoid re-alerting every tick on a sustained condition.
func DefaultRuleSet() []*rule.Rule {
	var rules []*rule.Rule

	speedDrop := rule.New("low_speed_gantry", rule.CompositionAll, alert.SeverityMedium, 60)
	speedDrop.Conditions = []rule.Condition{SpeedBelowThreshold{ThresholdKMH: 40}}
	rules = append(rules, speedDrop)

	outlier := rule.New("travel_time_outlier", rule.CompositionAny, alert.SeverityHigh, 30)
	outlier.Conditions = []rule.Condition{TravelTimeOutlier{ZThreshold: 2.0}}
	rules = append(rules, outlier)

	queue := rule.New("segment_queue_forming", rule.CompositionAll, alert.SeverityMedium, 60)
	queue.Conditions = []rule.Condition{QueueLengthExceeds{Segment: -1, Threshold: 3}}
	rules = append(rules, queue)

	volatility := rule.New("speed_volatility", rule.CompositionAny, alert.SeverityLow, 120)
	volatility.Conditions = []rule.Condition{SpeedStdHigh{Threshold: 8}}
	rules = append(rules, volatility)

	missedReads := rule.New("high_missed_read_rate", rule.CompositionAll, alert.SeverityLow, 300)
	missedReads.Conditions = []rule.Condition{HighMissedReadRate{Threshold: 0.08}}
	rules = append(rules, missedReads)

	headway := rule.New("headway_anomaly_streak", rule.CompositionAll, alert.SeverityHigh, 60)
	headway.Conditions = []rule.Condition{HeadwayAnomaly{Streak: 3}}
	rules = append(rules, headway)

	compound := rule.New("congestion_with_repeat_alerts", rule.CompositionAll, alert.SeverityCritical, 120)
	compound.Conditions = []rule.Condition{
		QueueLengthExceeds{Segment: -1, Threshold: 3},
		ConsecutiveAlerts{Count: 2, WithinSeconds: 120},
	}
	compound.Actions = []rule.Action{
		{Type: rule.ActionLog},
		{Type: rule.ActionSpeedLimit, Params: map[string]interface{}{"recommended_kmh": 60}},
	}
	rules = append(rules, compound)

	return rules
}
