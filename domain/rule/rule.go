// Package rule holds the rule/condition/action data model of spec.md §4.7.
// Condition evaluation logic itself lives in services/rules; this package
// is the plain data shape plus the Condition contract.
package rule

import "github.com/Tuzfucius/YULU-simulation/domain/alert"

// Composition is how a rule's ordered conditions combine.
type Composition string

const (
	CompositionAll Composition = "all"
	CompositionAny Composition = "any"
)

// Scope restricts a condition to a single gantry, a range, or all gantries.
type Scope struct {
	GantryIDs []string // empty means "all"
}

// Matches reports whether the scope covers the given gantry id (or covers
// everything when unscoped).
func (s Scope) Matches(gantryID string) bool {
	if len(s.GantryIDs) == 0 {
		return true
	}
	for _, id := range s.GantryIDs {
		if id == gantryID {
			return true
		}
	}
	return false
}

// Condition is a small evaluator over the alert context. Implementations
// must be side-effect free and must never panic; a condition that cannot
// evaluate (malformed expression, throwing script) should return
// (false, err) and let the rule engine log and continue.
type Condition interface {
	// Evaluate reports whether the condition holds against ctx. A
	// gantry-scoped condition applies its own Scope; no gantry id is
	// passed in.
	Evaluate(ctx *alert.Context) (bool, error)
	// Describe returns a short human-readable description for logging.
	Describe() string
}

// ActionType enumerates the rule action kinds of spec.md §4.7.
type ActionType string

const (
	ActionLog         ActionType = "log"
	ActionNotify      ActionType = "notify"
	ActionSpeedLimit  ActionType = "speed_limit_recommendation"
	ActionLaneControl ActionType = "lane_control_recommendation"
)

// Action is a side-effecting step a fired rule executes.
type Action struct {
	Type   ActionType
	Params map[string]interface{}
}

// Rule is a named, ordered set of conditions composed with ALL/ANY,
// guarded by a cooldown.
type Rule struct {
	Name        string
	Conditions  []Condition
	Composition Composition
	Severity    alert.Severity
	Actions     []Action
	CooldownS   float64
	Enabled     bool

	lastTrigger   float64
	everTriggered bool
}

// New constructs a Rule with an unarmed cooldown (it will fire the first
// time its conditions are met).
func New(name string, composition Composition, severity alert.Severity, cooldownS float64) *Rule {
	return &Rule{
		Name:        name,
		Composition: composition,
		Severity:    severity,
		CooldownS:   cooldownS,
		Enabled:     true,
	}
}

// CanFire reports whether the cooldown has elapsed as of clock.
func (r *Rule) CanFire(clock float64) bool {
	if !r.everTriggered {
		return true
	}
	return clock-r.lastTrigger >= r.CooldownS
}

// MarkFired records clock as the rule's last-trigger time.
func (r *Rule) MarkFired(clock float64) {
	r.lastTrigger = clock
	r.everTriggered = true
}

// Reset clears the rule's per-run cooldown state. The engine must call
// this (or construct fresh Rule values) between runs that reuse the same
// rule engine instance; see spec.md §9 "Open question" on cooldown reset.
func (r *Rule) Reset() {
	r.lastTrigger = 0
	r.everTriggered = false
}

// LastTrigger returns the clock time of the last firing, and whether the
// rule has ever fired.
func (r *Rule) LastTrigger() (float64, bool) {
	return r.lastTrigger, r.everTriggered
}
