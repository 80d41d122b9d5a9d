package rules

import (
	"github.com/sirupsen/logrus"

	domainalert "github.com/Tuzfucius/YULU-simulation/domain/alert"
	"github.com/Tuzfucius/YULU-simulation/domain/rule"
)

// Engine holds the active rule set and evaluates it against a tick's alert
// context, composing each rule's conditions with ALL/ANY semantics and
// enforcing per-rule cooldowns.
type Engine struct {
	log   *logrus.Entry
	rules []*rule.Rule
}

// New constructs a rule engine over the given rule set. Rules are
// evaluated in the order given; an engine owns its rules exclusively
// (the caller should not mutate lastTrigger state from elsewhere).
func New(log *logrus.Entry, rules []*rule.Rule) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{log: log, rules: rules}
}

// Rules returns the engine's rule set, for inspection or a /rules
// introspection endpoint.
func (e *Engine) Rules() []*rule.Rule {
	return e.rules
}

// Reset clears every rule's cooldown state, for reuse across runs.
func (e *Engine) Reset() {
	for _, r := range e.rules {
		r.Reset()
	}
}

// Evaluate runs every enabled, off-cooldown rule's conditions against ctx
// and returns the alert events fired this tick, in rule order. A
// condition that errors is treated as false and logged; it never aborts
// evaluation of the remaining conditions or rules.
func (e *Engine) Evaluate(ctx *domainalert.Context) []domainalert.Event {
	var fired []domainalert.Event
	for _, r := range e.rules {
		if !r.Enabled || !r.CanFire(ctx.Clock) {
			continue
		}
		ok := e.evaluateRule(r, ctx)
		if !ok {
			continue
		}
		r.MarkFired(ctx.Clock)
		ev := e.buildEvent(r, ctx)
		fired = append(fired, ev)
		e.runActions(r, ev)
	}
	return fired
}

func (e *Engine) evaluateRule(r *rule.Rule, ctx *domainalert.Context) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	switch r.Composition {
	case rule.CompositionAny:
		for _, c := range r.Conditions {
			hit, err := c.Evaluate(ctx)
			if err != nil {
				e.log.WithError(err).WithField("rule", r.Name).Warn("condition evaluation failed, treating as false")
				continue
			}
			if hit {
				return true
			}
		}
		return false
	default: // CompositionAll
		for _, c := range r.Conditions {
			hit, err := c.Evaluate(ctx)
			if err != nil {
				e.log.WithError(err).WithField("rule", r.Name).Warn("condition evaluation failed, treating as false")
				return false
			}
			if !hit {
				return false
			}
		}
		return true
	}
}

func (e *Engine) buildEvent(r *rule.Rule, ctx *domainalert.Context) domainalert.Event {
	desc := r.Name
	if len(r.Conditions) > 0 {
		desc = r.Conditions[0].Describe()
	}
	return domainalert.Event{
		RuleName:    r.Name,
		Severity:    r.Severity,
		Timestamp:   ctx.Clock,
		Description: desc,
		Confidence:  1.0,
	}
}

func (e *Engine) runActions(r *rule.Rule, ev domainalert.Event) {
	for _, a := range r.Actions {
		switch a.Type {
		case rule.ActionLog:
			e.log.WithFields(logrus.Fields{
				"rule":      r.Name,
				"severity":  r.Severity,
				"timestamp": ev.Timestamp,
			}).Info(ev.Description)
		case rule.ActionNotify, rule.ActionSpeedLimit, rule.ActionLaneControl:
			// These actions are advisory metadata attached to the event for
			// the outer shell (HTTP/WebSocket broadcast) to act on; the
			// engine itself has no network or actuation side effects.
			e.log.WithFields(logrus.Fields{
				"rule":   r.Name,
				"action": a.Type,
				"params": a.Params,
			}).Debug("rule action recommended")
		}
	}
}
