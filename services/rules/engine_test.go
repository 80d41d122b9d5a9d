package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainalert "github.com/Tuzfucius/YULU-simulation/domain/alert"
	"github.com/Tuzfucius/YULU-simulation/domain/rule"
)

type constCondition struct {
	result bool
	err    error
}

func (c constCondition) Evaluate(*domainalert.Context) (bool, error) { return c.result, c.err }
func (c constCondition) Describe() string                           { return "const" }

func TestEvaluateCompositionAllRequiresEveryCondition(t *testing.T) {
	r := rule.New("r", rule.CompositionAll, domainalert.SeverityMedium, 60)
	r.Conditions = []rule.Condition{constCondition{result: true}, constCondition{result: false}}
	eng := New(nil, []*rule.Rule{r})
	fired := eng.Evaluate(&domainalert.Context{Clock: 0})
	assert.Empty(t, fired, "ALL composition should require every condition to hold")
}

func TestEvaluateCompositionAnyFiresOnFirstTrue(t *testing.T) {
	r := rule.New("r", rule.CompositionAny, domainalert.SeverityMedium, 60)
	r.Conditions = []rule.Condition{constCondition{result: false}, constCondition{result: true}}
	eng := New(nil, []*rule.Rule{r})
	fired := eng.Evaluate(&domainalert.Context{Clock: 0})
	require.Len(t, fired, 1)
	assert.Equal(t, "r", fired[0].RuleName)
}

func TestEvaluateRuleWithNoConditionsNeverFires(t *testing.T) {
	r := rule.New("r", rule.CompositionAll, domainalert.SeverityMedium, 60)
	eng := New(nil, []*rule.Rule{r})
	fired := eng.Evaluate(&domainalert.Context{Clock: 0})
	assert.Empty(t, fired)
}

func TestEvaluateTreatsConditionErrorAsFalse(t *testing.T) {
	r := rule.New("r", rule.CompositionAny, domainalert.SeverityMedium, 60)
	r.Conditions = []rule.Condition{constCondition{result: false, err: errors.New("boom")}}
	eng := New(nil, []*rule.Rule{r})
	fired := eng.Evaluate(&domainalert.Context{Clock: 0})
	assert.Empty(t, fired, "a condition error should be treated as false, not abort evaluation")
}

func TestEvaluateDisabledRuleNeverFires(t *testing.T) {
	r := rule.New("r", rule.CompositionAll, domainalert.SeverityMedium, 60)
	r.Conditions = []rule.Condition{constCondition{result: true}}
	r.Enabled = false
	eng := New(nil, []*rule.Rule{r})
	fired := eng.Evaluate(&domainalert.Context{Clock: 0})
	assert.Empty(t, fired)
}

func TestEvaluateEnforcesCooldownBetweenFirings(t *testing.T) {
	r := rule.New("r", rule.CompositionAll, domainalert.SeverityMedium, 60)
	r.Conditions = []rule.Condition{constCondition{result: true}}
	eng := New(nil, []*rule.Rule{r})

	fired1 := eng.Evaluate(&domainalert.Context{Clock: 0})
	require.Len(t, fired1, 1, "first firing should always succeed regardless of cooldown")

	fired2 := eng.Evaluate(&domainalert.Context{Clock: 30})
	assert.Empty(t, fired2, "a re-fire within the 60s cooldown should be suppressed")

	fired3 := eng.Evaluate(&domainalert.Context{Clock: 60})
	assert.Len(t, fired3, 1, "a re-fire exactly at the cooldown boundary should be allowed")
}

func TestResetClearsCooldownState(t *testing.T) {
	r := rule.New("r", rule.CompositionAll, domainalert.SeverityMedium, 60)
	r.Conditions = []rule.Condition{constCondition{result: true}}
	eng := New(nil, []*rule.Rule{r})

	eng.Evaluate(&domainalert.Context{Clock: 0})
	eng.Reset()
	fired := eng.Evaluate(&domainalert.Context{Clock: 1})
	assert.Len(t, fired, 1, "after Reset, a rule should be able to fire again immediately")
}

func TestEvaluatePreservesRuleOrderInOutput(t *testing.T) {
	r1 := rule.New("first", rule.CompositionAll, domainalert.SeverityMedium, 60)
	r1.Conditions = []rule.Condition{constCondition{result: true}}
	r2 := rule.New("second", rule.CompositionAll, domainalert.SeverityMedium, 60)
	r2.Conditions = []rule.Condition{constCondition{result: true}}
	eng := New(nil, []*rule.Rule{r1, r2})

	fired := eng.Evaluate(&domainalert.Context{Clock: 0})
	require.Len(t, fired, 2)
	assert.Equal(t, "first", fired[0].RuleName)
	assert.Equal(t, "second", fired[1].RuleName)
}

func TestRulesReturnsUnderlyingRuleSet(t *testing.T) {
	r := rule.New("r", rule.CompositionAll, domainalert.SeverityMedium, 60)
	eng := New(nil, []*rule.Rule{r})
	assert.Same(t, r, eng.Rules()[0])
}
