package script

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainalert "github.com/Tuzfucius/YULU-simulation/domain/alert"
)

func TestNewFillsInDefaultTimeout(t *testing.T) {
	c := New("function evaluate(ctx) { return true; }", 0)
	assert.Equal(t, DefaultTimeout, c.Timeout)

	c2 := New("function evaluate(ctx) { return true; }", 5*time.Second)
	assert.Equal(t, 5*time.Second, c2.Timeout)
}

func TestEvaluateReturnsScriptBooleanResult(t *testing.T) {
	c := New("function evaluate(ctx) { return ctx.Clock > 10; }", 0)

	hit, err := c.Evaluate(&domainalert.Context{Clock: 20})
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = c.Evaluate(&domainalert.Context{Clock: 5})
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestEvaluateReadsNestedFieldsFromContext(t *testing.T) {
	c := New(`function evaluate(ctx) { return ctx.Gantries.G1.MeanSpeed < 10; }`, 0)
	hit, err := c.Evaluate(&domainalert.Context{Gantries: map[string]domainalert.GantrySnapshot{"G1": {GantryID: "G1", MeanSpeed: 5}}})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestEvaluateMissingEvaluateFunctionErrors(t *testing.T) {
	c := New("var x = 1;", 0)
	_, err := c.Evaluate(&domainalert.Context{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "evaluate")
}

func TestEvaluateCompileErrorSurfaces(t *testing.T) {
	c := New("function evaluate(ctx) { return", 0)
	_, err := c.Evaluate(&domainalert.Context{})
	assert.Error(t, err)
}

func TestEvaluateInterruptsOnTimeout(t *testing.T) {
	c := New("function evaluate(ctx) { while(true) {} }", 10*time.Millisecond)
	_, err := c.Evaluate(&domainalert.Context{})
	assert.Error(t, err, "an infinite loop should be interrupted once the timeout elapses")
}

func TestDescribeTruncatesLongScripts(t *testing.T) {
	long := strings.Repeat("a", 200)
	c := New(long, 0)
	desc := c.Describe()
	assert.LessOrEqual(t, len(desc), len("custom script: ")+60)
	assert.Contains(t, desc, "...")
}

func TestDescribeDoesNotTruncateShortScripts(t *testing.T) {
	c := New("short", 0)
	assert.Equal(t, "custom script: short", c.Describe())
}
