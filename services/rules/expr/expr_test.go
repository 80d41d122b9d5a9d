package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainalert "github.com/Tuzfucius/YULU-simulation/domain/alert"
)

func TestNewRejectsMalformedExpression(t *testing.T) {
	_, err := New("Clock >")
	assert.Error(t, err, "a malformed expression should fail to compile at load time")
}

func TestEvaluateSimpleArithmeticComparison(t *testing.T) {
	c, err := New("Clock > 10")
	require.NoError(t, err)

	hit, err := c.Evaluate(&domainalert.Context{Clock: 20})
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = c.Evaluate(&domainalert.Context{Clock: 5})
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestEvaluateBooleanLogicAcrossFields(t *testing.T) {
	c, err := New(`Clock > 10 && Weather == "rain"`)
	require.NoError(t, err)

	hit, err := c.Evaluate(&domainalert.Context{Clock: 20, Weather: "rain"})
	require.NoError(t, err)
	assert.True(t, hit)

	hit, err = c.Evaluate(&domainalert.Context{Clock: 20, Weather: "clear"})
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestEvaluateMissedReadRateField(t *testing.T) {
	c, err := New("MissedReadRate > 0.05")
	require.NoError(t, err)

	hit, err := c.Evaluate(&domainalert.Context{MissedReadRate: 0.1})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestDescribeReturnsRawExpression(t *testing.T) {
	c, err := New("Clock > 0")
	require.NoError(t, err)
	assert.Contains(t, c.Describe(), "Clock > 0")
}
