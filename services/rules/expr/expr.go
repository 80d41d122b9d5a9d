// Package expr implements the custom-expression rule condition of
// spec.md §4.7: a restricted arithmetic/boolean expression language
// (github.com/PaesslerAG/gval) with a jsonpath accessor
// (github.com/PaesslerAG/jsonpath) for reaching into the nested alert
// context without a full scripting runtime.
package expr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	domainalert "github.com/Tuzfucius/YULU-simulation/domain/alert"
)

// language restricts evaluation to arithmetic, boolean logic, and a
// single "path" extension function; no variable assignment, no calls
// into Go code beyond that one function.
var language = gval.NewLanguage(
	gval.Arithmetic(),
	gval.Bitmask(),
	gval.PropositionalLogic(),
	gval.Comparator(),
	gval.Function("path", pathFunc),
)

// pathFunc evaluates a JSONPath expression against the "_ctx" root
// object bound into every evaluation.
func pathFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("path() takes (ctxMap, jsonpathExpr)")
	}
	expression, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("path() second argument must be a string")
	}
	return jsonpath.Get(expression, args[0])
}

// Condition evaluates a gval boolean expression against the alert
// context, implementing rule.Condition.
type Condition struct {
	Expression string
	eval       gval.Evaluable
}

// New compiles expression once at rule-load time so evaluation errors
// on a malformed expression surface at startup rather than mid-run.
func New(expression string) (*Condition, error) {
	eval, err := language.NewEvaluable(expression)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}
	return &Condition{Expression: expression, eval: eval}, nil
}

// Evaluate runs the compiled expression with the alert context
// available as both top-level fields (Clock, Weather, MissedReadRate)
// and, for nested lookups, the whole snapshot reachable through
// path($, "$.Gantries.G1.MeanSpeed").
func (c *Condition) Evaluate(ctx *domainalert.Context) (bool, error) {
	raw, err := json.Marshal(ctx)
	if err != nil {
		return false, fmt.Errorf("marshal alert context: %w", err)
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return false, fmt.Errorf("unmarshal alert context: %w", err)
	}
	asMap["$"] = asMap

	result, err := c.eval.EvalBool(context.Background(), asMap)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", c.Expression, err)
	}
	return result, nil
}

// Describe returns the raw expression text for logging.
func (c *Condition) Describe() string {
	return fmt.Sprintf("custom expression: %s", c.Expression)
}
