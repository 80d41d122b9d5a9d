// Package script implements the custom-script rule condition of spec.md
// §4.7, running a user-supplied JavaScript predicate against the alert
// context in a fresh, isolated goja runtime per evaluation.
//
// Grounded on the teacher's TEE script engine
// (system/tee/script_engine.go), which also spins up a new *goja.Runtime
// per execution rather than reusing one across calls, so one tick's
// script cannot leak global state into the next.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	domainalert "github.com/Tuzfucius/YULU-simulation/domain/alert"
)

// DefaultTimeout bounds how long a single script evaluation may run
// before the engine interrupts it.
const DefaultTimeout = 50 * time.Millisecond

// Condition evaluates a JavaScript expression/function body against the
// alert context, implementing rule.Condition.
type Condition struct {
	// Script must define a function `evaluate(ctx)` returning a boolean.
	Script  string
	Timeout time.Duration
}

// New constructs a script condition with DefaultTimeout when Timeout is
// unset.
func New(script string, timeout time.Duration) *Condition {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Condition{Script: script, Timeout: timeout}
}

// Evaluate compiles and runs the script in a fresh VM, passing a
// JSON-marshaled view of ctx as the `evaluate` function's single
// argument. The VM is interrupted if it runs past Timeout.
func (c *Condition) Evaluate(ctx *domainalert.Context) (bool, error) {
	vm := goja.New()

	raw, err := json.Marshal(ctx)
	if err != nil {
		return false, fmt.Errorf("marshal alert context: %w", err)
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return false, fmt.Errorf("unmarshal alert context: %w", err)
	}
	if err := vm.Set("ctx", asMap); err != nil {
		return false, fmt.Errorf("bind context: %w", err)
	}

	deadline, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		select {
		case <-deadline.Done():
			vm.Interrupt("evaluation timed out")
		case <-done:
		}
	}()
	defer close(done)

	if _, err := vm.RunString(c.Script); err != nil {
		return false, fmt.Errorf("compile/run script: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get("evaluate"))
	if !ok {
		return false, fmt.Errorf("script must define a function named evaluate")
	}

	result, err := fn(goja.Undefined(), vm.Get("ctx"))
	if err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}
	return result.ToBoolean(), nil
}

// Describe returns a short, truncated rendering of the script for
// logging.
func (c *Condition) Describe() string {
	s := c.Script
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return fmt.Sprintf("custom script: %s", s)
}
