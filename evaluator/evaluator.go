package evaluator

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

// Evaluator decides whether a successor condition holds against the
// instance context. Implementations must report evaluation failures as
// errors, never as false.
type Evaluator interface {
	Evaluate(expression string, context map[string]any) (bool, error)
}

type EvaluationError struct {
	Expression string
	Cause      error
}

func (e EvaluationError) Error() string {
	return fmt.Sprintf("error evaluating expression %q: %v", e.Expression, e.Cause)
}

func (e EvaluationError) Unwrap() error {
	return e.Cause
}

var _ Evaluator = new(JsEvaluator)

// JsEvaluator runs conditions as javascript expressions with the instance
// context bound to $. The expression must produce a boolean; any other
// result type is an evaluation error.
//
// A context key absent at the top level reads as javascript undefined, so
// comparisons against it follow javascript semantics and yield false
// rather than an error. Only thrown errors and non-boolean results fail
// evaluation. Conditions that need to distinguish absence should test it
// explicitly, e.g. $.amount == null.
type JsEvaluator struct{}

func NewJsEvaluator() *JsEvaluator {
	return &JsEvaluator{}
}

func (e *JsEvaluator) Evaluate(expression string, context map[string]any) (bool, error) {
	data, err := json.Marshal(context)
	if err != nil {
		return false, EvaluationError{Expression: expression, Cause: err}
	}
	script := fmt.Sprintf("var $ = %s;\n(%s)", data, expression)
	vm := goja.New()
	val, err := vm.RunString(script)
	if err != nil {
		return false, EvaluationError{Expression: expression, Cause: err}
	}
	result, ok := val.Export().(bool)
	if !ok {
		return false, EvaluationError{Expression: expression, Cause: fmt.Errorf("expression result %v is not a boolean", val.Export())}
	}
	return result, nil
}

// Compile checks an expression for syntax errors without running it. Used
// at definition activation.
func Compile(expression string) error {
	if _, err := goja.Compile("condition", expression, false); err != nil {
		return EvaluationError{Expression: expression, Cause: err}
	}
	return nil
}
