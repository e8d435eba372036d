package executor

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/model"
	"go.uber.org/zap"
)

var _ Handler = new(scriptHandler)

// scriptHandler runs the javascript in the step config's "script" key with
// the resolved input bound to $. Whatever the script leaves in $ becomes
// the output delta.
type scriptHandler struct{}

func NewScriptHandler() *scriptHandler {
	return &scriptHandler{}
}

func (h *scriptHandler) Execute(step model.Step, input map[string]any) (map[string]any, error) {
	script, ok := step.Config["script"].(string)
	if !ok || len(script) == 0 {
		return nil, fmt.Errorf("step %s has no script configured", step.Name)
	}
	logger.Debug("running script step", zap.String("step", step.Name))
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	expression := fmt.Sprintf("var $ = %s;\n%s", data, script)
	vm := goja.New()
	if _, err := vm.RunString(expression); err != nil {
		return nil, fmt.Errorf("error executing javascript %w", err)
	}
	val, err := vm.RunString("$")
	if err != nil {
		return nil, fmt.Errorf("error executing javascript %w", err)
	}
	res, err := json.Marshal(val.Export())
	if err != nil {
		return nil, err
	}
	var output map[string]any
	if err := json.Unmarshal(res, &output); err != nil {
		return nil, err
	}
	return output, nil
}
