package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stepflow-io/stepflow/logger"
	"github.com/stepflow-io/stepflow/model"
	"go.uber.org/zap"
)

var _ Handler = new(serviceCallHandler)

// serviceCallHandler posts the resolved input as json to the url in the
// step config and merges the json response body into the context.
type serviceCallHandler struct {
	client *http.Client
}

func NewServiceCallHandler() *serviceCallHandler {
	return &serviceCallHandler{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *serviceCallHandler) Execute(step model.Step, input map[string]any) (map[string]any, error) {
	url, ok := step.Config["url"].(string)
	if !ok || len(url) == 0 {
		return nil, fmt.Errorf("step %s has no url configured", step.Name)
	}
	method := http.MethodPost
	if m, ok := step.Config["method"].(string); ok && len(m) > 0 {
		method = m
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	logger.Debug("calling service", zap.String("step", step.Name), zap.String("url", url))
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("service call %s returned status %d", url, resp.StatusCode)
	}
	output := make(map[string]any)
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &output); err != nil {
			return nil, fmt.Errorf("service call %s returned non-json body: %w", url, err)
		}
	}
	return output, nil
}
