package model

import "time"

type ExecutionStatus string

const EXECUTION_PENDING ExecutionStatus = "PENDING"
const EXECUTION_RUNNING ExecutionStatus = "RUNNING"
const EXECUTION_COMPLETED ExecutionStatus = "COMPLETED"
const EXECUTION_FAILED ExecutionStatus = "FAILED"
const EXECUTION_SKIPPED ExecutionStatus = "SKIPPED"
const EXECUTION_CANCELLED ExecutionStatus = "CANCELLED"

func (s ExecutionStatus) Terminal() bool {
	switch s {
	case EXECUTION_COMPLETED, EXECUTION_FAILED, EXECUTION_SKIPPED, EXECUTION_CANCELLED:
		return true
	}
	return false
}

// Execution is one attempt to run a step within an instance. Retries are
// new rows with an incremented Attempt, never mutations of a terminal row.
type Execution struct {
	Id           string          `json:"id"`
	InstanceId   string          `json:"instanceId"`
	StepName     string          `json:"stepName"`
	StepType     StepType        `json:"stepType"`
	Status       ExecutionStatus `json:"status"`
	Attempt      int             `json:"attempt"`
	InputData    map[string]any  `json:"inputData,omitempty"`
	OutputData   map[string]any  `json:"outputData,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	ExecutedBy   string          `json:"executedBy,omitempty"`
}
