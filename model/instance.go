package model

import "time"

type InstanceStatus string

const INSTANCE_RUNNING InstanceStatus = "RUNNING"
const INSTANCE_COMPLETED InstanceStatus = "COMPLETED"
const INSTANCE_FAILED InstanceStatus = "FAILED"
const INSTANCE_SUSPENDED InstanceStatus = "SUSPENDED"
const INSTANCE_CANCELLED InstanceStatus = "CANCELLED"

func (s InstanceStatus) Terminal() bool {
	return s == INSTANCE_COMPLETED || s == INSTANCE_FAILED || s == INSTANCE_CANCELLED
}

// Instance is one running execution of a definition. It references its
// definition by (name, version) only; it never holds the definition itself.
type Instance struct {
	Id                string         `json:"id"`
	DefinitionName    string         `json:"definitionName"`
	DefinitionVersion int            `json:"definitionVersion"`
	Name              string         `json:"name"`
	Status            InstanceStatus `json:"status"`
	CurrentStep       string         `json:"currentStep"`
	Context           map[string]any `json:"context"`
	StartedBy         string         `json:"startedBy"`
	StartedAt         time.Time      `json:"startedAt"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
}

type InstanceRunRequest struct {
	DefinitionName    string         `json:"definitionName"`
	DefinitionVersion int            `json:"definitionVersion"`
	Name              string         `json:"name"`
	StartedBy         string         `json:"startedBy"`
	Input             map[string]any `json:"input"`
}
