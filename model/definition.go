package model

import "time"

type DefinitionStatus string

const DEFINITION_DRAFT DefinitionStatus = "DRAFT"
const DEFINITION_ACTIVE DefinitionStatus = "ACTIVE"
const DEFINITION_INACTIVE DefinitionStatus = "INACTIVE"
const DEFINITION_ARCHIVED DefinitionStatus = "ARCHIVED"

type StepType string

const STEP_TYPE_HUMAN_TASK StepType = "HUMAN_TASK"
const STEP_TYPE_AUTOMATED StepType = "AUTOMATED"
const STEP_TYPE_GATEWAY StepType = "GATEWAY"
const STEP_TYPE_TIMER StepType = "TIMER"
const STEP_TYPE_SCRIPT StepType = "SCRIPT"
const STEP_TYPE_SERVICE_CALL StepType = "SERVICE_CALL"

func ValidStepType(st string) bool {
	switch StepType(st) {
	case STEP_TYPE_HUMAN_TASK, STEP_TYPE_AUTOMATED, STEP_TYPE_GATEWAY,
		STEP_TYPE_TIMER, STEP_TYPE_SCRIPT, STEP_TYPE_SERVICE_CALL:
		return true
	}
	return false
}

// Definition is a versioned workflow template. Versions of one name are
// assigned by the definition service as a gapless sequence starting at 1.
type Definition struct {
	Id          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Version     int              `json:"version"`
	Status      DefinitionStatus `json:"status"`
	Steps       []Step           `json:"steps"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	CreatedBy   string           `json:"createdBy"`
	UpdatedBy   string           `json:"updatedBy"`
}

// Step is one node of a definition's graph. Conditions are keyed by
// successor name; a successor without a condition is unconditionally
// eligible.
type Step struct {
	Name       string            `json:"name"`
	Type       StepType          `json:"type"`
	Order      int               `json:"order"`
	Config     map[string]any    `json:"config"`
	Successors []string          `json:"successors"`
	Conditions map[string]string `json:"conditions"`
}

func (d *Definition) Step(name string) *Step {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i]
		}
	}
	return nil
}
