package model

import "time"

type AssignmentStatus string

const ASSIGNMENT_ASSIGNED AssignmentStatus = "ASSIGNED"
const ASSIGNMENT_IN_PROGRESS AssignmentStatus = "IN_PROGRESS"
const ASSIGNMENT_COMPLETED AssignmentStatus = "COMPLETED"
const ASSIGNMENT_REJECTED AssignmentStatus = "REJECTED"
const ASSIGNMENT_DELEGATED AssignmentStatus = "DELEGATED"
const ASSIGNMENT_CANCELLED AssignmentStatus = "CANCELLED"

func (s AssignmentStatus) Terminal() bool {
	switch s {
	case ASSIGNMENT_COMPLETED, ASSIGNMENT_REJECTED, ASSIGNMENT_DELEGATED, ASSIGNMENT_CANCELLED:
		return true
	}
	return false
}

// Assignment delegates a human-task execution to an assignee. An execution
// has at most one non-terminal assignment at a time; rejected and delegated
// assignments are kept as history.
type Assignment struct {
	Id          string           `json:"id"`
	ExecutionId string           `json:"executionId"`
	InstanceId  string           `json:"instanceId"`
	Assignee    string           `json:"assignee"`
	Status      AssignmentStatus `json:"status"`
	Comments    string           `json:"comments,omitempty"`
	Output      map[string]any   `json:"output,omitempty"`
	AssignedAt  time.Time        `json:"assignedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}
