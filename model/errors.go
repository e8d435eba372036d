package model

import "fmt"

// ValidationError reports a structurally malformed definition. It is raised
// at creation or activation time, never during advancement.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid definition: %s", e.Message)
}

// InvalidTransitionError is returned for a status change not present in the
// transition table. The entity is left unchanged.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Entity, e.From, e.To)
}

type DefinitionNotActiveError struct {
	Name    string
	Version int
}

func (e DefinitionNotActiveError) Error() string {
	return fmt.Sprintf("definition %s version %d is not active", e.Name, e.Version)
}

// ResolutionError reports a condition evaluation failure during successor
// resolution. It is fatal to the advancement attempt.
type ResolutionError struct {
	Step  string
	Cause error
}

func (e ResolutionError) Error() string {
	return fmt.Sprintf("resolution failed at step %s: %v", e.Step, e.Cause)
}

func (e ResolutionError) Unwrap() error {
	return e.Cause
}

// HandlerError wraps a step handler failure for one attempt.
type HandlerError struct {
	Step    string
	Attempt int
	Cause   error
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("handler failed at step %s attempt %d: %v", e.Step, e.Attempt, e.Cause)
}

func (e HandlerError) Unwrap() error {
	return e.Cause
}

type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Id)
}
