package flow

import (
	"github.com/stepflow-io/stepflow/model"
	"github.com/stepflow-io/stepflow/util"
)

// instanceTransitions is the full table of legal instance status changes.
// Anything not listed fails with InvalidTransitionError and leaves the
// instance untouched.
var instanceTransitions = map[model.InstanceStatus]map[model.InstanceStatus]bool{
	model.INSTANCE_RUNNING: {
		model.INSTANCE_SUSPENDED: true,
		model.INSTANCE_COMPLETED: true,
		model.INSTANCE_FAILED:    true,
		model.INSTANCE_CANCELLED: true,
	},
	model.INSTANCE_SUSPENDED: {
		model.INSTANCE_RUNNING:   true,
		model.INSTANCE_CANCELLED: true,
	},
}

func CanTransitionInstance(from, to model.InstanceStatus) bool {
	return instanceTransitions[from][to]
}

// TransitionInstance applies a legal status change together with its side
// effects: entering a terminal status stamps completedAt and clears the
// current step so no further executions can be created.
func TransitionInstance(instance *model.Instance, to model.InstanceStatus, clock util.Clock) error {
	if !CanTransitionInstance(instance.Status, to) {
		return model.InvalidTransitionError{
			Entity: "instance",
			From:   string(instance.Status),
			To:     string(to),
		}
	}
	instance.Status = to
	if to.Terminal() {
		now := clock.Now()
		instance.CompletedAt = &now
		instance.CurrentStep = ""
	}
	return nil
}
