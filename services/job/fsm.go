package job

import (
	"context"
	"fmt"

	"cleanops/pkg/errutil"

	"github.com/qmuntal/stateless"
)

// Trigger names an action that may move a job between statuses.
type Trigger string

const (
	TriggerAccept   Trigger = "accept"
	TriggerStart    Trigger = "start"
	TriggerComplete Trigger = "complete"
	// TriggerFlag is a completion that found conflicts.
	TriggerFlag     Trigger = "flag"
	TriggerOverride Trigger = "override"
	TriggerResolve  Trigger = "resolve"
	TriggerReset    Trigger = "reset"
	TriggerReassign Trigger = "reassign"
	// TriggerRelease is a reassignment to nobody.
	TriggerRelease      Trigger = "release"
	TriggerReportAccess Trigger = "report_access"
	TriggerRecordPhoto  Trigger = "record_photo"
)

var triggerVerbs = map[Trigger]string{
	TriggerAccept:       "accept",
	TriggerStart:        "start",
	TriggerComplete:     "complete",
	TriggerFlag:         "complete",
	TriggerOverride:     "override",
	TriggerResolve:      "resolve conflicts on",
	TriggerReset:        "reset",
	TriggerReassign:     "reassign",
	TriggerRelease:      "release",
	TriggerReportAccess: "report access denied on",
	TriggerRecordPhoto:  "add photos to",
}

func (t Trigger) verb() string {
	if v, ok := triggerVerbs[t]; ok {
		return v
	}
	return string(t)
}

func stay(context.Context, ...any) error { return nil }

// newMachine builds the job lifecycle positioned at status. Internal
// transitions are actions allowed in a status that leave it unchanged.
func newMachine(status Status) *stateless.StateMachine {
	m := stateless.NewStateMachine(status)

	m.Configure(StatusAvailable).
		Permit(TriggerAccept, StatusAccepted).
		Permit(TriggerReassign, StatusAccepted).
		InternalTransition(TriggerRelease, stay)

	m.Configure(StatusAccepted).
		Permit(TriggerStart, StatusInProgress).
		Permit(TriggerRelease, StatusAvailable).
		InternalTransition(TriggerReassign, stay).
		InternalTransition(TriggerReportAccess, stay).
		InternalTransition(TriggerRecordPhoto, stay)

	m.Configure(StatusInProgress).
		Permit(TriggerComplete, StatusCompleted).
		Permit(TriggerFlag, StatusNeedsReview).
		InternalTransition(TriggerReportAccess, stay).
		InternalTransition(TriggerRecordPhoto, stay)

	m.Configure(StatusNeedsReview).
		Permit(TriggerOverride, StatusCompleted).
		Permit(TriggerReset, StatusAvailable).
		InternalTransition(TriggerResolve, stay).
		InternalTransition(TriggerRecordPhoto, stay)

	m.Configure(StatusCompleted)

	return m
}

// Transition returns the status trigger leads to from status. A trigger the
// lifecycle does not allow from status is an InvalidTransition error. The
// caller still has to persist the move with a compare-and-swap on status.
func Transition(ctx context.Context, status Status, trigger Trigger) (Status, error) {
	m := newMachine(status)

	ok, err := m.CanFireCtx(ctx, trigger)
	if err != nil {
		return "", errutil.Internal("failed to evaluate job transition", err)
	}
	if !ok {
		return "", invalidTransition(status, trigger.verb())
	}
	if err := m.FireCtx(ctx, trigger); err != nil {
		return "", errutil.InvalidTransition(fmt.Sprintf("cannot %s a job that is %s", trigger.verb(), status), err)
	}

	to, err := m.State(ctx)
	if err != nil {
		return "", errutil.Internal("failed to read job state", err)
	}
	return to.(Status), nil
}
