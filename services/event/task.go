package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cleanops/pkg/task"
	"cleanops/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
)

var ErrUnknownType = errors.New("unknown event type")

// Types lists every task type the worker must register.
var Types = []string{
	taskname.JobAccepted,
	taskname.JobStarted,
	taskname.JobCompleted,
	taskname.JobNeedsReview,
	taskname.JobReassigned,
	taskname.JobReset,
	taskname.JobOverridden,
	taskname.ConflictResolved,
	taskname.InvoiceCreated,
	taskname.InvoiceSubmitted,
	taskname.InvoiceApproved,
	taskname.InvoicePaid,
}

func NewEnvelope(node *snowflake.Node, businessID, actorID string) Envelope {
	return Envelope{
		ID:         node.Generate().String(),
		BusinessID: businessID,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
	}
}

func queueFor(e Event) string {
	switch e.(type) {
	case JobNeedsReview, JobOverridden:
		return task.QueueCritical
	default:
		return task.QueueDefault
	}
}

// NewTask encodes e as an asynq task. The event id doubles as the task id so
// a retried publish is rejected by asynq instead of delivered twice.
func NewTask(e Event) (*asynq.Task, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Type(), err)
	}

	return asynq.NewTask(e.Type(), payload,
		asynq.TaskID(e.Meta().ID),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second),
		asynq.Queue(queueFor(e)),
	), nil
}

func Decode(t *asynq.Task) (Event, error) {
	switch t.Type() {
	case taskname.JobAccepted:
		return decode[JobAccepted](t.Payload())
	case taskname.JobStarted:
		return decode[JobStarted](t.Payload())
	case taskname.JobCompleted:
		return decode[JobCompleted](t.Payload())
	case taskname.JobNeedsReview:
		return decode[JobNeedsReview](t.Payload())
	case taskname.JobReassigned:
		return decode[JobReassigned](t.Payload())
	case taskname.JobReset:
		return decode[JobReset](t.Payload())
	case taskname.JobOverridden:
		return decode[JobOverridden](t.Payload())
	case taskname.ConflictResolved:
		return decode[ConflictResolved](t.Payload())
	case taskname.InvoiceCreated:
		return decode[InvoiceCreated](t.Payload())
	case taskname.InvoiceSubmitted:
		return decode[InvoiceSubmitted](t.Payload())
	case taskname.InvoiceApproved:
		return decode[InvoiceApproved](t.Payload())
	case taskname.InvoicePaid:
		return decode[InvoicePaid](t.Payload())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t.Type())
	}
}

func decode[T Event](payload []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return e, nil
}
