package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cleanops/pkg/task"
	"cleanops/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newNode(t *testing.T) *snowflake.Node {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func TestNewTaskRoundTrip(t *testing.T) {
	node := newNode(t)

	events := []Event{
		JobAccepted{Envelope: NewEnvelope(node, "b1", "c1"), JobID: "j1", CleanerID: "c1"},
		JobNeedsReview{Envelope: NewEnvelope(node, "b1", "c1"), JobID: "j1", CleanerID: "c1", Conflicts: []string{"missing_photos"}},
		InvoiceSubmitted{Envelope: NewEnvelope(node, "b1", "c1"), InvoiceID: "i1", CleanerID: "c1", TotalAmount: "150.00"},
	}

	for _, e := range events {
		tk, err := NewTask(e)
		require.NoError(t, err)
		require.Equal(t, e.Type(), tk.Type())

		decoded, err := Decode(tk)
		require.NoError(t, err)
		require.Equal(t, e.Meta().ID, decoded.Meta().ID)
		require.Equal(t, e.Type(), decoded.Type())
	}

	var payload map[string]any
	tk, err := NewTask(events[1])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(tk.Payload(), &payload))
	require.Equal(t, "j1", payload["job_id"])
	require.Equal(t, "b1", payload["business_id"])
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode(asynq.NewTask("job:teleported", nil))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestEveryTypeDecodes(t *testing.T) {
	for _, typ := range Types {
		_, err := Decode(asynq.NewTask(typ, []byte(`{}`)))
		require.NoError(t, err, typ)
	}
}

type countingHandler struct {
	Notifier
	completed []JobCompleted
}

func (h *countingHandler) JobCompleted(_ context.Context, e JobCompleted) error {
	h.completed = append(h.completed, e)
	return nil
}

type memoryDeduper map[string]bool

func (m memoryDeduper) FirstSeen(_ context.Context, e Event) (bool, error) {
	if m[e.Meta().ID] {
		return false, nil
	}
	m[e.Meta().ID] = true
	return true, nil
}

func (m memoryDeduper) Forget(_ context.Context, e Event) error {
	delete(m, e.Meta().ID)
	return nil
}

type flakyHandler struct {
	Notifier
	failures int
	calls    int
}

func (h *flakyHandler) JobCompleted(context.Context, JobCompleted) error {
	h.calls++
	if h.calls <= h.failures {
		return errors.New("notification backend down")
	}
	return nil
}

func TestProcessRetriesFailedDelivery(t *testing.T) {
	node := newNode(t)
	h := &flakyHandler{failures: 1}
	seen := memoryDeduper{}
	process := Process(h, seen)

	tk, err := NewTask(JobCompleted{Envelope: NewEnvelope(node, "b1", "c1"), JobID: "j1", CleanerID: "c1"})
	require.NoError(t, err)

	require.Error(t, process(context.Background(), tk))
	require.Empty(t, seen)

	require.NoError(t, process(context.Background(), tk))
	require.Len(t, seen, 1)

	require.NoError(t, process(context.Background(), tk))
	require.Equal(t, 2, h.calls)
}

func TestProcessVisitsAndDedupes(t *testing.T) {
	node := newNode(t)
	h := &countingHandler{}
	process := Process(h, memoryDeduper{})

	tk, err := NewTask(JobCompleted{Envelope: NewEnvelope(node, "b1", "c1"), JobID: "j1", CleanerID: "c1"})
	require.NoError(t, err)

	require.NoError(t, process(context.Background(), tk))
	require.NoError(t, process(context.Background(), tk))
	require.Len(t, h.completed, 1)
	require.Equal(t, "j1", h.completed[0].JobID)

	err = process(context.Background(), asynq.NewTask(taskname.JobCompleted, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestNotifierLogsAudience(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	node := newNode(t)
	e := JobReassigned{Envelope: NewEnvelope(node, "b1", "m1"), JobID: "j1", FromCleaner: "c1", ToCleaner: "c2"}
	require.NoError(t, e.Visit(context.Background(), NewNotifier()))

	entries := logs.FilterMessage("notification dispatched").All()
	require.Len(t, entries, 2)
	require.Equal(t, "c1", entries[0].ContextMap()["recipient"])
	require.Equal(t, "c2", entries[1].ContextMap()["recipient"])
}

func TestPublisherEnqueuesAfterCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	enq := task.NewMockEnqueuer(ctrl)
	node := newNode(t)

	e := InvoiceCreated{Envelope: NewEnvelope(node, "b1", "c1"), InvoiceID: "i1", Number: "INV-2610-0001", CleanerID: "c1"}

	enq.EXPECT().
		Enqueue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, tk *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
			require.Equal(t, taskname.InvoiceCreated, tk.Type())
			return &asynq.TaskInfo{ID: e.ID}, nil
		})
	enq.EXPECT().
		Enqueue(gomock.Any(), gomock.Any()).
		Return(nil, asynq.ErrTaskIDConflict)

	pub := NewPublisher(PublisherParams{Enqueuer: enq})
	pub.Publish(context.Background(), e, e)
}
