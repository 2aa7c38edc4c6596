package job

import (
	"context"
	"testing"

	"cleanops/pkg/errutil"

	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	statuses := []Status{StatusAvailable, StatusAccepted, StatusInProgress, StatusCompleted, StatusNeedsReview}
	triggers := []Trigger{
		TriggerAccept, TriggerStart, TriggerComplete, TriggerFlag, TriggerOverride, TriggerResolve,
		TriggerReset, TriggerReassign, TriggerRelease, TriggerReportAccess, TriggerRecordPhoto,
	}

	type edge struct {
		from    Status
		trigger Trigger
	}
	allowed := map[edge]Status{
		{StatusAvailable, TriggerAccept}:        StatusAccepted,
		{StatusAvailable, TriggerReassign}:      StatusAccepted,
		{StatusAvailable, TriggerRelease}:       StatusAvailable,
		{StatusAccepted, TriggerStart}:          StatusInProgress,
		{StatusAccepted, TriggerRelease}:        StatusAvailable,
		{StatusAccepted, TriggerReassign}:       StatusAccepted,
		{StatusAccepted, TriggerReportAccess}:   StatusAccepted,
		{StatusAccepted, TriggerRecordPhoto}:    StatusAccepted,
		{StatusInProgress, TriggerComplete}:     StatusCompleted,
		{StatusInProgress, TriggerFlag}:         StatusNeedsReview,
		{StatusInProgress, TriggerReportAccess}: StatusInProgress,
		{StatusInProgress, TriggerRecordPhoto}:  StatusInProgress,
		{StatusNeedsReview, TriggerOverride}:    StatusCompleted,
		{StatusNeedsReview, TriggerReset}:       StatusAvailable,
		{StatusNeedsReview, TriggerResolve}:     StatusNeedsReview,
		{StatusNeedsReview, TriggerRecordPhoto}: StatusNeedsReview,
	}

	ctx := context.Background()
	for _, from := range statuses {
		for _, trigger := range triggers {
			t.Run(string(from)+"/"+string(trigger), func(t *testing.T) {
				to, err := Transition(ctx, from, trigger)
				want, ok := allowed[edge{from, trigger}]
				if !ok {
					require.True(t, errutil.Is(err, errutil.StatusInvalidTransition), "got %v", err)
					require.Empty(t, to)
					return
				}
				require.NoError(t, err)
				require.Equal(t, want, to)
			})
		}
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	_, err := Transition(context.Background(), StatusCompleted, TriggerReset)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))
	require.Contains(t, err.Error(), "cannot reset a job that is completed")
}

func TestTransitionFromUnknownStatus(t *testing.T) {
	_, err := Transition(context.Background(), Status("archived"), TriggerAccept)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))
}
