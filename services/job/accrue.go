package job

import (
	"context"
	"time"

	"cleanops/services/event"
	"cleanops/services/invoice"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// AccrueJob adds j, which must just have moved to completed inside tx, to
// its cleaner's open invoice. It returns the InvoiceCreated event when the
// accrual opened a new invoice.
func AccrueJob(ctx context.Context, tx *gorm.DB, accruer *invoice.Accruer, node *snowflake.Node, actorID string, j *Job) (*invoice.AccrualResult, []event.Event, error) {
	cleaner, err := NewRepository(tx).Cleaner(ctx, j.BusinessID, j.Assignee())
	if err != nil {
		return nil, nil, err
	}

	completedAt := time.Now().UTC()
	if j.CompletedAt != nil {
		completedAt = *j.CompletedAt
	}

	res, err := accruer.Accrue(ctx, tx, invoice.AccrualInput{
		BusinessID:      j.BusinessID,
		CleanerID:       cleaner.ID,
		JobID:           j.ID,
		Price:           j.Price,
		PayTypeOverride: j.PayTypeOverride,
		CleanerPayType:  cleaner.PayType,
		StartedAt:       j.StartedAt,
		CompletedAt:     completedAt,
	})
	if err != nil {
		return nil, nil, err
	}

	var events []event.Event
	if res.InvoiceCreated {
		events = append(events, event.InvoiceCreated{
			Envelope:  event.NewEnvelope(node, j.BusinessID, actorID),
			InvoiceID: res.Invoice.ID,
			Number:    res.Invoice.Number,
			CleanerID: res.Invoice.CleanerID,
		})
	}
	return res, events, nil
}
