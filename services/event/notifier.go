package event

import (
	"context"
	"errors"
	"strings"

	"cleanops/pkg/logger"

	"go.uber.org/zap"
)

// Audience names who an event is meant for. Delivery itself belongs to the
// notification system; the worker only resolves and logs the audience.
type Audience string

const (
	AudienceCleaner  Audience = "cleaner"
	AudienceManagers Audience = "managers"
)

// Notifier is the worker-side Handler.
type Notifier struct{}

func NewNotifier() Handler {
	return &Notifier{}
}

func (n *Notifier) notify(ctx context.Context, e Event, audience Audience, recipient string, fields ...zap.Field) error {
	meta := e.Meta()
	logger.Ctx(ctx).Info("notification dispatched", append([]zap.Field{
		zap.String("type", e.Type()),
		zap.String("event_id", meta.ID),
		zap.String("business_id", meta.BusinessID),
		zap.String("audience", string(audience)),
		zap.String("recipient", recipient),
	}, fields...)...)
	return nil
}

func (n *Notifier) JobAccepted(ctx context.Context, e JobAccepted) error {
	return n.notify(ctx, e, AudienceManagers, "", zap.String("job_id", e.JobID), zap.String("cleaner_id", e.CleanerID))
}

func (n *Notifier) JobStarted(ctx context.Context, e JobStarted) error {
	return n.notify(ctx, e, AudienceManagers, "", zap.String("job_id", e.JobID), zap.String("cleaner_id", e.CleanerID))
}

func (n *Notifier) JobCompleted(ctx context.Context, e JobCompleted) error {
	if e.Overridden {
		return n.notify(ctx, e, AudienceCleaner, e.CleanerID, zap.String("job_id", e.JobID), zap.Bool("overridden", true))
	}
	return n.notify(ctx, e, AudienceManagers, "", zap.String("job_id", e.JobID))
}

func (n *Notifier) JobNeedsReview(ctx context.Context, e JobNeedsReview) error {
	return n.notify(ctx, e, AudienceManagers, "",
		zap.String("job_id", e.JobID),
		zap.String("conflicts", strings.Join(e.Conflicts, ",")),
	)
}

func (n *Notifier) JobReassigned(ctx context.Context, e JobReassigned) error {
	var errs []error
	if e.FromCleaner != "" {
		errs = append(errs, n.notify(ctx, e, AudienceCleaner, e.FromCleaner, zap.String("job_id", e.JobID), zap.String("change", "unassigned")))
	}
	if e.ToCleaner != "" {
		errs = append(errs, n.notify(ctx, e, AudienceCleaner, e.ToCleaner, zap.String("job_id", e.JobID), zap.String("change", "assigned")))
	}
	return errors.Join(errs...)
}

func (n *Notifier) JobReset(ctx context.Context, e JobReset) error {
	return n.notify(ctx, e, AudienceCleaner, e.FromCleaner, zap.String("job_id", e.JobID), zap.String("reason", e.Reason))
}

func (n *Notifier) JobOverridden(ctx context.Context, e JobOverridden) error {
	return n.notify(ctx, e, AudienceCleaner, e.CleanerID,
		zap.String("job_id", e.JobID),
		zap.String("reason", e.Reason),
		zap.Strings("bypassed", e.Bypassed),
	)
}

func (n *Notifier) ConflictResolved(ctx context.Context, e ConflictResolved) error {
	return n.notify(ctx, e, AudienceManagers, "",
		zap.String("job_id", e.JobID),
		zap.String("conflict", e.Conflict),
		zap.String("job_status", e.JobStatus),
	)
}

func (n *Notifier) InvoiceCreated(ctx context.Context, e InvoiceCreated) error {
	return n.notify(ctx, e, AudienceCleaner, e.CleanerID, zap.String("invoice_id", e.InvoiceID), zap.String("number", e.Number))
}

func (n *Notifier) InvoiceSubmitted(ctx context.Context, e InvoiceSubmitted) error {
	return n.notify(ctx, e, AudienceManagers, "", zap.String("invoice_id", e.InvoiceID), zap.String("total_amount", e.TotalAmount))
}

func (n *Notifier) InvoiceApproved(ctx context.Context, e InvoiceApproved) error {
	return n.notify(ctx, e, AudienceCleaner, e.CleanerID, zap.String("invoice_id", e.InvoiceID))
}

func (n *Notifier) InvoicePaid(ctx context.Context, e InvoicePaid) error {
	return n.notify(ctx, e, AudienceCleaner, e.CleanerID, zap.String("invoice_id", e.InvoiceID))
}
