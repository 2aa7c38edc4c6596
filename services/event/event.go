package event

import (
	"context"
	"time"

	"cleanops/pkg/taskname"
)

// Event is a sealed union of lifecycle events. Adding a variant means adding
// a method to Handler, so every consumer has to handle it before it compiles.
type Event interface {
	Type() string
	Meta() Envelope
	Visit(ctx context.Context, h Handler) error

	sealed()
}

type Handler interface {
	JobAccepted(ctx context.Context, e JobAccepted) error
	JobStarted(ctx context.Context, e JobStarted) error
	JobCompleted(ctx context.Context, e JobCompleted) error
	JobNeedsReview(ctx context.Context, e JobNeedsReview) error
	JobReassigned(ctx context.Context, e JobReassigned) error
	JobReset(ctx context.Context, e JobReset) error
	JobOverridden(ctx context.Context, e JobOverridden) error
	ConflictResolved(ctx context.Context, e ConflictResolved) error
	InvoiceCreated(ctx context.Context, e InvoiceCreated) error
	InvoiceSubmitted(ctx context.Context, e InvoiceSubmitted) error
	InvoiceApproved(ctx context.Context, e InvoiceApproved) error
	InvoicePaid(ctx context.Context, e InvoicePaid) error
}

// Envelope carries the fields every event has.
type Envelope struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (m Envelope) Meta() Envelope { return m }
func (Envelope) sealed()          {}

type JobAccepted struct {
	Envelope
	JobID     string `json:"job_id"`
	CleanerID string `json:"cleaner_id"`
}

type JobStarted struct {
	Envelope
	JobID     string `json:"job_id"`
	CleanerID string `json:"cleaner_id"`
}

type JobCompleted struct {
	Envelope
	JobID     string `json:"job_id"`
	CleanerID string `json:"cleaner_id"`
	// Overridden is set when a manager forced or unblocked the completion.
	Overridden bool `json:"overridden"`
}

type JobNeedsReview struct {
	Envelope
	JobID     string   `json:"job_id"`
	CleanerID string   `json:"cleaner_id"`
	Conflicts []string `json:"conflicts"`
}

type JobReassigned struct {
	Envelope
	JobID       string `json:"job_id"`
	FromCleaner string `json:"from_cleaner,omitempty"`
	ToCleaner   string `json:"to_cleaner,omitempty"`
	Status      string `json:"status"`
}

type JobReset struct {
	Envelope
	JobID       string `json:"job_id"`
	FromCleaner string `json:"from_cleaner"`
	Reason      string `json:"reason"`
}

type JobOverridden struct {
	Envelope
	JobID     string   `json:"job_id"`
	CleanerID string   `json:"cleaner_id"`
	Reason    string   `json:"reason"`
	Bypassed  []string `json:"bypassed"`
}

type ConflictResolved struct {
	Envelope
	JobID     string `json:"job_id"`
	Conflict  string `json:"conflict"`
	Reason    string `json:"reason"`
	JobStatus string `json:"job_status"`
}

type InvoiceCreated struct {
	Envelope
	InvoiceID string `json:"invoice_id"`
	Number    string `json:"number"`
	CleanerID string `json:"cleaner_id"`
}

type InvoiceSubmitted struct {
	Envelope
	InvoiceID   string `json:"invoice_id"`
	CleanerID   string `json:"cleaner_id"`
	TotalAmount string `json:"total_amount"`
}

type InvoiceApproved struct {
	Envelope
	InvoiceID string `json:"invoice_id"`
	CleanerID string `json:"cleaner_id"`
}

type InvoicePaid struct {
	Envelope
	InvoiceID string `json:"invoice_id"`
	CleanerID string `json:"cleaner_id"`
}

func (JobAccepted) Type() string      { return taskname.JobAccepted }
func (JobStarted) Type() string       { return taskname.JobStarted }
func (JobCompleted) Type() string     { return taskname.JobCompleted }
func (JobNeedsReview) Type() string   { return taskname.JobNeedsReview }
func (JobReassigned) Type() string    { return taskname.JobReassigned }
func (JobReset) Type() string         { return taskname.JobReset }
func (JobOverridden) Type() string    { return taskname.JobOverridden }
func (ConflictResolved) Type() string { return taskname.ConflictResolved }
func (InvoiceCreated) Type() string   { return taskname.InvoiceCreated }
func (InvoiceSubmitted) Type() string { return taskname.InvoiceSubmitted }
func (InvoiceApproved) Type() string  { return taskname.InvoiceApproved }
func (InvoicePaid) Type() string      { return taskname.InvoicePaid }

func (e JobAccepted) Visit(ctx context.Context, h Handler) error {
	return h.JobAccepted(ctx, e)
}

func (e JobStarted) Visit(ctx context.Context, h Handler) error {
	return h.JobStarted(ctx, e)
}

func (e JobCompleted) Visit(ctx context.Context, h Handler) error {
	return h.JobCompleted(ctx, e)
}

func (e JobNeedsReview) Visit(ctx context.Context, h Handler) error {
	return h.JobNeedsReview(ctx, e)
}

func (e JobReassigned) Visit(ctx context.Context, h Handler) error {
	return h.JobReassigned(ctx, e)
}

func (e JobReset) Visit(ctx context.Context, h Handler) error {
	return h.JobReset(ctx, e)
}

func (e JobOverridden) Visit(ctx context.Context, h Handler) error {
	return h.JobOverridden(ctx, e)
}

func (e ConflictResolved) Visit(ctx context.Context, h Handler) error {
	return h.ConflictResolved(ctx, e)
}

func (e InvoiceCreated) Visit(ctx context.Context, h Handler) error {
	return h.InvoiceCreated(ctx, e)
}

func (e InvoiceSubmitted) Visit(ctx context.Context, h Handler) error {
	return h.InvoiceSubmitted(ctx, e)
}

func (e InvoiceApproved) Visit(ctx context.Context, h Handler) error {
	return h.InvoiceApproved(ctx, e)
}

func (e InvoicePaid) Visit(ctx context.Context, h Handler) error {
	return h.InvoicePaid(ctx, e)
}
