package taskname

const (
	// Job lifecycle tasks
	JobAccepted    = "job:accepted"
	JobStarted     = "job:started"
	JobCompleted   = "job:completed"
	JobNeedsReview = "job:needs_review"
	JobReassigned  = "job:reassigned"
	JobReset       = "job:reset"

	// Manager override tasks
	JobOverridden    = "job:overridden"
	ConflictResolved = "job:conflict:resolved"

	// Invoice tasks
	InvoiceCreated   = "invoice:created"
	InvoiceSubmitted = "invoice:submitted"
	InvoiceApproved  = "invoice:approved"
	InvoicePaid      = "invoice:paid"
)
