package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cleanops/pkg/config"
	"cleanops/pkg/db/option"
	"cleanops/pkg/errutil"
	"cleanops/pkg/logger"
	"cleanops/pkg/metrics"
	"cleanops/pkg/repository"
	"cleanops/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxNumberAttempts bounds how many invoice numbers one accrual draws when
// the business's sequence hands out a number that is already stored.
const maxNumberAttempts = 3

var halfHour = decimal.NewFromInt(30)

// EffectivePayType resolves job override, then cleaner default, then per_job.
func EffectivePayType(override, cleanerDefault *PayType) PayType {
	if override != nil && override.Valid() {
		return *override
	}
	if cleanerDefault != nil && cleanerDefault.Valid() {
		return *cleanerDefault
	}
	return PerJob
}

// RoundToHalfHour rounds minutes to the nearest 30, halves rounding up
// (15 -> 30, 45 -> 60, 75 -> 90). Negative durations count as zero.
func RoundToHalfHour(minutes float64) int64 {
	if minutes <= 0 {
		return 0
	}
	// Round on a decimal rounds halves away from zero, up for positive input
	return decimal.NewFromFloat(minutes).Div(halfHour).Round(0).IntPart() * 30
}

// ComputeAmount returns the line amount and the billable minutes (zero for
// per_job). price is the flat amount for per_job and the hourly rate for
// hourly.
func ComputeAmount(payType PayType, price decimal.Decimal, startedAt *time.Time, completedAt time.Time) (decimal.Decimal, int64) {
	if payType != Hourly {
		return price.Round(2), 0
	}

	var minutes float64
	if startedAt != nil {
		minutes = completedAt.Sub(*startedAt).Minutes()
	}

	rounded := RoundToHalfHour(minutes)
	amount := price.Mul(decimal.NewFromInt(rounded)).Div(decimal.NewFromInt(60)).Round(2)
	return amount, rounded
}

type AccrualInput struct {
	BusinessID      string
	CleanerID       string
	JobID           string
	Price           decimal.Decimal
	PayTypeOverride *PayType
	CleanerPayType  *PayType
	StartedAt       *time.Time
	CompletedAt     time.Time
}

type AccrualResult struct {
	Invoice  *Invoice
	LineItem *LineItem
	// InvoiceCreated is set when this accrual opened a new invoice.
	InvoiceCreated bool
	// Duplicate is set when the job already had a line item; nothing changed.
	Duplicate bool
}

// Accruer appends completed jobs to the cleaner's open invoice. Accrue must
// run inside the transaction that moves the job to completed.
type Accruer struct {
	node     *snowflake.Node
	sequence sequence.Generator
	cfg      config.Invoice
	now      func() time.Time

	invoices  repository.Repository[Invoice]
	lineItems repository.Repository[LineItem]
}

type AccruerParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Sequence sequence.Generator
	Config   *config.Config
}

func NewAccruer(p AccruerParams) *Accruer {
	cfg := p.Config.Invoice
	if cfg.PeriodDays <= 0 {
		cfg.PeriodDays = 14
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}

	return &Accruer{
		node:      p.Node,
		sequence:  p.Sequence,
		cfg:       cfg,
		now:       time.Now,
		invoices:  repository.ProvideStore[Invoice](p.DB),
		lineItems: repository.ProvideStore[LineItem](p.DB),
	}
}

func (a *Accruer) Accrue(ctx context.Context, tx *gorm.DB, in AccrualInput) (*AccrualResult, error) {
	log := logger.Ctx(ctx).With(
		zap.String("job_id", in.JobID),
		zap.String("cleaner_id", in.CleanerID),
	)

	payType := EffectivePayType(in.PayTypeOverride, in.CleanerPayType)

	existing, err := a.lineItems.WithTrx(tx).FindOne(ctx, &LineItem{JobID: in.JobID})
	if err != nil {
		return nil, fmt.Errorf("lookup line item: %w", err)
	}
	if existing != nil {
		inv, err := a.invoices.WithTrx(tx).FindOne(ctx, &Invoice{ID: existing.InvoiceID})
		if err != nil {
			return nil, fmt.Errorf("lookup invoice: %w", err)
		}
		log.Info("job already accrued", zap.String("invoice_id", existing.InvoiceID))
		metrics.Accrual(string(payType), "duplicate")
		return &AccrualResult{Invoice: inv, LineItem: existing, Duplicate: true}, nil
	}

	if in.PayTypeOverride == nil && in.CleanerPayType == nil {
		log.Debug("no pay type configured, billing per job")
	}
	if payType == Hourly && in.StartedAt == nil {
		log.Warn("hourly job has no start time, billing zero minutes")
	}

	amount, minutes := ComputeAmount(payType, in.Price, in.StartedAt, in.CompletedAt)

	inv, created, err := a.openInvoice(ctx, tx, in, payType, amount)
	if err != nil {
		metrics.Accrual(string(payType), "error")
		return nil, err
	}

	item := &LineItem{
		ID:         a.node.Generate().String(),
		InvoiceID:  inv.ID,
		JobID:      in.JobID,
		BusinessID: in.BusinessID,
		PayType:    payType,
		Rate:       in.Price,
		Minutes:    minutes,
		Amount:     amount,
	}

	err = tx.Transaction(func(sp *gorm.DB) error {
		return a.lineItems.WithTrx(sp).Create(ctx, item)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// the unique (invoice_id, job_id) index caught a concurrent accrual
		metrics.Accrual(string(payType), "duplicate")
		dup, ferr := a.lineItems.WithTrx(tx).FindOne(ctx, &LineItem{InvoiceID: inv.ID, JobID: in.JobID})
		if ferr != nil {
			return nil, fmt.Errorf("lookup line item: %w", ferr)
		}
		return &AccrualResult{Invoice: inv, LineItem: dup, Duplicate: true}, nil
	}
	if err != nil {
		metrics.Accrual(string(payType), "error")
		return nil, fmt.Errorf("create line item: %w", err)
	}

	if !created {
		res := tx.WithContext(ctx).Model(&Invoice{}).
			Where("id = ? AND status = ?", inv.ID, StatusOpen).
			Update("total_amount", gorm.Expr("total_amount + ?", amount))
		if res.Error != nil {
			return nil, fmt.Errorf("increment invoice total: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			metrics.CASLost("invoice_accrue")
			return nil, errutil.Conflict("invoice was locked while accruing, retry the completion", nil)
		}

		inv, err = a.invoices.WithTrx(tx).FindOne(ctx, &Invoice{ID: inv.ID})
		if err != nil {
			return nil, fmt.Errorf("reload invoice: %w", err)
		}
	}

	log.Info("job accrued",
		zap.String("invoice_id", inv.ID),
		zap.String("pay_type", string(payType)),
		zap.Int64("minutes", minutes),
		zap.String("amount", amount.StringFixed(2)),
		zap.Bool("invoice_created", created),
	)
	metrics.Accrual(string(payType), "created")

	return &AccrualResult{Invoice: inv, LineItem: item, InvoiceCreated: created}, nil
}

// openInvoice returns the cleaner's open invoice, creating one seeded with
// amount when none exists. The create runs in a savepoint: a unique
// violation is either a concurrent creator (re-read the open invoice) or a
// number already used within the business (draw the next number).
func (a *Accruer) openInvoice(ctx context.Context, tx *gorm.DB, in AccrualInput, payType PayType, amount decimal.Decimal) (*Invoice, bool, error) {
	query := &Invoice{CleanerID: in.CleanerID, BusinessID: in.BusinessID, Status: StatusOpen}

	inv, err := a.invoices.WithTrx(tx).FindOne(ctx, query, option.WithLockingUpdate())
	if err != nil {
		return nil, false, fmt.Errorf("lookup open invoice: %w", err)
	}
	if inv != nil {
		return inv, false, nil
	}

	for attempt := 1; ; attempt++ {
		number, err := a.sequence.NextInvoiceNumber(ctx, in.BusinessID)
		if err != nil {
			return nil, false, errutil.Internal("failed to allocate invoice number", err)
		}

		now := a.now().UTC()
		inv = &Invoice{
			ID:          a.node.Generate().String(),
			BusinessID:  in.BusinessID,
			CleanerID:   in.CleanerID,
			Number:      number,
			Status:      StatusOpen,
			PayType:     payType,
			Currency:    a.cfg.Currency,
			PeriodStart: now,
			PeriodEnd:   now.AddDate(0, 0, a.cfg.PeriodDays),
			TotalAmount: amount,
		}

		err = tx.Transaction(func(sp *gorm.DB) error {
			return a.invoices.WithTrx(sp).Create(ctx, inv)
		})
		if err == nil {
			return inv, true, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, fmt.Errorf("create invoice: %w", err)
		}

		// idx_invoices_open_cleaner: another completion opened the invoice first
		existing, ferr := a.invoices.WithTrx(tx).FindOne(ctx, query, option.WithLockingUpdate())
		if ferr != nil {
			return nil, false, fmt.Errorf("lookup open invoice: %w", ferr)
		}
		if existing != nil {
			return existing, false, nil
		}

		// idx_invoices_business_number: the number is taken, draw another
		logger.Ctx(ctx).Warn("invoice number already used, allocating another",
			zap.String("business_id", in.BusinessID),
			zap.String("number", number),
			zap.Int("attempt", attempt),
		)
		if attempt == maxNumberAttempts {
			return nil, false, errutil.Conflict("could not allocate a free invoice number, retry the completion", err)
		}
	}
}
