package invoice

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PayType string

const (
	PerJob PayType = "per_job"
	Hourly PayType = "hourly"
)

func (p PayType) Valid() bool {
	return p == PerJob || p == Hourly
}

// ParsePayType accepts "" as absent.
func ParsePayType(s string) (*PayType, bool) {
	if s == "" {
		return nil, true
	}
	p := PayType(s)
	if !p.Valid() {
		return nil, false
	}
	return &p, true
}

type Status string

const (
	StatusOpen      Status = "open"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusPaid      Status = "paid"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusSubmitted, StatusApproved, StatusPaid:
		return true
	default:
		return false
	}
}

// Invoice is a cleaner's rolling accrual for one pay period. At most one
// open invoice exists per cleaner, see Migrate.
type Invoice struct {
	ID          string          `gorm:"column:id;primaryKey" json:"id"`
	BusinessID  string          `gorm:"column:business_id;not null;index;uniqueIndex:idx_invoices_business_number,priority:1" json:"business_id"`
	CleanerID   string          `gorm:"column:cleaner_id;not null;index" json:"cleaner_id"`
	Number      string          `gorm:"column:number;not null;uniqueIndex:idx_invoices_business_number,priority:2" json:"number"`
	Status      Status          `gorm:"column:status;not null;index" json:"status"`
	PayType     PayType         `gorm:"column:pay_type;not null" json:"pay_type"`
	Currency    string          `gorm:"column:currency;not null" json:"currency"`
	PeriodStart time.Time       `gorm:"column:period_start;not null" json:"period_start"`
	PeriodEnd   time.Time       `gorm:"column:period_end;not null" json:"period_end"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:decimal(12,2);not null;default:0" json:"total_amount"`
	SubmittedAt *time.Time      `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time      `gorm:"column:approved_at" json:"approved_at,omitempty"`
	ApprovedBy  *string         `gorm:"column:approved_by" json:"approved_by,omitempty"`
	PaidAt      *time.Time      `gorm:"column:paid_at" json:"paid_at,omitempty"`
	PaidBy      *string         `gorm:"column:paid_by" json:"paid_by,omitempty"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	LineItems []LineItem `gorm:"foreignKey:InvoiceID" json:"line_items,omitempty"`
}

// LineItem is one job's contribution to an invoice. Rows are never deleted
// or rewritten, only soft-voided while the invoice is open.
type LineItem struct {
	ID         string          `gorm:"column:id;primaryKey" json:"id"`
	InvoiceID  string          `gorm:"column:invoice_id;not null;uniqueIndex:idx_line_items_invoice_job" json:"invoice_id"`
	JobID      string          `gorm:"column:job_id;not null;uniqueIndex:idx_line_items_invoice_job;index" json:"job_id"`
	BusinessID string          `gorm:"column:business_id;not null;index" json:"business_id"`
	PayType    PayType         `gorm:"column:pay_type;not null" json:"pay_type"`
	Rate       decimal.Decimal `gorm:"column:rate;type:decimal(12,2);not null" json:"rate"`
	Minutes    int64           `gorm:"column:minutes;not null;default:0" json:"minutes"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(12,2);not null" json:"amount"`
	IsVoided   bool            `gorm:"column:is_voided;not null;default:false;check:chk_line_items_void_reason,is_voided = false OR (void_reason IS NOT NULL AND length(void_reason) > 0)" json:"is_voided"`
	VoidReason *string         `gorm:"column:void_reason" json:"void_reason,omitempty"`
	VoidedAt   *time.Time      `gorm:"column:voided_at" json:"voided_at,omitempty"`
	VoidedBy   *string         `gorm:"column:voided_by" json:"voided_by,omitempty"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (LineItem) TableName() string {
	return "invoice_line_items"
}

// Migrate creates the invoice tables and the partial unique index that keeps
// one open invoice per cleaner. MySQL has no partial indexes, so there the
// locking read in Accrue is the only guard.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Invoice{}, &LineItem{}); err != nil {
		return err
	}

	if db.Dialector.Name() == "mysql" {
		return nil
	}

	return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_open_cleaner ON invoices (cleaner_id) WHERE status = 'open'").Error
}
