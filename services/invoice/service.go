package invoice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cleanops/pkg/access"
	"cleanops/pkg/db/option"
	"cleanops/pkg/db/pagination"
	"cleanops/pkg/errutil"
	"cleanops/pkg/logger"
	"cleanops/pkg/repository"
	"cleanops/services/event"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	authz     access.Authorizer
	publisher event.Publisher

	invoices  repository.Repository[Invoice]
	lineItems repository.Repository[LineItem]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Authz     access.Authorizer
	Publisher event.Publisher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		authz:     p.Authz,
		publisher: p.Publisher,

		invoices:  repository.ProvideStore[Invoice](p.DB),
		lineItems: repository.ProvideStore[LineItem](p.DB),
	}
}

// GetCurrent returns the caller's open invoice, or nil when there is none.
func (s *Service) GetCurrent(ctx context.Context, actor access.Actor) (*Invoice, error) {
	if err := s.authz.Authorize(actor, access.ObjectInvoice, access.ActionRead); err != nil {
		return nil, err
	}

	inv, err := s.invoices.FindOne(ctx, &Invoice{
		BusinessID: actor.BusinessID,
		CleanerID:  actor.ID,
		Status:     StatusOpen,
	})
	if err != nil {
		return nil, errutil.Internal("failed to load current invoice", err)
	}
	if inv == nil {
		return nil, nil
	}

	return s.withLineItems(ctx, s.db, inv)
}

// Get returns an invoice with its line items. Cleaners only see their own.
func (s *Service) Get(ctx context.Context, actor access.Actor, id string) (*Invoice, error) {
	if err := s.authz.Authorize(actor, access.ObjectInvoice, access.ActionRead); err != nil {
		return nil, err
	}

	inv, err := s.load(ctx, s.db, actor, id)
	if err != nil {
		return nil, err
	}

	return s.withLineItems(ctx, s.db, inv)
}

type ListRequest struct {
	Status    Status `form:"status"`
	CleanerID string `form:"cleaner_id"`
	pagination.Pagination
}

type ListResponse struct {
	Invoices []*Invoice           `json:"invoices"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func (s *Service) List(ctx context.Context, actor access.Actor, req ListRequest) (*ListResponse, error) {
	if err := s.authz.Authorize(actor, access.ObjectInvoice, access.ActionRead); err != nil {
		return nil, err
	}
	if req.Status != "" && !req.Status.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown invoice status %q", req.Status), nil)
	}

	query := &Invoice{BusinessID: actor.BusinessID, Status: req.Status}
	if actor.IsManager() {
		query.CleanerID = req.CleanerID
	} else {
		query.CleanerID = actor.ID
	}

	paged, err := option.ApplyPagination(req.Pagination)
	if err != nil {
		return nil, errutil.BadRequest("invalid pagination cursor", err)
	}

	rows, err := s.invoices.Find(ctx, query, paged)
	if err != nil {
		return nil, errutil.Internal("failed to list invoices", err)
	}

	rows, page, err := pagination.Page(rows, req.Size(), func(inv *Invoice) string { return inv.ID })
	if err != nil {
		return nil, errutil.Internal("failed to build page", err)
	}

	return &ListResponse{Invoices: rows, PageInfo: page}, nil
}

// Submit locks the caller's open invoice. Nothing on a submitted invoice
// changes afterwards except its progression to approved and paid.
func (s *Service) Submit(ctx context.Context, actor access.Actor, id string) (*Invoice, error) {
	if err := s.authz.Authorize(actor, access.ObjectInvoice, access.ActionSubmit); err != nil {
		return nil, err
	}

	var out *Invoice
	err := s.db.Transaction(func(tx *gorm.DB) error {
		inv, err := s.load(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		if inv.CleanerID != actor.ID {
			return errutil.Forbidden("only the invoice owner may submit it", nil)
		}

		now := time.Now().UTC()
		out, err = s.advance(ctx, tx, inv, StatusOpen, StatusSubmitted, map[string]any{
			"submitted_at": now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info("invoice submitted",
		zap.String("invoice_id", out.ID),
		zap.String("cleaner_id", out.CleanerID),
		zap.String("total_amount", out.TotalAmount.StringFixed(2)),
	)
	s.publisher.Publish(ctx, event.InvoiceSubmitted{
		Envelope:    event.NewEnvelope(s.node, out.BusinessID, actor.ID),
		InvoiceID:   out.ID,
		CleanerID:   out.CleanerID,
		TotalAmount: out.TotalAmount.StringFixed(2),
	})

	return out, nil
}

func (s *Service) Approve(ctx context.Context, actor access.Actor, id string) (*Invoice, error) {
	if err := s.authz.Authorize(actor, access.ObjectInvoice, access.ActionApprove); err != nil {
		return nil, err
	}

	var out *Invoice
	err := s.db.Transaction(func(tx *gorm.DB) error {
		inv, err := s.load(ctx, tx, actor, id)
		if err != nil {
			return err
		}

		out, err = s.advance(ctx, tx, inv, StatusSubmitted, StatusApproved, map[string]any{
			"approved_at": time.Now().UTC(),
			"approved_by": actor.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info("invoice approved", zap.String("invoice_id", out.ID), zap.String("manager_id", actor.ID))
	s.publisher.Publish(ctx, event.InvoiceApproved{
		Envelope:  event.NewEnvelope(s.node, out.BusinessID, actor.ID),
		InvoiceID: out.ID,
		CleanerID: out.CleanerID,
	})

	return out, nil
}

func (s *Service) MarkPaid(ctx context.Context, actor access.Actor, id string) (*Invoice, error) {
	if err := s.authz.Authorize(actor, access.ObjectInvoice, access.ActionPay); err != nil {
		return nil, err
	}

	var out *Invoice
	err := s.db.Transaction(func(tx *gorm.DB) error {
		inv, err := s.load(ctx, tx, actor, id)
		if err != nil {
			return err
		}

		out, err = s.advance(ctx, tx, inv, StatusApproved, StatusPaid, map[string]any{
			"paid_at": time.Now().UTC(),
			"paid_by": actor.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info("invoice paid", zap.String("invoice_id", out.ID), zap.String("manager_id", actor.ID))
	s.publisher.Publish(ctx, event.InvoicePaid{
		Envelope:  event.NewEnvelope(s.node, out.BusinessID, actor.ID),
		InvoiceID: out.ID,
		CleanerID: out.CleanerID,
	})

	return out, nil
}

// VoidLineItem soft-voids a line item of an open invoice and takes its
// amount off the total. Voiding twice returns the voided item unchanged.
func (s *Service) VoidLineItem(ctx context.Context, actor access.Actor, lineItemID, reason string) (*LineItem, error) {
	if err := s.authz.Authorize(actor, access.ObjectInvoice, access.ActionVoid); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errutil.ValidationFailed("void reason is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "reason", Message: "must not be empty"}))
	}

	var out *LineItem
	err := s.db.Transaction(func(tx *gorm.DB) error {
		item, err := s.lineItems.WithTrx(tx).FindOne(ctx, &LineItem{ID: lineItemID, BusinessID: actor.BusinessID})
		if err != nil {
			return errutil.Internal("failed to load line item", err)
		}
		if item == nil {
			return errutil.NotFound("line item not found", nil)
		}

		inv, err := s.invoices.WithTrx(tx).FindOne(ctx, &Invoice{ID: item.InvoiceID}, option.WithLockingUpdate())
		if err != nil {
			return errutil.Internal("failed to load invoice", err)
		}
		if inv == nil {
			return errutil.NotFound("invoice not found", nil)
		}
		if inv.Status != StatusOpen {
			return errutil.InvalidTransition(fmt.Sprintf("invoice is %s, line items can only be voided while open", inv.Status), nil)
		}
		if item.IsVoided {
			out = item
			return nil
		}

		now := time.Now().UTC()
		res := tx.WithContext(ctx).Model(&LineItem{}).
			Where("id = ? AND is_voided = ?", item.ID, false).
			Updates(map[string]any{
				"is_voided":   true,
				"void_reason": reason,
				"voided_at":   now,
				"voided_by":   actor.ID,
			})
		if res.Error != nil {
			return errutil.Internal("failed to void line item", res.Error)
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("line item changed concurrently", nil)
		}

		res = tx.WithContext(ctx).Model(&Invoice{}).
			Where("id = ? AND status = ?", inv.ID, StatusOpen).
			Update("total_amount", gorm.Expr("total_amount - ?", item.Amount))
		if res.Error != nil {
			return errutil.Internal("failed to update invoice total", res.Error)
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("invoice was submitted concurrently", nil)
		}

		out, err = s.lineItems.WithTrx(tx).FindOne(ctx, &LineItem{ID: item.ID})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info("line item voided",
		zap.String("line_item_id", out.ID),
		zap.String("invoice_id", out.InvoiceID),
		zap.String("job_id", out.JobID),
		zap.String("manager_id", actor.ID),
		zap.String("reason", reason),
	)

	return out, nil
}

// load resolves id inside the caller's business. Cleaners get NotFound for
// invoices that are not theirs.
func (s *Service) load(ctx context.Context, db *gorm.DB, actor access.Actor, id string) (*Invoice, error) {
	inv, err := s.invoices.WithTrx(db).FindOne(ctx, &Invoice{ID: id, BusinessID: actor.BusinessID})
	if err != nil {
		return nil, errutil.Internal("failed to load invoice", err)
	}
	if inv == nil || (!actor.IsManager() && inv.CleanerID != actor.ID) {
		return nil, errutil.NotFound("invoice not found", nil)
	}
	return inv, nil
}

// advance moves inv from one status to the next with a conditional update.
func (s *Service) advance(ctx context.Context, tx *gorm.DB, inv *Invoice, from, to Status, fields map[string]any) (*Invoice, error) {
	if inv.Status != from {
		return nil, errutil.InvalidTransition(fmt.Sprintf("invoice is %s, expected %s", inv.Status, from), nil)
	}

	fields["status"] = to
	res := tx.WithContext(ctx).Model(&Invoice{}).
		Where("id = ? AND status = ?", inv.ID, from).
		Updates(fields)
	if res.Error != nil {
		return nil, errutil.Internal("failed to update invoice", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("invoice changed concurrently", nil)
	}

	return s.withLineItems(ctx, tx, &Invoice{ID: inv.ID})
}

func (s *Service) withLineItems(ctx context.Context, db *gorm.DB, inv *Invoice) (*Invoice, error) {
	var out Invoice
	err := db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", inv.ID).
		Take(&out).Error
	if err != nil {
		return nil, errutil.Internal("failed to load invoice", err)
	}
	return &out, nil
}
