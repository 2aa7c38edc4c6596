package job

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"cleanops/pkg/access"
	"cleanops/pkg/config"
	"cleanops/pkg/db/option"
	"cleanops/pkg/db/pagination"
	"cleanops/pkg/errutil"
	"cleanops/pkg/logger"
	"cleanops/pkg/metrics"
	"cleanops/pkg/minio"
	"cleanops/services/conflict"
	"cleanops/services/event"
	"cleanops/services/geo"
	"cleanops/services/invoice"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const photoUploadExpiry = 15 * time.Minute

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	repo      *Repository
	gate      *Gate
	accruer   *invoice.Accruer
	authz     access.Authorizer
	publisher event.Publisher
	store     minio.Store
	photoCfg  config.PhotoStore
	now       func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Gate      *Gate
	Accruer   *invoice.Accruer
	Authz     access.Authorizer
	Publisher event.Publisher
	Store     minio.Store `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		repo:      NewRepository(p.DB),
		gate:      p.Gate,
		accruer:   p.Accruer,
		authz:     p.Authz,
		publisher: p.Publisher,
		store:     p.Store,
		photoCfg:  p.Config.PhotoStore,
		now:       time.Now,
	}
}

type CreateJobRequest struct {
	PropertyID      string     `json:"property_id" binding:"required"`
	Price           string     `json:"price" binding:"required"`
	PayTypeOverride string     `json:"pay_type_override"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
}

func (s *Service) CreateJob(ctx context.Context, actor access.Actor, req CreateJobRequest) (*Job, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionCreate); err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		return nil, errutil.ValidationFailed("price must be a non-negative amount", err,
			errutil.WithDetails(errutil.Detail{Field: "price", Message: "invalid amount"}))
	}
	payType, ok := invoice.ParsePayType(req.PayTypeOverride)
	if !ok {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown pay type %q", req.PayTypeOverride), nil)
	}

	if _, err := s.repo.Property(ctx, actor.BusinessID, req.PropertyID); err != nil {
		return nil, err
	}

	j := &Job{
		ID:              s.node.Generate().String(),
		BusinessID:      actor.BusinessID,
		PropertyID:      req.PropertyID,
		Status:          StatusAvailable,
		Price:           price.Round(2),
		PayTypeOverride: payType,
		ScheduledAt:     req.ScheduledAt,
	}
	if err := s.repo.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info("job created",
		zap.String("job_id", j.ID),
		zap.String("property_id", j.PropertyID),
		zap.String("manager_id", actor.ID),
	)
	return j, nil
}

// GetJob returns a job in the caller's business. Cleaners only see jobs
// that are available or assigned to them.
func (s *Service) GetJob(ctx context.Context, actor access.Actor, id string) (*Job, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionRead); err != nil {
		return nil, err
	}

	j, err := s.repo.Job(ctx, actor.BusinessID, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsManager() && j.Status != StatusAvailable && !j.AssignedTo(actor.ID) {
		return nil, errutil.NotFound("job not found", nil)
	}
	return j, nil
}

type ListRequest struct {
	Status Status `form:"status"`
	// ScheduledFrom and ScheduledBefore bound scheduled_at, [from, before).
	ScheduledFrom   *time.Time `form:"scheduled_from" time_format:"2006-01-02T15:04:05Z07:00"`
	ScheduledBefore *time.Time `form:"scheduled_before" time_format:"2006-01-02T15:04:05Z07:00"`
	pagination.Pagination
}

type ListResponse struct {
	Jobs     []*Job               `json:"jobs"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func (s *Service) ListJobs(ctx context.Context, actor access.Actor, req ListRequest) (*ListResponse, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionRead); err != nil {
		return nil, err
	}
	if req.Status != "" && !req.Status.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown job status %q", req.Status), nil)
	}
	if req.ScheduledFrom != nil && req.ScheduledBefore != nil && !req.ScheduledBefore.After(*req.ScheduledFrom) {
		return nil, errutil.ValidationFailed("scheduled_before must be after scheduled_from", nil)
	}

	paged, err := option.ApplyPagination(req.Pagination)
	if err != nil {
		return nil, errutil.BadRequest("invalid pagination cursor", err)
	}

	opts := []option.QueryOption{paged}
	if window := scheduledWindow(req); len(window) > 0 {
		opts = append(opts, option.ApplyOperator(window...))
	}
	if !actor.IsManager() {
		opts = append(opts, func(db *gorm.DB) *gorm.DB {
			return db.Where("(status = ? OR assigned_cleaner_id = ?)", StatusAvailable, actor.ID)
		})
	}

	jobs, err := s.repo.Jobs(ctx, &Job{BusinessID: actor.BusinessID, Status: req.Status}, opts...)
	if err != nil {
		return nil, err
	}

	jobs, page, err := pagination.Page(jobs, req.Size(), func(j *Job) string { return j.ID })
	if err != nil {
		return nil, errutil.Internal("failed to build page", err)
	}

	return &ListResponse{Jobs: jobs, PageInfo: page}, nil
}

func scheduledWindow(req ListRequest) []option.Condition {
	var conds []option.Condition
	if req.ScheduledFrom != nil {
		conds = append(conds, option.Condition{Field: "scheduled_at", Operator: option.GTE, Value: req.ScheduledFrom.UTC()})
	}
	if req.ScheduledBefore != nil {
		conds = append(conds, option.Condition{Field: "scheduled_at", Operator: option.LT, Value: req.ScheduledBefore.UTC()})
	}
	return conds
}

// Accept assigns an available job to the calling cleaner. Of concurrent
// callers exactly one wins; the others get a Conflict.
func (s *Service) Accept(ctx context.Context, actor access.Actor, id string) (*Job, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionAccept); err != nil {
		return nil, err
	}

	var out *Job
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		if _, err := repo.Cleaner(ctx, actor.BusinessID, actor.ID); err != nil {
			return err
		}

		j, err := repo.Job(ctx, actor.BusinessID, id)
		if err != nil {
			return err
		}
		if j.Status == StatusAccepted {
			return errutil.Conflict("job was already accepted by another cleaner", nil)
		}
		to, err := Transition(ctx, j.Status, TriggerAccept)
		if err != nil {
			return err
		}

		ok, err := repo.CompareAndSwap(ctx, "accept", Guard{ID: j.ID, Status: j.Status}, map[string]any{
			"status":              to,
			"assigned_cleaner_id": actor.ID,
			"accepted_at":         s.now().UTC(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return errutil.Conflict("job was already accepted by another cleaner", nil)
		}

		out, err = repo.Job(ctx, actor.BusinessID, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, out, StatusAvailable, actor)
	s.publisher.Publish(ctx, event.JobAccepted{
		Envelope:  event.NewEnvelope(s.node, out.BusinessID, actor.ID),
		JobID:     out.ID,
		CleanerID: actor.ID,
	})
	return out, nil
}

// Start moves an accepted job to in_progress. The start location is stored
// as reported; it is range checked but never gates the transition.
func (s *Service) Start(ctx context.Context, actor access.Actor, id string, lat, lng float64) (*Job, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionStart); err != nil {
		return nil, err
	}
	if err := geo.ValidateCoordinates(geo.Point{Lat: lat, Lng: lng}); err != nil {
		return nil, err
	}

	var out *Job
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		j, err := s.assigned(ctx, repo, actor, id)
		if err != nil {
			return err
		}
		to, err := Transition(ctx, j.Status, TriggerStart)
		if err != nil {
			return err
		}

		ok, err := repo.CompareAndSwap(ctx, "start", Guard{ID: j.ID, Status: j.Status, Assignee: actor.ID}, map[string]any{
			"status":        to,
			"started_at":    s.now().UTC(),
			"gps_start_lat": lat,
			"gps_start_lng": lng,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errutil.Conflict("job changed while starting, reload and retry", nil)
		}

		out, err = repo.Job(ctx, actor.BusinessID, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, out, StatusAccepted, actor)
	s.publisher.Publish(ctx, event.JobStarted{
		Envelope:  event.NewEnvelope(s.node, out.BusinessID, actor.ID),
		JobID:     out.ID,
		CleanerID: actor.ID,
	})
	return out, nil
}

// Complete finishes an in-progress job. Conflicts park it in needs_review
// instead of failing; a clean completion accrues the job to the cleaner's
// open invoice in the same transaction. Completing again returns the
// stored outcome without side effects.
func (s *Service) Complete(ctx context.Context, actor access.Actor, id string, lat, lng float64) (*Result, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionComplete); err != nil {
		return nil, err
	}
	end := geo.Point{Lat: lat, Lng: lng}
	if err := geo.ValidateCoordinates(end); err != nil {
		return nil, err
	}

	var (
		out     *Result
		events  []event.Event
		changed bool
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		j, err := s.assigned(ctx, repo, actor, id)
		if err != nil {
			return err
		}

		if j.Status == StatusCompleted || j.Status == StatusNeedsReview {
			out, err = s.settled(ctx, tx, j)
			return err
		}
		to, err := Transition(ctx, j.Status, TriggerComplete)
		if err != nil {
			return err
		}

		property, err := repo.Property(ctx, j.BusinessID, j.PropertyID)
		if err != nil {
			return err
		}
		conflicts, err := s.gate.Inspect(ctx, tx, j, property, &end)
		if err != nil {
			return errutil.Internal("failed to inspect job", err)
		}

		if len(conflicts) > 0 {
			if to, err = Transition(ctx, j.Status, TriggerFlag); err != nil {
				return err
			}
		}

		ok, err := repo.CompareAndSwap(ctx, "complete", Guard{ID: j.ID, Status: j.Status, Assignee: actor.ID}, map[string]any{
			"status":       to,
			"completed_at": s.now().UTC(),
			"gps_end_lat":  lat,
			"gps_end_lng":  lng,
		})
		if err != nil {
			return err
		}
		if !ok {
			current, err := repo.Job(ctx, actor.BusinessID, id)
			if err != nil {
				return err
			}
			if current.Status == StatusCompleted || current.Status == StatusNeedsReview {
				out, err = s.settled(ctx, tx, current)
				return err
			}
			return errutil.Conflict("job changed while completing, reload and retry", nil)
		}

		j, err = repo.Job(ctx, actor.BusinessID, id)
		if err != nil {
			return err
		}
		changed = true
		out = &Result{Job: j, Conflicts: conflicts}

		if to == StatusNeedsReview {
			events = append(events, event.JobNeedsReview{
				Envelope:  event.NewEnvelope(s.node, j.BusinessID, actor.ID),
				JobID:     j.ID,
				CleanerID: actor.ID,
				Conflicts: conflict.TypeStrings(conflicts),
			})
			return nil
		}

		_, accrued, err := AccrueJob(ctx, tx, s.accruer, s.node, actor.ID, j)
		if err != nil {
			return err
		}
		events = append(events, event.JobCompleted{
			Envelope:  event.NewEnvelope(s.node, j.BusinessID, actor.ID),
			JobID:     j.ID,
			CleanerID: actor.ID,
		})
		events = append(events, accrued...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !changed {
		logger.Ctx(ctx).Info("job already completed",
			zap.String("job_id", out.Job.ID),
			zap.String("status", string(out.Job.Status)),
		)
		return out, nil
	}

	Count(out.Conflicts)
	if len(out.Conflicts) > 0 {
		logger.Ctx(ctx).Info("job needs review",
			zap.String("job_id", out.Job.ID),
			zap.Strings("conflicts", conflict.TypeStrings(out.Conflicts)),
		)
	}
	s.transitioned(ctx, out.Job, StatusInProgress, actor)
	s.publisher.Publish(ctx, events...)
	return out, nil
}

// settled is the idempotent answer for a job that already left in_progress.
func (s *Service) settled(ctx context.Context, tx *gorm.DB, j *Job) (*Result, error) {
	if j.Status == StatusCompleted {
		return &Result{Job: j, Conflicts: []conflict.Conflict{}}, nil
	}

	conflicts, err := s.gate.Stored(ctx, tx, j)
	if err != nil {
		return nil, err
	}
	return &Result{Job: j, Conflicts: conflicts}, nil
}

// Reassign moves a job that has not started to another cleaner, or back to
// available when cleanerID is empty. Assigning an available job accepts it
// on the cleaner's behalf.
func (s *Service) Reassign(ctx context.Context, actor access.Actor, id, cleanerID string) (*Job, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionReassign); err != nil {
		return nil, err
	}

	var (
		out  *Job
		from string
		prev Status
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		j, err := repo.Job(ctx, actor.BusinessID, id)
		if err != nil {
			return err
		}

		if j.Status == StatusInProgress || j.Status == StatusCompleted {
			return errutil.Forbidden(fmt.Sprintf("job is %s and can no longer be reassigned", j.Status), nil)
		}
		trigger := TriggerReassign
		if cleanerID == "" {
			trigger = TriggerRelease
		}
		to, err := Transition(ctx, j.Status, trigger)
		if err != nil {
			return err
		}

		if cleanerID != "" {
			if _, err := repo.Cleaner(ctx, actor.BusinessID, cleanerID); err != nil {
				return err
			}
		}

		from, prev = j.Assignee(), j.Status
		if from == cleanerID {
			out = j
			return nil
		}

		fields := map[string]any{"status": to, "assigned_cleaner_id": cleanerID}
		switch {
		case to == StatusAvailable:
			fields["assigned_cleaner_id"] = nil
			fields["accepted_at"] = nil
		case j.Status == StatusAvailable:
			fields["accepted_at"] = s.now().UTC()
		}

		ok, err := repo.CompareAndSwap(ctx, "reassign", Guard{ID: j.ID, Status: j.Status, Assignee: from}, fields)
		if err != nil {
			return err
		}
		if !ok {
			return errutil.Conflict("job changed while reassigning, reload and retry", nil)
		}

		out, err = repo.Job(ctx, actor.BusinessID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if from == cleanerID {
		return out, nil
	}

	logger.Ctx(ctx).Info("job reassigned",
		zap.String("job_id", out.ID),
		zap.String("from_cleaner", from),
		zap.String("to_cleaner", cleanerID),
		zap.String("manager_id", actor.ID),
	)
	if prev != out.Status {
		s.transitioned(ctx, out, prev, actor)
	}
	s.publisher.Publish(ctx, event.JobReassigned{
		Envelope:    event.NewEnvelope(s.node, out.BusinessID, actor.ID),
		JobID:       out.ID,
		FromCleaner: from,
		ToCleaner:   cleanerID,
		Status:      string(out.Status),
	})
	return out, nil
}

// ReportAccessDenied flags a job the cleaner could not get into. The flag
// becomes an access_denied conflict at completion.
func (s *Service) ReportAccessDenied(ctx context.Context, actor access.Actor, id, note string) (*Job, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionReportAccess); err != nil {
		return nil, err
	}

	var out *Job
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		j, err := s.assigned(ctx, repo, actor, id)
		if err != nil {
			return err
		}
		if _, err := Transition(ctx, j.Status, TriggerReportAccess); err != nil {
			return err
		}

		fields := map[string]any{"access_denied": true}
		if note = strings.TrimSpace(note); note != "" {
			fields["access_denied_note"] = note
		}
		ok, err := repo.CompareAndSwap(ctx, "report_access", Guard{ID: j.ID, Status: j.Status, Assignee: actor.ID}, fields)
		if err != nil {
			return err
		}
		if !ok {
			return errutil.Conflict("job changed while reporting access, reload and retry", nil)
		}

		out, err = repo.Job(ctx, actor.BusinessID, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Warn("access denied reported", zap.String("job_id", out.ID), zap.String("cleaner_id", actor.ID))
	return out, nil
}

// RecordPhoto registers an uploaded photo for a job.
func (s *Service) RecordPhoto(ctx context.Context, actor access.Actor, id, objectKey string) (*Photo, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionRecordPhoto); err != nil {
		return nil, err
	}
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil, errutil.ValidationFailed("object_key is required", nil)
	}

	j, err := s.assigned(ctx, s.repo, actor, id)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(ctx, j.Status, TriggerRecordPhoto); err != nil {
		return nil, err
	}
	if s.photoCfg.Type == config.PhotoStoreMinio && !strings.HasPrefix(objectKey, PhotoPrefix(s.photoCfg.Prefix, j)) {
		return nil, errutil.ValidationFailed("object_key is outside the job's photo prefix", nil)
	}

	photo := &Photo{
		ID:         s.node.Generate().String(),
		JobID:      j.ID,
		BusinessID: j.BusinessID,
		CleanerID:  actor.ID,
		ObjectKey:  objectKey,
	}
	if err := s.repo.CreatePhoto(ctx, photo); err != nil {
		return nil, err
	}
	return photo, nil
}

type PhotoUpload struct {
	ObjectKey string    `json:"object_key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PhotoUploadURL presigns an object store upload under the job's prefix.
func (s *Service) PhotoUploadURL(ctx context.Context, actor access.Actor, id, filename string) (*PhotoUpload, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionRecordPhoto); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, errutil.NotImplemented("photo uploads are not configured", nil)
	}

	j, err := s.assigned(ctx, s.repo, actor, id)
	if err != nil {
		return nil, err
	}

	key := PhotoPrefix(s.photoCfg.Prefix, j) + s.node.Generate().String() + path.Ext(filename)
	u, err := s.store.PresignedPutURL(ctx, key, photoUploadExpiry)
	if err != nil {
		return nil, errutil.BadGateway("failed to presign photo upload", err)
	}

	return &PhotoUpload{
		ObjectKey: key,
		URL:       u.String(),
		ExpiresAt: s.now().UTC().Add(photoUploadExpiry),
	}, nil
}

type CreatePropertyRequest struct {
	Name    string   `json:"name" binding:"required"`
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

func (s *Service) CreateProperty(ctx context.Context, actor access.Actor, req CreatePropertyRequest) (*Property, error) {
	if err := s.authz.Authorize(actor, access.ObjectProperty, access.ActionWrite); err != nil {
		return nil, err
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		return nil, errutil.ValidationFailed("lat and lng must be given together", nil)
	}
	if p := geo.PointOf(req.Lat, req.Lng); p != nil {
		if err := geo.ValidateCoordinates(*p); err != nil {
			return nil, err
		}
	}

	p := &Property{
		ID:         s.node.Generate().String(),
		BusinessID: actor.BusinessID,
		Name:       req.Name,
		Address:    req.Address,
		Lat:        req.Lat,
		Lng:        req.Lng,
	}
	if err := s.repo.CreateProperty(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

type UpsertCleanerRequest struct {
	Name    string `json:"name" binding:"required"`
	PayType string `json:"pay_type"`
}

func (s *Service) UpsertCleaner(ctx context.Context, actor access.Actor, id string, req UpsertCleanerRequest) (*Cleaner, error) {
	if err := s.authz.Authorize(actor, access.ObjectCleaner, access.ActionWrite); err != nil {
		return nil, err
	}
	payType, ok := invoice.ParsePayType(req.PayType)
	if !ok {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown pay type %q", req.PayType), nil)
	}

	return s.repo.UpsertCleaner(ctx, &Cleaner{
		ID:         id,
		BusinessID: actor.BusinessID,
		Name:       req.Name,
		PayType:    payType,
	})
}

// assigned loads a job the actor must be assigned to.
func (s *Service) assigned(ctx context.Context, repo *Repository, actor access.Actor, id string) (*Job, error) {
	j, err := repo.Job(ctx, actor.BusinessID, id)
	if err != nil {
		return nil, err
	}
	if !j.AssignedTo(actor.ID) {
		return nil, errutil.Forbidden("job is not assigned to you", nil)
	}
	return j, nil
}

func (s *Service) transitioned(ctx context.Context, j *Job, from Status, actor access.Actor) {
	metrics.JobTransition(string(from), string(j.Status))
	logger.Ctx(ctx).Info("job transitioned",
		zap.String("job_id", j.ID),
		zap.String("from", string(from)),
		zap.String("to", string(j.Status)),
		zap.String("actor_id", actor.ID),
	)
}

func invalidTransition(status Status, action string) error {
	return errutil.InvalidTransition(fmt.Sprintf("cannot %s a job that is %s", action, status), nil)
}
