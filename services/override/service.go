package override

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cleanops/pkg/access"
	"cleanops/pkg/config"
	"cleanops/pkg/errutil"
	"cleanops/pkg/logger"
	"cleanops/pkg/metrics"
	"cleanops/services/conflict"
	"cleanops/services/event"
	"cleanops/services/geo"
	"cleanops/services/invoice"
	"cleanops/services/job"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	repo      *job.Repository
	gate      *job.Gate
	accruer   *invoice.Accruer
	authz     access.Authorizer
	publisher event.Publisher
	minReason int
	now       func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Gate      *job.Gate
	Accruer   *invoice.Accruer
	Authz     access.Authorizer
	Publisher event.Publisher
}

func NewService(p ServiceParams) *Service {
	minReason := p.Config.Jobs.OverrideReasonMinLength
	if minReason <= 0 {
		minReason = 10
	}

	return &Service{
		db:        p.DB,
		node:      p.Node,
		repo:      job.NewRepository(p.DB),
		gate:      p.Gate,
		accruer:   p.Accruer,
		authz:     p.Authz,
		publisher: p.Publisher,
		minReason: minReason,
		now:       time.Now,
	}
}

// Outcome is what a manager decision did to a job.
type Outcome struct {
	Job       *job.Job            `json:"job"`
	Override  *job.Override       `json:"override"`
	Resolved  []conflict.Conflict `json:"resolved"`
	Remaining []conflict.Conflict `json:"remaining"`
	LineItem  *invoice.LineItem   `json:"line_item,omitempty"`
}

// DetectConflicts is a dry run of completion checks. The location defaults
// to the one the cleaner recorded.
func (s *Service) DetectConflicts(ctx context.Context, actor access.Actor, id string, lat, lng *float64) (*job.Result, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionOverride); err != nil {
		return nil, err
	}
	at, err := location(lat, lng)
	if err != nil {
		return nil, err
	}

	var (
		j        *job.Job
		property *job.Property
		photos   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if j, err = s.repo.Job(gctx, actor.BusinessID, id); err != nil {
			return err
		}
		property, err = s.repo.Property(gctx, actor.BusinessID, j.PropertyID)
		return err
	})
	g.Go(func() error {
		var err error
		photos, err = s.gate.Photos().CountPhotos(gctx, s.db, &job.Job{ID: id, BusinessID: actor.BusinessID})
		if err != nil {
			return errutil.Internal("failed to count photos", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if at == nil {
		at = j.EndPoint()
	}
	return &job.Result{Job: j, Conflicts: s.gate.Detect(ctx, j, property, at, photos)}, nil
}

// OverrideCompletion forces a job in review to completed, bypassing every
// outstanding conflict, and still accrues it to the cleaner's invoice.
func (s *Service) OverrideCompletion(ctx context.Context, actor access.Actor, id, reason string, lat, lng *float64) (*Outcome, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionOverride); err != nil {
		return nil, err
	}
	reason, err := s.reason(reason)
	if err != nil {
		return nil, err
	}
	if _, err := location(lat, lng); err != nil {
		return nil, err
	}

	var (
		out    *Outcome
		events []event.Event
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		j, err := repo.Job(ctx, actor.BusinessID, id)
		if err != nil {
			return err
		}
		completed, err := job.Transition(ctx, j.Status, job.TriggerOverride)
		if err != nil {
			return err
		}

		bypassed, err := s.gate.Stored(ctx, tx, j)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		ok, err := repo.CompareAndSwap(ctx, "override", job.Guard{ID: j.ID, Status: j.Status}, map[string]any{
			"status":          completed,
			"overridden_by":   actor.ID,
			"override_reason": reason,
			"overridden_at":   now,
			"override_status": completed,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errutil.Conflict("job changed while overriding, reload and retry", nil)
		}

		record, err := s.record(ctx, repo, j, actor, job.OverrideComplete, reason, bypassed, lat, lng, completed)
		if err != nil {
			return err
		}

		if j, err = repo.Job(ctx, actor.BusinessID, id); err != nil {
			return err
		}
		accrual, accrued, err := job.AccrueJob(ctx, tx, s.accruer, s.node, actor.ID, j)
		if err != nil {
			return err
		}

		out = &Outcome{
			Job:       j,
			Override:  record,
			Resolved:  bypassed,
			Remaining: []conflict.Conflict{},
			LineItem:  accrual.LineItem,
		}
		events = append(events,
			event.JobOverridden{
				Envelope:  event.NewEnvelope(s.node, j.BusinessID, actor.ID),
				JobID:     j.ID,
				CleanerID: j.Assignee(),
				Reason:    reason,
				Bypassed:  conflict.TypeStrings(bypassed),
			},
			event.JobCompleted{
				Envelope:   event.NewEnvelope(s.node, j.BusinessID, actor.ID),
				JobID:      j.ID,
				CleanerID:  j.Assignee(),
				Overridden: true,
			},
		)
		events = append(events, accrued...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info("job completion overridden",
		zap.String("job_id", out.Job.ID),
		zap.String("manager_id", actor.ID),
		zap.String("reason", reason),
		zap.Strings("bypassed", conflict.TypeStrings(out.Resolved)),
	)
	metrics.Override(string(job.OverrideComplete))
	metrics.JobTransition(string(job.StatusNeedsReview), string(job.StatusCompleted))
	s.publisher.Publish(ctx, events...)
	return out, nil
}

// ResolveGPSConflict clears the location conflict of a job in review. The
// job completes when nothing else blocks it.
func (s *Service) ResolveGPSConflict(ctx context.Context, actor access.Actor, id, reason string, lat, lng *float64) (*Outcome, error) {
	if _, err := location(lat, lng); err != nil {
		return nil, err
	}
	return s.resolve(ctx, actor, id, reason, job.OverrideResolveGPS, lat, lng)
}

// ResolvePhotoConflict clears the missing photos conflict of a job in review.
func (s *Service) ResolvePhotoConflict(ctx context.Context, actor access.Actor, id, reason string) (*Outcome, error) {
	return s.resolve(ctx, actor, id, reason, job.OverrideResolvePhotos, nil, nil)
}

func (s *Service) resolve(ctx context.Context, actor access.Actor, id, reason string, kind job.OverrideKind, lat, lng *float64) (*Outcome, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionResolve); err != nil {
		return nil, err
	}
	reason, err := s.reason(reason)
	if err != nil {
		return nil, err
	}

	var (
		out    *Outcome
		events []event.Event
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		j, err := repo.Job(ctx, actor.BusinessID, id)
		if err != nil {
			return err
		}
		if j.Status != job.StatusNeedsReview {
			return errutil.BadRequest(fmt.Sprintf("job is %s, there is no conflict to resolve", j.Status), nil)
		}

		current, err := s.gate.Stored(ctx, tx, j)
		if err != nil {
			return err
		}
		resolved, remaining := split(current, kind)
		if len(resolved) == 0 {
			return errutil.BadRequest(fmt.Sprintf("job has no %s conflict to resolve", family(kind)), nil)
		}

		trigger := job.TriggerResolve
		if len(remaining) == 0 {
			trigger = job.TriggerOverride
		}
		to, err := job.Transition(ctx, j.Status, trigger)
		if err != nil {
			return err
		}

		fields := map[string]any{
			"overridden_by":   actor.ID,
			"override_reason": reason,
			"overridden_at":   s.now().UTC(),
			"override_status": to,
		}
		if kind == job.OverrideResolveGPS {
			fields["gps_overridden"] = true
		} else {
			fields["photos_overridden"] = true
		}
		if to != j.Status {
			fields["status"] = to
		}

		ok, err := repo.CompareAndSwap(ctx, string(kind), job.Guard{ID: j.ID, Status: j.Status}, fields)
		if err != nil {
			return err
		}
		if !ok {
			return errutil.Conflict("job changed while resolving, reload and retry", nil)
		}

		record, err := s.record(ctx, repo, j, actor, kind, reason, resolved, lat, lng, to)
		if err != nil {
			return err
		}
		if j, err = repo.Job(ctx, actor.BusinessID, id); err != nil {
			return err
		}

		out = &Outcome{Job: j, Override: record, Resolved: resolved, Remaining: remaining}
		events = append(events, event.ConflictResolved{
			Envelope:  event.NewEnvelope(s.node, j.BusinessID, actor.ID),
			JobID:     j.ID,
			Conflict:  family(kind),
			Reason:    reason,
			JobStatus: string(to),
		})

		if to != job.StatusCompleted {
			return nil
		}

		accrual, accrued, err := job.AccrueJob(ctx, tx, s.accruer, s.node, actor.ID, j)
		if err != nil {
			return err
		}
		out.LineItem = accrual.LineItem
		events = append(events, event.JobCompleted{
			Envelope:   event.NewEnvelope(s.node, j.BusinessID, actor.ID),
			JobID:      j.ID,
			CleanerID:  j.Assignee(),
			Overridden: true,
		})
		events = append(events, accrued...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info("job conflict resolved",
		zap.String("job_id", out.Job.ID),
		zap.String("manager_id", actor.ID),
		zap.String("kind", string(kind)),
		zap.String("reason", reason),
		zap.Strings("resolved", conflict.TypeStrings(out.Resolved)),
		zap.String("status", string(out.Job.Status)),
	)
	metrics.Override(string(kind))
	if out.Job.Status == job.StatusCompleted {
		metrics.JobTransition(string(job.StatusNeedsReview), string(job.StatusCompleted))
	}
	s.publisher.Publish(ctx, events...)
	return out, nil
}

// ResetJob sends a job in review back to available for another cleaner.
// The previous cycle survives only in the override record.
func (s *Service) ResetJob(ctx context.Context, actor access.Actor, id, reason string) (*Outcome, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionReset); err != nil {
		return nil, err
	}
	reason, err := s.reason(reason)
	if err != nil {
		return nil, err
	}

	var (
		out  *Outcome
		from string
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		j, err := repo.Job(ctx, actor.BusinessID, id)
		if err != nil {
			return err
		}
		to, err := job.Transition(ctx, j.Status, job.TriggerReset)
		if err != nil {
			return err
		}

		snapshot, err := s.gate.Stored(ctx, tx, j)
		if err != nil {
			return err
		}

		from = j.Assignee()
		ok, err := repo.CompareAndSwap(ctx, "reset", job.Guard{ID: j.ID, Status: j.Status}, map[string]any{
			"status":              to,
			"assigned_cleaner_id": nil,
			"accepted_at":         nil,
			"started_at":          nil,
			"completed_at":        nil,
			"gps_start_lat":       nil,
			"gps_start_lng":       nil,
			"gps_end_lat":         nil,
			"gps_end_lng":         nil,
			"access_denied":       false,
			"access_denied_note":  nil,
			"gps_overridden":      false,
			"photos_overridden":   false,
			"overridden_by":       nil,
			"override_reason":     nil,
			"overridden_at":       nil,
			"override_status":     nil,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errutil.Conflict("job changed while resetting, reload and retry", nil)
		}

		record, err := s.record(ctx, repo, j, actor, job.OverrideReset, reason, snapshot, nil, nil, to)
		if err != nil {
			return err
		}
		if j, err = repo.Job(ctx, actor.BusinessID, id); err != nil {
			return err
		}

		out = &Outcome{Job: j, Override: record, Resolved: snapshot, Remaining: []conflict.Conflict{}}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info("job reset",
		zap.String("job_id", out.Job.ID),
		zap.String("manager_id", actor.ID),
		zap.String("from_cleaner", from),
		zap.String("reason", reason),
		zap.Strings("conflicts", conflict.TypeStrings(out.Resolved)),
	)
	metrics.Override(string(job.OverrideReset))
	metrics.JobTransition(string(job.StatusNeedsReview), string(job.StatusAvailable))
	s.publisher.Publish(ctx, event.JobReset{
		Envelope:    event.NewEnvelope(s.node, out.Job.BusinessID, actor.ID),
		JobID:       out.Job.ID,
		FromCleaner: from,
		Reason:      reason,
	})
	return out, nil
}

// History lists the override records of a job, oldest first.
func (s *Service) History(ctx context.Context, actor access.Actor, id string) ([]*job.Override, error) {
	if err := s.authz.Authorize(actor, access.ObjectJob, access.ActionOverride); err != nil {
		return nil, err
	}
	if _, err := s.repo.Job(ctx, actor.BusinessID, id); err != nil {
		return nil, err
	}
	return s.repo.Overrides(ctx, id)
}

func (s *Service) record(ctx context.Context, repo *job.Repository, j *job.Job, actor access.Actor, kind job.OverrideKind, reason string, conflicts []conflict.Conflict, lat, lng *float64, result job.Status) (*job.Override, error) {
	raw, err := json.Marshal(conflicts)
	if err != nil {
		return nil, errutil.Internal("failed to encode conflicts", err)
	}

	o := &job.Override{
		ID:           s.node.Generate().String(),
		JobID:        j.ID,
		BusinessID:   j.BusinessID,
		Kind:         kind,
		ManagerID:    actor.ID,
		Reason:       reason,
		Conflicts:    datatypes.JSON(raw),
		Lat:          lat,
		Lng:          lng,
		ResultStatus: result,
	}
	if err := repo.CreateOverride(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) reason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < s.minReason {
		return "", errutil.ValidationFailed(
			fmt.Sprintf("reason must be at least %d characters", s.minReason), nil,
			errutil.WithDetails(errutil.Detail{Field: "reason", Message: "too short"}))
	}
	return reason, nil
}

// location validates optional manager coordinates; both or neither.
func location(lat, lng *float64) (*geo.Point, error) {
	if (lat == nil) != (lng == nil) {
		return nil, errutil.ValidationFailed("lat and lng must be given together", nil)
	}
	p := geo.PointOf(lat, lng)
	if p == nil {
		return nil, nil
	}
	if err := geo.ValidateCoordinates(*p); err != nil {
		return nil, err
	}
	return p, nil
}

func split(cs []conflict.Conflict, kind job.OverrideKind) (resolved, remaining []conflict.Conflict) {
	resolved, remaining = []conflict.Conflict{}, []conflict.Conflict{}
	for _, c := range cs {
		if inFamily(c.Type, kind) {
			resolved = append(resolved, c)
		} else {
			remaining = append(remaining, c)
		}
	}
	return resolved, remaining
}

func inFamily(t conflict.Type, kind job.OverrideKind) bool {
	switch kind {
	case job.OverrideResolveGPS:
		return t.IsGPS()
	case job.OverrideResolvePhotos:
		return t == conflict.MissingPhotos
	default:
		return false
	}
}

func family(kind job.OverrideKind) string {
	if kind == job.OverrideResolveGPS {
		return "gps"
	}
	return string(conflict.MissingPhotos)
}
