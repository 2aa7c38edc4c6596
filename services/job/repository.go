package job

import (
	"context"
	"fmt"

	"cleanops/pkg/db/option"
	"cleanops/pkg/errutil"
	"cleanops/pkg/metrics"
	"cleanops/pkg/repository"

	"gorm.io/gorm"
)

// Guard is the precondition of a conditional update. Assignee is only
// matched when set.
type Guard struct {
	ID       string
	Status   Status
	Assignee string
}

// Repository bundles the job tables. Lookups are scoped by business and
// return NotFound errors, so callers can hand them back unchanged.
type Repository struct {
	db         *gorm.DB
	jobs       repository.Repository[Job]
	properties repository.Repository[Property]
	cleaners   repository.Repository[Cleaner]
	photos     repository.Repository[Photo]
	overrides  repository.Repository[Override]
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:         db,
		jobs:       repository.ProvideStore[Job](db),
		properties: repository.ProvideStore[Property](db),
		cleaners:   repository.ProvideStore[Cleaner](db),
		photos:     repository.ProvideStore[Photo](db),
		overrides:  repository.ProvideStore[Override](db),
	}
}

func (r *Repository) WithTrx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{
		db:         tx,
		jobs:       r.jobs.WithTrx(tx),
		properties: r.properties.WithTrx(tx),
		cleaners:   r.cleaners.WithTrx(tx),
		photos:     r.photos.WithTrx(tx),
		overrides:  r.overrides.WithTrx(tx),
	}
}

func (r *Repository) Job(ctx context.Context, businessID, id string, opts ...option.QueryOption) (*Job, error) {
	j, err := r.jobs.FindOne(ctx, &Job{ID: id, BusinessID: businessID}, opts...)
	if err != nil {
		return nil, errutil.Internal("failed to load job", err)
	}
	if j == nil {
		return nil, errutil.NotFound("job not found", nil)
	}
	return j, nil
}

func (r *Repository) Jobs(ctx context.Context, query *Job, opts ...option.QueryOption) ([]*Job, error) {
	jobs, err := r.jobs.Find(ctx, query, opts...)
	if err != nil {
		return nil, errutil.Internal("failed to list jobs", err)
	}
	return jobs, nil
}

func (r *Repository) CreateJob(ctx context.Context, j *Job) error {
	if err := r.jobs.Create(ctx, j); err != nil {
		return errutil.Internal("failed to create job", err)
	}
	return nil
}

func (r *Repository) Property(ctx context.Context, businessID, id string) (*Property, error) {
	p, err := r.properties.FindOne(ctx, &Property{ID: id, BusinessID: businessID})
	if err != nil {
		return nil, errutil.Internal("failed to load property", err)
	}
	if p == nil {
		return nil, errutil.NotFound("property not found", nil)
	}
	return p, nil
}

func (r *Repository) CreateProperty(ctx context.Context, p *Property) error {
	if err := r.properties.Create(ctx, p); err != nil {
		return errutil.Internal("failed to create property", err)
	}
	return nil
}

// CreateJobs inserts jobs in batches, all or nothing.
func (r *Repository) CreateJobs(ctx context.Context, jobs []*Job) error {
	if err := r.jobs.BatchCreate(ctx, jobs); err != nil {
		return errutil.Internal("failed to create jobs", err)
	}
	return nil
}

func (r *Repository) Cleaner(ctx context.Context, businessID, id string) (*Cleaner, error) {
	c, err := r.cleaners.FindOne(ctx, &Cleaner{ID: id, BusinessID: businessID})
	if err != nil {
		return nil, errutil.Internal("failed to load cleaner", err)
	}
	if c == nil {
		return nil, errutil.NotFound("cleaner not found", nil)
	}
	return c, nil
}

// UpsertCleaner creates the cleaner or updates its name and default pay type.
// The pay type of invoices already open is not affected.
func (r *Repository) UpsertCleaner(ctx context.Context, c *Cleaner) (*Cleaner, error) {
	existing, err := r.cleaners.FindOne(ctx, &Cleaner{ID: c.ID})
	if err != nil {
		return nil, errutil.Internal("failed to load cleaner", err)
	}
	if existing == nil {
		if err := r.cleaners.Create(ctx, c); err != nil {
			return nil, errutil.Internal("failed to create cleaner", err)
		}
		return c, nil
	}
	if existing.BusinessID != c.BusinessID {
		return nil, errutil.Conflict("cleaner belongs to another business", nil)
	}

	err = r.cleaners.Update(ctx, c.ID, map[string]any{
		"name":     c.Name,
		"pay_type": c.PayType,
	})
	if err != nil {
		return nil, errutil.Internal("failed to update cleaner", err)
	}
	return r.Cleaner(ctx, c.BusinessID, c.ID)
}

func (r *Repository) CountPhotos(ctx context.Context, jobID string) (int64, error) {
	n, err := r.photos.Count(ctx, &Photo{JobID: jobID})
	if err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return n, nil
}

func (r *Repository) CreatePhoto(ctx context.Context, p *Photo) error {
	if err := r.photos.Create(ctx, p); err != nil {
		return errutil.Internal("failed to record photo", err)
	}
	return nil
}

func (r *Repository) CreateOverride(ctx context.Context, o *Override) error {
	if err := r.overrides.Create(ctx, o); err != nil {
		return errutil.Internal("failed to record override", err)
	}
	return nil
}

func (r *Repository) Overrides(ctx context.Context, jobID string) ([]*Override, error) {
	out, err := r.overrides.Find(ctx, &Override{JobID: jobID}, option.WithSortBy(option.QuerySortBy{SortBy: "id"}))
	if err != nil {
		return nil, errutil.Internal("failed to list overrides", err)
	}
	return out, nil
}

// CompareAndSwap applies fields only while the row still matches g. It
// reports false, and counts a lost race, when another writer got there first.
func (r *Repository) CompareAndSwap(ctx context.Context, operation string, g Guard, fields map[string]any) (bool, error) {
	q := r.db.WithContext(ctx).Model(&Job{}).Where("id = ? AND status = ?", g.ID, g.Status)
	if g.Assignee != "" {
		q = q.Where("assigned_cleaner_id = ?", g.Assignee)
	}

	res := q.Updates(fields)
	if res.Error != nil {
		return false, errutil.Internal(fmt.Sprintf("failed to %s job", operation), res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.CASLost(operation)
		return false, nil
	}
	return true, nil
}
