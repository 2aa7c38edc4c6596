package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cleanops/pkg/access"
	"cleanops/pkg/config"
	"cleanops/pkg/db/option"
	"cleanops/pkg/db/pagination"
	"cleanops/pkg/errutil"
	"cleanops/pkg/repository"
	"cleanops/pkg/taskname"
	"cleanops/services/conflict"
	"cleanops/services/event"
	"cleanops/services/invoice"
	"cleanops/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const (
	propertyLat = 40.712812
	propertyLng = -74.006015
	// ~200m north of the property.
	farLat = 40.714612
)

var (
	cleanerA = access.Actor{ID: "cleaner-1", Role: access.RoleCleaner, BusinessID: "biz-1"}
	cleanerB = access.Actor{ID: "cleaner-2", Role: access.RoleCleaner, BusinessID: "biz-1"}
	manager  = access.Actor{ID: "manager-1", Role: access.RoleManager, BusinessID: "biz-1"}
)

type fixture struct {
	db       *gorm.DB
	svc      *Service
	recorder *event.Recorder
	property *Property
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, Models()...)
	require.NoError(t, invoice.Migrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	authz, err := access.NewDefaultAuthorizer()
	require.NoError(t, err)

	cfg := &config.Config{
		Jobs:       config.Jobs{GPSRadiusMeters: 50, MinCoordinateDecimals: 4, OverrideReasonMinLength: 10},
		Invoice:    config.Invoice{PeriodDays: 14, Currency: "USD"},
		PhotoStore: config.PhotoStore{Type: config.PhotoStoreDatabase, Prefix: "jobs"},
	}

	rec := &event.Recorder{}
	svc := NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Config: cfg,
		Gate:   NewGate(GateParams{Config: cfg}),
		Accruer: invoice.NewAccruer(invoice.AccruerParams{
			DB:       db,
			Node:     node,
			Sequence: &testutil.Sequence{},
			Config:   cfg,
		}),
		Authz:     authz,
		Publisher: rec,
	})

	lat, lng := propertyLat, propertyLng
	property, err := svc.CreateProperty(context.Background(), manager, CreatePropertyRequest{
		Name: "Harbor Loft",
		Lat:  &lat,
		Lng:  &lng,
	})
	require.NoError(t, err)

	for _, a := range []access.Actor{cleanerA, cleanerB} {
		_, err := svc.UpsertCleaner(context.Background(), manager, a.ID, UpsertCleanerRequest{Name: a.ID})
		require.NoError(t, err)
	}

	return &fixture{db: db, svc: svc, recorder: rec, property: property}
}

func (f *fixture) newJob(t *testing.T, price string, payType invoice.PayType) *Job {
	t.Helper()
	j, err := f.svc.CreateJob(context.Background(), manager, CreateJobRequest{
		PropertyID:      f.property.ID,
		Price:           price,
		PayTypeOverride: string(payType),
	})
	require.NoError(t, err)
	return j
}

// started returns a job accepted and started by actor.
func (f *fixture) started(t *testing.T, actor access.Actor, price string) *Job {
	t.Helper()
	ctx := context.Background()
	j := f.newJob(t, price, "")

	_, err := f.svc.Accept(ctx, actor, j.ID)
	require.NoError(t, err)
	j, err = f.svc.Start(ctx, actor, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	return j
}

func (f *fixture) addPhotos(t *testing.T, actor access.Actor, j *Job, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.svc.RecordPhoto(context.Background(), actor, j.ID, "jobs/photo.jpg")
		require.NoError(t, err)
	}
}

func (f *fixture) lineItems(t *testing.T, jobID string) []invoice.LineItem {
	t.Helper()
	var items []invoice.LineItem
	require.NoError(t, f.db.Where("job_id = ?", jobID).Find(&items).Error)
	return items
}

func TestAcceptRaceHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.newJob(t, "100", "")

	var contenders []access.Actor
	for i := 0; i < 6; i++ {
		a := access.Actor{ID: "racer-" + string(rune('a'+i)), Role: access.RoleCleaner, BusinessID: "biz-1"}
		_, err := f.svc.UpsertCleaner(ctx, manager, a.ID, UpsertCleanerRequest{Name: a.ID})
		require.NoError(t, err)
		contenders = append(contenders, a)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for _, a := range contenders {
		wg.Add(1)
		go func(a access.Actor) {
			defer wg.Done()
			_, err := f.svc.Accept(ctx, a, j.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, a.ID)
			case errutil.Is(err, errutil.StatusConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(a)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Equal(t, len(contenders)-1, conflicts)

	got, err := f.svc.GetJob(ctx, manager, j.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, got.Status)
	require.Equal(t, winners[0], got.Assignee())
	require.NotNil(t, got.AcceptedAt)
}

func TestAcceptRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.started(t, cleanerA, "100")

	_, err := f.svc.Accept(ctx, cleanerB, j.ID)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))

	stranger := access.Actor{ID: "nobody", Role: access.RoleCleaner, BusinessID: "biz-1"}
	_, err = f.svc.Accept(ctx, stranger, f.newJob(t, "10", "").ID)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, err = f.svc.Accept(ctx, manager, j.ID)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	otherBusiness := access.Actor{ID: cleanerA.ID, Role: access.RoleCleaner, BusinessID: "biz-2"}
	_, err = f.svc.Accept(ctx, otherBusiness, j.ID)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestStartRecordsLocationPassively(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.newJob(t, "100", "")

	_, err := f.svc.Accept(ctx, cleanerA, j.ID)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, cleanerB, j.ID, propertyLat, propertyLng)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = f.svc.Start(ctx, cleanerA, j.ID, 91, 0)
	require.True(t, errutil.Is(err, errutil.StatusInvalidLocation))

	// far away and coarse, still accepted
	got, err := f.svc.Start(ctx, cleanerA, j.ID, 41.1, -73.2)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, got.Status)
	require.Equal(t, 41.1, *got.GPSStartLat)
	require.NotNil(t, got.StartedAt)
	require.False(t, got.StartedAt.Before(*got.AcceptedAt))

	_, err = f.svc.Start(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))
}

func TestCompleteHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.started(t, cleanerA, "150")
	f.addPhotos(t, cleanerA, j, 2)

	res, err := f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Job.Status)
	require.Empty(t, res.Conflicts)
	require.NotNil(t, res.Job.CompletedAt)
	require.Equal(t, propertyLat, *res.Job.GPSEndLat)

	items := f.lineItems(t, j.ID)
	require.Len(t, items, 1)
	require.True(t, items[0].Amount.Equal(decimal.RequireFromString("150.00")))

	var inv invoice.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", items[0].InvoiceID).Error)
	require.Equal(t, invoice.StatusOpen, inv.Status)
	require.Equal(t, invoice.PerJob, inv.PayType)
	require.True(t, inv.TotalAmount.Equal(decimal.RequireFromString("150")))

	require.Equal(t, []string{
		taskname.JobAccepted,
		taskname.JobStarted,
		taskname.JobCompleted,
		taskname.InvoiceCreated,
	}, f.recorder.Types())
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.started(t, cleanerA, "150")
	f.addPhotos(t, cleanerA, j, 1)

	first, err := f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	published := len(f.recorder.Events())

	again, err := f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, again.Job.Status)
	require.True(t, first.Job.CompletedAt.Equal(*again.Job.CompletedAt))
	require.Len(t, f.recorder.Events(), published)
	require.Len(t, f.lineItems(t, j.ID), 1)
}

func TestConcurrentCompletionAccruesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.started(t, cleanerA, "80")
	f.addPhotos(t, cleanerA, j, 1)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	items := f.lineItems(t, j.ID)
	require.Len(t, items, 1)

	var inv invoice.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", items[0].InvoiceID).Error)
	require.True(t, inv.TotalAmount.Equal(decimal.RequireFromString("80")))
}

func TestCompleteWithoutPhotosNeedsReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.started(t, cleanerA, "150")

	res, err := f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	require.Equal(t, StatusNeedsReview, res.Job.Status)
	require.Equal(t, []conflict.Type{conflict.MissingPhotos}, conflict.Types(res.Conflicts))
	require.NotNil(t, res.Job.CompletedAt)
	require.Empty(t, f.lineItems(t, j.ID))
	require.Contains(t, f.recorder.Types(), taskname.JobNeedsReview)
}

func TestCompleteFarFromPropertyNeedsReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.started(t, cleanerA, "150")
	f.addPhotos(t, cleanerA, j, 2)

	res, err := f.svc.Complete(ctx, cleanerA, j.ID, farLat, propertyLng)
	require.NoError(t, err)
	require.Equal(t, StatusNeedsReview, res.Job.Status)
	require.Len(t, res.Conflicts, 1)
	require.Equal(t, conflict.GPSMismatch, res.Conflicts[0].Type)
	require.Greater(t, *res.Conflicts[0].Distance, 50.0)
	require.InDelta(t, 200, *res.Conflicts[0].Distance, 5)

	again, err := f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	require.Equal(t, StatusNeedsReview, again.Job.Status)
	require.Equal(t, farLat, *again.Job.GPSEndLat)
	require.True(t, conflict.Has(again.Conflicts, conflict.GPSMismatch))
}

func TestCompleteCoarseLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.started(t, cleanerA, "150")
	f.addPhotos(t, cleanerA, j, 1)

	res, err := f.svc.Complete(ctx, cleanerA, j.ID, 40.7128, -74.006)
	require.NoError(t, err)
	require.Equal(t, []conflict.Type{conflict.GPSPrecisionLow}, conflict.Types(res.Conflicts))
}

func TestCompleteRejectsOutOfRange(t *testing.T) {
	f := newFixture(t)
	j := f.started(t, cleanerA, "150")

	_, err := f.svc.Complete(context.Background(), cleanerA, j.ID, 12, 200)
	require.True(t, errutil.Is(err, errutil.StatusInvalidLocation))
}

func TestCompleteRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.newJob(t, "150", "")

	_, err := f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = f.svc.Accept(ctx, cleanerA, j.ID)
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))
}

func TestCompleteHourlyRoundsToHalfHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.newJob(t, "50", invoice.Hourly)

	start := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return start }
	_, err := f.svc.Accept(ctx, cleanerA, j.ID)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	f.addPhotos(t, cleanerA, j, 1)

	f.svc.now = func() time.Time { return start.Add(75 * time.Minute) }
	res, err := f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Job.Status)

	items := f.lineItems(t, j.ID)
	require.Len(t, items, 1)
	require.Equal(t, invoice.Hourly, items[0].PayType)
	require.Equal(t, int64(90), items[0].Minutes)
	require.True(t, items[0].Amount.Equal(decimal.RequireFromString("75.00")), items[0].Amount.String())
}

func TestCleanerDefaultPayType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.UpsertCleaner(ctx, manager, cleanerA.ID, UpsertCleanerRequest{Name: "A", PayType: string(invoice.Hourly)})
	require.NoError(t, err)

	j := f.started(t, cleanerA, "40")
	f.addPhotos(t, cleanerA, j, 1)
	_, err = f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)

	items := f.lineItems(t, j.ID)
	require.Len(t, items, 1)
	require.Equal(t, invoice.Hourly, items[0].PayType)

	_, err = f.svc.UpsertCleaner(ctx, manager, cleanerA.ID, UpsertCleanerRequest{Name: "A", PayType: "weekly"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestAccessDeniedBecomesConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.started(t, cleanerA, "150")
	f.addPhotos(t, cleanerA, j, 1)

	_, err := f.svc.ReportAccessDenied(ctx, cleanerB, j.ID, "gate locked")
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	got, err := f.svc.ReportAccessDenied(ctx, cleanerA, j.ID, "gate locked")
	require.NoError(t, err)
	require.True(t, got.AccessDenied)
	require.Equal(t, "gate locked", *got.AccessDeniedNote)

	res, err := f.svc.Complete(ctx, cleanerA, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	require.Equal(t, []conflict.Type{conflict.AccessDenied}, conflict.Types(res.Conflicts))
}

func TestReassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.newJob(t, "100", "")

	_, err := f.svc.Reassign(ctx, cleanerA, j.ID, cleanerB.ID)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = f.svc.Reassign(ctx, manager, j.ID, "ghost")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	got, err := f.svc.Reassign(ctx, manager, j.ID, cleanerA.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, got.Status)
	require.Equal(t, cleanerA.ID, got.Assignee())

	got, err = f.svc.Reassign(ctx, manager, j.ID, cleanerB.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, got.Status)
	require.Equal(t, cleanerB.ID, got.Assignee())

	got, err = f.svc.Reassign(ctx, manager, j.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusAvailable, got.Status)
	require.Nil(t, got.AssignedCleanerID)
	require.Nil(t, got.AcceptedAt)

	started := f.started(t, cleanerA, "100")
	_, err = f.svc.Reassign(ctx, manager, started.ID, cleanerB.ID)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	require.Equal(t, 3, countType(f.recorder, taskname.JobReassigned))
}

func TestRecordPhotoRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.newJob(t, "100", "")

	_, err := f.svc.RecordPhoto(ctx, cleanerA, j.ID, "jobs/a.jpg")
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = f.svc.Accept(ctx, cleanerA, j.ID)
	require.NoError(t, err)

	_, err = f.svc.RecordPhoto(ctx, cleanerA, j.ID, " ")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	photo, err := f.svc.RecordPhoto(ctx, cleanerA, j.ID, "jobs/a.jpg")
	require.NoError(t, err)
	require.Equal(t, j.ID, photo.JobID)

	_, err = f.svc.PhotoUploadURL(ctx, cleanerA, j.ID, "a.jpg")
	require.True(t, errutil.Is(err, errutil.StatusNotImplemented))
}

func TestVisibilityForCleaners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.newJob(t, "100", "")
	mine := f.started(t, cleanerA, "100")
	theirs := f.started(t, cleanerB, "100")

	_, err := f.svc.GetJob(ctx, cleanerA, theirs.ID)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	list, err := f.svc.ListJobs(ctx, cleanerA, ListRequest{})
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, j := range list.Jobs {
		ids[j.ID] = true
	}
	require.Equal(t, map[string]bool{open.ID: true, mine.ID: true}, ids)

	all, err := f.svc.ListJobs(ctx, manager, ListRequest{Status: StatusInProgress})
	require.NoError(t, err)
	require.Len(t, all.Jobs, 2)
}

func TestListJobsScheduledWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	ids := map[int]string{}
	for _, h := range []int{8, 12, 18} {
		at := day.Add(time.Duration(h) * time.Hour)
		j, err := f.svc.CreateJob(ctx, manager, CreateJobRequest{PropertyID: f.property.ID, Price: "50", ScheduledAt: &at})
		require.NoError(t, err)
		ids[h] = j.ID
	}
	f.newJob(t, "50", "")

	from, before := day.Add(9*time.Hour), day.Add(18*time.Hour)
	list, err := f.svc.ListJobs(ctx, manager, ListRequest{ScheduledFrom: &from, ScheduledBefore: &before})
	require.NoError(t, err)
	require.Len(t, list.Jobs, 1)
	require.Equal(t, ids[12], list.Jobs[0].ID)

	list, err = f.svc.ListJobs(ctx, manager, ListRequest{ScheduledFrom: &from})
	require.NoError(t, err)
	require.Len(t, list.Jobs, 2)

	_, err = f.svc.ListJobs(ctx, manager, ListRequest{ScheduledFrom: &before, ScheduledBefore: &from})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestListJobsRejectsMalformedCursor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListJobs(context.Background(), manager, ListRequest{
		Pagination: pagination.Pagination{Cursor: "%%%"},
	})
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateJob(ctx, cleanerA, CreateJobRequest{PropertyID: f.property.ID, Price: "10"})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = f.svc.CreateJob(ctx, manager, CreateJobRequest{PropertyID: f.property.ID, Price: "-1"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.CreateJob(ctx, manager, CreateJobRequest{PropertyID: f.property.ID, Price: "10", PayTypeOverride: "daily"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.CreateJob(ctx, manager, CreateJobRequest{PropertyID: "missing", Price: "10"})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	lat := 10.0
	_, err = f.svc.CreateProperty(ctx, manager, CreatePropertyRequest{Name: "half", Lat: &lat})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestCreateJobsIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	repo := NewRepository(f.db)
	ctx := context.Background()
	job := func(id string, status Status) *Job {
		return &Job{ID: id, BusinessID: "biz-1", PropertyID: f.property.ID, Status: status, Price: decimal.NewFromInt(40)}
	}

	require.NoError(t, repo.CreateJobs(ctx, []*Job{job("seed-1", StatusAvailable), job("seed-2", StatusAvailable)}))

	// an accepted job without a cleaner fails the batch
	err := f.db.Transaction(func(tx *gorm.DB) error {
		return repo.WithTrx(tx).CreateJobs(ctx, []*Job{job("seed-3", StatusAvailable), job("seed-4", StatusAccepted)})
	})
	require.True(t, errutil.Is(err, errutil.StatusInternal))

	var n int64
	require.NoError(t, f.db.Model(&Job{}).Where("id LIKE ?", "seed-%").Count(&n).Error)
	require.Equal(t, int64(2), n)
}

func TestAssignmentBackstop(t *testing.T) {
	f := newFixture(t)
	err := f.db.Create(&Job{
		ID:         "bad",
		BusinessID: "biz-1",
		PropertyID: f.property.ID,
		Status:     StatusAccepted,
		Price:      decimal.NewFromInt(1),
	}).Error
	require.Error(t, err)
}

func TestGetJobStorageFailure(t *testing.T) {
	svc := &Service{
		repo: &Repository{
			jobs: &repoMock[Job]{
				findOneFn: func(ctx context.Context, _ *Job, opts ...option.QueryOption) (*Job, error) {
					return nil, errors.New("connection reset")
				},
			},
		},
		authz: mustAuthorizer(t),
	}

	_, err := svc.GetJob(context.Background(), manager, "job-1")
	require.True(t, errutil.Is(err, errutil.StatusInternal))
}

func mustAuthorizer(t *testing.T) access.Authorizer {
	t.Helper()
	authz, err := access.NewDefaultAuthorizer()
	require.NoError(t, err)
	return authz
}

func countType(r *event.Recorder, typ string) int {
	n := 0
	for _, got := range r.Types() {
		if got == typ {
			n++
		}
	}
	return n
}

type repoMock[T any] struct {
	findOneFn func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	findFn    func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
}

func (m *repoMock[T]) WithTrx(*gorm.DB) repository.Repository[T] { return m }

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(context.Context, *T) error { return nil }
func (m *repoMock[T]) Update(context.Context, string, any) error { return nil }
func (m *repoMock[T]) BatchCreate(context.Context, []*T) error { return nil }
func (m *repoMock[T]) Count(context.Context, *T) (int64, error) { return 0, nil }
