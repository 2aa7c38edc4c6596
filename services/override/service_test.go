package override

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cleanops/pkg/access"
	"cleanops/pkg/config"
	"cleanops/pkg/errutil"
	"cleanops/pkg/taskname"
	"cleanops/services/conflict"
	"cleanops/services/event"
	"cleanops/services/invoice"
	"cleanops/services/job"
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
	farLat      = 40.714612
)

var (
	cleaner = access.Actor{ID: "cleaner-1", Role: access.RoleCleaner, BusinessID: "biz-1"}
	manager = access.Actor{ID: "manager-1", Role: access.RoleManager, BusinessID: "biz-1"}
	founder = access.Actor{ID: "founder-1", Role: access.RoleSuperManager, BusinessID: "biz-1"}
)

type fixture struct {
	db       *gorm.DB
	jobs     *job.Service
	svc      *Service
	recorder *event.Recorder
	property *job.Property
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, job.Models()...)
	require.NoError(t, invoice.Migrate(db))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	authz, err := access.NewDefaultAuthorizer()
	require.NoError(t, err)

	cfg := &config.Config{
		Jobs:       config.Jobs{GPSRadiusMeters: 50, MinCoordinateDecimals: 4, OverrideReasonMinLength: 10},
		Invoice:    config.Invoice{PeriodDays: 14, Currency: "USD"},
		PhotoStore: config.PhotoStore{Type: config.PhotoStoreDatabase, Prefix: "jobs"},
	}
	gate := job.NewGate(job.GateParams{Config: cfg})
	accruer := invoice.NewAccruer(invoice.AccruerParams{DB: db, Node: node, Sequence: &testutil.Sequence{}, Config: cfg})
	rec := &event.Recorder{}

	jobs := job.NewService(job.ServiceParams{
		DB: db, Node: node, Config: cfg, Gate: gate, Accruer: accruer, Authz: authz, Publisher: rec,
	})
	svc := NewService(ServiceParams{
		DB: db, Node: node, Config: cfg, Gate: gate, Accruer: accruer, Authz: authz, Publisher: rec,
	})

	lat, lng := propertyLat, propertyLng
	property, err := jobs.CreateProperty(context.Background(), manager, job.CreatePropertyRequest{Name: "Harbor Loft", Lat: &lat, Lng: &lng})
	require.NoError(t, err)
	_, err = jobs.UpsertCleaner(context.Background(), manager, cleaner.ID, job.UpsertCleanerRequest{Name: "Dana"})
	require.NoError(t, err)

	return &fixture{db: db, jobs: jobs, svc: svc, recorder: rec, property: property}
}

// inReview completes a fresh job at (lat, lng) with the given photo count
// and returns it in needs_review.
func (f *fixture) inReview(t *testing.T, price string, photos int, lat, lng float64) *job.Job {
	t.Helper()
	ctx := context.Background()

	j, err := f.jobs.CreateJob(ctx, manager, job.CreateJobRequest{PropertyID: f.property.ID, Price: price})
	require.NoError(t, err)
	_, err = f.jobs.Accept(ctx, cleaner, j.ID)
	require.NoError(t, err)
	_, err = f.jobs.Start(ctx, cleaner, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	for i := 0; i < photos; i++ {
		_, err = f.jobs.RecordPhoto(ctx, cleaner, j.ID, "jobs/p.jpg")
		require.NoError(t, err)
	}

	res, err := f.jobs.Complete(ctx, cleaner, j.ID, lat, lng)
	require.NoError(t, err)
	require.Equal(t, job.StatusNeedsReview, res.Job.Status)
	f.recorder.Reset()
	return res.Job
}

func (f *fixture) lineItems(t *testing.T, jobID string) []invoice.LineItem {
	t.Helper()
	var items []invoice.LineItem
	require.NoError(t, f.db.Where("job_id = ?", jobID).Find(&items).Error)
	return items
}

func ptr(v float64) *float64 { return &v }

func TestGPSConflictThenOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.inReview(t, "150", 2, farLat, propertyLng)

	out, err := f.svc.OverrideCompletion(ctx, manager, j.ID, "verified on-site inspection", ptr(propertyLat), ptr(propertyLng))
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, out.Job.Status)
	require.Equal(t, manager.ID, *out.Job.OverriddenBy)
	require.Equal(t, "verified on-site inspection", *out.Job.OverrideReason)
	require.Equal(t, job.StatusCompleted, *out.Job.OverrideStatus)
	require.NotNil(t, out.Job.OverriddenAt)
	require.Equal(t, farLat, *out.Job.GPSEndLat)

	require.Equal(t, []conflict.Type{conflict.GPSMismatch}, conflict.Types(out.Resolved))
	require.Equal(t, job.OverrideComplete, out.Override.Kind)
	require.Equal(t, propertyLat, *out.Override.Lat)

	var stored []conflict.Conflict
	require.NoError(t, json.Unmarshal(out.Override.Conflicts, &stored))
	require.Equal(t, conflict.GPSMismatch, stored[0].Type)

	require.NotNil(t, out.LineItem)
	require.True(t, out.LineItem.Amount.Equal(decimal.RequireFromString("150")))
	require.Len(t, f.lineItems(t, j.ID), 1)

	require.Equal(t, []string{
		taskname.JobOverridden,
		taskname.JobCompleted,
		taskname.InvoiceCreated,
	}, f.recorder.Types())

	_, err = f.svc.OverrideCompletion(ctx, manager, j.ID, "verified on-site inspection", nil, nil)
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))
	require.Len(t, f.lineItems(t, j.ID), 1)
}

func TestOverrideReasonAndRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.inReview(t, "150", 0, propertyLat, propertyLng)

	_, err := f.svc.OverrideCompletion(ctx, manager, j.ID, "   too short  ", nil, nil)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.OverrideCompletion(ctx, cleaner, j.ID, "I promise it was clean", nil, nil)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = f.svc.OverrideCompletion(ctx, manager, j.ID, "checked the photos by phone", ptr(1), nil)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	out, err := f.svc.OverrideCompletion(ctx, founder, j.ID, "checked the photos by phone", nil, nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, out.Job.Status)
}

func TestOverrideReasonBackstop(t *testing.T) {
	f := newFixture(t)
	j := f.inReview(t, "150", 0, propertyLat, propertyLng)

	now := time.Now()
	cases := []struct {
		name    string
		updates map[string]any
		wantErr bool
	}{
		{
			name:    "short reason",
			updates: map[string]any{"overridden_by": manager.ID, "override_reason": "ok", "overridden_at": now, "override_status": job.StatusCompleted},
			wantErr: true,
		},
		{
			name:    "null reason",
			updates: map[string]any{"overridden_by": manager.ID, "override_reason": nil, "overridden_at": now, "override_status": job.StatusCompleted},
			wantErr: true,
		},
		{
			name:    "missing timestamp",
			updates: map[string]any{"overridden_by": manager.ID, "override_reason": "checked the photos by phone", "overridden_at": nil, "override_status": job.StatusCompleted},
			wantErr: true,
		},
		{
			name:    "missing status",
			updates: map[string]any{"overridden_by": manager.ID, "override_reason": "checked the photos by phone", "overridden_at": now, "override_status": nil},
			wantErr: true,
		},
		{
			name:    "complete audit",
			updates: map[string]any{"overridden_by": manager.ID, "override_reason": "checked the photos by phone", "overridden_at": now, "override_status": job.StatusCompleted},
			wantErr: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.db.Model(&job.Job{}).Where("id = ?", j.ID).Updates(tc.updates).Error
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDetectConflictsIsReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.inReview(t, "150", 0, farLat, propertyLng)

	res, err := f.svc.DetectConflicts(ctx, manager, j.ID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []conflict.Type{conflict.MissingPhotos, conflict.GPSMismatch}, conflict.Types(res.Conflicts))

	res, err = f.svc.DetectConflicts(ctx, manager, j.ID, ptr(propertyLat), ptr(propertyLng))
	require.NoError(t, err)
	require.Equal(t, []conflict.Type{conflict.MissingPhotos}, conflict.Types(res.Conflicts))

	_, err = f.svc.DetectConflicts(ctx, manager, "missing", nil, nil)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	got, err := f.jobs.GetJob(ctx, manager, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusNeedsReview, got.Status)
	require.Empty(t, f.recorder.Events())
}

func TestResolveOneConflictAtATime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.inReview(t, "90", 0, farLat, propertyLng)

	out, err := f.svc.ResolveGPSConflict(ctx, manager, j.ID, "cleaner parked down the block", ptr(propertyLat), ptr(propertyLng))
	require.NoError(t, err)
	require.Equal(t, job.StatusNeedsReview, out.Job.Status)
	require.True(t, out.Job.GPSOverridden)
	require.Equal(t, job.StatusNeedsReview, *out.Job.OverrideStatus)
	require.Equal(t, []conflict.Type{conflict.MissingPhotos}, conflict.Types(out.Remaining))
	require.Nil(t, out.LineItem)
	require.Empty(t, f.lineItems(t, j.ID))

	_, err = f.svc.ResolveGPSConflict(ctx, manager, j.ID, "cleaner parked down the block", nil, nil)
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))

	// completing again reports only what is still open
	res, err := f.jobs.Complete(ctx, cleaner, j.ID, propertyLat, propertyLng)
	require.NoError(t, err)
	require.Equal(t, []conflict.Type{conflict.MissingPhotos}, conflict.Types(res.Conflicts))

	out, err = f.svc.ResolvePhotoConflict(ctx, manager, j.ID, "photos were sent over chat")
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, out.Job.Status)
	require.Empty(t, out.Remaining)
	require.NotNil(t, out.LineItem)
	require.Len(t, f.lineItems(t, j.ID), 1)

	require.Equal(t, []string{
		taskname.ConflictResolved,
		taskname.ConflictResolved,
		taskname.JobCompleted,
		taskname.InvoiceCreated,
	}, f.recorder.Types())

	history, err := f.svc.History(ctx, manager, j.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, job.OverrideResolveGPS, history[0].Kind)
	require.Equal(t, job.OverrideResolvePhotos, history[1].Kind)
}

func TestResolveRequiresPresentConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.inReview(t, "90", 0, propertyLat, propertyLng)

	_, err := f.svc.ResolveGPSConflict(ctx, manager, j.ID, "location looked fine to me", nil, nil)
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))

	_, err = f.svc.ResolvePhotoConflict(ctx, manager, j.ID, "short")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	out, err := f.svc.ResolvePhotoConflict(ctx, manager, j.ID, "photos were sent over chat")
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, out.Job.Status)

	_, err = f.svc.ResolvePhotoConflict(ctx, manager, j.ID, "photos were sent over chat")
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

func TestResetJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.inReview(t, "90", 0, farLat, propertyLng)

	_, err := f.svc.ResetJob(ctx, cleaner, j.ID, "needs a second visit")
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	out, err := f.svc.ResetJob(ctx, manager, j.ID, "needs a second visit")
	require.NoError(t, err)
	require.Equal(t, job.StatusAvailable, out.Job.Status)
	require.Nil(t, out.Job.AssignedCleanerID)
	require.Nil(t, out.Job.CompletedAt)
	require.Nil(t, out.Job.GPSEndLat)
	require.Equal(t, job.StatusAvailable, out.Override.ResultStatus)
	require.Len(t, out.Resolved, 2)
	require.Equal(t, []string{taskname.JobReset}, f.recorder.Types())

	_, err = f.jobs.Accept(ctx, cleaner, j.ID)
	require.NoError(t, err)

	_, err = f.svc.ResetJob(ctx, manager, j.ID, "needs a second visit")
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))
}
