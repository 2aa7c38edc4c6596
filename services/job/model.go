package job

import (
	"time"

	"cleanops/services/conflict"
	"cleanops/services/geo"
	"cleanops/services/invoice"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusAvailable   Status = "available"
	StatusAccepted    Status = "accepted"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusNeedsReview Status = "needs_review"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusAccepted, StatusInProgress, StatusCompleted, StatusNeedsReview:
		return true
	default:
		return false
	}
}

// Job is one scheduled cleaning. It is mutated only through the transitions
// in Service and the override service, each a conditional update on status.
type Job struct {
	ID                string           `gorm:"column:id;primaryKey" json:"id"`
	BusinessID        string           `gorm:"column:business_id;not null;index:idx_jobs_business_status" json:"business_id"`
	PropertyID        string           `gorm:"column:property_id;not null;index" json:"property_id"`
	Status            Status           `gorm:"column:status;not null;index:idx_jobs_business_status;check:chk_jobs_assignment,status = 'available' OR assigned_cleaner_id IS NOT NULL" json:"status"`
	AssignedCleanerID *string          `gorm:"column:assigned_cleaner_id;index" json:"assigned_cleaner_id,omitempty"`
	Price             decimal.Decimal  `gorm:"column:price;type:decimal(12,2);not null" json:"price"`
	PayTypeOverride   *invoice.PayType `gorm:"column:pay_type_override" json:"pay_type_override,omitempty"`
	ScheduledAt       *time.Time       `gorm:"column:scheduled_at" json:"scheduled_at,omitempty"`

	AcceptedAt  *time.Time `gorm:"column:accepted_at" json:"accepted_at,omitempty"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	GPSStartLat *float64 `gorm:"column:gps_start_lat" json:"gps_start_lat,omitempty"`
	GPSStartLng *float64 `gorm:"column:gps_start_lng" json:"gps_start_lng,omitempty"`
	GPSEndLat   *float64 `gorm:"column:gps_end_lat" json:"gps_end_lat,omitempty"`
	GPSEndLng   *float64 `gorm:"column:gps_end_lng" json:"gps_end_lng,omitempty"`

	AccessDenied     bool    `gorm:"column:access_denied;not null;default:false" json:"access_denied"`
	AccessDeniedNote *string `gorm:"column:access_denied_note" json:"access_denied_note,omitempty"`

	// Set when a manager cleared one conflict family without forcing completion.
	GPSOverridden    bool `gorm:"column:gps_overridden;not null;default:false" json:"gps_overridden"`
	PhotosOverridden bool `gorm:"column:photos_overridden;not null;default:false" json:"photos_overridden"`

	OverriddenBy   *string    `gorm:"column:overridden_by;check:chk_jobs_override_reason,overridden_by IS NULL OR (override_reason IS NOT NULL AND length(override_reason) >= 10 AND overridden_at IS NOT NULL AND override_status IS NOT NULL)" json:"overridden_by,omitempty"`
	OverrideReason *string    `gorm:"column:override_reason" json:"override_reason,omitempty"`
	OverriddenAt   *time.Time `gorm:"column:overridden_at" json:"overridden_at,omitempty"`
	OverrideStatus *Status    `gorm:"column:override_status" json:"override_status,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (j *Job) AssignedTo(cleanerID string) bool {
	return j.AssignedCleanerID != nil && *j.AssignedCleanerID == cleanerID
}

func (j *Job) Assignee() string {
	if j.AssignedCleanerID == nil {
		return ""
	}
	return *j.AssignedCleanerID
}

func (j *Job) EndPoint() *geo.Point {
	return geo.PointOf(j.GPSEndLat, j.GPSEndLng)
}

type Property struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	BusinessID string    `gorm:"column:business_id;not null;index" json:"business_id"`
	Name       string    `gorm:"column:name;not null" json:"name"`
	Address    string    `gorm:"column:address" json:"address"`
	Lat        *float64  `gorm:"column:lat" json:"lat,omitempty"`
	Lng        *float64  `gorm:"column:lng" json:"lng,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (p *Property) Point() *geo.Point {
	if p == nil {
		return nil
	}
	return geo.PointOf(p.Lat, p.Lng)
}

// Cleaner is keyed by the user id the gateway authenticates.
type Cleaner struct {
	ID         string           `gorm:"column:id;primaryKey" json:"id"`
	BusinessID string           `gorm:"column:business_id;not null;index" json:"business_id"`
	Name       string           `gorm:"column:name;not null" json:"name"`
	PayType    *invoice.PayType `gorm:"column:pay_type" json:"pay_type,omitempty"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// Photo records an upload the photo store accepted for a job.
type Photo struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	JobID      string    `gorm:"column:job_id;not null;index" json:"job_id"`
	BusinessID string    `gorm:"column:business_id;not null" json:"business_id"`
	CleanerID  string    `gorm:"column:cleaner_id;not null" json:"cleaner_id"`
	ObjectKey  string    `gorm:"column:object_key;not null" json:"object_key"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Photo) TableName() string {
	return "job_photos"
}

type OverrideKind string

const (
	OverrideComplete      OverrideKind = "complete"
	OverrideResolveGPS    OverrideKind = "resolve_gps"
	OverrideResolvePhotos OverrideKind = "resolve_photos"
	OverrideReset         OverrideKind = "reset"
)

// Override is the append-only record of a manager decision on a job.
type Override struct {
	ID           string         `gorm:"column:id;primaryKey" json:"id"`
	JobID        string         `gorm:"column:job_id;not null;index" json:"job_id"`
	BusinessID   string         `gorm:"column:business_id;not null" json:"business_id"`
	Kind         OverrideKind   `gorm:"column:kind;not null" json:"kind"`
	ManagerID    string         `gorm:"column:manager_id;not null" json:"manager_id"`
	Reason       string         `gorm:"column:reason;not null;check:chk_job_overrides_reason,length(reason) >= 10" json:"reason"`
	Conflicts    datatypes.JSON `gorm:"column:conflicts" json:"conflicts,omitempty"`
	Lat          *float64       `gorm:"column:lat" json:"lat,omitempty"`
	Lng          *float64       `gorm:"column:lng" json:"lng,omitempty"`
	ResultStatus Status         `gorm:"column:result_status;not null" json:"result_status"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Override) TableName() string {
	return "job_overrides"
}

// Result is a job plus the conflicts found the last time it was inspected.
type Result struct {
	Job       *Job                `json:"job"`
	Conflicts []conflict.Conflict `json:"conflicts"`
}

func Models() []any {
	return []any{&Property{}, &Cleaner{}, &Job{}, &Photo{}, &Override{}}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
