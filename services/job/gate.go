package job

import (
	"context"
	"fmt"

	"cleanops/pkg/config"
	"cleanops/pkg/featureflags"
	"cleanops/pkg/metrics"
	"cleanops/pkg/minio"
	"cleanops/services/conflict"
	"cleanops/services/geo"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PhotoCounter is the photo store boundary: completion only needs a count.
type PhotoCounter interface {
	CountPhotos(ctx context.Context, tx *gorm.DB, j *Job) (int64, error)
}

type rowPhotoCounter struct{}

func (rowPhotoCounter) CountPhotos(ctx context.Context, tx *gorm.DB, j *Job) (int64, error) {
	return NewRepository(tx).CountPhotos(ctx, j.ID)
}

type objectPhotoCounter struct {
	store  minio.Store
	prefix string
}

func (c objectPhotoCounter) CountPhotos(ctx context.Context, _ *gorm.DB, j *Job) (int64, error) {
	n, err := c.store.CountObjects(ctx, PhotoPrefix(c.prefix, j))
	if err != nil {
		return 0, fmt.Errorf("count photo objects: %w", err)
	}
	return n, nil
}

// PhotoPrefix is the object key prefix photos of j are uploaded under.
func PhotoPrefix(prefix string, j *Job) string {
	return fmt.Sprintf("%s/%s/%s/", prefix, j.BusinessID, j.ID)
}

// Gate runs conflict detection for a job against its property.
type Gate struct {
	opts   conflict.Options
	photos PhotoCounter
	flags  featureflags.FeatureFlag
}

type GateParams struct {
	fx.In
	Config *config.Config
	Flags  featureflags.FeatureFlag `optional:"true"`
	Store  minio.Store              `optional:"true"`
}

func NewGate(p GateParams) *Gate {
	cfg := p.Config.Jobs
	if cfg.GPSRadiusMeters <= 0 {
		cfg.GPSRadiusMeters = 50
	}
	if cfg.MinCoordinateDecimals <= 0 {
		cfg.MinCoordinateDecimals = 4
	}

	var photos PhotoCounter = rowPhotoCounter{}
	if p.Config.PhotoStore.Type == config.PhotoStoreMinio {
		if p.Store == nil {
			zap.L().Warn("photo store is minio but no client is configured, counting photo rows")
		} else {
			photos = objectPhotoCounter{store: p.Store, prefix: p.Config.PhotoStore.Prefix}
		}
	}

	flags := p.Flags
	if flags == nil {
		flags = featureflags.Static()
	}

	return &Gate{
		opts: conflict.Options{
			RadiusMeters:   cfg.GPSRadiusMeters,
			MinDecimals:    cfg.MinCoordinateDecimals,
			CheckPrecision: true,
		},
		photos: photos,
		flags:  flags,
	}
}

// Inspect detects conflicts for j as if it ended at end. Conflict families
// a manager already resolved on j are skipped.
func (g *Gate) Inspect(ctx context.Context, tx *gorm.DB, j *Job, property *Property, end *geo.Point) ([]conflict.Conflict, error) {
	photos, err := g.photos.CountPhotos(ctx, tx, j)
	if err != nil {
		return nil, err
	}

	return g.Detect(ctx, j, property, end, photos), nil
}

// Detect is Inspect with the photo count already known.
func (g *Gate) Detect(ctx context.Context, j *Job, property *Property, end *geo.Point, photos int64) []conflict.Conflict {
	opts := g.opts
	opts.CheckPrecision = g.flags.Enabled(ctx, j.BusinessID, featureflags.GPSPrecisionCheck, true)
	photosRequired := g.flags.Enabled(ctx, j.BusinessID, featureflags.PhotoRequirement, true)

	return conflict.NewDetector(opts).Detect(conflict.Input{
		PhotoCount:     photos,
		AccessDenied:   j.AccessDenied,
		Property:       property.Point(),
		End:            end,
		GPSResolved:    j.GPSOverridden,
		PhotosResolved: j.PhotosOverridden || !photosRequired,
	})
}

// Stored re-derives the conflicts of j from its recorded end location.
func (g *Gate) Stored(ctx context.Context, tx *gorm.DB, j *Job) ([]conflict.Conflict, error) {
	property, err := NewRepository(tx).Property(ctx, j.BusinessID, j.PropertyID)
	if err != nil {
		return nil, err
	}
	return g.Inspect(ctx, tx, j, property, j.EndPoint())
}

// Count records each conflict type on the conflicts metric.
func Count(conflicts []conflict.Conflict) {
	for _, c := range conflicts {
		metrics.ConflictDetected(string(c.Type))
	}
}

// Photos exposes the counter so dry runs can look up the count on their own.
func (g *Gate) Photos() PhotoCounter {
	return g.photos
}
