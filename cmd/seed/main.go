package main

import (
	"context"
	"log"
	"os"
	"time"

	"cleanops/pkg/config"
	"cleanops/pkg/db"
	"cleanops/pkg/gen"
	"cleanops/pkg/hashistack/secretmanager"
	"cleanops/pkg/logger"
	"cleanops/services/invoice"
	"cleanops/services/job"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		gen.Module,
		fx.Provide(db.Dialect, db.New),
		fx.Invoke(seed),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(context.Background())
}

func seed(conn *gorm.DB, node *snowflake.Node, log *zap.Logger) error {
	ctx := context.Background()

	businessID := os.Getenv("SEED_BUSINESS_ID")
	if businessID == "" {
		businessID = "demo"
	}

	if err := job.Migrate(conn); err != nil {
		return err
	}
	if err := invoice.Migrate(conn); err != nil {
		return err
	}

	repo := job.NewRepository(conn)

	lat, lng := 40.712812, -74.006015
	property := &job.Property{
		ID:         node.Generate().String(),
		BusinessID: businessID,
		Name:       "Harbor View Loft",
		Address:    "1 Centre St, New York, NY",
		Lat:        &lat,
		Lng:        &lng,
	}
	if err := repo.CreateProperty(ctx, property); err != nil {
		return err
	}

	hourly := invoice.Hourly
	cleaners := []*job.Cleaner{
		{ID: "cleaner-1", BusinessID: businessID, Name: "Cleaner One"},
		{ID: "cleaner-2", BusinessID: businessID, Name: "Cleaner Two", PayType: &hourly},
	}
	for _, c := range cleaners {
		if _, err := repo.UpsertCleaner(ctx, c); err != nil {
			return err
		}
	}

	tomorrow := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	var jobs []*job.Job
	for i, hour := range []int{9, 13, 16} {
		at := tomorrow.Add(time.Duration(hour) * time.Hour)
		jobs = append(jobs, &job.Job{
			ID:          node.Generate().String(),
			BusinessID:  businessID,
			PropertyID:  property.ID,
			Status:      job.StatusAvailable,
			Price:       decimal.NewFromInt(int64(80 + 20*i)),
			ScheduledAt: &at,
		})
	}
	if err := repo.CreateJobs(ctx, jobs); err != nil {
		return err
	}

	log.Info("seed completed",
		zap.String("business_id", businessID),
		zap.String("property_id", property.ID),
		zap.Int("cleaners", len(cleaners)),
		zap.Int("jobs", len(jobs)),
	)
	return nil
}
