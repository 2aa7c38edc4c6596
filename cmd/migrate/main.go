package main

import (
	"context"
	"log"

	"cleanops/pkg/config"
	"cleanops/pkg/db"
	"cleanops/pkg/hashistack/secretmanager"
	"cleanops/pkg/logger"
	"cleanops/services/invoice"
	"cleanops/services/job"

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
		fx.Provide(db.Dialect, db.New),
		fx.Invoke(migrate),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	_ = app.Stop(context.Background())
}

func migrate(conn *gorm.DB, log *zap.Logger) error {
	if err := job.Migrate(conn); err != nil {
		return err
	}
	if err := invoice.Migrate(conn); err != nil {
		return err
	}

	log.Info("migration completed", zap.String("dialect", conn.Dialector.Name()))
	return nil
}
