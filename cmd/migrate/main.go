package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smallbiznis-engagement/pkg/config"
	"smallbiznis-engagement/pkg/db"
	"smallbiznis-engagement/pkg/logger"
	"smallbiznis-engagement/services/model"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func migrate(lc fx.Lifecycle, sd fx.Shutdowner, db *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
				zap.L().Error("migration failed", zap.Error(err))
				return err
			}
			zap.L().Info("schema migrated", zap.Int("tables", len(model.All())))
			return sd.Shutdown()
		},
	})
}
