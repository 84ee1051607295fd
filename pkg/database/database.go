package database

import (
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fuzzdeck/config"
)

// NewDBConnection opens the optional results store. A nil *gorm.DB is a
// valid result and means "no store configured"; consumers must check.
func NewDBConnection(appConfig *config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	if appConfig.DatabaseURL == "" {
		logger.Debug("no DATABASE_URL set, results store disabled")
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(appConfig.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("failed to connect results database", zap.Error(err))
		return nil, err
	}
	if err := db.AutoMigrate(&Crash{}, &RunRecord{}); err != nil {
		logger.Error("failed to migrate results schema", zap.Error(err))
		return nil, err
	}
	logger.Debug("connected to results database")
	return db, nil
}
