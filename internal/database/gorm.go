package database

import (
	"fmt"

	"github.com/ag12x-gth/masteria-x-sub001/internal/config"
	"github.com/ag12x-gth/masteria-x-sub001/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Company{},
		&models.Connection{},
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
		&models.Campaign{},
		&models.CampaignMessage{},
		&models.WebhookEvent{},
		&models.WebhookLog{},
		&models.AutomationRule{},
		&models.AutomationLog{},
	)
}
