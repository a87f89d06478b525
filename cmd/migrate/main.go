package main

import (
	"fmt"
	"log"

	"github.com/sengine/drip-engine/internal/config"
	"github.com/sengine/drip-engine/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	conf := config.FromEnv()

	fmt.Println("connecting to database...")

	db, err := gorm.Open(postgres.Open(conf.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}

	sqlDB, _ := db.DB()
	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	fmt.Println("connected, running migrations...")

	if err := db.AutoMigrate(
		&domain.ScheduledMessage{},
		&domain.DripContact{},
		&domain.Message{},
		&domain.Contact{},
		&domain.UserNumber{},
		&domain.User{},
		&domain.UserCredits{},
		&domain.CreditTransaction{},
		&domain.Webhook{},
		&domain.WebhookDelivery{},
		&domain.OptOutEntry{},
	); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	fmt.Println("migration complete")

	var tables []string
	db.Raw("SELECT tablename FROM pg_tables WHERE schemaname = 'public'").Scan(&tables)
	fmt.Println("tables:")
	for _, table := range tables {
		fmt.Printf("  - %s\n", table)
	}
}
