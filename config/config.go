package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/phuslu/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vnkhanh/timesheet-server/models"
)

var DB *gorm.DB

// Config holds everything read from the environment. Load once in main.
type Config struct {
	Port             string
	LogLevel         string
	AllowedOrigins   []string
	WorkerPython     string
	WorkerScript     string
	WorkerTimeout    time.Duration
	CredentialSecret string
}

func Load() *Config {
	timeout, err := time.ParseDuration(getEnvOrDefault("WORKER_TIMEOUT", "5m"))
	if err != nil {
		log.Warn().Err(err).Msg("invalid WORKER_TIMEOUT, using 5m")
		timeout = 5 * time.Minute
	}

	return &Config{
		Port:             getEnvOrDefault("PORT", "8080"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		AllowedOrigins:   strings.Split(getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		WorkerPython:     getEnvOrDefault("WORKER_PYTHON", "python3"),
		WorkerScript:     getEnvOrDefault("WORKER_SCRIPT", "./scripts/process_timesheets.py"),
		WorkerTimeout:    timeout,
		CredentialSecret: os.Getenv("CREDENTIAL_SECRET"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ConnectDB opens the PostgreSQL connection and migrates the tables.
func ConnectDB() {
	host := os.Getenv("DB_HOST")
	port := os.Getenv("DB_PORT")
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		host, user, password, dbName, port, sslMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	if err := Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate")
	}

	DB = db
	log.Info().Msg("connected to PostgreSQL & migrated successfully")
}

// Migrate runs AutoMigrate for every table this service owns or reads.
// Split out so tests can migrate an in-memory database.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ExtractionJob{},
		&models.TimesheetEntry{},
		&models.Employee{},
		&models.Project{},
		&models.Holiday{},
		&models.LeaveRequest{},
		&models.MailCredential{},
		&models.Notification{},
	)
}
