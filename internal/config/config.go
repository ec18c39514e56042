package config

import (
	"fmt"
	"os"
)

// Config holds all configuration for the lab report service
type Config struct {
	Port        string
	Origin      string
	Environment string
	ServiceName string
	JWTSecret   string
	Database    DatabaseConfig
	Extractor   ExtractorConfig
	RedisURL    string

	// LabDataEncryptionKey is the hex-encoded 256-bit key used to
	// encrypt extracted lab data at rest. The encryption codec rejects
	// anything that does not decode to exactly 32 bytes.
	LabDataEncryptionKey string

	// UploadDir is where report files posted through process-report land.
	UploadDir string
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	DSN      string
}

// ExtractorConfig holds the external extraction process settings
type ExtractorConfig struct {
	Command string // interpreter, e.g. python3
	Script  string // extraction script path
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "3306"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "lab_reports"),
	}

	// Build DSN (Data Source Name) for MySQL connection
	dbConfig.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		dbConfig.Username, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name)

	extractorConfig := ExtractorConfig{
		Command: getEnv("EXTRACTOR_COMMAND", "python3"),
		Script:  getEnv("EXTRACTOR_SCRIPT", "python/extractor.py"),
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "3004"),
		Origin:               getEnv("ORIGIN", "http://localhost:4200"),
		Environment:          getEnv("APP_ENV", "development"),
		ServiceName:          getEnv("SERVICE_NAME", "lab-report-service"),
		JWTSecret:            getEnv("JWT_SECRET", "default_jwt_secret"),
		Database:             dbConfig,
		Extractor:            extractorConfig,
		RedisURL:             getEnv("REDIS_URL", ""),
		LabDataEncryptionKey: getEnv("LAB_DATA_ENCRYPTION_KEY", ""),
		UploadDir:            getEnv("UPLOAD_DIR", "uploads"),
	}

	if cfg.LabDataEncryptionKey == "" {
		return nil, fmt.Errorf("LAB_DATA_ENCRYPTION_KEY is required (64 hex characters)")
	}

	return cfg, nil
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
