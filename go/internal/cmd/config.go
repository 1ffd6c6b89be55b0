package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the service-level configuration (bind address, database,
// NATS, race format). Session-tunable options live in the options store,
// not here.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Race struct {
		TargetLaps int `yaml:"target_laps"`
	} `yaml:"race"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN builds the connection string shared by database/sql and pgx.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

func loadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment wins over file, defaults fill the rest.
	if config.Server.Port == "" {
		config.Server.Port = getEnv("PORT", "8080")
	}
	if config.Database.Host == "" {
		config.Database.Host = getEnv("DB_HOST", "localhost")
	}
	if config.Database.Port == 0 {
		config.Database.Port = getEnvAsInt("DB_PORT", 5432)
	}
	if config.Database.User == "" {
		config.Database.User = getEnv("DB_USER", "postgres")
	}
	if config.Database.Password == "" {
		config.Database.Password = getEnv("DB_PASSWORD", "postgres")
	}
	if config.Database.Name == "" {
		config.Database.Name = getEnv("DB_NAME", "flowsync")
	}
	if config.Database.SSLMode == "" {
		config.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	}
	if config.NATS.URL == "" {
		config.NATS.URL = getEnv("NATS_URL", "nats://localhost:4222")
	}
	if config.Race.TargetLaps == 0 {
		config.Race.TargetLaps = getEnvAsInt("RACE_TARGET_LAPS", 3)
	}

	return &config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
