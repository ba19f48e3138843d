package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr     = ":8080"
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
)

type DBConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type Config struct {
	HTTPAddr  string
	RedisAddr string
	DB        DBConfig
}

// Load reads config.env when present, then the environment. REDIS_ADDR is
// optional; the service runs without the wallet cache when it is empty.
func Load() (*Config, error) {
	if err := godotenv.Load(filepath.Join("config.env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load config.env: %w", err)
	}

	db, err := loadDB()
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", defaultHTTPAddr),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		DB:        *db,
	}, nil
}

func loadDB() (*DBConfig, error) {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpen, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", strconv.Itoa(defaultMaxOpenConns)))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdle, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", strconv.Itoa(defaultMaxIdleConns)))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	name := os.Getenv("DB_NAME")
	if name == "" {
		return nil, fmt.Errorf("DB_NAME must be set")
	}

	return &DBConfig{
		Host:         getEnv("DB_HOST", "localhost"),
		Port:         port,
		User:         os.Getenv("DB_USER"),
		Password:     os.Getenv("DB_PASSWORD"),
		Name:         name,
		SSLMode:      getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns: maxOpen,
		MaxIdleConns: maxIdle,
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
