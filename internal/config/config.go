package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageBadger   = "badger"
)

var validate = validator.New()

// Config はアプリケーションの設定
type Config struct {
	Port string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	Env  string `envconfig:"ENV" default:"development" validate:"oneof=development production test"`

	StorageType string `envconfig:"STORAGE_TYPE" default:"memory" validate:"oneof=memory postgres badger"`

	// PostgreSQL（DATABASE_URL がなければ個別の変数から組み立てる）
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBHost      string `envconfig:"DB_HOST"`
	DBPort      string `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USERNAME"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
	DBName      string `envconfig:"DB_NAME"`

	BadgerPath string `envconfig:"BADGER_PATH" default:"./data/board"`

	// 設定されていればnonceをRedisで共有する
	RedisURL string `envconfig:"REDIS_URL"`

	SignatureWindow time.Duration `envconfig:"SIGNATURE_WINDOW" default:"30s" validate:"gt=0"`
}

// Load は .env と環境変数から設定を読み込む
func Load() (Config, error) {
	// .env があれば読み込む（開発用）
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}

	if cfg.DatabaseURL == "" && cfg.DBHost != "" && cfg.DBUser != "" && cfg.DBPassword != "" && cfg.DBName != "" {
		// 個別の環境変数からDATABASE_URLを組み立てる（ECS + Secrets Manager対応）
		cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=require",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}

	return cfg, cfg.Validate()
}

// Validate は設定の整合性を検証する
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.StorageType == StoragePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL or DB_HOST/DB_USERNAME/DB_PASSWORD/DB_NAME is required when STORAGE_TYPE=postgres")
	}
	if c.StorageType == StorageBadger && c.BadgerPath == "" {
		return fmt.Errorf("BADGER_PATH is required when STORAGE_TYPE=badger")
	}
	return nil
}

// IsDevelopment は開発モードかどうかを返す
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}
