package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// GetConfig sets default values to the Config struct, then tries to override them with a .json config file (the path is stored in the CONFIG_PATH environment variable),
// and finally overrides values from environment variables on the first usage. Then, it returns a pointer to the global config instance.
func GetConfig() (*Config, error) {
	initOnce.Do(func() {
		var cfg *Config
		cfg, globalErr = Load()
		if cfg != nil {
			globalConfig = *cfg
		}
	})

	if globalErr != nil {
		return nil, globalErr
	}
	return &globalConfig, nil
}

// Load builds a fresh Config without touching the global instance.
func Load() (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	// Overriding values from json if it is possible
	if err := loadFromJSON(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from JSON: %w", err)
	}

	// Overriding values from env
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.Database.Enabled = cfg.Storage == StoragePostgres

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	cfg.Env = EnvDevelopment
	cfg.Storage = StoragePostgres

	cfg.Server = ServerConfig{
		Port:            "8080",
		Host:            "0.0.0.0",
		ReadTimeout:     Duration(30 * time.Second),
		WriteTimeout:    Duration(30 * time.Second),
		ShutdownTimeout: Duration(10 * time.Second),
	}

	cfg.Database = DatabaseConfig{
		Host:           "localhost",
		Port:           "5432",
		User:           "postgres",
		Password:       "password",
		DBName:         "newsauth",
		SSLMode:        "disable",
		MigrationsPath: "migrations",
		MaxOpenConns:   10,
	}

	cfg.Redis = RedisConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	}

	cfg.JWT = JWTConfig{
		AccessTokenTTL:  Duration(15 * time.Minute),
		RefreshTokenTTL: Duration(7 * 24 * time.Hour),
	}

	cfg.Cookie = CookieConfig{
		Name: "refreshToken",
		Path: "/api/auth",
	}

	cfg.Security = SecurityConfig{
		BcryptCost:       12,
		LivenessCacheTTL: Duration(30 * time.Second),
		MaxLoginAttempts: 5,
		AttemptWindow:    Duration(15 * time.Minute),
	}

	cfg.Sessions = SessionsConfig{
		SweepInterval: Duration(time.Hour),
	}

	cfg.Audit = AuditConfig{
		BufferSize: 256,
	}

	cfg.Log = LogConfig{
		Level: "info",
	}

	cfg.Bootstrap = BootstrapConfig{
		AdminUsername: "admin",
	}
}

func loadFromJSON(cfg *Config) error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cfg)
}

// loadFromEnv unmarshalles env variables for config from enviroment
func loadFromEnv(cfg *Config) error {
	return env.Parse(cfg)
}

// getConfigPaths reads path to .json config from CONFIG_PATH env variable
func getConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return filepath.Join("config", "config.json")
}

func validate(cfg *Config) error {
	validate := validator.New()

	// Duration fields must be greater than 0
	validate.RegisterValidation("duration_gt0", func(fl validator.FieldLevel) bool {
		d, ok := fl.Field().Interface().(Duration)
		return ok && d > 0
	})

	return validate.Struct(cfg)
}
