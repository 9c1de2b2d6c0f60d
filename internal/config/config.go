package config

import (
	"sync"
)

var (
	globalConfig Config
	globalErr    error
	initOnce     sync.Once
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Env       string          `json:"env" env:"APP_ENV" validate:"required,oneof=development production test"`
	Storage   string          `json:"storage" env:"STORAGE" validate:"required,oneof=postgres memory"`
	Server    ServerConfig    `json:"server" envPrefix:"SERVER_" validate:"required"`
	Database  DatabaseConfig  `json:"database" envPrefix:"DB_"`
	Redis     RedisConfig     `json:"redis" envPrefix:"REDIS_"`
	JWT       JWTConfig       `json:"jwt" envPrefix:"JWT_" validate:"required"`
	Cookie    CookieConfig    `json:"cookie" envPrefix:"COOKIE_" validate:"required"`
	Security  SecurityConfig  `json:"security" envPrefix:"SECURITY_" validate:"required"`
	Sessions  SessionsConfig  `json:"sessions" envPrefix:"SESSIONS_" validate:"required"`
	Audit     AuditConfig     `json:"audit" envPrefix:"AUDIT_" validate:"required"`
	Log       LogConfig       `json:"log" envPrefix:"LOG_"`
	Bootstrap BootstrapConfig `json:"bootstrap" envPrefix:"BOOTSTRAP_"`
}

// IsProduction reports whether cookies must carry the Secure flag.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

type ServerConfig struct {
	Port            string   `json:"port" env:"PORT" validate:"required,numeric"`
	Host            string   `json:"host" env:"HOST" validate:"required,hostname|ip"`
	ReadTimeout     Duration `json:"read_timeout" env:"READ_TIMEOUT" validate:"required,duration_gt0"`
	WriteTimeout    Duration `json:"write_timeout" env:"WRITE_TIMEOUT" validate:"required,duration_gt0"`
	ShutdownTimeout Duration `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"required,duration_gt0"`
	AllowedOrigins  []string `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:"," validate:"dive,url"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `json:"trust_proxy" env:"TRUST_PROXY"`
}

type DatabaseConfig struct {
	Host           string `json:"host" env:"HOST" validate:"required_if=Enabled true"`
	Port           string `json:"port" env:"PORT" validate:"omitempty,numeric"`
	User           string `json:"user" env:"USER"`
	Password       string `json:"password" env:"PASSWORD"`
	DBName         string `json:"db_name" env:"NAME"`
	SSLMode        string `json:"ssl_mode" env:"SSL_MODE" validate:"omitempty,oneof=disable require verify-ca verify-full"`
	MigrationsPath string `json:"migrations_path" env:"MIGRATIONS_PATH"`
	MaxOpenConns   int    `json:"max_open_conns" env:"MAX_OPEN_CONNS" validate:"gte=0"`
	// Enabled is derived from Config.Storage.
	Enabled bool `json:"-"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" env:"ENABLED"`
	Addr     string `json:"addr" env:"ADDR" validate:"required_if=Enabled true"`
	Password string `json:"password" env:"PASSWORD" validate:"omitempty"`
	DB       int    `json:"db" env:"DB" validate:"gte=0"`
}

type JWTConfig struct {
	AccessSecret    string   `json:"access_secret" env:"ACCESS_SECRET" validate:"required,min=32"`
	AccessTokenTTL  Duration `json:"access_token_ttl" env:"ACCESS_TOKEN_TTL" validate:"required,duration_gt0"`
	RefreshSecret   string   `json:"refresh_secret" env:"REFRESH_SECRET" validate:"required,min=32,nefield=AccessSecret"`
	RefreshTokenTTL Duration `json:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" validate:"required,duration_gt0"`
}

type CookieConfig struct {
	Name   string `json:"name" env:"NAME" validate:"required"`
	Path   string `json:"path" env:"PATH" validate:"required,startswith=/"`
	Domain string `json:"domain" env:"DOMAIN"`
}

type SecurityConfig struct {
	BcryptCost       int      `json:"bcrypt_cost" env:"BCRYPT_COST" validate:"gte=4,lte=31"`
	LivenessCacheTTL Duration `json:"liveness_cache_ttl" env:"LIVENESS_CACHE_TTL" validate:"required,duration_gt0"`
	MaxLoginAttempts int      `json:"max_login_attempts" env:"MAX_LOGIN_ATTEMPTS" validate:"gte=0"`
	AttemptWindow    Duration `json:"attempt_window" env:"ATTEMPT_WINDOW" validate:"required,duration_gt0"`
}

type SessionsConfig struct {
	SweepInterval Duration `json:"sweep_interval" env:"SWEEP_INTERVAL" validate:"required,duration_gt0"`
}

type AuditConfig struct {
	BufferSize int `json:"buffer_size" env:"BUFFER_SIZE" validate:"gt=0"`
}

type LogConfig struct {
	Level string `json:"level" env:"LEVEL" validate:"omitempty,oneof=debug info warn error"`
}

// BootstrapConfig describes an admin account created at startup when it does not exist yet.
// Leaving AdminEmail empty disables it.
type BootstrapConfig struct {
	AdminUsername string `json:"admin_username" env:"ADMIN_USERNAME" validate:"required_with=AdminEmail,omitempty,min=3,max=50"`
	AdminEmail    string `json:"admin_email" env:"ADMIN_EMAIL" validate:"required_with=AdminPassword,omitempty,email"`
	AdminPassword string `json:"admin_password" env:"ADMIN_PASSWORD" validate:"required_with=AdminEmail,omitempty,min=8,max=100"`
}
