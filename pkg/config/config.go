package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Cascade reactivation modes.
const (
	ReactivateAcademicYear = "academic_year"
	ReactivateSuppressed   = "suppressed"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Status   StatusConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StatusConfig tunes the status-assignment rule engine.
type StatusConfig struct {
	// ExclusivePairs lists category pairs ("REGULAR:CASUAL") that cannot both be active in one semester scope.
	ExclusivePairs []string
	// RequiredChecksApplicability makes the REQUIRED policy also validate the subject domain.
	RequiredChecksApplicability bool
	// ReactivateMode is either ReactivateSuppressed or ReactivateAcademicYear.
	ReactivateMode string
	SeedOnBoot     bool

	SubjectCacheTTL time.Duration
	NotifyChannel   string

	ReconcileWorkers int
	ReconcileRetries int
	ReconcileDelay   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	reactivate := strings.ToLower(strings.TrimSpace(v.GetString("STATUS_CASCADE_REACTIVATE")))
	if reactivate != ReactivateAcademicYear {
		reactivate = ReactivateSuppressed
	}

	cfg.Status = StatusConfig{
		ExclusivePairs:              splitAndTrim(v.GetString("STATUS_EXCLUSIVE_PAIRS")),
		RequiredChecksApplicability: v.GetBool("STATUS_REQUIRED_CHECKS_APPLICABILITY"),
		ReactivateMode:              reactivate,
		SeedOnBoot:                  v.GetBool("STATUS_SEED_ON_BOOT"),
		SubjectCacheTTL:             parseDuration(v.GetString("STATUS_SUBJECT_CACHE_TTL"), 2*time.Minute),
		NotifyChannel:               v.GetString("STATUS_NOTIFY_CHANNEL"),
		ReconcileWorkers:            v.GetInt("STATUS_RECONCILE_WORKERS"),
		ReconcileRetries:            v.GetInt("STATUS_RECONCILE_RETRIES"),
		ReconcileDelay:              parseDuration(v.GetString("STATUS_RECONCILE_DELAY"), 2*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_status")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STATUS_EXCLUSIVE_PAIRS", "REGULAR:CASUAL")
	v.SetDefault("STATUS_REQUIRED_CHECKS_APPLICABILITY", false)
	v.SetDefault("STATUS_CASCADE_REACTIVATE", ReactivateSuppressed)
	v.SetDefault("STATUS_SEED_ON_BOOT", true)
	v.SetDefault("STATUS_SUBJECT_CACHE_TTL", "2m")
	v.SetDefault("STATUS_NOTIFY_CHANNEL", "status-assignments")
	v.SetDefault("STATUS_RECONCILE_WORKERS", 1)
	v.SetDefault("STATUS_RECONCILE_RETRIES", 5)
	v.SetDefault("STATUS_RECONCILE_DELAY", "2s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
