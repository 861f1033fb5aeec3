package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Rate limit backends.
const (
	RateLimitBackendRedis    = "redis"
	RateLimitBackendPostgres = "postgres"
)

const defaultJWTSecret = "dev_secret"

// ErrInsecureJWTSecret is returned when production runs with an empty or default signing secret.
var ErrInsecureJWTSecret = errors.New("JWT_SECRET must be set to a non-default value in production")

// Composer modes.
const (
	ComposerTemplate = "template"
	ComposerLLM      = "llm"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Assistant AssistantConfig
	Audit     AuditConfig
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
	// ScopeRole is the role tenant-scoped reads switch to. Row-level-security
	// policies on the domain tables target this role only.
	ScopeRole string
}

type RedisConfig struct {
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

// AssistantConfig tunes retrieval, throttling and reply composition for the assistant endpoint.
type AssistantConfig struct {
	AgentKey         string
	RateLimitMax     int
	RateLimitWindow  time.Duration
	RateLimitBackend string
	PassingGrade     float64
	FinanceMonths    int
	MaxDocuments     int
	MaxReplyChars    int
	Composer         string
	LLM              LLMConfig
}

// LLMConfig points the optional composer delegate at an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// AuditConfig controls the append-only audit mirror file.
type AuditConfig struct {
	MirrorPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := fromViper(v)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Env == EnvProduction {
		secret := strings.TrimSpace(c.JWT.Secret)
		if secret == "" || secret == defaultJWTSecret {
			return ErrInsecureJWTSecret
		}
	}
	return nil
}

func fromViper(v *viper.Viper) *Config {
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
		ScopeRole:    strings.TrimSpace(v.GetString("DB_SCOPE_ROLE")),
	}

	cfg.Redis = RedisConfig{
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

	backend := strings.ToLower(strings.TrimSpace(v.GetString("ASSISTANT_RATE_LIMIT_BACKEND")))
	if backend != RateLimitBackendPostgres {
		backend = RateLimitBackendRedis
	}
	composer := strings.ToLower(strings.TrimSpace(v.GetString("ASSISTANT_COMPOSER")))
	if composer != ComposerLLM {
		composer = ComposerTemplate
	}

	cfg.Assistant = AssistantConfig{
		AgentKey:         v.GetString("ASSISTANT_AGENT_KEY"),
		RateLimitMax:     v.GetInt("ASSISTANT_RATE_LIMIT_MAX"),
		RateLimitWindow:  parseDuration(v.GetString("ASSISTANT_RATE_LIMIT_WINDOW"), time.Hour),
		RateLimitBackend: backend,
		PassingGrade:     v.GetFloat64("ASSISTANT_PASSING_GRADE"),
		FinanceMonths:    v.GetInt("ASSISTANT_FINANCE_MONTHS"),
		MaxDocuments:     v.GetInt("ASSISTANT_MAX_DOCUMENTS"),
		MaxReplyChars:    v.GetInt("ASSISTANT_MAX_REPLY_CHARS"),
		Composer:         composer,
		LLM: LLMConfig{
			BaseURL: v.GetString("ASSISTANT_LLM_BASE_URL"),
			APIKey:  v.GetString("ASSISTANT_LLM_API_KEY"),
			Model:   v.GetString("ASSISTANT_LLM_MODEL"),
			Timeout: parseDuration(v.GetString("ASSISTANT_LLM_TIMEOUT"), 30*time.Second),
		},
	}

	cfg.Audit = AuditConfig{
		MirrorPath: v.GetString("AUDIT_MIRROR_PATH"),
		MaxSizeMB:  v.GetInt("AUDIT_MIRROR_MAX_SIZE_MB"),
		MaxBackups: v.GetInt("AUDIT_MIRROR_MAX_BACKUPS"),
		MaxAgeDays: v.GetInt("AUDIT_MIRROR_MAX_AGE_DAYS"),
		Compress:   v.GetBool("AUDIT_MIRROR_COMPRESS"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "admin_panel_sma")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_SCOPE_ROLE", "assistant_reader")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ASSISTANT_AGENT_KEY", "school-assistant")
	v.SetDefault("ASSISTANT_RATE_LIMIT_MAX", 30)
	v.SetDefault("ASSISTANT_RATE_LIMIT_WINDOW", "1h")
	v.SetDefault("ASSISTANT_RATE_LIMIT_BACKEND", RateLimitBackendRedis)
	v.SetDefault("ASSISTANT_PASSING_GRADE", 10.0)
	v.SetDefault("ASSISTANT_FINANCE_MONTHS", 6)
	v.SetDefault("ASSISTANT_MAX_DOCUMENTS", 12)
	v.SetDefault("ASSISTANT_MAX_REPLY_CHARS", 4000)
	v.SetDefault("ASSISTANT_COMPOSER", ComposerTemplate)
	v.SetDefault("ASSISTANT_LLM_BASE_URL", "")
	v.SetDefault("ASSISTANT_LLM_API_KEY", "")
	v.SetDefault("ASSISTANT_LLM_MODEL", "")
	v.SetDefault("ASSISTANT_LLM_TIMEOUT", "30s")

	v.SetDefault("AUDIT_MIRROR_PATH", "")
	v.SetDefault("AUDIT_MIRROR_MAX_SIZE_MB", 100)
	v.SetDefault("AUDIT_MIRROR_MAX_BACKUPS", 10)
	v.SetDefault("AUDIT_MIRROR_MAX_AGE_DAYS", 90)
	v.SetDefault("AUDIT_MIRROR_COMPRESS", true)
}

// isMissingFile covers viper returning a plain fs error when SetConfigFile points at an absent .env.
func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
