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

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	SIS          SISConfig
	Anchoring    AnchoringConfig
	Certificates CertificatesConfig
	Verification VerificationConfig
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
	Secret            string
	Issuer            string
	AccessTokenExpiry time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SISConfig points at the external School Information System gateway.
type SISConfig struct {
	BaseURL         string
	APIKey          string
	InstitutionID   string
	InstitutionName string
	InstitutionCode string
	Timeout         time.Duration
}

// Configured reports whether enough settings exist to talk to a real gateway.
func (c SISConfig) Configured() bool {
	return c.BaseURL != "" && c.APIKey != "" && c.InstitutionID != ""
}

// AnchoringConfig governs blockchain anchoring of issued certificates.
type AnchoringConfig struct {
	Enabled                 bool
	DisabledTenants         []string
	Timeout                 time.Duration
	MaxRetries              int
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	AllowUnanchoredFallback bool
	Workers                 int
}

// EnabledFor reports whether anchoring applies to the tenant.
func (c AnchoringConfig) EnabledFor(tenantID string) bool {
	if !c.Enabled {
		return false
	}
	for _, t := range c.DisabledTenants {
		if strings.EqualFold(t, tenantID) {
			return false
		}
	}
	return true
}

// CertificatesConfig controls certificate documents and the public verification link.
type CertificatesConfig struct {
	VerifyBaseURL        string
	DocumentsDir         string
	DocumentURLSecret    string
	DocumentURLTTL       time.Duration
	VerificationCacheTTL time.Duration
	CGPAScale            float64
}

// VerificationConfig throttles the public verification endpoint.
type VerificationConfig struct {
	RateLimitRPS   int
	RateLimitBurst int
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
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		AccessTokenExpiry: parseDuration(v.GetString("JWT_ACCESS_TOKEN_EXPIRY"), 15*time.Minute),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.SIS = SISConfig{
		BaseURL:         strings.TrimRight(v.GetString("SIS_API_URL"), "/"),
		APIKey:          v.GetString("SIS_API_KEY"),
		InstitutionID:   v.GetString("SIS_INSTITUTION_ID"),
		InstitutionName: v.GetString("INSTITUTION_NAME"),
		InstitutionCode: v.GetString("INSTITUTION_CODE"),
		Timeout:         parseDuration(v.GetString("SIS_TIMEOUT"), 15*time.Second),
	}

	cfg.Anchoring = AnchoringConfig{
		Enabled:                 v.GetBool("ENABLE_BLOCKCHAIN_ANCHORING"),
		DisabledTenants:         splitAndTrim(v.GetString("ANCHOR_DISABLED_TENANTS")),
		Timeout:                 parseDuration(v.GetString("ANCHOR_TIMEOUT"), 20*time.Second),
		MaxRetries:              v.GetInt("MAX_ANCHOR_RETRIES"),
		RetryBaseDelay:          parseDuration(v.GetString("ANCHOR_RETRY_BASE_DELAY"), 2*time.Second),
		RetryMaxDelay:           parseDuration(v.GetString("ANCHOR_RETRY_MAX_DELAY"), time.Minute),
		AllowUnanchoredFallback: v.GetBool("ALLOW_UNANCHORED_FALLBACK"),
		Workers:                 v.GetInt("ANCHOR_WORKERS"),
	}

	scale := v.GetFloat64("CGPA_SCALE")
	if scale <= 0 {
		scale = 4.0
	}
	cfg.Certificates = CertificatesConfig{
		VerifyBaseURL:        strings.TrimRight(v.GetString("CERTIFICATE_VERIFY_BASE_URL"), "/"),
		DocumentsDir:         v.GetString("CERTIFICATE_DOCUMENTS_DIR"),
		DocumentURLSecret:    v.GetString("CERTIFICATE_DOCUMENT_URL_SECRET"),
		DocumentURLTTL:       parseDuration(v.GetString("CERTIFICATE_DOCUMENT_URL_TTL"), 15*time.Minute),
		VerificationCacheTTL: parseDuration(v.GetString("VERIFICATION_CACHE_TTL"), 5*time.Minute),
		CGPAScale:            scale,
	}

	cfg.Verification = VerificationConfig{
		RateLimitRPS:   v.GetInt("VERIFY_RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("VERIFY_RATE_LIMIT_BURST"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configurations that cannot run safely in production.
func (c *Config) validate() error {
	if c.Env != EnvProduction {
		return nil
	}
	if c.Anchoring.Enabled && !c.SIS.Configured() {
		return errors.New("blockchain anchoring is enabled but SIS_API_URL, SIS_API_KEY or SIS_INSTITUTION_ID is missing")
	}
	if c.JWT.Secret == "" || c.JWT.Secret == "dev_secret" {
		return errors.New("JWT_SECRET must be set in production")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campus_certificates")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_ACCESS_TOKEN_EXPIRY", "15m")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SIS_API_URL", "http://localhost:3001/api")
	v.SetDefault("SIS_API_KEY", "")
	v.SetDefault("SIS_INSTITUTION_ID", "")
	v.SetDefault("INSTITUTION_NAME", "Demo University")
	v.SetDefault("INSTITUTION_CODE", "DU")
	v.SetDefault("SIS_TIMEOUT", "15s")

	v.SetDefault("ENABLE_BLOCKCHAIN_ANCHORING", true)
	v.SetDefault("ANCHOR_DISABLED_TENANTS", "")
	v.SetDefault("ANCHOR_TIMEOUT", "20s")
	v.SetDefault("MAX_ANCHOR_RETRIES", 3)
	v.SetDefault("ANCHOR_RETRY_BASE_DELAY", "2s")
	v.SetDefault("ANCHOR_RETRY_MAX_DELAY", "1m")
	v.SetDefault("ALLOW_UNANCHORED_FALLBACK", false)
	v.SetDefault("ANCHOR_WORKERS", 2)

	v.SetDefault("CERTIFICATE_VERIFY_BASE_URL", "http://localhost:3000/verify")
	v.SetDefault("CERTIFICATE_DOCUMENTS_DIR", "./certificates")
	v.SetDefault("CERTIFICATE_DOCUMENT_URL_SECRET", "dev_documents_secret")
	v.SetDefault("CERTIFICATE_DOCUMENT_URL_TTL", "15m")
	v.SetDefault("VERIFICATION_CACHE_TTL", "5m")
	v.SetDefault("CGPA_SCALE", 4.0)

	v.SetDefault("VERIFY_RATE_LIMIT_RPS", 5)
	v.SetDefault("VERIFY_RATE_LIMIT_BURST", 10)
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
