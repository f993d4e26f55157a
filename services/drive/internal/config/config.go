package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with FILEVAULT_CONFIG.
const ConfigPath = "config.yaml"

const envPrefix = "FILEVAULT_"

// FileConfig represents configuration loaded from YAML. Every field can be
// overridden by the FILEVAULT_-prefixed environment variable in its env tag.
type FileConfig struct {
	Port          string   `yaml:"port" env:"PORT"`
	LogLevel      string   `yaml:"logLevel" env:"LOG_LEVEL"`
	DatabaseURL   string   `yaml:"databaseURL" env:"DATABASE_URL"`
	RedisAddr     string   `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword string   `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	AppURL        string   `yaml:"appURL" env:"APP_URL"`
	CORSOrigins   []string `yaml:"corsOrigins" env:"CORS_ORIGINS" envSeparator:","`

	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs" env:"TRUSTED_PROXY_CIDRS" envSeparator:","`

	SessionTTL   string `yaml:"sessionTTL" env:"SESSION_TTL"`
	PasscodeTTL  string `yaml:"passcodeTTL" env:"PASSCODE_TTL"`
	CookieSecure bool   `yaml:"cookieSecure" env:"COOKIE_SECURE"`

	StorageBackend string `yaml:"storageBackend" env:"STORAGE_BACKEND"`
	StorageDir     string `yaml:"storageDir" env:"STORAGE_DIR"`
	MinioEndpoint  string `yaml:"minioEndpoint" env:"MINIO_ENDPOINT"`
	MinioAccessKey string `yaml:"minioAccessKey" env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `yaml:"minioSecretKey" env:"MINIO_SECRET_KEY"`
	MinioBucket    string `yaml:"minioBucket" env:"MINIO_BUCKET"`
	MinioUseSSL    bool   `yaml:"minioUseSSL" env:"MINIO_USE_SSL"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes" env:"MAX_UPLOAD_BYTES"`

	GoogleClientID          string `yaml:"googleClientID" env:"GOOGLE_CLIENT_ID"`
	GoogleVerifyMode        string `yaml:"googleVerifyMode" env:"GOOGLE_VERIFY_MODE"`
	GoogleTokeninfoEndpoint string `yaml:"googleTokeninfoEndpoint" env:"GOOGLE_TOKENINFO_ENDPOINT"`
	GoogleJWKSURL           string `yaml:"googleJwksURL" env:"GOOGLE_JWKS_URL"`

	MailDelivery    string `yaml:"mailDelivery" env:"MAIL_DELIVERY"`
	MailQueueStream string `yaml:"mailQueueStream" env:"MAIL_QUEUE_STREAM"`
	SMTPHost        string `yaml:"smtpHost" env:"SMTP_HOST"`
	SMTPPort        int    `yaml:"smtpPort" env:"SMTP_PORT"`
	SMTPUsername    string `yaml:"smtpUsername" env:"SMTP_USERNAME"`
	SMTPPassword    string `yaml:"smtpPassword" env:"SMTP_PASSWORD"`
	SMTPFrom        string `yaml:"smtpFrom" env:"SMTP_FROM"`
	SMTPFromName    string `yaml:"smtpFromName" env:"SMTP_FROM_NAME"`
	SMTPTimeout     string `yaml:"smtpTimeout" env:"SMTP_TIMEOUT"`

	LoginRateLimitPerMinute  int `yaml:"loginRateLimitPerMinute" env:"LOGIN_RATE_LIMIT_PER_MINUTE"`
	VerifyRateLimitPerMinute int `yaml:"verifyRateLimitPerMinute" env:"VERIFY_RATE_LIMIT_PER_MINUTE"`
	GoogleRateLimitPerMinute int `yaml:"googleRateLimitPerMinute" env:"GOOGLE_RATE_LIMIT_PER_MINUTE"`
}

// Storage backends.
const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

// Google verification modes.
const (
	GoogleTokeninfo = "tokeninfo"
	GoogleJWKS      = "jwks"
)

// Mail delivery modes.
const (
	MailDirect = "direct"
	MailQueue  = "queue"
	MailLog    = "log"
)

// PathFromEnv returns FILEVAULT_CONFIG or the default path.
func PathFromEnv() string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml), applies
// environment overrides and defaults, then validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "168h"
	}
	if cfg.PasscodeTTL == "" {
		cfg.PasscodeTTL = "10m"
	}
	cfg.CORSOrigins = cleanList(cfg.CORSOrigins)
	cfg.TrustedProxyCIDRs = cleanList(cfg.TrustedProxyCIDRs)
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000"}
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = StorageLocal
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = "uploads"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.GoogleVerifyMode == "" {
		cfg.GoogleVerifyMode = GoogleTokeninfo
	}
	if cfg.MailDelivery == "" {
		if cfg.SMTPHost == "" {
			cfg.MailDelivery = MailLog
		} else {
			cfg.MailDelivery = MailDirect
		}
	}
	if cfg.MailQueueStream == "" {
		cfg.MailQueueStream = "filevault:mail"
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or FILEVAULT_DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.GoogleClientID) == "" {
		return errors.New("config: googleClientID is required (set in config.yaml or FILEVAULT_GOOGLE_CLIENT_ID)")
	}
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return err
	}
	if _, err := ParsePasscodeTTL(cfg.PasscodeTTL); err != nil {
		return err
	}
	if _, err := ParseSMTPTimeout(cfg.SMTPTimeout); err != nil {
		return err
	}
	switch cfg.StorageBackend {
	case StorageLocal:
		if strings.TrimSpace(cfg.StorageDir) == "" {
			return errors.New("config: storageDir is required for local storage")
		}
	case StorageMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for minio storage")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q (want local or minio)", cfg.StorageBackend)
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	switch cfg.GoogleVerifyMode {
	case GoogleTokeninfo, GoogleJWKS:
	default:
		return fmt.Errorf("config: unknown googleVerifyMode %q (want tokeninfo or jwks)", cfg.GoogleVerifyMode)
	}
	switch cfg.MailDelivery {
	case MailLog:
	case MailDirect:
		if strings.TrimSpace(cfg.SMTPHost) == "" || strings.TrimSpace(cfg.SMTPFrom) == "" {
			return errors.New("config: smtpHost and smtpFrom are required for direct mail delivery")
		}
	case MailQueue:
		if strings.TrimSpace(cfg.SMTPHost) == "" || strings.TrimSpace(cfg.SMTPFrom) == "" {
			return errors.New("config: smtpHost and smtpFrom are required for queued mail delivery")
		}
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for queued mail delivery")
		}
	default:
		return fmt.Errorf("config: unknown mailDelivery %q (want direct, queue or log)", cfg.MailDelivery)
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.VerifyRateLimitPerMinute < 0 || cfg.GoogleRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ParseSessionTTL parses the session lifetime.
func ParseSessionTTL(ttl string) (time.Duration, error) {
	return parsePositive("sessionTTL", ttl, 7*24*time.Hour)
}

// ParsePasscodeTTL parses the passcode lifetime.
func ParsePasscodeTTL(ttl string) (time.Duration, error) {
	return parsePositive("passcodeTTL", ttl, 10*time.Minute)
}

// ParseSMTPTimeout parses the per-send SMTP timeout.
func ParseSMTPTimeout(timeout string) (time.Duration, error) {
	return parsePositive("smtpTimeout", timeout, 15*time.Second)
}

func parsePositive(name, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return dur, nil
}
