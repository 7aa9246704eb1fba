package config

import (
	"errors"
	"fmt"
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

// Storage backends understood by the record store factory.
const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Export publish targets.
const (
	ExportTargetFilesystem = "fs"
	ExportTargetS3         = "s3"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Storage   StorageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Log       LogConfig
	Review    ReviewConfig
	Email     EmailConfig
	Notify    NotifyConfig
	Export    ExportConfig
	Reconcile ReconcileConfig
}

// StorageConfig selects and tunes the record store.
type StorageConfig struct {
	Backend     string
	DataDir     string
	LockTimeout time.Duration
}

type DatabaseConfig struct {
	Driver       string
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
	CacheTTL time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ReviewConfig holds reviewer workflow switches.
type ReviewConfig struct {
	AutoApprove bool
}

// EmailConfig configures the submit notification sent to the site admin.
type EmailConfig struct {
	Enabled    bool
	SMTPHost   string
	SMTPPort   int
	Username   string
	Password   string
	Sender     string
	AdminEmail string
	AdminURL   string
}

// NotifyConfig tunes the background notification queue.
type NotifyConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

// ExportConfig controls where published exports land.
type ExportConfig struct {
	Target       string
	Dir          string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3PathStyle  bool
	S3Prefix     string
	CSVFilename  string
	PDFFilename  string
	PublishTitle string
}

// ReconcileConfig toggles the consistency sweep at startup.
type ReconcileConfig struct {
	OnStartup bool
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

	cfg.Storage = StorageConfig{
		Backend:     strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_BACKEND"))),
		DataDir:     v.GetString("DATA_DIR"),
		LockTimeout: parseDuration(v.GetString("STORAGE_LOCK_TIMEOUT"), 5*time.Second),
	}

	cfg.Database = DatabaseConfig{
		Driver:       v.GetString("DB_DRIVER"),
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
		CacheTTL: parseDuration(v.GetString("CACHE_TTL"), 30*time.Second),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Review = ReviewConfig{
		AutoApprove: v.GetBool("AUTO_APPROVE"),
	}

	cfg.Email = EmailConfig{
		Enabled:    v.GetBool("EMAIL_ENABLED"),
		SMTPHost:   v.GetString("SMTP_HOST"),
		SMTPPort:   v.GetInt("SMTP_PORT"),
		Username:   v.GetString("SMTP_USERNAME"),
		Password:   v.GetString("SMTP_PASSWORD"),
		Sender:     v.GetString("EMAIL_SENDER"),
		AdminEmail: v.GetString("EMAIL_ADMIN"),
		AdminURL:   v.GetString("ADMIN_URL"),
	}

	cfg.Notify = NotifyConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		Retries:    v.GetInt("NOTIFY_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Export = ExportConfig{
		Target:       strings.ToLower(strings.TrimSpace(v.GetString("EXPORT_TARGET"))),
		Dir:          v.GetString("EXPORT_DIR"),
		S3Bucket:     v.GetString("EXPORT_S3_BUCKET"),
		S3Region:     v.GetString("EXPORT_S3_REGION"),
		S3Endpoint:   v.GetString("EXPORT_S3_ENDPOINT"),
		S3PathStyle:  v.GetBool("EXPORT_S3_PATH_STYLE"),
		S3Prefix:     v.GetString("EXPORT_S3_PREFIX"),
		CSVFilename:  v.GetString("EXPORT_CSV_FILENAME"),
		PDFFilename:  v.GetString("EXPORT_PDF_FILENAME"),
		PublishTitle: v.GetString("EXPORT_TITLE"),
	}

	cfg.Reconcile = ReconcileConfig{
		OnStartup: v.GetBool("RECONCILE_ON_STARTUP"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendCSV, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	switch c.Export.Target {
	case ExportTargetFilesystem:
	case ExportTargetS3:
		if c.Export.S3Bucket == "" {
			return fmt.Errorf("EXPORT_S3_BUCKET required when EXPORT_TARGET=s3")
		}
	default:
		return fmt.Errorf("unknown EXPORT_TARGET %q", c.Export.Target)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 5000)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("STORAGE_BACKEND", BackendCSV)
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("STORAGE_LOCK_TIMEOUT", "5s")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "isotope_submissions")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", "30s")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AUTO_APPROVE", false)

	v.SetDefault("EMAIL_ENABLED", false)
	v.SetDefault("SMTP_HOST", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("EMAIL_SENDER", "")
	v.SetDefault("EMAIL_ADMIN", "")
	v.SetDefault("ADMIN_URL", "http://localhost:5000/admin.html")

	v.SetDefault("NOTIFY_WORKERS", 1)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "5s")

	v.SetDefault("EXPORT_TARGET", ExportTargetFilesystem)
	v.SetDefault("EXPORT_DIR", "./public")
	v.SetDefault("EXPORT_S3_BUCKET", "")
	v.SetDefault("EXPORT_S3_REGION", "us-east-1")
	v.SetDefault("EXPORT_S3_ENDPOINT", "")
	v.SetDefault("EXPORT_S3_PATH_STYLE", false)
	v.SetDefault("EXPORT_S3_PREFIX", "")
	v.SetDefault("EXPORT_CSV_FILENAME", "approved_measurements.csv")
	v.SetDefault("EXPORT_PDF_FILENAME", "approved_measurements.pdf")
	v.SetDefault("EXPORT_TITLE", "Approved isotope ratio measurements")

	v.SetDefault("RECONCILE_ON_STARTUP", true)
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
