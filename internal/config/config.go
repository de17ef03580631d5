// Package config reads process settings from CHOREBANK_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/chorebank/internal/model"
)

type EmailProvider string

const (
	EmailNone     EmailProvider = "none"
	EmailPostmark EmailProvider = "postmark"
	EmailSES      EmailProvider = "ses"
)

type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string

	ApprovalThreshold        int
	OverdueSeverity          model.Severity
	AllowAdjustmentOverdraft bool
	SweepInterval            time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	EmailProvider EmailProvider
	PostmarkToken string
	EmailFrom     string
	SESRegion     string

	Backup Backup
}

// Backup configures encrypted database snapshots to S3-compatible storage.
type Backup struct {
	Bucket     string
	Prefix     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Interval   time.Duration
	Retention  time.Duration
}

// Load returns the configuration from the process environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:            get("CHOREBANK_PORT", "8080"),
		DBPath:          get("CHOREBANK_DB_PATH", "chorebank.db"),
		LogLevel:        get("CHOREBANK_LOG_LEVEL", "info"),
		LogFormat:       get("CHOREBANK_LOG_FORMAT", "text"),
		VAPIDPublicKey:  get("CHOREBANK_VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: get("CHOREBANK_VAPID_PRIVATE_KEY", ""),
		VAPIDSubscriber: get("CHOREBANK_VAPID_SUBSCRIBER", "mailto:admin@localhost"),
		PostmarkToken:   get("CHOREBANK_POSTMARK_TOKEN", ""),
		EmailFrom:       get("CHOREBANK_EMAIL_FROM", ""),
		SESRegion:       get("CHOREBANK_SES_REGION", "us-east-1"),
		Backup: Backup{
			Bucket:     get("CHOREBANK_BACKUP_BUCKET", ""),
			Prefix:     get("CHOREBANK_BACKUP_PREFIX", "chorebank"),
			Region:     get("CHOREBANK_BACKUP_REGION", "us-east-1"),
			Endpoint:   get("CHOREBANK_BACKUP_ENDPOINT", ""),
			AccessKey:  get("CHOREBANK_BACKUP_ACCESS_KEY", ""),
			SecretKey:  get("CHOREBANK_BACKUP_SECRET_KEY", ""),
			Passphrase: getenv("CHOREBANK_BACKUP_PASSPHRASE"),
		},
	}

	var errs []error

	threshold, err := strconv.Atoi(get("CHOREBANK_APPROVAL_THRESHOLD", "200"))
	if err != nil {
		errs = append(errs, fmt.Errorf("CHOREBANK_APPROVAL_THRESHOLD: %w", err))
	}
	cfg.ApprovalThreshold = threshold

	severity, err := model.ParseSeverity(strings.ToLower(get("CHOREBANK_OVERDUE_SEVERITY", "medium")))
	if err != nil {
		errs = append(errs, fmt.Errorf("CHOREBANK_OVERDUE_SEVERITY: %w", err))
	}
	cfg.OverdueSeverity = severity

	overdraft, err := strconv.ParseBool(get("CHOREBANK_ALLOW_ADJUSTMENT_OVERDRAFT", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("CHOREBANK_ALLOW_ADJUSTMENT_OVERDRAFT: %w", err))
	}
	cfg.AllowAdjustmentOverdraft = overdraft

	interval, err := time.ParseDuration(get("CHOREBANK_SWEEP_INTERVAL", "15m"))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("CHOREBANK_SWEEP_INTERVAL: %w", err))
	case interval < 0:
		errs = append(errs, fmt.Errorf("CHOREBANK_SWEEP_INTERVAL: must not be negative"))
	}
	cfg.SweepInterval = interval

	backupInterval, err := time.ParseDuration(get("CHOREBANK_BACKUP_INTERVAL", "24h"))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("CHOREBANK_BACKUP_INTERVAL: %w", err))
	case backupInterval < 0:
		errs = append(errs, fmt.Errorf("CHOREBANK_BACKUP_INTERVAL: must not be negative"))
	}
	cfg.Backup.Interval = backupInterval

	retentionDays, err := strconv.Atoi(get("CHOREBANK_BACKUP_RETENTION_DAYS", "30"))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("CHOREBANK_BACKUP_RETENTION_DAYS: %w", err))
	case retentionDays < 0:
		errs = append(errs, fmt.Errorf("CHOREBANK_BACKUP_RETENTION_DAYS: must not be negative"))
	}
	cfg.Backup.Retention = time.Duration(retentionDays) * 24 * time.Hour

	if cfg.Backup.Bucket != "" && cfg.Backup.Passphrase == "" {
		errs = append(errs, errors.New("CHOREBANK_BACKUP_PASSPHRASE is required when backups are enabled"))
	}

	switch p := EmailProvider(strings.ToLower(get("CHOREBANK_EMAIL_PROVIDER", "none"))); p {
	case EmailNone, EmailPostmark, EmailSES:
		cfg.EmailProvider = p
	default:
		errs = append(errs, fmt.Errorf("CHOREBANK_EMAIL_PROVIDER: unknown provider %q", p))
	}
	if cfg.EmailProvider != EmailNone && cfg.EmailFrom == "" {
		errs = append(errs, errors.New("CHOREBANK_EMAIL_FROM is required when email is enabled"))
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("CHOREBANK_LOG_FORMAT: unknown format %q", cfg.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// PushEnabled reports whether both VAPID keys are set.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// BackupEnabled reports whether a backup bucket is configured.
func (c *Config) BackupEnabled() bool {
	return c.Backup.Bucket != ""
}
