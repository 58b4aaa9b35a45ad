package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/fountain/internal/clinic"
	"github.com/hitoshi/fountain/internal/security"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Patient web
	PatientWebURL string
	ClinicName    string

	// SMS (Twilio)
	TwilioAccountSID          string
	TwilioAuthToken           string
	TwilioMessagingServiceSID string
	TwilioAPIBase             string
	SMSTimeout                time.Duration

	// Queue
	AverageServiceMinutes float64
	MinimumWaitMinutes    int
	AlmostThreshold       int
	ReadyThreshold        int
	StatusAdvanceInterval time.Duration
	BusyWaitMinutes       int

	// Clinic hours
	ClinicTimezone  string
	ClinicOpenTime  string
	ClinicCloseTime string
	ClinicHours     clinic.Hours

	// Retention
	RetentionDays int

	// Rate Limit
	RateLimitCheckIn int

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// Tracing
	OTLPEndpoint string
	OTLPInsecure bool

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv は .env ファイルの値を環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.PatientWebURL = getEnvString("PATIENT_WEB_URL", "https://fountain-patient-web.netlify.app")
	cfg.ClinicName = getEnvString("CLINIC_NAME", "Bundle Medical & Sportsworld Walk-In Clinic")
	cfg.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.TwilioMessagingServiceSID = os.Getenv("TWILIO_MESSAGING_SERVICE_SID")
	cfg.TwilioAPIBase = getEnvString("TWILIO_API_BASE", "https://api.twilio.com")
	cfg.SMSTimeout = getEnvDuration("SMS_TIMEOUT", 10*time.Second)
	cfg.AverageServiceMinutes = getEnvFloat("AVERAGE_SERVICE_MINUTES", 10)
	cfg.MinimumWaitMinutes = getEnvInt("MINIMUM_WAIT_MINUTES", 5)
	cfg.AlmostThreshold = getEnvInt("ALMOST_THRESHOLD", 2)
	cfg.ReadyThreshold = getEnvInt("READY_THRESHOLD", 0)
	cfg.StatusAdvanceInterval = getEnvDuration("STATUS_ADVANCE_INTERVAL", minutes(cfg.AverageServiceMinutes))
	cfg.BusyWaitMinutes = getEnvInt("BUSY_WAIT_MINUTES", 60)
	cfg.ClinicTimezone = getEnvString("CLINIC_TIMEZONE", "America/Toronto")
	cfg.ClinicOpenTime = getEnvString("CLINIC_OPEN_TIME", "08:00")
	cfg.ClinicCloseTime = getEnvString("CLINIC_CLOSE_TIME", "20:00")
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 30)
	cfg.RateLimitCheckIn = getEnvInt("RATE_LIMIT_CHECKIN", 30)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.RedisChannel = getEnvString("REDIS_CHANNEL", "queue:status")
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTLPInsecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は値の整合性を検証し、派生値を設定する。
func (c *Config) validate() error {
	hours, err := clinic.NewHours(c.ClinicTimezone, c.ClinicOpenTime, c.ClinicCloseTime)
	if err != nil {
		return err
	}
	c.ClinicHours = hours

	u, err := url.Parse(c.PatientWebURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("PATIENT_WEB_URL must be an absolute http(s) URL: %q", c.PatientWebURL)
	}

	if err := security.NewSSRFGuard().ValidateURL(c.TwilioAPIBase); err != nil {
		return fmt.Errorf("TWILIO_API_BASE is not allowed: %w", err)
	}

	if c.AverageServiceMinutes <= 0 {
		return fmt.Errorf("AVERAGE_SERVICE_MINUTES must be positive: %v", c.AverageServiceMinutes)
	}
	if c.MinimumWaitMinutes < 0 {
		return fmt.Errorf("MINIMUM_WAIT_MINUTES must not be negative: %d", c.MinimumWaitMinutes)
	}
	if c.ReadyThreshold < 0 || c.AlmostThreshold < c.ReadyThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= READY_THRESHOLD (%d) <= ALMOST_THRESHOLD (%d)",
			c.ReadyThreshold, c.AlmostThreshold)
	}
	if c.StatusAdvanceInterval <= 0 {
		return fmt.Errorf("STATUS_ADVANCE_INTERVAL must be positive: %v", c.StatusAdvanceInterval)
	}
	return nil
}

// minutes は分数をtime.Durationに変換する。
func minutes(m float64) time.Duration {
	return time.Duration(math.Round(m * float64(time.Minute)))
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
