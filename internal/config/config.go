package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Scheduler    SchedulerConfig
	Escalation   domain.EscalationConfig
	Outbox       OutboxConfig
	Notification NotificationConfig
	Calendar     CalendarConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	Timezone              string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
	// ConnectRetries is how many extra pings are attempted at startup.
	ConnectRetries  int
	ApplicationName string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// SchedulerConfig protects the cron trigger endpoints and drives the in-process worker.
type SchedulerConfig struct {
	Secret              string
	SecretHash          string
	EscalationSpec      string
	ReminderSpec        string
	DrainIntervalSecond int
	LockTTLSeconds      int
	// InProcess runs the worker inside the api binary.
	InProcess bool
}

// OutboxConfig tunes delivery of outbox rows.
type OutboxConfig struct {
	BatchSize          int
	MaxAttempts        int
	LeaseSeconds       int
	SendTimeoutSeconds int
	BackoffBaseSeconds int
	BackoffMaxSeconds  int
	ImmediateDelivery  bool
}

// NotificationConfig holds chat and email sink settings.
type NotificationConfig struct {
	Chat  ChatConfig
	Email EmailConfig
}

// ChatConfig configures the Slack-compatible chat sink.
type ChatConfig struct {
	Enabled           bool
	BaseURL           string
	Token             string
	DefaultChannel    string
	EscalationChannel string
	DomainChannels    map[string]string
	TimeoutSeconds    int
}

// EmailConfig configures the SMTP sink.
type EmailConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Username        string
	Password        string
	From            string
	MessageIDDomain string
	DashboardURL    string
	TimeoutSeconds  int
}

// CalendarConfig describes the business calendar used for working-day TATs.
type CalendarConfig struct {
	Workdays  []time.Weekday
	StartHour int
	EndHour   int
	// Holidays are "MM-DD:Name" pairs observed every year.
	Holidays []string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	workdays, err := parseWeekdays(getEnv("CALENDAR_WORKDAYS", "mon,tue,wed,thu,fri"))
	if err != nil {
		return nil, err
	}

	domainChannels, err := parsePairs(os.Getenv("CHAT_DOMAIN_CHANNELS"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHAT_DOMAIN_CHANNELS: %w", err)
	}

	esc := domain.DefaultEscalationConfig()
	esc.InactivityDays = getEnvAsInt("ESCALATION_INACTIVITY_DAYS", esc.InactivityDays)
	esc.CooldownDays = getEnvAsInt("ESCALATION_COOLDOWN_DAYS", esc.CooldownDays)
	esc.LifecycleDays = getEnvAsInt("ESCALATION_LIFECYCLE_DAYS", esc.LifecycleDays)
	esc.ExtensionCap = getEnvAsInt("ESCALATION_TAT_EXTENSION_CAP", esc.ExtensionCap)
	esc.UrgentLevel = getEnvAsInt("ESCALATION_URGENT_LEVEL", esc.UrgentLevel)
	esc.BatchSize = getEnvAsInt("ESCALATION_BATCH_SIZE", esc.BatchSize)
	esc.SuperAdminID = os.Getenv("ESCALATION_SUPER_ADMIN_ID")

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-lifecycle"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			Timezone:              getEnv("APP_TIMEZONE", "UTC"),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("POSTGRES_DSN"),
			MaxConns:        int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:        int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:   getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec:  int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec:  int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
			ConnectRetries:  getEnvAsInt("POSTGRES_CONNECT_RETRIES", 5),
			ApplicationName: getEnv("APP_NAME", "ticket-lifecycle"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Scheduler: SchedulerConfig{
			Secret:              os.Getenv("SCHEDULER_SECRET"),
			SecretHash:          os.Getenv("SCHEDULER_SECRET_HASH"),
			EscalationSpec:      getEnv("SCHEDULER_ESCALATION_SPEC", "@hourly"),
			ReminderSpec:        getEnv("SCHEDULER_REMINDER_SPEC", "0 9 * * *"),
			DrainIntervalSecond: getEnvAsInt("SCHEDULER_DRAIN_INTERVAL_SECONDS", 30),
			LockTTLSeconds:      getEnvAsInt("SCHEDULER_LOCK_TTL_SECONDS", 600),
			InProcess:           getEnvAsBool("SCHEDULER_IN_PROCESS", false),
		},
		Escalation: esc,
		Outbox: OutboxConfig{
			BatchSize:          getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:        getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),
			LeaseSeconds:       getEnvAsInt("OUTBOX_LEASE_SECONDS", 60),
			SendTimeoutSeconds: getEnvAsInt("OUTBOX_SEND_TIMEOUT_SECONDS", 10),
			BackoffBaseSeconds: getEnvAsInt("OUTBOX_BACKOFF_BASE_SECONDS", 30),
			BackoffMaxSeconds:  getEnvAsInt("OUTBOX_BACKOFF_MAX_SECONDS", 1800),
			ImmediateDelivery:  getEnvAsBool("OUTBOX_IMMEDIATE_DELIVERY", true),
		},
		Notification: NotificationConfig{
			Chat: ChatConfig{
				Enabled:           getEnvAsBool("CHAT_ENABLED", false),
				BaseURL:           getEnv("CHAT_API_URL", "https://slack.com/api"),
				Token:             os.Getenv("CHAT_BOT_TOKEN"),
				DefaultChannel:    os.Getenv("CHAT_DEFAULT_CHANNEL"),
				EscalationChannel: os.Getenv("CHAT_ESCALATION_CHANNEL"),
				DomainChannels:    domainChannels,
				TimeoutSeconds:    getEnvAsInt("CHAT_TIMEOUT_SECONDS", 10),
			},
			Email: EmailConfig{
				Enabled:         getEnvAsBool("EMAIL_ENABLED", false),
				Host:            os.Getenv("SMTP_HOST"),
				Port:            getEnvAsInt("SMTP_PORT", 587),
				Username:        os.Getenv("SMTP_USERNAME"),
				Password:        os.Getenv("SMTP_PASSWORD"),
				From:            getEnv("EMAIL_FROM", "noreply@example.com"),
				MessageIDDomain: getEnv("EMAIL_MESSAGE_ID_DOMAIN", "tickets.local"),
				DashboardURL:    os.Getenv("DASHBOARD_URL"),
				TimeoutSeconds:  getEnvAsInt("SMTP_TIMEOUT_SECONDS", 15),
			},
		},
		Calendar: CalendarConfig{
			Workdays:  workdays,
			StartHour: getEnvAsInt("CALENDAR_START_HOUR", 9),
			EndHour:   getEnvAsInt("CALENDAR_END_HOUR", 17),
			Holidays:  getEnvAsList("CALENDAR_HOLIDAYS"),
		},
	}

	if cfg.IsProduction() && cfg.Auth.JWTSecret == "dev-secret" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET must be set in production")
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Location resolves the configured timezone, falling back to UTC.
func (a AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Lease returns how long a claimed outbox row stays reserved.
func (o OutboxConfig) Lease() time.Duration {
	return seconds(o.LeaseSeconds)
}

// SendTimeout bounds a single handler invocation.
func (o OutboxConfig) SendTimeout() time.Duration {
	return seconds(o.SendTimeoutSeconds)
}

// BackoffBase returns the first retry delay.
func (o OutboxConfig) BackoffBase() time.Duration {
	return seconds(o.BackoffBaseSeconds)
}

// BackoffMax caps the retry delay.
func (o OutboxConfig) BackoffMax() time.Duration {
	return seconds(o.BackoffMaxSeconds)
}

// DrainInterval returns the worker polling period.
func (s SchedulerConfig) DrainInterval() time.Duration {
	return seconds(s.DrainIntervalSecond)
}

// LockTTL bounds how long a sweep lock is held.
func (s SchedulerConfig) LockTTL() time.Duration {
	return seconds(s.LockTTLSeconds)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func parseWeekdays(val string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, part := range strings.Split(val, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if len(part) > 3 {
			part = part[:3]
		}
		day, ok := weekdayNames[part]
		if !ok {
			return nil, fmt.Errorf("invalid CALENDAR_WORKDAYS entry %q", part)
		}
		out = append(out, day)
	}
	return out, nil
}

// parsePairs reads "key=value,key=value".
func parsePairs(val string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

func (c ChatConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (e EmailConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}
