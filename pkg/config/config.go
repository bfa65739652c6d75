package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "CRAFTLINE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Escrow       EscrowConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Escrow.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CRAFTLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"CRAFTLINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CRAFTLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CRAFTLINE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CRAFTLINE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CRAFTLINE_DB_DSN"`
	Driver string `envconfig:"CRAFTLINE_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CRAFTLINE_DB_HOST"`
	Port     int    `envconfig:"CRAFTLINE_DB_PORT" default:"5432"`
	User     string `envconfig:"CRAFTLINE_DB_USER"`
	Password string `envconfig:"CRAFTLINE_DB_PASSWORD"`
	Name     string `envconfig:"CRAFTLINE_DB_NAME"`
	SSLMode  string `envconfig:"CRAFTLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CRAFTLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CRAFTLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CRAFTLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CRAFTLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CRAFTLINE_REDIS_URL"`
	Address      string        `envconfig:"CRAFTLINE_REDIS_ADDR"`
	Password     string        `envconfig:"CRAFTLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CRAFTLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CRAFTLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CRAFTLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CRAFTLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CRAFTLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CRAFTLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CRAFTLINE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CRAFTLINE_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"CRAFTLINE_STRIPE_API_KEY"`
	Secret string `envconfig:"CRAFTLINE_STRIPE_SECRET"`
	Env    string `envconfig:"CRAFTLINE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// EscrowConfig carries the order lifecycle policy knobs. Defaults match the
// documented platform policy; tests override them freely.
type EscrowConfig struct {
	AuthorizationTTL     time.Duration `envconfig:"CRAFTLINE_ESCROW_AUTHORIZATION_TTL" default:"168h"`
	ConsultationDeadline time.Duration `envconfig:"CRAFTLINE_ESCROW_CONSULTATION_DEADLINE" default:"48h"`
	PayoutHoldingPeriod  time.Duration `envconfig:"CRAFTLINE_ESCROW_PAYOUT_HOLDING_PERIOD" default:"168h"`
	PlatformFeePercent   string        `envconfig:"CRAFTLINE_ESCROW_PLATFORM_FEE_PERCENT" default:"10"`
	ConsultationTimeout  string        `envconfig:"CRAFTLINE_ESCROW_CONSULTATION_TIMEOUT_POLICY" default:"block"`
}

const (
	ConsultationTimeoutBlock     = "block"
	ConsultationTimeoutAutoWaive = "auto_waive"
)

func (e EscrowConfig) validate() error {
	switch e.ConsultationTimeout {
	case ConsultationTimeoutBlock, ConsultationTimeoutAutoWaive:
		return nil
	default:
		return fmt.Errorf("consultation timeout policy must be %q or %q",
			ConsultationTimeoutBlock, ConsultationTimeoutAutoWaive)
	}
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CRAFTLINE_CRON_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"CRAFTLINE_CRON_LOCK_TTL" default:"30m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	required := map[string]string{
		"CRAFTLINE_DB_HOST": db.Host,
		"CRAFTLINE_DB_USER": db.User,
		"CRAFTLINE_DB_NAME": db.Name,
	}
	for _, key := range []string{"CRAFTLINE_DB_HOST", "CRAFTLINE_DB_USER", "CRAFTLINE_DB_NAME"} {
		if required[key] == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either CRAFTLINE_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
