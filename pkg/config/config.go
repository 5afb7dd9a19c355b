package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable this service reads.
const EnvPrefix = "LOANBRIDGE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "LOANBRIDGE_DB_DSN"
	EnvDBHost = "LOANBRIDGE_DB_HOST"
	EnvDBUser = "LOANBRIDGE_DB_USER"
	EnvDBName = "LOANBRIDGE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Processor    ProcessorConfig
	Reconcile    ReconcileConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LOANBRIDGE_APP_ENV" required:"true"`
	Port         string `envconfig:"LOANBRIDGE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LOANBRIDGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LOANBRIDGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LOANBRIDGE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LOANBRIDGE_DB_DSN"`
	Driver string `envconfig:"LOANBRIDGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LOANBRIDGE_DB_HOST"`
	LegacyPort     int    `envconfig:"LOANBRIDGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LOANBRIDGE_DB_USER"`
	LegacyPassword string `envconfig:"LOANBRIDGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"LOANBRIDGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"LOANBRIDGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LOANBRIDGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LOANBRIDGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LOANBRIDGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LOANBRIDGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LOANBRIDGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LOANBRIDGE_REDIS_ADDR"`
	Password     string        `envconfig:"LOANBRIDGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"LOANBRIDGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LOANBRIDGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LOANBRIDGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LOANBRIDGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LOANBRIDGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LOANBRIDGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LOANBRIDGE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LOANBRIDGE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LOANBRIDGE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LOANBRIDGE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LOANBRIDGE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EventsTopic        string `envconfig:"LOANBRIDGE_PUBSUB_EVENTS_TOPIC" default:"lb-payment-events"`
	EventsSubscription string `envconfig:"LOANBRIDGE_PUBSUB_EVENTS_SUBSCRIPTION"`
}

// ProcessorConfig carries payment processor credentials and call behavior.
type ProcessorConfig struct {
	AccessToken     string        `envconfig:"LOANBRIDGE_PROCESSOR_ACCESS_TOKEN"`
	Environment     string        `envconfig:"LOANBRIDGE_PROCESSOR_ENV" default:"sandbox"`
	LocationID      string        `envconfig:"LOANBRIDGE_PROCESSOR_LOCATION_ID"`
	DefaultSourceID string        `envconfig:"LOANBRIDGE_PROCESSOR_DEFAULT_SOURCE_ID"`
	Currency        string        `envconfig:"LOANBRIDGE_PROCESSOR_CURRENCY" default:"USD"`
	CallTimeout     time.Duration `envconfig:"LOANBRIDGE_PROCESSOR_CALL_TIMEOUT" default:"15s"`
}

// ReconcileConfig tunes the processor status sync job.
type ReconcileConfig struct {
	Limit    int           `envconfig:"LOANBRIDGE_RECONCILE_LIMIT" default:"250"`
	Interval time.Duration `envconfig:"LOANBRIDGE_RECONCILE_INTERVAL" default:"5m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
