package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	DB       *DBconfig       `yaml:"db" envPrefix:"DB_"`
	RabbitMq *RabbitMqconfig `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
	Srv      *Serviceconfig  `yaml:"server"`
	Log      *Loggerconfig   `yaml:"log"`
	Auth     *Authconfig     `yaml:"auth"`
	Tracking *Trackingconfig `yaml:"tracking"`
}

type DBconfig struct {
	Host       string `yaml:"host" env:"HOST" envDefault:"localhost"`
	Port       int    `yaml:"port" env:"PORT" envDefault:"5432"`
	User       string `yaml:"user" env:"USER" envDefault:"pharmacy_user"`
	Password   string `yaml:"password" env:"PASSWORD" envDefault:"pharmacy_pass"`
	Database   string `yaml:"database" env:"NAME" envDefault:"pharmacy_db"`
	MaxConns   int32  `yaml:"max_conns" env:"MAX_CONNS" envDefault:"10"`
	MaxRetries int    `yaml:"max_retries" env:"MAX_RETRIES" envDefault:"5"`
}

type RabbitMqconfig struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED" envDefault:"false"`
	Host       string `yaml:"host" env:"HOST" envDefault:"localhost"`
	Port       int    `yaml:"port" env:"PORT" envDefault:"5672"`
	User       string `yaml:"user" env:"USER" envDefault:"guest"`
	Password   string `yaml:"password" env:"PASSWORD" envDefault:"guest"`
	VHost      string `yaml:"vhost" env:"VHOST" envDefault:""`
	Exchange   string `yaml:"exchange" env:"EXCHANGE" envDefault:"delivery_topic"`
	OrderQueue string `yaml:"order_queue" env:"ORDER_QUEUE" envDefault:"delivery_orders"`
}

type Serviceconfig struct {
	TrackingServicePort string        `yaml:"tracking_service" env:"TRACKING_SERVICE_PORT" envDefault:"3002"`
	ReadTimeout         time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout        time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
}

type Loggerconfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" envDefault:"INFO"`
}

type Authconfig struct {
	JwtSecret string `yaml:"jwt_secret" env:"JWT_SECRET" envDefault:"change-me"`
}

// Trackingconfig holds the tunables of the delivery tracking core.
type Trackingconfig struct {
	Storage string `yaml:"storage" env:"STORAGE" envDefault:"postgres"`

	PollInterval     time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL" envDefault:"30s"`
	LocationThrottle time.Duration `yaml:"location_throttle" env:"LOCATION_THROTTLE" envDefault:"5s"`
	ClockSkew        time.Duration `yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"2m"`
	MaxSamples       int           `yaml:"max_samples_per_delivery" env:"MAX_SAMPLES_PER_DELIVERY" envDefault:"500"`
	HistoryDefault   int           `yaml:"history_default" env:"HISTORY_DEFAULT" envDefault:"50"`
	HistoryMax       int           `yaml:"history_max" env:"HISTORY_MAX" envDefault:"500"`

	NearbyMaxRadiusKm  float64 `yaml:"nearby_max_radius_km" env:"NEARBY_MAX_RADIUS_KM" envDefault:"50"`
	AvailableDefaultKm float64 `yaml:"available_default_km" env:"AVAILABLE_DEFAULT_KM" envDefault:"10"`
	AvailableMaxKm     float64 `yaml:"available_max_km" env:"AVAILABLE_MAX_KM" envDefault:"50"`

	FallbackSpeedKmh float64 `yaml:"fallback_speed_kmh" env:"FALLBACK_SPEED_KMH" envDefault:"25"`
	MinSpeedKmh      float64 `yaml:"min_speed_kmh" env:"MIN_SPEED_KMH" envDefault:"3"`

	CodeExpiry        time.Duration `yaml:"code_expiry" env:"CODE_EXPIRY" envDefault:"15m"`
	CodeResendLimit   int           `yaml:"code_resend_limit" env:"CODE_RESEND_LIMIT" envDefault:"3"`
	CodeLength        int           `yaml:"code_length" env:"CODE_LENGTH" envDefault:"6"`
	MaxVerifyAttempts int           `yaml:"max_verify_attempts" env:"MAX_VERIFY_ATTEMPTS" envDefault:"5"`
	CodeHashCost      int           `yaml:"code_hash_cost" env:"CODE_HASH_COST" envDefault:"10"`

	Retention      time.Duration `yaml:"retention" env:"RETENTION" envDefault:"72h"`
	RetentionSweep time.Duration `yaml:"retention_sweep" env:"RETENTION_SWEEP" envDefault:"10m"`
}

// New loads .env (if present) and then the process environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cnf := &Config{
		DB:       &DBconfig{},
		RabbitMq: &RabbitMqconfig{},
		Srv:      &Serviceconfig{},
		Log:      &Loggerconfig{},
		Auth:     &Authconfig{},
		Tracking: &Trackingconfig{},
	}
	if err := env.Parse(cnf); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cnf.Validate(); err != nil {
		return nil, err
	}
	return cnf, nil
}

// NewFromYAML reads the environment first and overlays the YAML file on top of it.
func NewFromYAML(path string) (*Config, error) {
	cnf, err := New()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cnf); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cnf.Validate(); err != nil {
		return nil, err
	}
	return cnf, nil
}

// DefaultTracking returns the tracking section with only the envDefault values applied.
func DefaultTracking() *Trackingconfig {
	t := &Trackingconfig{}
	if err := env.ParseWithOptions(t, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("config: tracking defaults: %v", err))
	}
	return t
}

func (c *Config) Validate() error {
	t := c.Tracking
	if t == nil {
		return errors.New("config: tracking section is missing")
	}

	switch t.Storage {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("config: unknown storage %q", t.Storage)
	}

	durations := map[string]time.Duration{
		"poll_interval":     t.PollInterval,
		"location_throttle": t.LocationThrottle,
		"clock_skew":        t.ClockSkew,
		"code_expiry":       t.CodeExpiry,
		"retention":         t.Retention,
		"retention_sweep":   t.RetentionSweep,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}

	if t.MaxSamples <= 0 || t.HistoryDefault <= 0 || t.HistoryMax <= 0 {
		return errors.New("config: sample limits must be positive")
	}
	if t.HistoryDefault > t.HistoryMax {
		return errors.New("config: history_default exceeds history_max")
	}
	if t.CodeLength < 4 || t.CodeLength > 6 {
		return errors.New("config: code_length must be between 4 and 6")
	}
	if t.CodeResendLimit <= 0 || t.MaxVerifyAttempts <= 0 {
		return errors.New("config: code limits must be positive")
	}
	if t.CodeHashCost < 4 || t.CodeHashCost > 31 {
		return errors.New("config: code_hash_cost must be a valid bcrypt cost")
	}
	if t.FallbackSpeedKmh <= 0 {
		return errors.New("config: fallback_speed_kmh must be positive")
	}
	if t.AvailableDefaultKm <= 0 || t.AvailableMaxKm < t.AvailableDefaultKm {
		return errors.New("config: invalid available distance bounds")
	}
	return nil
}
