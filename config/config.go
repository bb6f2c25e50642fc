// Package config loads the monitor's settings from the environment, an
// optional .env file and, on AWS, Secrets Manager.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"order-monitor/engine"
)

// CredentialsSecret holds STOMP_LOGIN / STOMP_PASSCODE as a JSON object.
const CredentialsSecret = "order-monitor/STOMP_CREDENTIALS"

const (
	TransportSTOMP = "stomp"
	TransportKafka = "kafka"
	TransportSQS   = "sqs"
)

type Config struct {
	Env  string `env:"APP_ENV"  envDefault:"development"`
	Port string `env:"PORT"     envDefault:"8095"`

	Transport string `env:"TRANSPORT" envDefault:"stomp" validate:"oneof=stomp kafka sqs"`

	// STOMP over WebSocket
	WSURL             string        `env:"WS_URL"             envDefault:"ws://192.168.1.3:8080/ws"`
	STOMPHost         string        `env:"STOMP_HOST"         envDefault:"/"`
	STOMPLogin        string        `env:"STOMP_LOGIN"`
	STOMPPasscode     string        `env:"STOMP_PASSCODE"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s" validate:"gte=0"`
	TopicPrefix       string        `env:"TOPIC_PREFIX"       envDefault:"/topic/"`

	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"5"  validate:"gte=0"`
	ReconnectDelay       time.Duration `env:"RECONNECT_DELAY"        envDefault:"3s" validate:"gt=0"`

	KafkaBrokers []string `env:"KAFKA_BROKERS"  envSeparator:"," envDefault:"localhost:9092"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"order-monitor"`

	SQSQueueURL  string `env:"SQS_QUEUE_URL"`
	SQSQueueName string `env:"SQS_QUEUE_NAME" envDefault:"order-monitor"`

	RedisURL    string        `env:"REDIS_URL"`
	SnapshotTTL time.Duration `env:"SNAPSHOT_TTL" envDefault:"24h"`
	InstanceID  string        `env:"INSTANCE_ID"`

	MaxOrders          int           `env:"MAX_ORDERS"           envDefault:"100" validate:"gt=0"`
	MaxCustomerKeys    int           `env:"MAX_CUSTOMER_KEYS"    envDefault:"200" validate:"gt=0"`
	CustomerKeep       int           `env:"CUSTOMER_KEEP"        envDefault:"50"  validate:"gt=0,ltefield=MaxCustomerKeys"`
	PendingCustomers   int           `env:"PENDING_CUSTOMERS"    envDefault:"5"`
	TemporalWindow     time.Duration `env:"TEMPORAL_WINDOW"      envDefault:"5m"`
	RecentCustomerScan int           `env:"RECENT_CUSTOMER_SCAN" envDefault:"3"`
	FuzzyThreshold     float64       `env:"FUZZY_THRESHOLD"      envDefault:"0.7" validate:"gt=0,lte=1"`
	TimeZone           string        `env:"TZ_NAME"              envDefault:"Asia/Ho_Chi_Minh"`

	CloudWatchEnabled      bool   `env:"CLOUDWATCH_ENABLED"`
	CloudWatchNamespace    string `env:"CLOUDWATCH_NAMESPACE" envDefault:"OrderMonitor"`
	UseSecrets             bool   `env:"AWS_USE_SECRETS"`
	ReconnectRatePerMinute int    `env:"RECONNECT_RATE_PER_MINUTE" envDefault:"6" validate:"gt=0"`

	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS"  envSeparator:"," envDefault:"*"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"1m"`
}

// validate reports fields by their environment key.
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("env"), ",")
		return name
	})
	return v
}()

func ruleText(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// SecretGetter reads a JSON-object secret; *aws.SecretsClient satisfies it.
type SecretGetter interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// Load reads an optional .env, parses the environment and validates the
// result. Secrets are applied separately with ApplySecrets.
func Load() (*Config, error) {
	// .env is optional outside local development
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplySecrets overrides the STOMP credentials from Secrets Manager when
// AWS_USE_SECRETS is set. A missing or unreadable secret keeps the
// environment values.
func (c *Config) ApplySecrets(ctx context.Context, sm SecretGetter) error {
	if !c.UseSecrets || sm == nil {
		return nil
	}
	m, err := sm.GetSecretMap(ctx, CredentialsSecret)
	if err != nil {
		return err
	}
	if v := m["STOMP_LOGIN"]; v != "" {
		c.STOMPLogin = v
	}
	if v := m["STOMP_PASSCODE"]; v != "" {
		c.STOMPPasscode = v
	}
	return nil
}

func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("invalid config: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, fmt.Sprintf("%s must satisfy %s (got %v)", fe.Field(), ruleText(fe), fe.Value()))
		}
	}

	switch c.Transport {
	case TransportSTOMP:
		u, err := url.Parse(c.WSURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("WS_URL %q must be a ws:// or wss:// URL", c.WSURL))
		}
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			problems = append(problems, "KAFKA_BROKERS is required for the kafka transport")
		}
	case TransportSQS:
		if c.SQSQueueURL == "" && c.SQSQueueName == "" {
			problems = append(problems, "SQS_QUEUE_URL or SQS_QUEUE_NAME is required for the sqs transport")
		}
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		problems = append(problems, fmt.Sprintf("TZ_NAME %q: %v", c.TimeZone, err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the backend's zone; timestamps without an offset are read
// in it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// EngineConfig maps the tuning keys onto the engine.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxOrders:          c.MaxOrders,
		MaxCustomerKeys:    c.MaxCustomerKeys,
		CustomerKeep:       c.CustomerKeep,
		PendingCapacity:    c.PendingCustomers,
		TemporalWindow:     c.TemporalWindow,
		RecentCustomerScan: c.RecentCustomerScan,
		FuzzyThreshold:     c.FuzzyThreshold,
		Location:           c.Location(),
	}
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func defaultInstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
