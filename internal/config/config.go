package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"text"`
	DatabaseURL    string `env:"DATABASE_URL"`
	StoreDriver    string `env:"STORE_DRIVER" envDefault:"postgres"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"file://db/migrations"`
	Timezone       string `env:"TIMEZONE" envDefault:"Asia/Jakarta"`
	AdminBuyerID   string `env:"ADMIN_BUYER_ID"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	PaymentProvider string        `env:"PAYMENT_PROVIDER" envDefault:"tripay"`
	CallbackURL     string        `env:"CALLBACK_URL"`
	ReturnURL       string        `env:"RETURN_URL"`
	GatewayTimeout  time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`

	CallbackRateLimit float64 `env:"CALLBACK_RATE_LIMIT" envDefault:"20"`
	CallbackBurst     int     `env:"CALLBACK_BURST" envDefault:"40"`

	Tripay      TripayConfig      `envPrefix:"TRIPAY_"`
	Midtrans    MidtransConfig    `envPrefix:"MIDTRANS_"`
	Duitku      DuitkuConfig      `envPrefix:"DUITKU_"`
	Provisioner ProvisionerConfig `envPrefix:"PROVISIONER_"`
	Retry       RetryConfig       `envPrefix:"RETRY_"`
	Sweep       SweepConfig       `envPrefix:"SWEEP_"`
	Kafka       KafkaConfig       `envPrefix:"KAFKA_"`
	Redis       RedisConfig       `envPrefix:"REDIS_"`
	SMTP        SMTPConfig        `envPrefix:"SMTP_"`
	Pricing     PricingConfig
}

type TripayConfig struct {
	APIKey       string `env:"API_KEY"`
	PrivateKey   string `env:"PRIVATE_KEY"`
	MerchantCode string `env:"MERCHANT_CODE"`
	Method       string `env:"METHOD" envDefault:"QRISC"`
	Mode         string `env:"MODE" envDefault:"sandbox"`
	BaseURL      string `env:"BASE_URL"`
}

func (c TripayConfig) Endpoint() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.Mode == "production" {
		return "https://tripay.co.id/api"
	}
	return "https://tripay.co.id/api-sandbox"
}

type MidtransConfig struct {
	ServerKey string `env:"SERVER_KEY"`
	Mode      string `env:"MODE" envDefault:"sandbox"`
	BaseURL   string `env:"BASE_URL"`
}

func (c MidtransConfig) Endpoint() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.Mode == "production" {
		return "https://app.midtrans.com"
	}
	return "https://app.sandbox.midtrans.com"
}

type DuitkuConfig struct {
	MerchantCode string `env:"MERCHANT_CODE"`
	MerchantKey  string `env:"MERCHANT_KEY"`
	Method       string `env:"METHOD" envDefault:"SP"`
	Mode         string `env:"MODE" envDefault:"sandbox"`
	BaseURL      string `env:"BASE_URL"`
}

func (c DuitkuConfig) Endpoint() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.Mode == "production" {
		return "https://passport.duitku.com"
	}
	return "https://sandbox.duitku.com"
}

type ProvisionerConfig struct {
	URL     string        `env:"URL" envDefault:"http://localhost:9090"`
	Token   string        `env:"TOKEN"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"90s"`
}

type RetryConfig struct {
	Attempts     uint          `env:"ATTEMPTS" envDefault:"3"`
	InitialDelay time.Duration `env:"INITIAL_DELAY" envDefault:"1s"`
	MaxDelay     time.Duration `env:"MAX_DELAY" envDefault:"10s"`
}

type SweepConfig struct {
	Enabled          bool          `env:"ENABLED" envDefault:"true"`
	ExpireInterval   time.Duration `env:"EXPIRE_INTERVAL" envDefault:"1h"`
	ReminderInterval time.Duration `env:"REMINDER_INTERVAL" envDefault:"1h"`
	RepairInterval   time.Duration `env:"REPAIR_INTERVAL" envDefault:"6h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`
	ReminderLead     time.Duration `env:"REMINDER_LEAD" envDefault:"24h"`
	Retention        time.Duration `env:"RETENTION" envDefault:"720h"`
}

type KafkaConfig struct {
	BootstrapServers  string `env:"BOOTSTRAP_SERVERS"`
	GroupID           string `env:"GROUP_ID" envDefault:"invite_service_group"`
	NotificationTopic string `env:"NOTIFICATION_TOPIC" envDefault:"bot_notifications"`
	EmailTopic        string `env:"EMAIL_TOPIC" envDefault:"email_captured"`
}

func (c KafkaConfig) Enabled() bool { return c.BootstrapServers != "" }

// Servers strips the quotes some compose files leave around the list.
func (c KafkaConfig) Servers() string { return strings.Trim(c.BootstrapServers, "\"") }

type RedisConfig struct {
	Addr     string        `env:"ADDR"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0"`
	LockTTL  time.Duration `env:"LOCK_TTL" envDefault:"2m"`
}

type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     string `env:"PORT" envDefault:"587"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.User != "" && c.Password != "" && c.From != ""
}

type PricingConfig struct {
	File      string `env:"PRICING_FILE"`
	OneDay    int64  `env:"PRICE_1_DAY" envDefault:"10000"`
	SevenDay  int64  `env:"PRICE_7_DAY" envDefault:"50000"`
	ThirtyDay int64  `env:"PRICE_30_DAY" envDefault:"150000"`
}

// Load reads .env (here and one level up) and parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Warn("Could not load .env file.")
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.PaymentProvider {
	case "tripay", "midtrans", "duitku":
	default:
		return fmt.Errorf("PAYMENT_PROVIDER %q is not supported", c.PaymentProvider)
	}
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is not set")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER %q is not supported", c.StoreDriver)
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.WithError(err).WithField("timezone", c.Timezone).Warn("Unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}

// SetupLogger applies level and format to the global logrus logger.
func SetupLogger(c Config) {
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stdout)
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
