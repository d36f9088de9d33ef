package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Redis     RedisConfig     `yaml:"redis"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Firebase  FirebaseConfig  `yaml:"firebase"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
	JWT       JWTConfig       `yaml:"jwt"`
	Admin     AdminConfig     `yaml:"admin"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Log       LogConfig       `yaml:"log"`
	Billing   BillingConfig   `yaml:"billing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig contains HTTP and gRPC listener settings
type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	GRPCPort           int    `yaml:"grpc_port"`
	ReadTimeoutSeconds int    `yaml:"read_timeout_seconds"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// Driver "memory" runs the service on the in-process store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// GatewayConfig contains payment gateway settings
type GatewayConfig struct {
	Type           string `yaml:"type"` // "yookassa" or "mock"
	BaseURL        string `yaml:"base_url"`
	ShopID         string `yaml:"shop_id"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ReturnURL      string `yaml:"return_url"`
	Currency       string `yaml:"currency"`
}

// RedisConfig enables the distributed per-charge lock
type RedisConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// RabbitMQConfig contains broker settings for bot notifications and the review queue
type RabbitMQConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Exchange    string `yaml:"exchange"`
	ReviewQueue string `yaml:"review_queue"`
}

// FirebaseConfig contains push notification settings
type FirebaseConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
}

// SendGridConfig contains alert e-mail settings
type SendGridConfig struct {
	Enabled         bool     `yaml:"enabled"`
	APIKey          string   `yaml:"api_key"`
	FromEmail       string   `yaml:"from_email"`
	FromName        string   `yaml:"from_name"`
	AlertRecipients []string `yaml:"alert_recipients"`
}

// JWTConfig contains bearer token settings
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
}

// AdminConfig contains the bcrypt hash of the back-office API key
type AdminConfig struct {
	APIKeyHash string `yaml:"api_key_hash"`
}

// WebhookConfig restricts where gateway notifications may come from
type WebhookConfig struct {
	AllowedCIDRs []string `yaml:"allowed_cidrs"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "text" or "color"
}

// BillingConfig contains money rules that are not stored per tariff
type BillingConfig struct {
	BookingCost        string `yaml:"booking_cost"` // decimal, e.g. "1000.00"
	BookingHoldMinutes int    `yaml:"booking_hold_minutes"`
	DefaultRentalDays  int    `yaml:"default_rental_days"`
	SaveCardAmount     string `yaml:"save_card_amount"`
	DefaultCity        string `yaml:"default_city"`
}

// SchedulerConfig contains cron expressions (with seconds) for background jobs
type SchedulerConfig struct {
	ExpireBookings string `yaml:"expire_bookings"`
	RenewRentals   string `yaml:"renew_rentals"`
	AuditLedger    string `yaml:"audit_ledger"`
}

// Load reads configuration from a YAML file. A .env file next to the
// process is loaded first so its values take part in env overrides.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from YAML bytes, applying env overrides and defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Gateway
	if val := os.Getenv("GATEWAY_SHOP_ID"); val != "" {
		c.Gateway.ShopID = val
	}
	if val := os.Getenv("GATEWAY_SECRET_KEY"); val != "" {
		c.Gateway.SecretKey = val
	}

	// Brokers and providers
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}
	if val := os.Getenv("RABBITMQ_URL"); val != "" {
		c.RabbitMQ.URL = val
	}
	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.SendGrid.APIKey = val
	}
	if val := os.Getenv("FIREBASE_CREDENTIALS_FILE"); val != "" {
		c.Firebase.CredentialsFile = val
	}

	// Auth
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}
	if val := os.Getenv("ADMIN_API_KEY_HASH"); val != "" {
		c.Admin.APIKeyHash = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = c.Server.Port + 1
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 15
	}

	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	if c.Gateway.Type == "" {
		c.Gateway.Type = "mock"
	}
	if c.Gateway.Type == "yookassa" {
		if c.Gateway.ShopID == "" || c.Gateway.SecretKey == "" {
			return fmt.Errorf("gateway shop id and secret key are required")
		}
		if c.Gateway.BaseURL == "" {
			c.Gateway.BaseURL = "https://api.yookassa.ru/v3"
		}
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 10
	}
	if c.Gateway.Currency == "" {
		c.Gateway.Currency = "RUB"
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}
	if c.Redis.LockTTLSeconds == 0 {
		c.Redis.LockTTLSeconds = 30
	}

	if c.RabbitMQ.Enabled && c.RabbitMQ.URL == "" {
		return fmt.Errorf("rabbitmq url is required when rabbitmq is enabled")
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "bikefleet.events"
	}
	if c.RabbitMQ.ReviewQueue == "" {
		c.RabbitMQ.ReviewQueue = "reconciliation.review"
	}

	if c.Firebase.Enabled && c.Firebase.CredentialsFile == "" {
		return fmt.Errorf("firebase credentials file is required when firebase is enabled")
	}
	if c.SendGrid.Enabled && (c.SendGrid.APIKey == "" || c.SendGrid.FromEmail == "") {
		return fmt.Errorf("sendgrid api key and from email are required when sendgrid is enabled")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	// Billing defaults
	if c.Billing.BookingCost == "" {
		c.Billing.BookingCost = "1000.00"
	}
	if c.Billing.BookingHoldMinutes == 0 {
		c.Billing.BookingHoldMinutes = 120
	}
	if c.Billing.DefaultRentalDays == 0 {
		c.Billing.DefaultRentalDays = 7
	}
	if c.Billing.SaveCardAmount == "" {
		c.Billing.SaveCardAmount = "1.00"
	}
	if c.Billing.DefaultCity == "" {
		c.Billing.DefaultCity = "Москва"
	}

	// Scheduler defaults
	if c.Scheduler.ExpireBookings == "" {
		c.Scheduler.ExpireBookings = "0 */5 * * * *" // every 5 minutes
	}
	if c.Scheduler.RenewRentals == "" {
		c.Scheduler.RenewRentals = "0 0 * * * *" // hourly
	}
	if c.Scheduler.AuditLedger == "" {
		c.Scheduler.AuditLedger = "0 30 3 * * *" // 3:30 AM UTC
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetGRPCAddress returns the gRPC health listen address
func (c *Config) GetGRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}
