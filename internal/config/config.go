// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor
// principles; a .env file, when present, fills in unset variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/imagify/imagify/internal/model"
)

// MinJWTSecretLength is the shortest accepted HS256 signing secret.
const MinJWTSecretLength = 32

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts. Generation holds a request open across provider
	// retries, so writes get a generous default.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Accounts
	JWTSecret      string        `env:"JWT_SECRET,required"`
	JWTTTL         time.Duration `env:"JWT_TTL" envDefault:"24h"`
	DefaultCredits int64         `env:"DEFAULT_CREDITS" envDefault:"5"`

	// Operator endpoints are disabled while empty.
	AdminToken string `env:"ADMIN_TOKEN"`

	// Image storage and generation
	BlobDir               string        `env:"BLOB_DIR" envDefault:"./data/images"`
	ClipDropAPIURL        string        `env:"CLIPDROP_API_URL" envDefault:"https://clipdrop-api.co/text-to-image/v1"`
	ClipDropAPIKey        string        `env:"CLIPDROP_API_KEY"`
	GenerationTimeout     time.Duration `env:"GENERATION_TIMEOUT" envDefault:"30s"`
	GenerationMaxAttempts int           `env:"GENERATION_MAX_ATTEMPTS" envDefault:"3"`

	// Payments
	RazorpayAPIURL    string        `env:"RAZORPAY_API_URL" envDefault:"https://api.razorpay.com"`
	RazorpayKeyID     string        `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret string        `env:"RAZORPAY_KEY_SECRET"`
	Currency          string        `env:"CURRENCY" envDefault:"INR"`
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
	PlanCatalogFile   string        `env:"PLAN_CATALOG_FILE"`

	// Reconciliation
	SweepEnabled      bool          `env:"SWEEP_ENABLED" envDefault:"true"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	RetentionMaxAge   time.Duration `env:"RETENTION_MAX_AGE" envDefault:"720h"`
	OrphanGracePeriod time.Duration `env:"ORPHAN_GRACE_PERIOD" envDefault:"15m"`

	// Rate limiting. A zero rate disables the limit.
	GenerateRatePerMinute int `env:"GENERATE_RATE_PER_MINUTE" envDefault:"10"`
	GenerateBurst         int `env:"GENERATE_BURST" envDefault:"5"`
	AuthRatePerMinute     int `env:"AUTH_RATE_PER_MINUTE" envDefault:"20"`
	AuthBurst             int `env:"AUTH_BURST" envDefault:"10"`

	// Notifications. Without SMTP_HOST mail is logged instead of sent.
	NotifyEnabled bool   `env:"NOTIFY_ENABLED" envDefault:"true"`
	SMTPHost      string `env:"SMTP_HOST"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername  string `env:"SMTP_USERNAME"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`
	MailFrom      string `env:"MAIL_FROM" envDefault:"Imagify <no-reply@imagify.local>"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,*.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// PlanCatalog returns the configured plans: the YAML file when set,
// otherwise the built-in packs.
func (c *Config) PlanCatalog() (model.PlanCatalog, error) {
	if c.PlanCatalogFile == "" {
		return model.DefaultPlanCatalog(), nil
	}
	return LoadPlanCatalog(c.PlanCatalogFile)
}

// Validate checks values that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if len(c.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if c.DefaultCredits < 0 {
		errs = append(errs, errors.New("DEFAULT_CREDITS must not be negative"))
	}
	if c.GenerationMaxAttempts < 1 {
		errs = append(errs, errors.New("GENERATION_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RetentionMaxAge <= 0 {
		errs = append(errs, errors.New("RETENTION_MAX_AGE must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.OrphanGracePeriod <= 0 {
		errs = append(errs, errors.New("ORPHAN_GRACE_PERIOD must be positive"))
	}
	if c.IsProduction() && (c.RazorpayKeyID == "" || c.RazorpayKeySecret == "") {
		errs = append(errs, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required in production"))
	}
	if c.IsProduction() && c.ClipDropAPIKey == "" {
		errs = append(errs, errors.New("CLIPDROP_API_KEY is required in production"))
	}

	return errors.Join(errs...)
}

// Load reads the dotenv files (".env" when none are given; missing files
// are skipped), parses environment variables and validates the result.
// Variables already set in the environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
