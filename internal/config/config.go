package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	LogLevel  string
	LogFormat string

	PolicyFile string
	Policy     Policy
}

// Policy holds the business settings read from the YAML policy file.
type Policy struct {
	Quoting       QuotingPolicy      `yaml:"quoting"`
	Payments      PaymentPolicy      `yaml:"payments"`
	Notifications NotificationPolicy `yaml:"notifications"`
	Worker        WorkerPolicy       `yaml:"worker"`
	Reconcile     ReconcilePolicy    `yaml:"reconcile"`
}

type QuotingPolicy struct {
	RequiredByDefault  bool     `yaml:"required_by_default"`
	RequiredCategories []string `yaml:"required_categories"`
	ExemptCategories   []string `yaml:"exempt_categories"`
}

type PaymentPolicy struct {
	Processor          string        `yaml:"processor"` // sandbox | http
	ProcessorURL       string        `yaml:"processor_url"`
	ProcessorAPIKey    string        `yaml:"-"`
	ProcessorTimeout   time.Duration `yaml:"processor_timeout"`
	SandboxPayURL      string        `yaml:"sandbox_pay_url"`
	Currency           string        `yaml:"currency"`
	CommissionPercent  float64       `yaml:"commission_percent"`
	MaxCaptureAttempts int           `yaml:"max_capture_attempts"`
}

type NotificationPolicy struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type WorkerPolicy struct {
	ID           string        `yaml:"id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StuckAfter   time.Duration `yaml:"stuck_after"`
}

type ReconcilePolicy struct {
	Enabled   bool   `yaml:"enabled"`
	Schedule  string `yaml:"schedule"`
	BatchSize int    `yaml:"batch_size"`
	// StaleCaptureAfter releases captures left in flight by a crash.
	StaleCaptureAfter time.Duration `yaml:"stale_capture_after"`
}

// DefaultPolicy returns the settings used when no policy file is given.
func DefaultPolicy() Policy {
	return Policy{
		Quoting: QuotingPolicy{
			RequiredCategories: []string{"plumbing", "electrical", "structural", "roofing", "hvac"},
		},
		Payments: PaymentPolicy{
			Processor:          "sandbox",
			ProcessorTimeout:   10 * time.Second,
			Currency:           "CLP",
			CommissionPercent:  8,
			MaxCaptureAttempts: 5,
		},
		Notifications: NotificationPolicy{MaxAttempts: 5},
		Worker: WorkerPolicy{
			ID:           "worker-1",
			PollInterval: 800 * time.Millisecond,
			StuckAfter:   5 * time.Minute,
		},
		Reconcile: ReconcilePolicy{
			Enabled:           true,
			Schedule:          "@every 15m",
			BatchSize:         100,
			StaleCaptureAfter: 10 * time.Minute,
		},
	}
}

// LoadPolicy overlays the YAML file at path on DefaultPolicy. An empty path
// returns the defaults. The result is not validated.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy file: %w", err)
	}
	return p, nil
}

func (p Policy) Validate() error {
	var errs []error
	switch p.Payments.Processor {
	case "sandbox":
	case "http":
		if p.Payments.ProcessorURL == "" {
			errs = append(errs, errors.New("payments.processor_url is required for the http processor"))
		}
	default:
		errs = append(errs, fmt.Errorf("payments.processor: unknown processor %q", p.Payments.Processor))
	}
	if p.Payments.CommissionPercent < 0 || p.Payments.CommissionPercent >= 100 {
		errs = append(errs, fmt.Errorf("payments.commission_percent out of range: %v", p.Payments.CommissionPercent))
	}
	if p.Notifications.MaxAttempts < 1 {
		errs = append(errs, errors.New("notifications.max_attempts must be at least 1"))
	}
	if p.Reconcile.Enabled && p.Reconcile.Schedule == "" {
		errs = append(errs, errors.New("reconcile.schedule is required when reconciliation is enabled"))
	}
	if p.Reconcile.Enabled && p.Reconcile.StaleCaptureAfter <= p.Payments.ProcessorTimeout {
		errs = append(errs, errors.New("reconcile.stale_capture_after must exceed payments.processor_timeout"))
	}
	return errors.Join(errs...)
}

// Load reads the environment (and .env when present), then the policy file
// named by POLICY_FILE.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		LogLevel:             getenv("LOG_LEVEL", "info"),
		LogFormat:            getenv("LOG_FORMAT", "text"),
		PolicyFile:           getenv("POLICY_FILE", ""),
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	var missing []string
	cfg.DatabaseURL = requireEnv("DATABASE_URL", &missing)
	cfg.JWTSecret = requireEnv("JWT_SECRET", &missing)
	if len(missing) > 0 {
		return cfg, fmt.Errorf("missing env: %s", strings.Join(missing, ", "))
	}

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return cfg, err
	}
	policy.Payments.ProcessorAPIKey = getenv("PAYMENT_PROCESSOR_API_KEY", "")
	if url := getenv("PAYMENT_PROCESSOR_URL", ""); url != "" {
		policy.Payments.ProcessorURL = url
	}
	cfg.Policy = policy
	return cfg, policy.Validate()
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func requireEnv(key string, missing *[]string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		*missing = append(*missing, key)
	}
	return v
}
