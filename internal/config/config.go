package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	envDevelopment = "development"
	envTest        = "test"

	// ProofAssertion verifies provider-signed phone assertions.
	ProofAssertion = "assertion"
	// ProofTwilio checks one-time codes against Twilio Verify.
	ProofTwilio = "twilio"
	// ProofStatic trusts the submitted phone. Development only.
	ProofStatic = "static"

	minSecretLength = 32
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName          string        `env:"APP_NAME" envDefault:"TelMed Identity"`
	AppEnv           string        `env:"APP_ENV" envDefault:"development"`
	Port             string        `env:"PORT" envDefault:"8080"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL      string        `env:"DATABASE_URL"`
	RedisURL         string        `env:"REDIS_URL"`
	ShutdownPeriod   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL   time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	PhoneCountryCode string        `env:"PHONE_COUNTRY_CODE" envDefault:"+234"`
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"10"`

	JWT       JWT       `envPrefix:"JWT_"`
	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`
	Proof     Proof     `envPrefix:"PROOF_"`
}

// JWT configures token issuance.
type JWT struct {
	Secret   string        `env:"SECRET"`
	Issuer   string        `env:"ISSUER" envDefault:"telmed"`
	Audience string        `env:"AUDIENCE" envDefault:"telmed-app"`
	TTL      time.Duration `env:"TTL" envDefault:"1440m"`
	Leeway   time.Duration `env:"LEEWAY" envDefault:"2m"`
}

// RateLimit configures every limiter scope.
type RateLimit struct {
	StoreTimeout       time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`
	VerifyMax          int           `env:"VERIFY_MAX" envDefault:"5"`
	VerifyWindow       time.Duration `env:"VERIFY_WINDOW" envDefault:"1h"`
	DoctorVerifyMax    int           `env:"DOCTOR_VERIFY_MAX" envDefault:"5"`
	DoctorVerifyWindow time.Duration `env:"DOCTOR_VERIFY_WINDOW" envDefault:"1h"`
	LoginPhoneMax      int           `env:"LOGIN_PHONE_MAX" envDefault:"10"`
	LoginPhoneWindow   time.Duration `env:"LOGIN_PHONE_WINDOW" envDefault:"15m"`
	LoginPINMax        int           `env:"LOGIN_PIN_MAX" envDefault:"5"`
	LoginPINWindow     time.Duration `env:"LOGIN_PIN_WINDOW" envDefault:"5m"`
	PinResetMax        int           `env:"PIN_RESET_MAX" envDefault:"5"`
	PinResetWindow     time.Duration `env:"PIN_RESET_WINDOW" envDefault:"1h"`
}

// Proof selects and configures the phone proof verifier.
type Proof struct {
	Provider          string `env:"PROVIDER" envDefault:"assertion"`
	AssertionSecret   string `env:"ASSERTION_SECRET"`
	AssertionIssuer   string `env:"ASSERTION_ISSUER"`
	AssertionAudience string `env:"ASSERTION_AUDIENCE"`
	TwilioAccountSID  string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `env:"TWILIO_AUTH_TOKEN"`
	TwilioServiceSID  string `env:"TWILIO_SERVICE_SID"`
}

// Load reads configuration values from the environment and validates them.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Proof.Provider = strings.ToLower(cfg.Proof.Provider)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if len(c.JWT.Secret) < minSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLength))
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	errs = append(errs, c.RateLimit.validate()...)
	if !c.IsDevelopment() {
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set"))
		}
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL must be set"))
		}
	}
	switch c.Proof.Provider {
	case ProofAssertion:
		if c.Proof.AssertionSecret == "" {
			errs = append(errs, errors.New("PROOF_ASSERTION_SECRET must be set for the assertion provider"))
		}
	case ProofTwilio:
		if c.Proof.TwilioAccountSID == "" || c.Proof.TwilioAuthToken == "" || c.Proof.TwilioServiceSID == "" {
			errs = append(errs, errors.New("PROOF_TWILIO_ACCOUNT_SID, PROOF_TWILIO_AUTH_TOKEN and PROOF_TWILIO_SERVICE_SID must be set for the twilio provider"))
		}
	case ProofStatic:
		if !c.IsDevelopment() {
			errs = append(errs, errors.New("PROOF_PROVIDER=static is only allowed in development"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PROOF_PROVIDER %q", c.Proof.Provider))
	}
	return errors.Join(errs...)
}

func (r RateLimit) validate() []error {
	var errs []error
	if r.StoreTimeout <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_STORE_TIMEOUT must be positive"))
	}
	rules := []struct {
		name   string
		max    int
		window time.Duration
	}{
		{"VERIFY", r.VerifyMax, r.VerifyWindow},
		{"DOCTOR_VERIFY", r.DoctorVerifyMax, r.DoctorVerifyWindow},
		{"LOGIN_PHONE", r.LoginPhoneMax, r.LoginPhoneWindow},
		{"LOGIN_PIN", r.LoginPINMax, r.LoginPINWindow},
		{"PIN_RESET", r.PinResetMax, r.PinResetWindow},
	}
	for _, rule := range rules {
		if rule.max <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_%s_MAX must be positive", rule.name))
		}
		if rule.window <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_%s_WINDOW must be positive", rule.name))
		}
	}
	return errs
}

// IsDevelopment reports whether the app runs in a local or test environment.
func (c Config) IsDevelopment() bool {
	e := strings.ToLower(c.AppEnv)
	return e == envDevelopment || e == envTest
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
