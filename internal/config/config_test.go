package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PROOF_PROVIDER", "static")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" || cfg.PhoneCountryCode != "+234" || cfg.BcryptCost != 10 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.JWT.TTL != 1440*time.Minute || cfg.JWT.Leeway != 2*time.Minute {
		t.Fatalf("unexpected jwt defaults %+v", cfg.JWT)
	}
	rl := cfg.RateLimit
	if rl.VerifyMax != 5 || rl.VerifyWindow != time.Hour || rl.LoginPhoneMax != 10 || rl.LoginPhoneWindow != 15*time.Minute ||
		rl.LoginPINMax != 5 || rl.LoginPINWindow != 5*time.Minute || rl.StoreTimeout != 2*time.Second {
		t.Fatalf("unexpected rate limit defaults %+v", rl)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PROOF_PROVIDER", "STATIC")
	t.Setenv("PORT", ":9090")
	t.Setenv("PHONE_COUNTRY_CODE", "+233")
	t.Setenv("RATE_LIMIT_LOGIN_PIN_MAX", "3")
	t.Setenv("RATE_LIMIT_LOGIN_PIN_WINDOW", "90s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" || cfg.PhoneCountryCode != "+233" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.RateLimit.LoginPINMax != 3 || cfg.RateLimit.LoginPINWindow != 90*time.Second {
		t.Fatalf("unexpected limiter overrides %+v", cfg.RateLimit)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]map[string]string{
		"JWT_SECRET": {"JWT_SECRET": "short", "PROOF_PROVIDER": "static"},
		"DATABASE_URL": {
			"JWT_SECRET": testSecret, "APP_ENV": "production", "PROOF_PROVIDER": "assertion",
			"PROOF_ASSERTION_SECRET": "x", "REDIS_URL": "redis://localhost:6379",
		},
		"only allowed in development": {
			"JWT_SECRET": testSecret, "APP_ENV": "production", "PROOF_PROVIDER": "static",
			"DATABASE_URL": "postgres://localhost/telmed", "REDIS_URL": "redis://localhost:6379",
		},
		"PROOF_TWILIO": {"JWT_SECRET": testSecret, "PROOF_PROVIDER": "twilio"},
		"unknown PROOF_PROVIDER": {"JWT_SECRET": testSecret, "PROOF_PROVIDER": "carrier-pigeon"},
		"RATE_LIMIT_LOGIN_PIN_MAX must be positive": {
			"JWT_SECRET": testSecret, "PROOF_PROVIDER": "static", "RATE_LIMIT_LOGIN_PIN_MAX": "0",
		},
		"RATE_LIMIT_VERIFY_WINDOW must be positive": {
			"JWT_SECRET": testSecret, "PROOF_PROVIDER": "static", "RATE_LIMIT_VERIFY_WINDOW": "-1m",
		},
		"RATE_LIMIT_STORE_TIMEOUT must be positive": {
			"JWT_SECRET": testSecret, "PROOF_PROVIDER": "static", "RATE_LIMIT_STORE_TIMEOUT": "0s",
		},
	}
	for want, vars := range cases {
		t.Run(want, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), want) {
				t.Fatalf("expected error mentioning %q, got %v", want, err)
			}
		})
	}
}
