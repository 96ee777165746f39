package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/telmed/telmed/internal/auth"
	"github.com/telmed/telmed/internal/config"
	"github.com/telmed/telmed/internal/credential"
	"github.com/telmed/telmed/internal/identity"
	"github.com/telmed/telmed/internal/logging"
	"github.com/telmed/telmed/internal/middleware"
	"github.com/telmed/telmed/internal/notification"
	"github.com/telmed/telmed/internal/phone"
	"github.com/telmed/telmed/internal/proof"
	"github.com/telmed/telmed/internal/ratelimit"
	"github.com/telmed/telmed/internal/registration"
	"github.com/telmed/telmed/internal/token"
	"github.com/telmed/telmed/internal/validation"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Registry receives the application metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
	// Verifier overrides the configured phone proof provider.
	Verifier proof.Verifier
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
		d.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var (
		patients identity.PatientRepository
		doctors  identity.DoctorRepository
	)
	if d.DB != nil {
		patients = identity.NewPostgresPatientRepository(d.DB)
		doctors = identity.NewPostgresDoctorRepository(d.DB)
	} else {
		d.Logger.Warn("DATABASE_URL not set, using in-memory repositories")
		patients = identity.NewMemoryPatientRepository()
		doctors = identity.NewMemoryDoctorRepository()
	}
	if d.Cache == nil {
		d.Logger.Warn("REDIS_URL not set, rate limiting fails open")
	}

	limiter, err := ratelimit.New(d.Cache, ratelimit.Options{
		Timeout:    d.Cfg.RateLimit.StoreTimeout,
		FailureTTL: d.Cfg.RateLimit.LoginPINWindow,
		Logger:     d.Logger,
		Registerer: d.Registry,
	})
	if err != nil {
		return err
	}
	issuer, err := token.NewIssuer(token.Config{
		Secret:   d.Cfg.JWT.Secret,
		Issuer:   d.Cfg.JWT.Issuer,
		Audience: d.Cfg.JWT.Audience,
		TTL:      d.Cfg.JWT.TTL,
		Leeway:   d.Cfg.JWT.Leeway,
	})
	if err != nil {
		return err
	}
	normalizer := phone.NewNormalizer(d.Cfg.PhoneCountryCode)
	verifier := d.Verifier
	if verifier == nil {
		if verifier, err = newVerifier(d.Cfg, normalizer); err != nil {
			return err
		}
	}
	vault := credential.NewVault(d.Cfg.BcryptCost, credential.TrustIfEnabled{})
	notifier := notification.NewLoggerNotifier(d.Logger)

	regSvc := registration.NewService(registration.Deps{
		Patients:   patients,
		Doctors:    doctors,
		Verifier:   verifier,
		Normalizer: normalizer,
		Limiter:    limiter,
		Vault:      vault,
		Issuer:     issuer,
		Notifier:   notifier,
		Validator:  validation.New(),
		Logger:     d.Logger,
		Rules:      registrationRules(d.Cfg.RateLimit),
	})
	loginSvc := auth.NewService(auth.Deps{
		Patients:   patients,
		Doctors:    doctors,
		Normalizer: normalizer,
		Limiter:    limiter,
		Vault:      vault,
		Issuer:     issuer,
		Verifier:   verifier,
		Notifier:   notifier,
		Logger:     d.Logger,
		Rules:      loginRules(d.Cfg.RateLimit),
	})
	identitySvc := identity.NewService(patients, doctors)

	idem := middleware.Idempotency(middleware.IdempotencyConfig{
		Cache:  d.Cache,
		TTL:    d.Cfg.IdempotencyTTL,
		Logger: d.Logger,
	})

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	registerPatientRoutes(api.Group("/patients"), routeSet{
		registration: registration.NewHandler(regSvc, identity.KindPatient),
		login:        auth.NewHandler(loginSvc, identity.KindPatient),
		guard:        middleware.JWTAuth(issuer, token.RolePatient),
		idempotency:  idem,
	})
	registerDoctorRoutes(api.Group("/doctors"), routeSet{
		registration: registration.NewHandler(regSvc, identity.KindDoctor),
		login:        auth.NewHandler(loginSvc, identity.KindDoctor),
		guard:        middleware.JWTAuth(issuer, token.RoleDoctor),
		idempotency:  idem,
	})

	identityHandler := identity.NewHandler(identitySvc)
	api.Get("/me", middleware.JWTAuth(issuer, token.RolePatient, token.RoleDoctor), middleware.RequireSession(), identityHandler.Me)

	return nil
}

func newVerifier(cfg config.Config, normalizer phone.Normalizer) (proof.Verifier, error) {
	switch cfg.Proof.Provider {
	case config.ProofTwilio:
		return proof.NewTwilioVerifier(proof.TwilioConfig{
			AccountSID: cfg.Proof.TwilioAccountSID,
			AuthToken:  cfg.Proof.TwilioAuthToken,
			ServiceSID: cfg.Proof.TwilioServiceSID,
		}, normalizer)
	case config.ProofStatic:
		return proof.Static{}, nil
	default:
		return proof.NewAssertionVerifier(proof.AssertionConfig{
			Secret:   cfg.Proof.AssertionSecret,
			Issuer:   cfg.Proof.AssertionIssuer,
			Audience: cfg.Proof.AssertionAudience,
			Leeway:   cfg.JWT.Leeway,
		})
	}
}

func registrationRules(rl config.RateLimit) registration.Rules {
	return registration.Rules{
		PatientVerify: ratelimit.Rule{Max: rl.VerifyMax, Window: rl.VerifyWindow},
		DoctorVerify:  ratelimit.Rule{Max: rl.DoctorVerifyMax, Window: rl.DoctorVerifyWindow},
	}
}

func loginRules(rl config.RateLimit) auth.Rules {
	return auth.Rules{
		LoginPhone: ratelimit.Rule{Max: rl.LoginPhoneMax, Window: rl.LoginPhoneWindow},
		LoginPIN:   ratelimit.Rule{Max: rl.LoginPINMax, Window: rl.LoginPINWindow},
		PinReset:   ratelimit.Rule{Max: rl.PinResetMax, Window: rl.PinResetWindow},
	}
}
