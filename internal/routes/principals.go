package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/telmed/telmed/internal/auth"
	"github.com/telmed/telmed/internal/registration"
)

type routeSet struct {
	registration *registration.Handler
	login        *auth.Handler
	guard        fiber.Handler
	idempotency  fiber.Handler
}

// registerPatientRoutes mounts patient registration and login under r.
// Stage routes require a patient token whose subject is the patient id.
func registerPatientRoutes(r fiber.Router, s routeSet) {
	reg := s.registration
	r.Post("/register/verify-phone", reg.VerifyPhone)
	r.Post("/register/categories", s.guard, s.idempotency, reg.SaveCategories())
	r.Post("/register/language-preferences", s.guard, s.idempotency, reg.SaveLanguagePreferences())
	r.Post("/register/personal-info", s.guard, s.idempotency, reg.SavePersonalInfo())
	r.Post("/register/security-setup", s.guard, s.idempotency, reg.SecuritySetup)
	r.Post("/register/complete", s.guard, reg.Complete)

	r.Post("/login/phone", s.login.ValidatePhone)
	r.Post("/login/verify", s.login.VerifyPin)
	r.Post("/login/forgot-pin", s.login.ForgotPin)
	r.Post("/login/reset-pin", s.login.ResetPin)
}

// registerDoctorRoutes mounts doctor registration and login under r.
func registerDoctorRoutes(r fiber.Router, s routeSet) {
	reg := s.registration
	r.Post("/register/verify-phone", reg.VerifyPhone)
	r.Post("/register/identity", s.guard, s.idempotency, reg.SaveIdentity())
	r.Post("/register/practice", s.guard, s.idempotency, reg.SavePracticeProfile())
	r.Post("/register/credentials", s.guard, s.idempotency, reg.SaveCredentials())
	r.Post("/register/compliance", s.guard, s.idempotency, reg.SaveCompliance())
	r.Post("/register/schedule", s.guard, s.idempotency, reg.SaveSchedule())
	r.Post("/register/security-setup", s.guard, s.idempotency, reg.SecuritySetup)
	r.Post("/register/complete", s.guard, reg.Complete)

	r.Post("/login/phone", s.login.ValidatePhone)
	r.Post("/login/verify", s.login.VerifyPin)
}
