package identity

import (
	"context"
	"time"

	"github.com/telmed/telmed/internal/apperr"
	"github.com/telmed/telmed/internal/token"
)

// Profile is the read view of a principal returned to its owner.
type Profile struct {
	ID                string    `json:"id"`
	Role              string    `json:"role"`
	PhoneNumber       string    `json:"phone_number"`
	IsPhoneVerified   bool      `json:"is_phone_verified"`
	RegistrationStage string    `json:"registration_stage"`
	BiometricEnabled  bool      `json:"biometric_enabled"`
	FirstName         string    `json:"first_name,omitempty"`
	LegalName         string    `json:"legal_name,omitempty"`
	Specialty         string    `json:"specialty,omitempty"`
	ReviewStatus      string    `json:"review_status,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Service looks principals up across both kinds.
type Service struct {
	patients PatientRepository
	doctors  DoctorRepository
}

// NewService creates a new identity lookup service.
func NewService(patients PatientRepository, doctors DoctorRepository) *Service {
	return &Service{patients: patients, doctors: doctors}
}

// Profile returns the principal behind an authenticated token identity.
func (s *Service) Profile(ctx context.Context, id token.Identity) (Profile, error) {
	switch id.Role {
	case token.RolePatient:
		p, err := s.patients.FindByID(ctx, id.SubjectID)
		if err != nil {
			return Profile{}, err
		}
		return Profile{
			ID:                p.ID,
			Role:              string(token.RolePatient),
			PhoneNumber:       p.Phone,
			IsPhoneVerified:   p.PhoneVerified,
			RegistrationStage: string(p.Stage),
			BiometricEnabled:  p.BiometricEnabled,
			FirstName:         p.FirstName,
			CreatedAt:         p.CreatedAt,
		}, nil
	case token.RoleDoctor:
		d, err := s.doctors.FindByID(ctx, id.SubjectID)
		if err != nil {
			return Profile{}, err
		}
		return Profile{
			ID:                d.ID,
			Role:              string(token.RoleDoctor),
			PhoneNumber:       d.Phone,
			IsPhoneVerified:   d.PhoneVerified,
			RegistrationStage: string(d.Stage),
			BiometricEnabled:  d.BiometricEnabled,
			LegalName:         d.LegalName,
			Specialty:         d.Specialty,
			ReviewStatus:      string(d.ReviewStatus),
			CreatedAt:         d.CreatedAt,
		}, nil
	default:
		return Profile{}, apperr.NotFound("no profile for role " + string(id.Role))
	}
}
