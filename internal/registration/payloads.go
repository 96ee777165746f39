package registration

import (
	"time"

	"github.com/telmed/telmed/internal/identity"
	"github.com/telmed/telmed/internal/token"
)

// minCategories is the smallest selection kept as-is; anything shorter falls
// back to defaultCategory.
const (
	minCategories   = 3
	defaultCategory = "General Care"
)

// VerifyPhoneInput carries the phone proof. Assertion is used by signed
// verifiers, PhoneNumber and Code by OTP check verifiers.
type VerifyPhoneInput struct {
	Assertion   string `json:"assertion"`
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

// Verified is the outcome of a successful phone verification.
type Verified struct {
	PrincipalID string
	Phone       string
	Token       token.Token
}

// CategoriesInput is the patient care categories stage.
type CategoriesInput struct {
	Categories []string `json:"categories" validate:"dive,required,max=100"`
}

// LanguagePreferencesInput is the patient language preferences stage.
type LanguagePreferencesInput struct {
	PreferredLanguage     string   `json:"preferred_language" validate:"required,max=50"`
	AlternativeLanguage   string   `json:"alternative_language" validate:"max=50"`
	CommunicationTone     string   `json:"communication_tone" validate:"required,max=50"`
	CommunicationChannels []string `json:"communication_channels" validate:"dive,required,max=50"`
}

// PersonalInfoInput is the patient personal information stage.
type PersonalInfoInput struct {
	FirstName          string   `json:"first_name" validate:"required,max=100"`
	DateOfBirth        string   `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	SexAtBirth         string   `json:"sex_at_birth" validate:"required,oneof=Male Female Intersex"`
	MedicalConditions  []string `json:"medical_conditions" validate:"dive,required,max=100"`
	BloodGroup         string   `json:"blood_group" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Genotype           string   `json:"genotype" validate:"omitempty,oneof=AA AS AC SS SC CC"`
	Allergies          string   `json:"allergies" validate:"max=500"`
	CurrentMedications string   `json:"current_medications" validate:"max=500"`
	AgreesToTerms      bool     `json:"agrees_to_terms" validate:"eq=true"`
}

// NextOfKinInput is a doctor's next of kin.
type NextOfKinInput struct {
	Name         string `json:"name" validate:"required,max=100"`
	Relationship string `json:"relationship" validate:"required,max=50"`
	PhoneNumber  string `json:"phone_number" validate:"required,max=20"`
}

// IdentityInput is the doctor identity stage.
type IdentityInput struct {
	LegalName          string         `json:"legal_name" validate:"required,max=200"`
	Sex                string         `json:"sex" validate:"required,oneof=Male Female Other"`
	Email              string         `json:"email" validate:"required,email"`
	AlternatePhone     string         `json:"alternate_phone" validate:"max=20"`
	WorkEmail          string         `json:"work_email" validate:"omitempty,email"`
	ResidentialAddress string         `json:"residential_address" validate:"required,max=300"`
	State              string         `json:"state" validate:"required,max=100"`
	LGA                string         `json:"lga" validate:"required,max=100"`
	NextOfKin          NextOfKinInput `json:"next_of_kin"`
}

// LanguageInput is one spoken language.
type LanguageInput struct {
	Name        string `json:"name" validate:"required,max=50"`
	Proficiency string `json:"proficiency" validate:"required,oneof=Basic Intermediate Fluent Native"`
}

// PracticeInput is the doctor practice profile stage.
type PracticeInput struct {
	Specialty        string          `json:"specialty" validate:"required,max=100"`
	CurrentWorkplace string          `json:"current_workplace" validate:"required,max=200"`
	ShortBio         string          `json:"short_bio" validate:"max=1000"`
	Languages        []LanguageInput `json:"languages" validate:"required,min=1,dive"`
}

// CredentialsInput references documents already placed in blob storage.
type CredentialsInput struct {
	MedicalLicense        string `json:"medical_license" validate:"required,max=500"`
	MDCNCertificate       string `json:"mdcn_certificate" validate:"required,max=500"`
	CV                    string `json:"cv" validate:"max=500"`
	NINSlip               string `json:"nin_slip" validate:"max=500"`
	Passport              string `json:"passport" validate:"max=500"`
	AdditionalCertificate string `json:"additional_certificate" validate:"max=500"`
}

// ComplianceInput is the doctor compliance stage. Every acceptance is mandatory.
type ComplianceInput struct {
	AcceptTerms        bool `json:"accept_terms" validate:"eq=true"`
	AcceptPrivacy      bool `json:"accept_privacy" validate:"eq=true"`
	AcceptDataUse      bool `json:"accept_data_use" validate:"eq=true"`
	AcceptTelemedicine bool `json:"accept_telemedicine" validate:"eq=true"`
}

// ScheduleInput is the doctor interview scheduling stage.
type ScheduleInput struct {
	PreferredInterview time.Time   `json:"preferred_interview" validate:"required"`
	AlternativeSlots   []time.Time `json:"alternative_slots" validate:"max=5"`
	Notes              string      `json:"notes" validate:"max=500"`
}

// EmergencyContactInput is one patient emergency contact.
type EmergencyContactInput struct {
	Name                  string `json:"name" validate:"required,max=100"`
	PhoneNumber           string `json:"phone_number" validate:"required,max=20"`
	Relationship          string `json:"relationship" validate:"required,max=50"`
	AllowLocationTracking bool   `json:"allow_location_tracking"`
}

// SecuritySetupInput is the terminal stage of both flows. Emergency contacts
// are only accepted from patients.
type SecuritySetupInput struct {
	PIN               string                  `json:"pin" validate:"required"`
	EnableBiometric   bool                    `json:"enable_biometric"`
	EmergencyContacts []EmergencyContactInput `json:"emergency_contacts" validate:"max=5,dive"`
}

// Summary is the read-only confirmation returned by FinalizeRegistration.
type Summary struct {
	PrincipalID string         `json:"id"`
	Phone       string         `json:"phone_number"`
	Stage       identity.Stage `json:"registration_stage"`
	Message     string         `json:"message"`
}
