package identity

import (
	"time"

	"github.com/telmed/telmed/internal/credential"
	"github.com/telmed/telmed/internal/token"
)

// Kind distinguishes the two principal types. Phone numbers are unique per kind.
type Kind string

const (
	KindPatient Kind = "patient"
	KindDoctor  Kind = "doctor"
)

// Role maps a kind to the token role it is issued with.
func (k Kind) Role() token.Role {
	switch k {
	case KindPatient:
		return token.RolePatient
	case KindDoctor:
		return token.RoleDoctor
	default:
		return ""
	}
}

// ReviewStatus is the admin review state of a doctor.
type ReviewStatus string

const (
	ReviewPending     ReviewStatus = "Pending"
	ReviewUnderReview ReviewStatus = "UnderReview"
	ReviewApproved    ReviewStatus = "Approved"
	ReviewRejected    ReviewStatus = "Rejected"
)

// Principal holds the fields shared by patients and doctors.
type Principal struct {
	ID               string
	Kind             Kind
	Phone            string
	PhoneVerified    bool
	PINHash          []byte
	BiometricEnabled bool
	Stage            Stage
	// Version is compared-and-swapped on every update.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPIN reports whether the security-setup stage stored a PIN hash.
func (p Principal) HasPIN() bool {
	return len(p.PINHash) > 0
}

// Subject returns the view of p used by the biometric policy.
func (p Principal) Subject() credential.Subject {
	return credential.Subject{ID: p.ID, BiometricEnabled: p.BiometricEnabled}
}

// EmergencyContact is a patient's emergency contact.
type EmergencyContact struct {
	Name                  string
	Phone                 string
	Relationship          string
	AllowLocationTracking bool
}

// Patient is a patient principal.
type Patient struct {
	Principal

	Categories            []string
	PreferredLanguage     string
	AlternativeLanguage   string
	CommunicationTone     string
	CommunicationChannels []string

	FirstName          string
	DateOfBirth        *time.Time
	SexAtBirth         string
	MedicalConditions  []string
	BloodGroup         string
	Genotype           string
	Allergies          string
	CurrentMedications string
	AgreesToTerms      bool

	EmergencyContacts []EmergencyContact
}

// LoginEligible reports whether the patient may log in.
func (p Patient) LoginEligible() bool {
	return p.PhoneVerified && p.HasPIN() && p.Stage == StageComplete
}

// NextOfKin is a doctor's next of kin.
type NextOfKin struct {
	Name         string
	Relationship string
	Phone        string
}

// Language is a spoken language with a proficiency level.
type Language struct {
	Name        string
	Proficiency string
}

// Documents are references to uploaded files held by blob storage.
type Documents struct {
	MedicalLicense        string
	MDCNCertificate       string
	CV                    string
	NINSlip               string
	Passport              string
	AdditionalCertificate string
}

// Compliance records the acceptances collected during registration.
type Compliance struct {
	AcceptTerms        bool
	AcceptPrivacy      bool
	AcceptDataUse      bool
	AcceptTelemedicine bool
}

// Doctor is a doctor principal.
type Doctor struct {
	Principal

	LegalName          string
	Sex                string
	Email              string
	AlternatePhone     string
	WorkEmail          string
	ResidentialAddress string
	State              string
	LGA                string
	NextOfKin          NextOfKin

	Specialty        string
	CurrentWorkplace string
	ShortBio         string
	Languages        []Language

	Documents  Documents
	Compliance Compliance

	PreferredInterview *time.Time
	AlternativeSlots   []time.Time
	InterviewNotes     string

	ReviewStatus    ReviewStatus
	RejectionReason string
	ReviewedAt      *time.Time
	ReviewedBy      string
}

// LoginEligible reports whether the doctor may log in. Unapproved doctors
// never can, whatever their registration progress.
func (d Doctor) LoginEligible() bool {
	return d.PhoneVerified && d.HasPIN() && d.Stage == StageComplete && d.ReviewStatus == ReviewApproved
}

func clonePatient(p Patient) Patient {
	p.PINHash = cloneBytes(p.PINHash)
	p.Categories = cloneStrings(p.Categories)
	p.CommunicationChannels = cloneStrings(p.CommunicationChannels)
	p.MedicalConditions = cloneStrings(p.MedicalConditions)
	p.DateOfBirth = cloneTime(p.DateOfBirth)
	if p.EmergencyContacts != nil {
		p.EmergencyContacts = append([]EmergencyContact(nil), p.EmergencyContacts...)
	}
	return p
}

func cloneDoctor(d Doctor) Doctor {
	d.PINHash = cloneBytes(d.PINHash)
	if d.Languages != nil {
		d.Languages = append([]Language(nil), d.Languages...)
	}
	if d.AlternativeSlots != nil {
		d.AlternativeSlots = append([]time.Time(nil), d.AlternativeSlots...)
	}
	d.PreferredInterview = cloneTime(d.PreferredInterview)
	d.ReviewedAt = cloneTime(d.ReviewedAt)
	return d
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
