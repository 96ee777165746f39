package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telmed/telmed/internal/apperr"
	"github.com/telmed/telmed/internal/credential"
	"github.com/telmed/telmed/internal/identity"
	"github.com/telmed/telmed/internal/logging"
	"github.com/telmed/telmed/internal/notification"
	"github.com/telmed/telmed/internal/phone"
	"github.com/telmed/telmed/internal/proof"
	"github.com/telmed/telmed/internal/ratelimit"
	"github.com/telmed/telmed/internal/token"
	"github.com/telmed/telmed/internal/validation"
)

const (
	scopePatientVerify = "verify"
	scopeDoctorVerify  = "doc-verify"

	// maxUpdateAttempts bounds the read-modify-write loop when concurrent
	// writers keep winning the version compare-and-swap.
	maxUpdateAttempts = 3
)

var errTooManyVerifications = apperr.Unauthorized("too many verification attempts")

// Rules configures the verification limits per principal kind.
type Rules struct {
	PatientVerify ratelimit.Rule
	DoctorVerify  ratelimit.Rule
}

// DefaultRules allows five verifications per phone per hour.
func DefaultRules() Rules {
	r := ratelimit.Rule{Max: 5, Window: time.Hour}
	return Rules{PatientVerify: r, DoctorVerify: r}
}

// Deps are the collaborators of the registration service.
type Deps struct {
	Patients   identity.PatientRepository
	Doctors    identity.DoctorRepository
	Verifier   proof.Verifier
	Normalizer phone.Normalizer
	Limiter    *ratelimit.Limiter
	Vault      *credential.Vault
	Issuer     *token.Issuer
	Notifier   notification.Notifier
	Validator  *validation.Validator
	Logger     *slog.Logger
	Rules      Rules
}

// Service drives patients and doctors from a verified phone to a
// login-capable record.
type Service struct {
	patients   identity.PatientRepository
	doctors    identity.DoctorRepository
	verifier   proof.Verifier
	normalizer phone.Normalizer
	limiter    *ratelimit.Limiter
	vault      *credential.Vault
	issuer     *token.Issuer
	notifier   notification.Notifier
	validate   *validation.Validator
	logger     *slog.Logger
	rules      Rules
	now        func() time.Time
}

// NewService wires a registration service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Validator == nil {
		d.Validator = validation.New()
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLoggerNotifier(d.Logger)
	}
	if d.Rules == (Rules{}) {
		d.Rules = DefaultRules()
	}
	return &Service{
		patients:   d.Patients,
		doctors:    d.Doctors,
		verifier:   d.Verifier,
		normalizer: d.Normalizer,
		limiter:    d.Limiter,
		vault:      d.Vault,
		issuer:     d.Issuer,
		notifier:   d.Notifier,
		validate:   d.Validator,
		logger:     d.Logger,
		rules:      d.Rules,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// VerifyPhone consumes a phone proof, creates or re-verifies the principal of
// kind for that phone and issues an interim token. Repeating it for the same
// phone yields the same principal.
func (s *Service) VerifyPhone(ctx context.Context, kind identity.Kind, in VerifyPhoneInput) (Verified, error) {
	raw, err := s.verifier.Verify(ctx, proof.Proof{Assertion: in.Assertion, Phone: in.PhoneNumber, Code: in.Code})
	if err != nil {
		return Verified{}, err
	}
	normalized, err := s.normalizer.Normalize(raw)
	if err != nil {
		return Verified{}, err
	}

	scope, rule := scopePatientVerify, s.rules.PatientVerify
	if kind == identity.KindDoctor {
		scope, rule = scopeDoctorVerify, s.rules.DoctorVerify
	}
	if !s.limiter.AllowRule(ctx, ratelimit.Key(scope, normalized), rule) {
		s.logger.WarnContext(ctx, "registration.verify_phone rate limited", slog.String("kind", string(kind)), logging.Phone(normalized))
		return Verified{}, errTooManyVerifications
	}

	var principal identity.Principal
	switch kind {
	case identity.KindPatient:
		p, err := upsertVerified[identity.Patient](ctx, s.patients, normalized, s.now, patientPrincipal, func(base identity.Principal) identity.Patient {
			base.Kind = identity.KindPatient
			return identity.Patient{Principal: base}
		})
		if err != nil {
			return Verified{}, err
		}
		principal = p.Principal
	case identity.KindDoctor:
		d, err := upsertVerified[identity.Doctor](ctx, s.doctors, normalized, s.now, doctorPrincipal, func(base identity.Principal) identity.Doctor {
			base.Kind = identity.KindDoctor
			return identity.Doctor{Principal: base, ReviewStatus: identity.ReviewPending}
		})
		if err != nil {
			return Verified{}, err
		}
		principal = d.Principal
	default:
		return Verified{}, apperr.Invalid("kind", "unknown principal kind")
	}

	tok, err := s.issuer.IssueRegistration(principal.ID, principal.Phone, kind.Role())
	if err != nil {
		return Verified{}, err
	}
	s.logger.InfoContext(ctx, "registration.verify_phone completed",
		slog.String("kind", string(kind)),
		slog.String("principal_id", principal.ID),
		logging.Phone(principal.Phone),
	)
	return Verified{PrincipalID: principal.ID, Phone: principal.Phone, Token: tok}, nil
}

// SaveCategories stores the patient's care categories. Fewer than three
// selections are replaced by the general care category.
func (s *Service) SaveCategories(ctx context.Context, patientID string, in CategoriesInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	categories := []string{defaultCategory}
	if len(in.Categories) >= minCategories {
		categories = trimAll(in.Categories)
	}
	return s.savePatient(ctx, patientID, identity.StageCategories, func(p *identity.Patient) error {
		p.Categories = categories
		return nil
	})
}

// SaveLanguagePreferences stores the patient's language and communication preferences.
func (s *Service) SaveLanguagePreferences(ctx context.Context, patientID string, in LanguagePreferencesInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	return s.savePatient(ctx, patientID, identity.StageLanguagePreferences, func(p *identity.Patient) error {
		p.PreferredLanguage = strings.TrimSpace(in.PreferredLanguage)
		p.AlternativeLanguage = strings.TrimSpace(in.AlternativeLanguage)
		p.CommunicationTone = strings.TrimSpace(in.CommunicationTone)
		p.CommunicationChannels = trimAll(in.CommunicationChannels)
		return nil
	})
}

// SavePersonalInfo stores the patient's personal and medical background.
func (s *Service) SavePersonalInfo(ctx context.Context, patientID string, in PersonalInfoInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	dob, err := time.Parse(time.DateOnly, in.DateOfBirth)
	if err != nil {
		return apperr.Invalid("date_of_birth", "must be a date in YYYY-MM-DD form")
	}
	if !dob.Before(s.now()) {
		return apperr.Invalid("date_of_birth", "must be in the past")
	}
	return s.savePatient(ctx, patientID, identity.StagePersonalInfo, func(p *identity.Patient) error {
		p.FirstName = strings.TrimSpace(in.FirstName)
		p.DateOfBirth = &dob
		p.SexAtBirth = in.SexAtBirth
		p.MedicalConditions = trimAll(in.MedicalConditions)
		p.BloodGroup = in.BloodGroup
		p.Genotype = in.Genotype
		p.Allergies = strings.TrimSpace(in.Allergies)
		p.CurrentMedications = strings.TrimSpace(in.CurrentMedications)
		p.AgreesToTerms = in.AgreesToTerms
		return nil
	})
}

// SaveIdentity stores the doctor's identity and next of kin.
func (s *Service) SaveIdentity(ctx context.Context, doctorID string, in IdentityInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	kinPhone, err := s.normalizeField("next_of_kin.phone_number", in.NextOfKin.PhoneNumber)
	if err != nil {
		return err
	}
	altPhone := ""
	if strings.TrimSpace(in.AlternatePhone) != "" {
		if altPhone, err = s.normalizeField("alternate_phone", in.AlternatePhone); err != nil {
			return err
		}
	}
	return s.saveDoctor(ctx, doctorID, identity.StageIdentity, func(d *identity.Doctor) error {
		d.LegalName = strings.TrimSpace(in.LegalName)
		d.Sex = in.Sex
		d.Email = strings.ToLower(strings.TrimSpace(in.Email))
		d.AlternatePhone = altPhone
		d.WorkEmail = strings.ToLower(strings.TrimSpace(in.WorkEmail))
		d.ResidentialAddress = strings.TrimSpace(in.ResidentialAddress)
		d.State = strings.TrimSpace(in.State)
		d.LGA = strings.TrimSpace(in.LGA)
		d.NextOfKin = identity.NextOfKin{
			Name:         strings.TrimSpace(in.NextOfKin.Name),
			Relationship: strings.TrimSpace(in.NextOfKin.Relationship),
			Phone:        kinPhone,
		}
		return nil
	})
}

// SavePracticeProfile stores the doctor's practice profile. Languages are
// replaced, never merged.
func (s *Service) SavePracticeProfile(ctx context.Context, doctorID string, in PracticeInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	languages := make([]identity.Language, 0, len(in.Languages))
	for _, l := range in.Languages {
		languages = append(languages, identity.Language{Name: strings.TrimSpace(l.Name), Proficiency: l.Proficiency})
	}
	return s.saveDoctor(ctx, doctorID, identity.StagePracticeProfile, func(d *identity.Doctor) error {
		d.Specialty = strings.TrimSpace(in.Specialty)
		d.CurrentWorkplace = strings.TrimSpace(in.CurrentWorkplace)
		d.ShortBio = strings.TrimSpace(in.ShortBio)
		d.Languages = languages
		return nil
	})
}

// SaveCredentials stores references to the doctor's uploaded documents.
func (s *Service) SaveCredentials(ctx context.Context, doctorID string, in CredentialsInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	return s.saveDoctor(ctx, doctorID, identity.StageCredentials, func(d *identity.Doctor) error {
		d.Documents = identity.Documents{
			MedicalLicense:        in.MedicalLicense,
			MDCNCertificate:       in.MDCNCertificate,
			CV:                    in.CV,
			NINSlip:               in.NINSlip,
			Passport:              in.Passport,
			AdditionalCertificate: in.AdditionalCertificate,
		}
		return nil
	})
}

// SaveCompliance stores the doctor's acceptances.
func (s *Service) SaveCompliance(ctx context.Context, doctorID string, in ComplianceInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	return s.saveDoctor(ctx, doctorID, identity.StageCompliance, func(d *identity.Doctor) error {
		d.Compliance = identity.Compliance(in)
		return nil
	})
}

// SaveSchedule stores the doctor's interview preferences. Alternative slots
// are replaced, never merged.
func (s *Service) SaveSchedule(ctx context.Context, doctorID string, in ScheduleInput) error {
	if err := s.validate.Struct(in); err != nil {
		return err
	}
	now := s.now()
	if !in.PreferredInterview.After(now) {
		return apperr.Invalid("preferred_interview", "must be in the future")
	}
	preferred := in.PreferredInterview.UTC()
	slots := make([]time.Time, 0, len(in.AlternativeSlots))
	for _, at := range in.AlternativeSlots {
		if !at.After(now) {
			return apperr.Invalid("alternative_slots", "must be in the future")
		}
		slots = append(slots, at.UTC())
	}
	return s.saveDoctor(ctx, doctorID, identity.StageSchedule, func(d *identity.Doctor) error {
		d.PreferredInterview = &preferred
		d.AlternativeSlots = slots
		d.InterviewNotes = strings.TrimSpace(in.Notes)
		return nil
	})
}

// CompleteSecuritySetup sets the PIN and biometric preference, replaces the
// patient's emergency contacts, marks registration complete and returns a
// fresh token.
func (s *Service) CompleteSecuritySetup(ctx context.Context, kind identity.Kind, principalID string, in SecuritySetupInput) (token.Token, error) {
	if err := s.validate.Struct(in); err != nil {
		return token.Token{}, err
	}
	if err := credential.ValidatePIN(in.PIN); err != nil {
		return token.Token{}, err
	}

	var principal identity.Principal
	switch kind {
	case identity.KindPatient:
		contacts := make([]identity.EmergencyContact, 0, len(in.EmergencyContacts))
		for i, c := range in.EmergencyContacts {
			normalized, err := s.normalizeField(fmt.Sprintf("emergency_contacts[%d].phone_number", i), c.PhoneNumber)
			if err != nil {
				return token.Token{}, err
			}
			contacts = append(contacts, identity.EmergencyContact{
				Name:                  strings.TrimSpace(c.Name),
				Phone:                 normalized,
				Relationship:          strings.TrimSpace(c.Relationship),
				AllowLocationTracking: c.AllowLocationTracking,
			})
		}
		hash, err := s.vault.HashPIN(in.PIN)
		if err != nil {
			return token.Token{}, err
		}
		p, err := mutate[identity.Patient](ctx, s.patients, principalID, identity.FlowFor(kind), identity.StageSecuritySetup, s.now, patientPrincipal,
			func(p *identity.Patient) error {
				p.PINHash = hash
				p.BiometricEnabled = in.EnableBiometric
				p.EmergencyContacts = contacts
				return nil
			})
		if err != nil {
			return token.Token{}, err
		}
		principal = p.Principal
	case identity.KindDoctor:
		if len(in.EmergencyContacts) > 0 {
			return token.Token{}, apperr.Invalid("emergency_contacts", "not accepted for doctors")
		}
		hash, err := s.vault.HashPIN(in.PIN)
		if err != nil {
			return token.Token{}, err
		}
		d, err := mutate[identity.Doctor](ctx, s.doctors, principalID, identity.FlowFor(kind), identity.StageSecuritySetup, s.now, doctorPrincipal,
			func(d *identity.Doctor) error {
				d.PINHash = hash
				d.BiometricEnabled = in.EnableBiometric
				return nil
			})
		if err != nil {
			return token.Token{}, err
		}
		principal = d.Principal
	default:
		return token.Token{}, apperr.Invalid("kind", "unknown principal kind")
	}

	msg := notification.Message{
		Kind:        notification.KindRegistrationComplete,
		PrincipalID: principal.ID,
		Destination: principal.Phone,
		Body:        completionMessage(kind),
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "registration.complete notification failed", slog.String("principal_id", principal.ID), slog.Any("error", err))
	}

	tok, err := s.issuer.Issue(principal.ID, principal.Phone, kind.Role())
	if err != nil {
		return token.Token{}, err
	}
	s.logger.InfoContext(ctx, "registration.security_setup completed",
		slog.String("kind", string(kind)),
		slog.String("principal_id", principal.ID),
		slog.Bool("biometric_enabled", principal.BiometricEnabled),
	)
	return tok, nil
}

// FinalizeRegistration returns a read-only summary of the principal's progress.
// It does not gate login.
func (s *Service) FinalizeRegistration(ctx context.Context, kind identity.Kind, principalID string) (Summary, error) {
	var principal identity.Principal
	switch kind {
	case identity.KindPatient:
		p, err := s.patients.FindByID(ctx, principalID)
		if err != nil {
			return Summary{}, err
		}
		principal = p.Principal
	case identity.KindDoctor:
		d, err := s.doctors.FindByID(ctx, principalID)
		if err != nil {
			return Summary{}, err
		}
		principal = d.Principal
	default:
		return Summary{}, apperr.Invalid("kind", "unknown principal kind")
	}

	msg := "Registration in progress."
	if principal.Stage == identity.StageComplete {
		msg = completionMessage(kind)
	}
	return Summary{PrincipalID: principal.ID, Phone: principal.Phone, Stage: principal.Stage, Message: msg}, nil
}

func completionMessage(kind identity.Kind) string {
	if kind == identity.KindDoctor {
		return "Registration completed. Awaiting admin approval."
	}
	return "Registration completed successfully."
}

func (s *Service) savePatient(ctx context.Context, id string, stage identity.Stage, apply func(*identity.Patient) error) error {
	_, err := mutate[identity.Patient](ctx, s.patients, id, identity.FlowFor(identity.KindPatient), stage, s.now, patientPrincipal, apply)
	return err
}

func (s *Service) saveDoctor(ctx context.Context, id string, stage identity.Stage, apply func(*identity.Doctor) error) error {
	_, err := mutate[identity.Doctor](ctx, s.doctors, id, identity.FlowFor(identity.KindDoctor), stage, s.now, doctorPrincipal, apply)
	return err
}

func (s *Service) normalizeField(field, raw string) (string, error) {
	normalized, err := s.normalizer.Normalize(raw)
	if err != nil {
		return "", apperr.Invalid(field, "phone number is required")
	}
	return normalized, nil
}

func patientPrincipal(p *identity.Patient) *identity.Principal { return &p.Principal }

func doctorPrincipal(d *identity.Doctor) *identity.Principal { return &d.Principal }

// store is the repository surface shared by patients and doctors.
type store[T any] interface {
	Create(ctx context.Context, v T) error
	FindByID(ctx context.Context, id string) (T, error)
	FindByPhone(ctx context.Context, phone string) (T, error)
	Update(ctx context.Context, v T) error
}

// mutate loads the principal, checks stage ordering, applies the change and
// writes it back, retrying when a concurrent writer bumped the version.
func mutate[T any](
	ctx context.Context,
	repo store[T],
	id string,
	flow identity.Flow,
	stage identity.Stage,
	now func() time.Time,
	principal func(*T) *identity.Principal,
	apply func(*T) error,
) (T, error) {
	var zero T
	target := stage
	if stage == identity.StageSecuritySetup {
		target = identity.StageComplete
	}
	for attempt := 1; ; attempt++ {
		v, err := repo.FindByID(ctx, id)
		if err != nil {
			return zero, err
		}
		p := principal(&v)
		if err := flow.Check(p.Stage, stage); err != nil {
			return zero, err
		}
		if err := apply(&v); err != nil {
			return zero, err
		}
		p.Stage = flow.Advance(p.Stage, target)
		p.UpdatedAt = now()

		err = repo.Update(ctx, v)
		if errors.Is(err, identity.ErrStaleVersion) && attempt < maxUpdateAttempts {
			continue
		}
		if err != nil {
			return zero, err
		}
		p.Version++
		return v, nil
	}
}

// upsertVerified returns the principal for phone, creating it when missing
// and marking it verified otherwise. A lost creation race re-reads the winner.
func upsertVerified[T any](
	ctx context.Context,
	repo store[T],
	phoneNumber string,
	now func() time.Time,
	principal func(*T) *identity.Principal,
	fresh func(identity.Principal) T,
) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := repo.FindByPhone(ctx, phoneNumber)
		if errors.Is(err, identity.ErrNotFound) {
			ts := now()
			created := fresh(identity.Principal{
				ID:            uuid.NewString(),
				Phone:         phoneNumber,
				PhoneVerified: true,
				Stage:         identity.StagePhoneVerified,
				CreatedAt:     ts,
				UpdatedAt:     ts,
			})
			err = repo.Create(ctx, created)
			if errors.Is(err, apperr.ErrConflict) && attempt < maxUpdateAttempts {
				continue
			}
			if err != nil {
				return zero, err
			}
			return created, nil
		}
		if err != nil {
			return zero, err
		}

		p := principal(&v)
		p.PhoneVerified = true
		p.UpdatedAt = now()
		err = repo.Update(ctx, v)
		if errors.Is(err, identity.ErrStaleVersion) && attempt < maxUpdateAttempts {
			continue
		}
		if err != nil {
			return zero, err
		}
		p.Version++
		return v, nil
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
