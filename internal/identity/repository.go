package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PatientRepository persists patients. Update is a compare-and-swap on
// Version and replaces child collections wholesale.
type PatientRepository interface {
	Create(ctx context.Context, p Patient) error
	FindByID(ctx context.Context, id string) (Patient, error)
	FindByPhone(ctx context.Context, phone string) (Patient, error)
	Update(ctx context.Context, p Patient) error
}

// DoctorRepository persists doctors with the same contract as PatientRepository.
type DoctorRepository interface {
	Create(ctx context.Context, d Doctor) error
	FindByID(ctx context.Context, id string) (Doctor, error)
	FindByPhone(ctx context.Context, phone string) (Doctor, error)
	Update(ctx context.Context, d Doctor) error
}

const uniqueViolation = "23505"

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicatePhone
	}
	return err
}

func mapReadErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, ErrNotFound
	}
	return parsed, nil
}

// PostgresPatientRepository implements PatientRepository using PostgreSQL.
type PostgresPatientRepository struct {
	db *pgxpool.Pool
}

// NewPostgresPatientRepository builds a Postgres-backed patient repository.
func NewPostgresPatientRepository(db *pgxpool.Pool) *PostgresPatientRepository {
	return &PostgresPatientRepository{db: db}
}

const patientColumns = `id, phone_number, is_phone_verified, pin_hash, biometric_enabled, registration_stage, version,
	selected_categories, preferred_language, alternative_language, communication_tone, communication_channels,
	first_name, date_of_birth, sex_at_birth, medical_conditions, blood_group, genotype, allergies,
	current_medications, agrees_to_terms, created_at, updated_at`

// Create inserts a new patient.
func (r *PostgresPatientRepository) Create(ctx context.Context, p Patient) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	_, err = tx.Exec(ctx, `INSERT INTO patients (`+patientColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		id, p.Phone, p.PhoneVerified, p.PINHash, p.BiometricEnabled, string(p.Stage), p.Version,
		nonNil(p.Categories), p.PreferredLanguage, p.AlternativeLanguage, p.CommunicationTone, nonNil(p.CommunicationChannels),
		p.FirstName, p.DateOfBirth, p.SexAtBirth, nonNil(p.MedicalConditions), p.BloodGroup, p.Genotype, p.Allergies,
		p.CurrentMedications, p.AgreesToTerms, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return mapWriteErr(err)
	}
	if err := replaceEmergencyContacts(ctx, tx, id, p.EmergencyContacts); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindByID fetches a patient by identifier.
func (r *PostgresPatientRepository) FindByID(ctx context.Context, id string) (Patient, error) {
	parsed, err := parseID(id)
	if err != nil {
		return Patient{}, err
	}
	return r.findOne(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, parsed)
}

// FindByPhone fetches a patient by normalized phone number.
func (r *PostgresPatientRepository) FindByPhone(ctx context.Context, phone string) (Patient, error) {
	return r.findOne(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone_number = $1`, phone)
}

func (r *PostgresPatientRepository) findOne(ctx context.Context, query string, arg any) (Patient, error) {
	var (
		p     Patient
		id    uuid.UUID
		stage string
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&id, &p.Phone, &p.PhoneVerified, &p.PINHash, &p.BiometricEnabled, &stage, &p.Version,
		&p.Categories, &p.PreferredLanguage, &p.AlternativeLanguage, &p.CommunicationTone, &p.CommunicationChannels,
		&p.FirstName, &p.DateOfBirth, &p.SexAtBirth, &p.MedicalConditions, &p.BloodGroup, &p.Genotype, &p.Allergies,
		&p.CurrentMedications, &p.AgreesToTerms, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Patient{}, mapReadErr(err)
	}
	p.ID = id.String()
	p.Kind = KindPatient
	p.Stage = Stage(stage)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()

	rows, err := r.db.Query(ctx, `SELECT name, phone_number, relationship, allow_location_tracking
		FROM emergency_contacts WHERE patient_id = $1 ORDER BY position`, id)
	if err != nil {
		return Patient{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c EmergencyContact
		if err := rows.Scan(&c.Name, &c.Phone, &c.Relationship, &c.AllowLocationTracking); err != nil {
			return Patient{}, err
		}
		p.EmergencyContacts = append(p.EmergencyContacts, c)
	}
	return p, rows.Err()
}

// Update writes p if the stored version still equals p.Version.
func (r *PostgresPatientRepository) Update(ctx context.Context, p Patient) error {
	id, err := parseID(p.ID)
	if err != nil {
		return err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE patients SET
		phone_number = $3, is_phone_verified = $4, pin_hash = $5, biometric_enabled = $6, registration_stage = $7,
		selected_categories = $8, preferred_language = $9, alternative_language = $10, communication_tone = $11,
		communication_channels = $12, first_name = $13, date_of_birth = $14, sex_at_birth = $15,
		medical_conditions = $16, blood_group = $17, genotype = $18, allergies = $19, current_medications = $20,
		agrees_to_terms = $21, updated_at = $22, version = version + 1
		WHERE id = $1 AND version = $2`,
		id, p.Version,
		p.Phone, p.PhoneVerified, p.PINHash, p.BiometricEnabled, string(p.Stage),
		nonNil(p.Categories), p.PreferredLanguage, p.AlternativeLanguage, p.CommunicationTone,
		nonNil(p.CommunicationChannels), p.FirstName, p.DateOfBirth, p.SexAtBirth,
		nonNil(p.MedicalConditions), p.BloodGroup, p.Genotype, p.Allergies, p.CurrentMedications,
		p.AgreesToTerms, p.UpdatedAt.UTC())
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return staleOrMissing(ctx, tx, `SELECT 1 FROM patients WHERE id = $1`, id)
	}
	if err := replaceEmergencyContacts(ctx, tx, id, p.EmergencyContacts); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func replaceEmergencyContacts(ctx context.Context, tx pgx.Tx, patientID uuid.UUID, contacts []EmergencyContact) error {
	if _, err := tx.Exec(ctx, `DELETE FROM emergency_contacts WHERE patient_id = $1`, patientID); err != nil {
		return err
	}
	if len(contacts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, c := range contacts {
		batch.Queue(`INSERT INTO emergency_contacts (id, patient_id, position, name, phone_number, relationship, allow_location_tracking)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, uuid.New(), patientID, i, c.Name, c.Phone, c.Relationship, c.AllowLocationTracking)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// PostgresDoctorRepository implements DoctorRepository using PostgreSQL.
type PostgresDoctorRepository struct {
	db *pgxpool.Pool
}

// NewPostgresDoctorRepository builds a Postgres-backed doctor repository.
func NewPostgresDoctorRepository(db *pgxpool.Pool) *PostgresDoctorRepository {
	return &PostgresDoctorRepository{db: db}
}

const doctorColumns = `id, phone_number, is_phone_verified, pin_hash, biometric_enabled, registration_stage, version,
	legal_name, sex, email, alternate_phone, work_email, residential_address, state, lga,
	next_of_kin_name, next_of_kin_relationship, next_of_kin_phone,
	specialty, current_workplace, short_bio,
	medical_license_path, mdcn_certificate_path, cv_path, nin_slip_path, passport_path, additional_certificate_path,
	accept_terms, accept_privacy, accept_data_use, accept_telemedicine,
	preferred_interview, interview_notes,
	review_status, rejection_reason, reviewed_at, reviewed_by, created_at, updated_at`

// Create inserts a new doctor.
func (r *PostgresDoctorRepository) Create(ctx context.Context, d Doctor) error {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	args := append([]any{id, d.Version}, doctorValues(d)...)
	args = append(args, d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	_, err = tx.Exec(ctx, `INSERT INTO doctors (`+doctorColumns+`)
		VALUES ($1, $3, $4, $5, $6, $7, $2, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
		$22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39)`, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	if err := replaceDoctorChildren(ctx, tx, id, d); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// doctorValues lists the mutable columns in doctorColumns order, bound as $3 onwards.
func doctorValues(d Doctor) []any {
	return []any{
		d.Phone, d.PhoneVerified, d.PINHash, d.BiometricEnabled, string(d.Stage),
		d.LegalName, d.Sex, d.Email, d.AlternatePhone, d.WorkEmail, d.ResidentialAddress, d.State, d.LGA,
		d.NextOfKin.Name, d.NextOfKin.Relationship, d.NextOfKin.Phone,
		d.Specialty, d.CurrentWorkplace, d.ShortBio,
		d.Documents.MedicalLicense, d.Documents.MDCNCertificate, d.Documents.CV, d.Documents.NINSlip,
		d.Documents.Passport, d.Documents.AdditionalCertificate,
		d.Compliance.AcceptTerms, d.Compliance.AcceptPrivacy, d.Compliance.AcceptDataUse, d.Compliance.AcceptTelemedicine,
		d.PreferredInterview, d.InterviewNotes,
		string(d.ReviewStatus), d.RejectionReason, d.ReviewedAt, d.ReviewedBy,
	}
}

// FindByID fetches a doctor by identifier.
func (r *PostgresDoctorRepository) FindByID(ctx context.Context, id string) (Doctor, error) {
	parsed, err := parseID(id)
	if err != nil {
		return Doctor{}, err
	}
	return r.findOne(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, parsed)
}

// FindByPhone fetches a doctor by normalized phone number.
func (r *PostgresDoctorRepository) FindByPhone(ctx context.Context, phone string) (Doctor, error) {
	return r.findOne(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE phone_number = $1`, phone)
}

func (r *PostgresDoctorRepository) findOne(ctx context.Context, query string, arg any) (Doctor, error) {
	var (
		d      Doctor
		id     uuid.UUID
		stage  string
		review string
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&id, &d.Phone, &d.PhoneVerified, &d.PINHash, &d.BiometricEnabled, &stage, &d.Version,
		&d.LegalName, &d.Sex, &d.Email, &d.AlternatePhone, &d.WorkEmail, &d.ResidentialAddress, &d.State, &d.LGA,
		&d.NextOfKin.Name, &d.NextOfKin.Relationship, &d.NextOfKin.Phone,
		&d.Specialty, &d.CurrentWorkplace, &d.ShortBio,
		&d.Documents.MedicalLicense, &d.Documents.MDCNCertificate, &d.Documents.CV, &d.Documents.NINSlip,
		&d.Documents.Passport, &d.Documents.AdditionalCertificate,
		&d.Compliance.AcceptTerms, &d.Compliance.AcceptPrivacy, &d.Compliance.AcceptDataUse, &d.Compliance.AcceptTelemedicine,
		&d.PreferredInterview, &d.InterviewNotes,
		&review, &d.RejectionReason, &d.ReviewedAt, &d.ReviewedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return Doctor{}, mapReadErr(err)
	}
	d.ID = id.String()
	d.Kind = KindDoctor
	d.Stage = Stage(stage)
	d.ReviewStatus = ReviewStatus(review)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()

	langs, err := r.db.Query(ctx, `SELECT name, proficiency FROM doctor_languages WHERE doctor_id = $1 ORDER BY position`, id)
	if err != nil {
		return Doctor{}, err
	}
	for langs.Next() {
		var l Language
		if err := langs.Scan(&l.Name, &l.Proficiency); err != nil {
			langs.Close()
			return Doctor{}, err
		}
		d.Languages = append(d.Languages, l)
	}
	langs.Close()
	if err := langs.Err(); err != nil {
		return Doctor{}, err
	}

	slots, err := r.db.Query(ctx, `SELECT slot_at FROM doctor_interview_slots WHERE doctor_id = $1 ORDER BY position`, id)
	if err != nil {
		return Doctor{}, err
	}
	defer slots.Close()
	for slots.Next() {
		var at time.Time
		if err := slots.Scan(&at); err != nil {
			return Doctor{}, err
		}
		d.AlternativeSlots = append(d.AlternativeSlots, at.UTC())
	}
	return d, slots.Err()
}

// Update writes d if the stored version still equals d.Version.
func (r *PostgresDoctorRepository) Update(ctx context.Context, d Doctor) error {
	id, err := parseID(d.ID)
	if err != nil {
		return err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	args := append([]any{id, d.Version}, doctorValues(d)...)
	args = append(args, d.UpdatedAt.UTC())
	tag, err := tx.Exec(ctx, `UPDATE doctors SET
		phone_number = $3, is_phone_verified = $4, pin_hash = $5, biometric_enabled = $6, registration_stage = $7,
		legal_name = $8, sex = $9, email = $10, alternate_phone = $11, work_email = $12, residential_address = $13,
		state = $14, lga = $15, next_of_kin_name = $16, next_of_kin_relationship = $17, next_of_kin_phone = $18,
		specialty = $19, current_workplace = $20, short_bio = $21,
		medical_license_path = $22, mdcn_certificate_path = $23, cv_path = $24, nin_slip_path = $25,
		passport_path = $26, additional_certificate_path = $27,
		accept_terms = $28, accept_privacy = $29, accept_data_use = $30, accept_telemedicine = $31,
		preferred_interview = $32, interview_notes = $33,
		review_status = $34, rejection_reason = $35, reviewed_at = $36, reviewed_by = $37,
		updated_at = $38, version = version + 1
		WHERE id = $1 AND version = $2`, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return staleOrMissing(ctx, tx, `SELECT 1 FROM doctors WHERE id = $1`, id)
	}
	if err := replaceDoctorChildren(ctx, tx, id, d); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func replaceDoctorChildren(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, d Doctor) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM doctor_languages WHERE doctor_id = $1`, doctorID)
	batch.Queue(`DELETE FROM doctor_interview_slots WHERE doctor_id = $1`, doctorID)
	for i, l := range d.Languages {
		batch.Queue(`INSERT INTO doctor_languages (doctor_id, position, name, proficiency) VALUES ($1, $2, $3, $4)`,
			doctorID, i, l.Name, l.Proficiency)
	}
	for i, at := range d.AlternativeSlots {
		batch.Queue(`INSERT INTO doctor_interview_slots (doctor_id, position, slot_at) VALUES ($1, $2, $3)`,
			doctorID, i, at.UTC())
	}
	return tx.SendBatch(ctx, batch).Close()
}

func staleOrMissing(ctx context.Context, tx pgx.Tx, query string, id uuid.UUID) error {
	var one int
	if err := tx.QueryRow(ctx, query, id).Scan(&one); err != nil {
		return mapReadErr(err)
	}
	return ErrStaleVersion
}

// nonNil keeps text[] columns NOT NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
