package identity

import (
	"fmt"

	"github.com/telmed/telmed/internal/apperr"
)

// Stage is a unit of registration progress. The stage a principal has reached
// is stored explicitly rather than inferred from which fields are populated.
type Stage string

const (
	StagePhoneVerified       Stage = "phone_verified"
	StageCategories          Stage = "categories"
	StageLanguagePreferences Stage = "language_preferences"
	StagePersonalInfo        Stage = "personal_info"
	StageIdentity            Stage = "identity"
	StagePracticeProfile     Stage = "practice_profile"
	StageCredentials         Stage = "credentials"
	StageCompliance          Stage = "compliance"
	StageSchedule            Stage = "schedule"
	StageSecuritySetup       Stage = "security_setup"
	StageComplete            Stage = "complete"
)

// Flow is the ordered stage list of one principal kind together with its
// transition table.
type Flow struct {
	kind  Kind
	order []Stage
	rank  map[Stage]int
	// allowed lists, for each stage, the stages a principal may currently be
	// at when that stage is submitted.
	allowed map[Stage]map[Stage]struct{}
}

var (
	patientFlow = newFlow(KindPatient,
		StagePhoneVerified,
		StageCategories,
		StageLanguagePreferences,
		StagePersonalInfo,
		StageSecuritySetup,
		StageComplete,
	)
	doctorFlow = newFlow(KindDoctor,
		StagePhoneVerified,
		StageIdentity,
		StagePracticeProfile,
		StageCredentials,
		StageCompliance,
		StageSchedule,
		StageSecuritySetup,
		StageComplete,
	)
)

func newFlow(kind Kind, order ...Stage) Flow {
	f := Flow{
		kind:    kind,
		order:   order,
		rank:    make(map[Stage]int, len(order)),
		allowed: make(map[Stage]map[Stage]struct{}, len(order)),
	}
	for i, s := range order {
		f.rank[s] = i
	}
	// A stage is enterable from its immediate predecessor or from anywhere
	// later in the flow, so completed stages can be re-posted.
	for i, s := range order {
		preds := make(map[Stage]struct{})
		from := i - 1
		if from < 0 {
			from = 0
		}
		for _, p := range order[from:] {
			preds[p] = struct{}{}
		}
		f.allowed[s] = preds
	}
	return f
}

// FlowFor returns the registration flow of kind.
func FlowFor(kind Kind) Flow {
	if kind == KindDoctor {
		return doctorFlow
	}
	return patientFlow
}

// Stages returns the ordered stages of the flow.
func (f Flow) Stages() []Stage {
	return append([]Stage(nil), f.order...)
}

// Has reports whether s belongs to the flow.
func (f Flow) Has(s Stage) bool {
	_, ok := f.rank[s]
	return ok
}

// Check validates that a principal currently at current may submit next.
func (f Flow) Check(current, next Stage) error {
	preds, ok := f.allowed[next]
	if !ok {
		return apperr.Invalid("stage", fmt.Sprintf("stage %q is not part of %s registration", next, f.kind))
	}
	if _, ok := preds[current]; !ok {
		return apperr.Invalid("stage", fmt.Sprintf("stage %q cannot be submitted before %q is complete", next, f.previous(next)))
	}
	return nil
}

// Advance returns the stage pointer after completing done from current. The
// pointer never moves backwards.
func (f Flow) Advance(current, done Stage) Stage {
	if f.rank[done] > f.rank[current] {
		return done
	}
	return current
}

// Reached reports whether current is at or beyond s.
func (f Flow) Reached(current, s Stage) bool {
	cr, ok := f.rank[current]
	if !ok {
		return false
	}
	return cr >= f.rank[s]
}

func (f Flow) previous(s Stage) Stage {
	r := f.rank[s]
	if r == 0 {
		return s
	}
	return f.order[r-1]
}
