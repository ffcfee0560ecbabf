package models

import (
	"sort"
	"time"
)

// StatusCategory classifies a status definition. Behaviour is keyed on the category, never on the tag.
type StatusCategory string

const (
	StatusCategoryRegular   StatusCategory = "REGULAR"
	StatusCategoryCasual    StatusCategory = "CASUAL"
	StatusCategorySuspended StatusCategory = "SUSPENDED"
	StatusCategoryTerminal  StatusCategory = "TERMINAL"
	StatusCategoryOther     StatusCategory = "OTHER"
)

// Valid reports whether the category is one of the known values.
func (c StatusCategory) Valid() bool {
	switch c {
	case StatusCategoryRegular, StatusCategoryCasual, StatusCategorySuspended, StatusCategoryTerminal, StatusCategoryOther:
		return true
	}
	return false
}

// StatusLevel captures where a status applies.
type StatusLevel string

const (
	StatusLevelSystem   StatusLevel = "SYSTEM"
	StatusLevelAcademic StatusLevel = "ACADEMIC"
)

// StatusDomain captures which kind of subject a status applies to.
type StatusDomain string

const (
	StatusDomainAdmin   StatusDomain = "ADMIN"
	StatusDomainStaff   StatusDomain = "STAFF"
	StatusDomainStudent StatusDomain = "STUDENT"
)

// FrequencyPolicy constrains how often a status may be held by a subject.
type FrequencyPolicy string

const (
	FrequencyAlwaysNewEntry  FrequencyPolicy = "ALWAYS_NEW_ENTRY"
	FrequencyPerAcademicYear FrequencyPolicy = "PER_ACADEMIC_YEAR"
	FrequencyPerSemester     FrequencyPolicy = "PER_SEMESTER"
	FrequencyOnlyOnce        FrequencyPolicy = "ONLY_ONCE"
	FrequencyRequired        FrequencyPolicy = "REQUIRED"
	FrequencyOptional        FrequencyPolicy = "OPTIONAL"
)

// FrequencyPrecedence is the evaluation order of frequency policies, highest priority first.
var FrequencyPrecedence = []FrequencyPolicy{
	FrequencyAlwaysNewEntry,
	FrequencyPerAcademicYear,
	FrequencyPerSemester,
	FrequencyOnlyOnce,
	FrequencyRequired,
	FrequencyOptional,
}

var frequencyRank = func() map[FrequencyPolicy]int {
	rank := make(map[FrequencyPolicy]int, len(FrequencyPrecedence))
	for i, p := range FrequencyPrecedence {
		rank[p] = i
	}
	return rank
}()

// Valid reports whether the policy appears in the precedence table.
func (p FrequencyPolicy) Valid() bool {
	_, ok := frequencyRank[p]
	return ok
}

// SortPolicies returns policies ordered by FrequencyPrecedence with duplicates and unknown values removed.
func SortPolicies(policies []FrequencyPolicy) []FrequencyPolicy {
	seen := make(map[FrequencyPolicy]struct{}, len(policies))
	out := make([]FrequencyPolicy, 0, len(policies))
	for _, p := range policies {
		if !p.Valid() {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return frequencyRank[out[i]] < frequencyRank[out[j]] })
	return out
}

// StatusDefinition describes a lifecycle status that can be assigned to a subject.
type StatusDefinition struct {
	ID                        string            `db:"id" json:"id"`
	Tag                       string            `db:"tag" json:"tag"`
	Description               string            `db:"description" json:"description"`
	Category                  StatusCategory    `db:"category" json:"category"`
	Terminal                  bool              `db:"is_terminal" json:"isTerminal"`
	Levels                    []StatusLevel     `db:"-" json:"levels"`
	Domains                   []StatusDomain    `db:"-" json:"domains"`
	FrequencyPolicies         []FrequencyPolicy `db:"-" json:"frequencyPolicies"`
	EnrollmentStatus          string            `db:"enrollment_status" json:"enrollmentStatus"`
	Coexistence               string            `db:"coexistence" json:"coexistence"`
	Remarks                   string            `db:"remarks" json:"remarks"`
	AcademicRecordsAccessible bool              `db:"academic_records_accessible" json:"academicRecordsAccessible"`
	FeePaymentEligible        bool              `db:"fee_payment_eligible" json:"feePaymentEligible"`
	ExamInclusive             bool              `db:"exam_inclusive" json:"examInclusive"`
	FormFillupInclusive       bool              `db:"form_fillup_inclusive" json:"formFillupInclusive"`
	CreatedAt                 time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt                 time.Time         `db:"updated_at" json:"updatedAt"`
}

// IsTerminal reports whether activating this status ends the subject's other statuses for the year.
func (d StatusDefinition) IsTerminal() bool {
	return d.Category == StatusCategoryTerminal || d.Terminal
}

// Policies returns the attached frequency policies in precedence order.
func (d StatusDefinition) Policies() []FrequencyPolicy {
	return SortPolicies(d.FrequencyPolicies)
}

// HasPolicy reports whether p is attached to the definition.
func (d StatusDefinition) HasPolicy(p FrequencyPolicy) bool {
	for _, attached := range d.FrequencyPolicies {
		if attached == p {
			return true
		}
	}
	return false
}

// AppliesToDomain reports whether the definition may be held by a subject of the given domain.
func (d StatusDefinition) AppliesToDomain(domain StatusDomain) bool {
	for _, candidate := range d.Domains {
		if candidate == domain {
			return true
		}
	}
	return false
}

// ScopeBucket derives the uniqueness bucket backing the storage index for an assignment
// of this definition. The strictest attached uniqueness policy wins.
func (d StatusDefinition) ScopeBucket(scope Scope, assignmentID string) string {
	switch {
	case d.HasPolicy(FrequencyOnlyOnce):
		return "once"
	case d.HasPolicy(FrequencyPerAcademicYear) && scope.AcademicYearKey != "":
		return "year:" + scope.AcademicYearKey
	case d.HasPolicy(FrequencyPerSemester) && scope.SemesterKey != "":
		return "semester:" + scope.SemesterKey
	default:
		return "entry:" + assignmentID
	}
}

// StatusAssignment binds a status definition to a subject for a scope.
type StatusAssignment struct {
	ID                 string    `db:"id" json:"id"`
	SubjectID          string    `db:"subject_id" json:"subjectId"`
	StatusDefinitionID string    `db:"status_definition_id" json:"statusDefinitionId"`
	SessionID          *string   `db:"session_id" json:"sessionId,omitempty"`
	PromotionID        *string   `db:"promotion_id" json:"promotionId,omitempty"`
	AcademicYearKey    *string   `db:"academic_year_key" json:"academicYearKey,omitempty"`
	SemesterKey        *string   `db:"semester_key" json:"semesterKey,omitempty"`
	ScopeBucket        string    `db:"scope_bucket" json:"-"`
	IsActive           bool      `db:"is_active" json:"isActive"`
	Remarks            *string   `db:"remarks" json:"remarks,omitempty"`
	SuppressedByID     *string   `db:"suppressed_by_id" json:"suppressedById,omitempty"`
	ByUserID           *string   `db:"by_user_id" json:"byUserId,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time `db:"updated_at" json:"updatedAt"`
}

// Scope returns the resolved scope keys persisted on the assignment.
func (a StatusAssignment) Scope() Scope {
	return Scope{AcademicYearKey: deref(a.AcademicYearKey), SemesterKey: deref(a.SemesterKey)}
}

// Scope holds the time-scope keys a status assignment is evaluated against.
type Scope struct {
	AcademicYearKey string `json:"academicYearKey,omitempty"`
	SemesterKey     string `json:"semesterKey,omitempty"`
}

// ScopeRefKind identifies which chain a scope reference starts from.
type ScopeRefKind string

const (
	ScopeRefSession   ScopeRefKind = "SESSION"
	ScopeRefPromotion ScopeRefKind = "PROMOTION"
)

// ScopeRef points at a session or promotion row whose chain yields scope keys.
type ScopeRef struct {
	Kind ScopeRefKind
	ID   string
}

// ScopeChain is what a single reference resolves to. Broken is set when the reference
// exists but a link further down its chain is missing.
type ScopeChain struct {
	Found           bool
	Broken          bool
	AcademicYearKey string
	SemesterKey     string
}

// AssignmentFilter constrains FindActive lookups. Empty fields are ignored.
type AssignmentFilter struct {
	SubjectID           string
	StatusDefinitionID  string
	AcademicYearKey     string
	SemesterKey         string
	ScopeBucket         string
	Categories          []StatusCategory
	ExcludeAssignmentID string
	Limit               int
}

// ClassifiedAssignment is an assignment joined with the classification of its definition.
type ClassifiedAssignment struct {
	StatusAssignment
	Category           StatusCategory `db:"definition_category" json:"category"`
	DefinitionTerminal bool           `db:"definition_terminal" json:"definitionTerminal"`
}

// Terminal reports whether the assignment's definition is terminal.
func (c ClassifiedAssignment) Terminal() bool {
	return c.Category == StatusCategoryTerminal || c.DefinitionTerminal
}

// CascadeDirection is the direction of a cascade triggered by a terminal status.
type CascadeDirection string

const (
	CascadeDeactivate CascadeDirection = "deactivate"
	CascadeReactivate CascadeDirection = "reactivate"
)

// CascadeTransition describes a terminal assignment that changed activation state.
type CascadeTransition struct {
	SubjectID       string `json:"subjectId"`
	AcademicYearKey string `json:"academicYearKey"`
	TriggerID       string `json:"triggerId"`
	Activating      bool   `json:"activating"`
}

// Direction returns the cascade direction implied by the transition.
func (t CascadeTransition) Direction() CascadeDirection {
	if t.Activating {
		return CascadeDeactivate
	}
	return CascadeReactivate
}

// CascadeResult lists the assignments a cascade touched.
type CascadeResult struct {
	Direction   CascadeDirection `json:"direction"`
	Deactivated []string         `json:"deactivated,omitempty"`
	Reactivated []string         `json:"reactivated,omitempty"`
	Skipped     []string         `json:"skipped,omitempty"`
}

// Touched reports whether the cascade changed any row.
func (r CascadeResult) Touched() bool {
	return len(r.Deactivated) > 0 || len(r.Reactivated) > 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
