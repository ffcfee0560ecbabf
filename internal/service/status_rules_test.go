package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-status-api/internal/models"
	"github.com/noah-isme/sma-status-api/pkg/config"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
)

type scopeReaderStub struct {
	chains map[models.ScopeRef]models.ScopeChain
	err    error
}

func (s scopeReaderStub) FindScopeChain(ctx context.Context, ref models.ScopeRef) (models.ScopeChain, error) {
	return s.chains[ref], s.err
}

func TestScopeResolverResolve(t *testing.T) {
	reader := scopeReaderStub{chains: map[models.ScopeRef]models.ScopeChain{
		{Kind: models.ScopeRefSession, ID: "s24"}:   {Found: true, AcademicYearKey: "AY2024"},
		{Kind: models.ScopeRefPromotion, ID: "p3"}:  {Found: true, AcademicYearKey: "AY2024", SemesterKey: "SEM3"},
		{Kind: models.ScopeRefPromotion, ID: "pNo"}: {Found: true, SemesterKey: "SEM9"},
		{Kind: models.ScopeRefPromotion, ID: "pX"}:  {Found: true, Broken: true},
	}}
	resolver := NewScopeResolver(reader)
	perSemester := models.StatusDefinition{FrequencyPolicies: []models.FrequencyPolicy{models.FrequencyPerSemester}}
	perYear := models.StatusDefinition{FrequencyPolicies: []models.FrequencyPolicy{models.FrequencyPerAcademicYear}}
	loose := models.StatusDefinition{FrequencyPolicies: []models.FrequencyPolicy{models.FrequencyAlwaysNewEntry}}

	scope, err := resolver.Resolve(context.Background(), ScopeRequest{PromotionID: strRef("p3")}, perSemester)
	require.NoError(t, err)
	assert.Equal(t, models.Scope{AcademicYearKey: "AY2024", SemesterKey: "SEM3"}, scope)

	scope, err = resolver.Resolve(context.Background(), ScopeRequest{SessionID: strRef("s24"), PromotionID: strRef("pNo")}, perYear)
	require.NoError(t, err)
	assert.Equal(t, models.Scope{AcademicYearKey: "AY2024", SemesterKey: "SEM9"}, scope)

	scope, err = resolver.Resolve(context.Background(), ScopeRequest{}, loose)
	require.NoError(t, err)
	assert.Equal(t, models.Scope{}, scope)

	_, err = resolver.Resolve(context.Background(), ScopeRequest{PromotionID: strRef("pNo")}, perYear)
	requireAppError(t, err, appErrors.ErrScopeUnresolved.Code)

	_, err = resolver.Resolve(context.Background(), ScopeRequest{PromotionID: strRef("pX")}, loose)
	appErr := requireAppError(t, err, appErrors.ErrScopeUnresolved.Code)
	assert.Equal(t, "pX", appErr.Details["reference"])

	_, err = resolver.Resolve(context.Background(), ScopeRequest{SessionID: strRef("s24")}, perSemester)
	requireAppError(t, err, appErrors.ErrScopeUnresolved.Code)

	failing := NewScopeResolver(scopeReaderStub{err: errors.New("db down")})
	_, err = failing.Resolve(context.Background(), ScopeRequest{SessionID: strRef("s24")}, loose)
	requireAppError(t, err, appErrors.ErrInternal.Code)
}

func seededStore(t *testing.T, defs ...models.StatusDefinition) *memoryStatusStore {
	t.Helper()
	store := newMemoryStatusStore()
	for i := range defs {
		require.NoError(t, store.Upsert(context.Background(), &defs[i]))
	}
	return store
}

func TestFrequencyPolicyEvaluatorPrecedence(t *testing.T) {
	def := models.StatusDefinition{
		ID:       "def-regular",
		Category: models.StatusCategoryRegular,
		// declared out of order on purpose; evaluation follows the precedence table
		FrequencyPolicies: []models.FrequencyPolicy{models.FrequencyOnlyOnce, models.FrequencyPerSemester, models.FrequencyAlwaysNewEntry},
	}
	store := seededStore(t, def)
	store.put(models.StatusAssignment{ID: "a1", SubjectID: "S1", StatusDefinitionID: def.ID, SemesterKey: strRef("SEM3"), ScopeBucket: "once", IsActive: true})

	evaluator := NewFrequencyPolicyEvaluator()
	pending := PendingAssignment{SubjectID: "S1"}

	err := evaluator.Evaluate(context.Background(), store, pending, def, models.Scope{SemesterKey: "SEM3"})
	appErr := requireAppError(t, err, appErrors.ErrPolicyRejected.Code)
	assert.Equal(t, models.FrequencyPerSemester, appErr.Details["policy"])
	assert.Equal(t, "a1", appErr.Details["existingAssignmentId"])

	err = evaluator.Evaluate(context.Background(), store, pending, def, models.Scope{SemesterKey: "SEM4"})
	appErr = requireAppError(t, err, appErrors.ErrPolicyRejected.Code)
	assert.Equal(t, models.FrequencyOnlyOnce, appErr.Details["policy"])

	pending.ID = "a1"
	require.NoError(t, evaluator.Evaluate(context.Background(), store, pending, def, models.Scope{SemesterKey: "SEM3"}))
}

func TestFrequencyPolicyEvaluatorPerAcademicYear(t *testing.T) {
	def := models.StatusDefinition{ID: "def-fee", FrequencyPolicies: []models.FrequencyPolicy{models.FrequencyPerAcademicYear}}
	store := seededStore(t, def)
	store.put(models.StatusAssignment{ID: "old", SubjectID: "S1", StatusDefinitionID: def.ID, AcademicYearKey: strRef("AY2023"), IsActive: true})
	store.put(models.StatusAssignment{ID: "off", SubjectID: "S1", StatusDefinitionID: def.ID, AcademicYearKey: strRef("AY2024"), IsActive: false})

	evaluator := NewFrequencyPolicyEvaluator()
	require.NoError(t, evaluator.Evaluate(context.Background(), store, PendingAssignment{SubjectID: "S1"}, def, models.Scope{AcademicYearKey: "AY2024"}))

	err := evaluator.Evaluate(context.Background(), store, PendingAssignment{SubjectID: "S1"}, def, models.Scope{AcademicYearKey: "AY2023"})
	requireAppError(t, err, appErrors.ErrPolicyRejected.Code)

	err = evaluator.Evaluate(context.Background(), store, PendingAssignment{SubjectID: "S1"}, def, models.Scope{})
	requireAppError(t, err, appErrors.ErrScopeUnresolved.Code)
}

func TestFrequencyPolicyEvaluatorRequired(t *testing.T) {
	def := models.StatusDefinition{
		ID:                "def-required",
		Domains:           []models.StatusDomain{models.StatusDomainStudent},
		FrequencyPolicies: []models.FrequencyPolicy{models.FrequencyRequired, models.FrequencyOptional},
	}
	store := seededStore(t, def)

	tests := []struct {
		name       string
		applicable bool
		pending    PendingAssignment
		rejected   bool
	}{
		{name: "missing session", pending: PendingAssignment{SubjectID: "S1"}, rejected: true},
		{name: "session present", pending: PendingAssignment{SubjectID: "S1", SessionID: strRef("s24")}},
		{name: "domain ignored by default", pending: PendingAssignment{SubjectID: "S1", SessionID: strRef("s24"), SubjectDomain: models.StatusDomainStaff}},
		{name: "domain mismatch", applicable: true, pending: PendingAssignment{SubjectID: "S1", SessionID: strRef("s24"), SubjectDomain: models.StatusDomainStaff}, rejected: true},
		{name: "domain missing", applicable: true, pending: PendingAssignment{SubjectID: "S1", SessionID: strRef("s24")}, rejected: true},
		{name: "domain match", applicable: true, pending: PendingAssignment{SubjectID: "S1", SessionID: strRef("s24"), SubjectDomain: models.StatusDomainStudent}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evaluator := NewFrequencyPolicyEvaluator(WithRequiredApplicability(tc.applicable))
			err := evaluator.Evaluate(context.Background(), store, tc.pending, def, models.Scope{})
			if !tc.rejected {
				require.NoError(t, err)
				return
			}
			appErr := requireAppError(t, err, appErrors.ErrPolicyRejected.Code)
			assert.Equal(t, models.FrequencyRequired, appErr.Details["policy"])
		})
	}
}

func TestNewExclusivityRuleSet(t *testing.T) {
	rules, err := NewExclusivityRuleSet([]string{"regular:casual", "CASUAL:REGULAR", " SUSPENDED : CASUAL "})
	require.NoError(t, err)
	assert.Len(t, rules.pairs, 2)

	_, err = NewExclusivityRuleSet([]string{"REGULAR"})
	require.Error(t, err)
	_, err = NewExclusivityRuleSet([]string{"REGULAR:GHOST"})
	require.Error(t, err)
}

func TestExclusivityRuleSetCheck(t *testing.T) {
	regular := models.StatusDefinition{ID: "def-regular", Category: models.StatusCategoryRegular}
	regularAlt := models.StatusDefinition{ID: "def-regular-evening", Category: models.StatusCategoryRegular}
	casual := models.StatusDefinition{ID: "def-casual", Category: models.StatusCategoryCasual}
	suspended := models.StatusDefinition{ID: "def-suspended", Category: models.StatusCategorySuspended}
	store := seededStore(t, regular, regularAlt, casual, suspended)

	rules, err := NewExclusivityRuleSet([]string{"REGULAR:CASUAL"})
	require.NoError(t, err)
	sem3 := models.Scope{AcademicYearKey: "AY2024", SemesterKey: "SEM3"}
	pending := PendingAssignment{SubjectID: "S1"}

	store.put(models.StatusAssignment{ID: "c1", SubjectID: "S1", StatusDefinitionID: casual.ID, SemesterKey: strRef("SEM3"), IsActive: true})
	err = rules.Check(context.Background(), store, pending, regular, sem3)
	appErr := requireAppError(t, err, appErrors.ErrExclusivityRejected.Code)
	assert.Equal(t, []models.StatusCategory{models.StatusCategoryRegular, models.StatusCategoryCasual}, appErr.Details["categories"])
	assert.Equal(t, "c1", appErr.Details["existingAssignmentId"])

	require.NoError(t, rules.Check(context.Background(), store, pending, regular, models.Scope{SemesterKey: "SEM4"}))
	require.NoError(t, rules.Check(context.Background(), store, pending, regular, models.Scope{AcademicYearKey: "AY2024"}))
	require.NoError(t, rules.Check(context.Background(), store, pending, suspended, sem3))

	store.put(models.StatusAssignment{ID: "r1", SubjectID: "S1", StatusDefinitionID: regularAlt.ID, SemesterKey: strRef("SEM4"), IsActive: true})
	err = rules.Check(context.Background(), store, pending, regular, models.Scope{SemesterKey: "SEM4"})
	appErr = requireAppError(t, err, appErrors.ErrExclusivityRejected.Code)
	assert.Equal(t, []models.StatusCategory{models.StatusCategoryRegular, models.StatusCategoryRegular}, appErr.Details["categories"])

	require.NoError(t, rules.Check(context.Background(), store, PendingAssignment{ID: "r1", SubjectID: "S1"}, regularAlt, models.Scope{SemesterKey: "SEM4"}))
}

func TestCascadeControllerApply(t *testing.T) {
	regular := models.StatusDefinition{ID: "def-regular", Category: models.StatusCategoryRegular}
	alumni := models.StatusDefinition{ID: "def-alumni", Category: models.StatusCategoryTerminal, Terminal: true}
	tc := models.StatusDefinition{ID: "def-tc", Category: models.StatusCategoryTerminal}
	store := seededStore(t, regular, alumni, tc)

	ay := strRef("AY2024")
	store.put(models.StatusAssignment{ID: "reg", SubjectID: "S1", StatusDefinitionID: regular.ID, AcademicYearKey: ay, ScopeBucket: "once", IsActive: true})
	store.put(models.StatusAssignment{ID: "other-year", SubjectID: "S1", StatusDefinitionID: regular.ID, AcademicYearKey: strRef("AY2023"), ScopeBucket: "entry:other-year", IsActive: true})
	store.put(models.StatusAssignment{ID: "alumni", SubjectID: "S1", StatusDefinitionID: alumni.ID, AcademicYearKey: ay, ScopeBucket: "once", IsActive: true})

	controller := NewCascadeController(config.ReactivateAcademicYear, nil)
	activate := models.CascadeTransition{SubjectID: "S1", AcademicYearKey: "AY2024", TriggerID: "alumni", Activating: true}

	result, err := controller.Apply(context.Background(), store, activate)
	require.NoError(t, err)
	assert.Equal(t, models.CascadeDeactivate, result.Direction)
	assert.Equal(t, []string{"reg"}, result.Deactivated)
	assert.True(t, store.row("other-year").IsActive)
	assert.Equal(t, "alumni", optional(store.row("reg").SuppressedByID))

	result, err = controller.Apply(context.Background(), store, activate)
	require.NoError(t, err)
	assert.False(t, result.Touched())

	// a second terminal still governs the year, so nothing comes back
	store.put(models.StatusAssignment{ID: "tc", SubjectID: "S1", StatusDefinitionID: tc.ID, AcademicYearKey: ay, ScopeBucket: "once", IsActive: true})
	require.NoError(t, store.SetActive(context.Background(), "alumni", false, nil))
	deactivate := models.CascadeTransition{SubjectID: "S1", AcademicYearKey: "AY2024", TriggerID: "alumni"}
	result, err = controller.Apply(context.Background(), store, deactivate)
	require.NoError(t, err)
	assert.False(t, result.Touched())
	assert.False(t, store.row("reg").IsActive)

	require.NoError(t, store.SetActive(context.Background(), "tc", false, nil))
	result, err = controller.Apply(context.Background(), store, deactivate)
	require.NoError(t, err)
	assert.Equal(t, models.CascadeReactivate, result.Direction)
	assert.Equal(t, []string{"reg"}, result.Reactivated)
	assert.False(t, store.row("tc").IsActive)
	assert.Nil(t, store.row("reg").SuppressedByID)

	result, err = controller.Apply(context.Background(), store, models.CascadeTransition{SubjectID: "S1", TriggerID: "alumni"})
	require.NoError(t, err)
	assert.False(t, result.Touched())
}
