package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/sma-status-api/internal/models"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
)

type assignmentFinder interface {
	FindActive(ctx context.Context, filter models.AssignmentFilter) ([]models.StatusAssignment, error)
}

// PendingAssignment is the assignment being evaluated. ID is empty for creates.
type PendingAssignment struct {
	ID            string
	SubjectID     string
	SessionID     *string
	SubjectDomain models.StatusDomain
}

// FrequencyPolicyEvaluator applies a definition's frequency policies against active assignments.
type FrequencyPolicyEvaluator struct {
	requireApplicability bool
}

// FrequencyEvaluatorOption configures the evaluator.
type FrequencyEvaluatorOption func(*FrequencyPolicyEvaluator)

// WithRequiredApplicability makes REQUIRED also check the subject domain against the definition.
func WithRequiredApplicability(enabled bool) FrequencyEvaluatorOption {
	return func(e *FrequencyPolicyEvaluator) {
		e.requireApplicability = enabled
	}
}

// NewFrequencyPolicyEvaluator constructs the evaluator.
func NewFrequencyPolicyEvaluator(opts ...FrequencyEvaluatorOption) *FrequencyPolicyEvaluator {
	e := &FrequencyPolicyEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Evaluate returns nil when every attached policy accepts. Policies run in precedence order and
// the first rejection wins. Only active assignments other than pending itself are considered.
func (e *FrequencyPolicyEvaluator) Evaluate(ctx context.Context, store assignmentFinder, pending PendingAssignment, def models.StatusDefinition, scope models.Scope) error {
	for _, policy := range def.Policies() {
		var err error
		switch policy {
		case models.FrequencyAlwaysNewEntry, models.FrequencyOptional:
			continue
		case models.FrequencyPerAcademicYear:
			if scope.AcademicYearKey == "" {
				return scopeUnresolved("academic year is required for this status", map[string]interface{}{"policy": policy})
			}
			err = e.rejectExisting(ctx, store, policy, models.AssignmentFilter{
				SubjectID:           pending.SubjectID,
				StatusDefinitionID:  def.ID,
				AcademicYearKey:     scope.AcademicYearKey,
				ExcludeAssignmentID: pending.ID,
				Limit:               1,
			})
		case models.FrequencyPerSemester:
			if scope.SemesterKey == "" {
				return scopeUnresolved("semester is required for this status", map[string]interface{}{"policy": policy})
			}
			err = e.rejectExisting(ctx, store, policy, models.AssignmentFilter{
				SubjectID:           pending.SubjectID,
				StatusDefinitionID:  def.ID,
				SemesterKey:         scope.SemesterKey,
				ExcludeAssignmentID: pending.ID,
				Limit:               1,
			})
		case models.FrequencyOnlyOnce:
			err = e.rejectExisting(ctx, store, policy, models.AssignmentFilter{
				SubjectID:           pending.SubjectID,
				StatusDefinitionID:  def.ID,
				ExcludeAssignmentID: pending.ID,
				Limit:               1,
			})
		case models.FrequencyRequired:
			err = e.checkRequired(pending, def)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *FrequencyPolicyEvaluator) rejectExisting(ctx context.Context, store assignmentFinder, policy models.FrequencyPolicy, filter models.AssignmentFilter) error {
	existing, err := store.FindActive(ctx, filter)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", policy, err)
	}
	if len(existing) == 0 {
		return nil
	}
	return policyRejected(policy, existing[0].ID, fmt.Sprintf("%s: status is already active in assignment %s", policy, existing[0].ID))
}

func (e *FrequencyPolicyEvaluator) checkRequired(pending PendingAssignment, def models.StatusDefinition) error {
	if optional(pending.SessionID) == "" {
		return policyRejected(models.FrequencyRequired, "", "REQUIRED: a session reference must be supplied")
	}
	if e.requireApplicability {
		if pending.SubjectDomain == "" || !def.AppliesToDomain(pending.SubjectDomain) {
			return policyRejected(models.FrequencyRequired, "", fmt.Sprintf("REQUIRED: status does not apply to subject domain %q", pending.SubjectDomain))
		}
	}
	return nil
}

func policyRejected(policy models.FrequencyPolicy, existingID, message string) error {
	details := map[string]interface{}{"policy": policy}
	if existingID != "" {
		details["existingAssignmentId"] = existingID
	}
	return appErrors.WithDetails(appErrors.ErrPolicyRejected, message, details)
}
