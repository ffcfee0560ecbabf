package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-status-api/internal/models"
	"github.com/noah-isme/sma-status-api/pkg/config"
)

type cascadeStore interface {
	assignmentFinder
	ListInAcademicYear(ctx context.Context, subjectID, academicYearKey string) ([]models.ClassifiedAssignment, error)
	SetActive(ctx context.Context, id string, active bool, suppressedByID *string) error
}

// CascadeController applies the side effects of a terminal status changing activation.
type CascadeController struct {
	reactivateMode string
	logger         *zap.Logger
}

// NewCascadeController constructs the controller. mode is config.ReactivateSuppressed or
// config.ReactivateAcademicYear; anything else falls back to the former.
func NewCascadeController(mode string, logger *zap.Logger) *CascadeController {
	if mode != config.ReactivateAcademicYear {
		mode = config.ReactivateSuppressed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CascadeController{reactivateMode: mode, logger: logger}
}

// Apply deactivates (Activating) or reactivates the subject's other assignments in the
// transition's academic year. Rows already in the target state are left alone, so Apply may be
// re-run for the same transition.
func (c *CascadeController) Apply(ctx context.Context, store cascadeStore, t models.CascadeTransition) (models.CascadeResult, error) {
	result := models.CascadeResult{Direction: t.Direction()}
	if t.AcademicYearKey == "" {
		return result, nil
	}

	rows, err := store.ListInAcademicYear(ctx, t.SubjectID, t.AcademicYearKey)
	if err != nil {
		return result, fmt.Errorf("load cascade candidates: %w", err)
	}

	if t.Activating {
		trigger := t.TriggerID
		for _, row := range rows {
			if row.ID == t.TriggerID || !row.IsActive {
				continue
			}
			if err := store.SetActive(ctx, row.ID, false, &trigger); err != nil {
				return result, fmt.Errorf("deactivate assignment %s: %w", row.ID, err)
			}
			result.Deactivated = append(result.Deactivated, row.ID)
		}
		return result, nil
	}

	for _, row := range rows {
		if row.ID != t.TriggerID && row.IsActive && row.Terminal() {
			// another terminal status still governs this year
			c.logger.Info("cascade reactivation skipped, terminal status still active",
				zap.String("subject_id", t.SubjectID),
				zap.String("academic_year", t.AcademicYearKey),
				zap.String("active_terminal_id", row.ID))
			return result, nil
		}
	}

	for _, row := range rows {
		if row.ID == t.TriggerID || row.IsActive || row.Terminal() {
			continue
		}
		if c.reactivateMode == config.ReactivateSuppressed && optional(row.SuppressedByID) != t.TriggerID {
			continue
		}
		clash, err := store.FindActive(ctx, models.AssignmentFilter{
			SubjectID:           row.SubjectID,
			StatusDefinitionID:  row.StatusDefinitionID,
			ScopeBucket:         row.ScopeBucket,
			ExcludeAssignmentID: row.ID,
			Limit:               1,
		})
		if err != nil {
			return result, fmt.Errorf("check reactivation of %s: %w", row.ID, err)
		}
		if len(clash) > 0 {
			c.logger.Warn("cascade reactivation skipped, active duplicate exists",
				zap.String("assignment_id", row.ID),
				zap.String("existing_id", clash[0].ID),
				zap.String("scope_bucket", row.ScopeBucket))
			result.Skipped = append(result.Skipped, row.ID)
			continue
		}
		if err := store.SetActive(ctx, row.ID, true, nil); err != nil {
			return result, fmt.Errorf("reactivate assignment %s: %w", row.ID, err)
		}
		result.Reactivated = append(result.Reactivated, row.ID)
	}
	return result, nil
}
