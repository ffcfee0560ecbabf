package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/sma-status-api/internal/models"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
)

// ExclusivityRuleSet rejects category combinations that cannot be active together in one semester.
type ExclusivityRuleSet struct {
	pairs [][2]models.StatusCategory
}

// NewExclusivityRuleSet parses "A:B" category pairs. Pairs are symmetric.
func NewExclusivityRuleSet(pairs []string) (*ExclusivityRuleSet, error) {
	rules := &ExclusivityRuleSet{}
	seen := make(map[[2]models.StatusCategory]struct{}, len(pairs))
	for _, raw := range pairs {
		parts := strings.Split(raw, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid exclusive pair %q: expected CATEGORY:CATEGORY", raw)
		}
		a := models.StatusCategory(strings.ToUpper(strings.TrimSpace(parts[0])))
		b := models.StatusCategory(strings.ToUpper(strings.TrimSpace(parts[1])))
		if !a.Valid() || !b.Valid() {
			return nil, fmt.Errorf("invalid exclusive pair %q: unknown category", raw)
		}
		pair := [2]models.StatusCategory{a, b}
		if _, dup := seen[pair]; dup {
			continue
		}
		if _, dup := seen[[2]models.StatusCategory{b, a}]; dup {
			continue
		}
		seen[pair] = struct{}{}
		rules.pairs = append(rules.pairs, pair)
	}
	return rules, nil
}

// Check runs after the frequency policies accept. Without a semester key there is nothing to compare.
func (r *ExclusivityRuleSet) Check(ctx context.Context, store assignmentFinder, pending PendingAssignment, def models.StatusDefinition, scope models.Scope) error {
	if scope.SemesterKey == "" {
		return nil
	}

	if def.Category == models.StatusCategoryRegular {
		if err := r.reject(ctx, store, pending, scope, models.StatusCategoryRegular, models.StatusCategoryRegular, models.StatusCategoryRegular); err != nil {
			return err
		}
	}

	for _, pair := range r.pairs {
		var other models.StatusCategory
		switch def.Category {
		case pair[0]:
			other = pair[1]
		case pair[1]:
			other = pair[0]
		default:
			continue
		}
		if err := r.reject(ctx, store, pending, scope, other, pair[0], pair[1]); err != nil {
			return err
		}
	}
	return nil
}

func (r *ExclusivityRuleSet) reject(ctx context.Context, store assignmentFinder, pending PendingAssignment, scope models.Scope, lookFor, a, b models.StatusCategory) error {
	existing, err := store.FindActive(ctx, models.AssignmentFilter{
		SubjectID:           pending.SubjectID,
		SemesterKey:         scope.SemesterKey,
		Categories:          []models.StatusCategory{lookFor},
		ExcludeAssignmentID: pending.ID,
		Limit:               1,
	})
	if err != nil {
		return fmt.Errorf("check exclusivity %s:%s: %w", a, b, err)
	}
	if len(existing) == 0 {
		return nil
	}
	message := fmt.Sprintf("%s and %s cannot both be active in semester %s", a, b, scope.SemesterKey)
	if a == b {
		message = fmt.Sprintf("only one %s status may be active in semester %s", a, scope.SemesterKey)
	}
	return appErrors.WithDetails(appErrors.ErrExclusivityRejected, message, map[string]interface{}{
		"categories":           []models.StatusCategory{a, b},
		"existingAssignmentId": existing[0].ID,
	})
}
