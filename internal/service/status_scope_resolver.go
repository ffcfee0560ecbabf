package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/sma-status-api/internal/models"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
)

type scopeChainReader interface {
	FindScopeChain(ctx context.Context, ref models.ScopeRef) (models.ScopeChain, error)
}

// ScopeRequest carries the scope references supplied with an assignment write.
type ScopeRequest struct {
	SessionID   *string
	PromotionID *string
}

// ScopeResolver derives the academic year and semester keys of an assignment from its references.
// It never guesses a default year.
type ScopeResolver struct {
	repo scopeChainReader
}

// NewScopeResolver constructs the resolver.
func NewScopeResolver(repo scopeChainReader) *ScopeResolver {
	return &ScopeResolver{repo: repo}
}

// Resolve walks session -> academic year and promotion -> class / session -> academic year,
// then checks the keys required by the definition are present.
func (r *ScopeResolver) Resolve(ctx context.Context, req ScopeRequest, def models.StatusDefinition) (models.Scope, error) {
	var scope models.Scope

	if id := optional(req.SessionID); id != "" {
		chain, err := r.follow(ctx, models.ScopeRef{Kind: models.ScopeRefSession, ID: id})
		if err != nil {
			return models.Scope{}, err
		}
		scope.AcademicYearKey = chain.AcademicYearKey
	}

	if id := optional(req.PromotionID); id != "" {
		chain, err := r.follow(ctx, models.ScopeRef{Kind: models.ScopeRefPromotion, ID: id})
		if err != nil {
			return models.Scope{}, err
		}
		scope.SemesterKey = chain.SemesterKey
		if chain.AcademicYearKey != "" {
			if scope.AcademicYearKey != "" && scope.AcademicYearKey != chain.AcademicYearKey {
				return models.Scope{}, scopeUnresolved("session and promotion belong to different academic years", map[string]interface{}{
					"sessionAcademicYear":   scope.AcademicYearKey,
					"promotionAcademicYear": chain.AcademicYearKey,
				})
			}
			scope.AcademicYearKey = chain.AcademicYearKey
		}
	}

	if def.HasPolicy(models.FrequencyPerAcademicYear) && scope.AcademicYearKey == "" {
		return models.Scope{}, scopeUnresolved("academic year is required for this status", map[string]interface{}{"policy": models.FrequencyPerAcademicYear})
	}
	if def.HasPolicy(models.FrequencyPerSemester) && scope.SemesterKey == "" {
		return models.Scope{}, scopeUnresolved("semester is required for this status", map[string]interface{}{"policy": models.FrequencyPerSemester})
	}
	if def.IsTerminal() && scope.AcademicYearKey == "" {
		return models.Scope{}, scopeUnresolved("terminal statuses require an academic year", map[string]interface{}{"category": def.Category})
	}

	return scope, nil
}

func (r *ScopeResolver) follow(ctx context.Context, ref models.ScopeRef) (models.ScopeChain, error) {
	chain, err := r.repo.FindScopeChain(ctx, ref)
	if err != nil {
		return models.ScopeChain{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve scope")
	}
	details := map[string]interface{}{"reference": ref.ID, "kind": ref.Kind}
	if !chain.Found {
		return models.ScopeChain{}, scopeUnresolved(fmt.Sprintf("%s %s not found", lowerKind(ref.Kind), ref.ID), details)
	}
	if chain.Broken {
		return models.ScopeChain{}, scopeUnresolved(fmt.Sprintf("%s %s has an incomplete scope chain", lowerKind(ref.Kind), ref.ID), details)
	}
	return chain, nil
}

func scopeUnresolved(message string, details map[string]interface{}) error {
	return appErrors.WithDetails(appErrors.ErrScopeUnresolved, message, details)
}

func lowerKind(kind models.ScopeRefKind) string {
	switch kind {
	case models.ScopeRefSession:
		return "session"
	case models.ScopeRefPromotion:
		return "promotion"
	default:
		return string(kind)
	}
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
