package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-status-api/internal/models"
)

// ScopeRepository reads the session and promotion chains that yield scope keys.
type ScopeRepository struct {
	db *sqlx.DB
}

// NewScopeRepository constructs the repository.
func NewScopeRepository(db *sqlx.DB) *ScopeRepository {
	return &ScopeRepository{db: db}
}

type chainRow struct {
	AcademicYearKey sql.NullString `db:"academic_year_key"`
	SemesterKey     sql.NullString `db:"semester_key"`
	Broken          bool           `db:"broken"`
}

// FindScopeChain follows ref to its academic year and, for promotions, its class.
// A missing starting row yields Found=false.
func (r *ScopeRepository) FindScopeChain(ctx context.Context, ref models.ScopeRef) (models.ScopeChain, error) {
	var query string
	switch ref.Kind {
	case models.ScopeRefSession:
		query = `
SELECT
	y.id AS academic_year_key,
	NULL::text AS semester_key,
	(y.id IS NULL) AS broken
FROM academic_sessions s
LEFT JOIN academic_years y ON y.id = s.academic_year_id
WHERE s.id = $1`
	case models.ScopeRefPromotion:
		query = `
SELECT
	y.id AS academic_year_key,
	c.id AS semester_key,
	(c.id IS NULL OR (p.session_id IS NOT NULL AND y.id IS NULL)) AS broken
FROM promotions p
LEFT JOIN classes c ON c.id = p.class_id
LEFT JOIN academic_sessions s ON s.id = p.session_id
LEFT JOIN academic_years y ON y.id = s.academic_year_id
WHERE p.id = $1`
	default:
		return models.ScopeChain{}, fmt.Errorf("unknown scope reference kind %q", ref.Kind)
	}

	var row chainRow
	if err := r.db.GetContext(ctx, &row, query, ref.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ScopeChain{}, nil
		}
		return models.ScopeChain{}, fmt.Errorf("find %s scope chain: %w", ref.Kind, err)
	}

	return models.ScopeChain{
		Found:           true,
		Broken:          row.Broken,
		AcademicYearKey: row.AcademicYearKey.String,
		SemesterKey:     row.SemesterKey.String,
	}, nil
}
