package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-status-api/internal/models"
)

const definitionColumns = `id, tag, description, category, is_terminal, levels, domains, frequency_policies,
	enrollment_status, coexistence, remarks, academic_records_accessible, fee_payment_eligible,
	exam_inclusive, form_fillup_inclusive, created_at, updated_at`

type definitionRow struct {
	ID                        string         `db:"id"`
	Tag                       string         `db:"tag"`
	Description               string         `db:"description"`
	Category                  string         `db:"category"`
	IsTerminal                bool           `db:"is_terminal"`
	Levels                    pq.StringArray `db:"levels"`
	Domains                   pq.StringArray `db:"domains"`
	FrequencyPolicies         pq.StringArray `db:"frequency_policies"`
	EnrollmentStatus          string         `db:"enrollment_status"`
	Coexistence               string         `db:"coexistence"`
	Remarks                   string         `db:"remarks"`
	AcademicRecordsAccessible bool           `db:"academic_records_accessible"`
	FeePaymentEligible        bool           `db:"fee_payment_eligible"`
	ExamInclusive             bool           `db:"exam_inclusive"`
	FormFillupInclusive       bool           `db:"form_fillup_inclusive"`
	CreatedAt                 time.Time      `db:"created_at"`
	UpdatedAt                 time.Time      `db:"updated_at"`
}

func (r definitionRow) toModel() models.StatusDefinition {
	def := models.StatusDefinition{
		ID:                        r.ID,
		Tag:                       r.Tag,
		Description:               r.Description,
		Category:                  models.StatusCategory(r.Category),
		Terminal:                  r.IsTerminal,
		EnrollmentStatus:          r.EnrollmentStatus,
		Coexistence:               r.Coexistence,
		Remarks:                   r.Remarks,
		AcademicRecordsAccessible: r.AcademicRecordsAccessible,
		FeePaymentEligible:        r.FeePaymentEligible,
		ExamInclusive:             r.ExamInclusive,
		FormFillupInclusive:       r.FormFillupInclusive,
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
	for _, l := range r.Levels {
		def.Levels = append(def.Levels, models.StatusLevel(l))
	}
	for _, d := range r.Domains {
		def.Domains = append(def.Domains, models.StatusDomain(d))
	}
	policies := make([]models.FrequencyPolicy, 0, len(r.FrequencyPolicies))
	for _, p := range r.FrequencyPolicies {
		policies = append(policies, models.FrequencyPolicy(p))
	}
	def.FrequencyPolicies = models.SortPolicies(policies)
	return def
}

// StatusDefinitionRepository persists the status catalog.
type StatusDefinitionRepository struct {
	db *sqlx.DB
}

// NewStatusDefinitionRepository constructs the repository.
func NewStatusDefinitionRepository(db *sqlx.DB) *StatusDefinitionRepository {
	return &StatusDefinitionRepository{db: db}
}

// List returns all status definitions ordered by tag.
func (r *StatusDefinitionRepository) List(ctx context.Context) ([]models.StatusDefinition, error) {
	query := fmt.Sprintf(`SELECT %s FROM status_definitions ORDER BY tag ASC`, definitionColumns)
	var rows []definitionRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list status definitions: %w", err)
	}
	defs := make([]models.StatusDefinition, 0, len(rows))
	for _, row := range rows {
		defs = append(defs, row.toModel())
	}
	return defs, nil
}

// FindByID fetches a single status definition.
func (r *StatusDefinitionRepository) FindByID(ctx context.Context, id string) (*models.StatusDefinition, error) {
	query := fmt.Sprintf(`SELECT %s FROM status_definitions WHERE id = $1`, definitionColumns)
	var row definitionRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get status definition: %w", err)
	}
	def := row.toModel()
	return &def, nil
}

// Upsert inserts the definition or refreshes the existing row sharing its tag.
// The stored id and timestamps are written back onto def.
func (r *StatusDefinitionRepository) Upsert(ctx context.Context, def *models.StatusDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	const query = `INSERT INTO status_definitions (id, tag, description, category, is_terminal, levels, domains, frequency_policies,
	enrollment_status, coexistence, remarks, academic_records_accessible, fee_payment_eligible, exam_inclusive, form_fillup_inclusive,
	created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
ON CONFLICT (tag) DO UPDATE SET
	description = EXCLUDED.description,
	category = EXCLUDED.category,
	is_terminal = EXCLUDED.is_terminal,
	levels = EXCLUDED.levels,
	domains = EXCLUDED.domains,
	frequency_policies = EXCLUDED.frequency_policies,
	enrollment_status = EXCLUDED.enrollment_status,
	coexistence = EXCLUDED.coexistence,
	remarks = EXCLUDED.remarks,
	academic_records_accessible = EXCLUDED.academic_records_accessible,
	fee_payment_eligible = EXCLUDED.fee_payment_eligible,
	exam_inclusive = EXCLUDED.exam_inclusive,
	form_fillup_inclusive = EXCLUDED.form_fillup_inclusive,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at, updated_at`

	levels := make(pq.StringArray, 0, len(def.Levels))
	for _, l := range def.Levels {
		levels = append(levels, string(l))
	}
	domains := make(pq.StringArray, 0, len(def.Domains))
	for _, d := range def.Domains {
		domains = append(domains, string(d))
	}
	policies := make(pq.StringArray, 0, len(def.FrequencyPolicies))
	for _, p := range models.SortPolicies(def.FrequencyPolicies) {
		policies = append(policies, string(p))
	}

	row := r.db.QueryRowxContext(ctx, query,
		def.ID,
		def.Tag,
		def.Description,
		string(def.Category),
		def.Terminal,
		levels,
		domains,
		policies,
		def.EnrollmentStatus,
		def.Coexistence,
		def.Remarks,
		def.AcademicRecordsAccessible,
		def.FeePaymentEligible,
		def.ExamInclusive,
		def.FormFillupInclusive,
		now,
	)
	if err := row.Scan(&def.ID, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return fmt.Errorf("upsert status definition %q: %w", def.Tag, err)
	}
	return nil
}
