package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-status-api/internal/models"
	"github.com/noah-isme/sma-status-api/pkg/database"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
)

// ActiveBucketConstraint is the partial unique index guarding one active row per
// (subject, definition, scope bucket).
const ActiveBucketConstraint = "uq_status_assignments_active_bucket"

var assignmentColumns = []string{
	"id",
	"subject_id",
	"status_definition_id",
	"session_id",
	"promotion_id",
	"academic_year_key",
	"semester_key",
	"scope_bucket",
	"is_active",
	"remarks",
	"suppressed_by_id",
	"by_user_id",
	"created_at",
	"updated_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// AssignmentStore is the set of assignment operations available inside a subject-locked transaction.
type AssignmentStore interface {
	FindActive(ctx context.Context, filter models.AssignmentFilter) ([]models.StatusAssignment, error)
	FindByID(ctx context.Context, id string) (*models.StatusAssignment, error)
	ListInAcademicYear(ctx context.Context, subjectID, academicYearKey string) ([]models.ClassifiedAssignment, error)
	Insert(ctx context.Context, assignment *models.StatusAssignment) error
	Update(ctx context.Context, assignment *models.StatusAssignment) error
	SetActive(ctx context.Context, id string, active bool, suppressedByID *string) error
	Delete(ctx context.Context, id string) error
}

type queryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// StatusAssignmentRepository persists status assignments.
type StatusAssignmentRepository struct {
	db       *sqlx.DB
	observer queryObserver
}

// StatusAssignmentRepositoryOption configures the repository.
type StatusAssignmentRepositoryOption func(*StatusAssignmentRepository)

// WithQueryObserver records query timings on the provided observer.
func WithQueryObserver(observer queryObserver) StatusAssignmentRepositoryOption {
	return func(r *StatusAssignmentRepository) {
		r.observer = observer
	}
}

// NewStatusAssignmentRepository constructs the repository.
func NewStatusAssignmentRepository(db *sqlx.DB, opts ...StatusAssignmentRepositoryOption) *StatusAssignmentRepository {
	repo := &StatusAssignmentRepository{db: db}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

// RunInSubjectTx runs fn inside a transaction holding the subject's advisory lock.
// All writes for one subject are serialised through this lock.
func (r *StatusAssignmentRepository) RunInSubjectTx(ctx context.Context, subjectID string, fn func(AssignmentStore) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin subject transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, subjectID); err != nil {
		return fmt.Errorf("lock subject %s: %w", subjectID, err)
	}

	if err = fn(&assignmentQueries{ext: tx, lockRows: true, observer: r.observer}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit subject transaction: %w", err)
	}
	return nil
}

// FindByID loads an assignment outside of any transaction.
func (r *StatusAssignmentRepository) FindByID(ctx context.Context, id string) (*models.StatusAssignment, error) {
	return r.queries().FindByID(ctx, id)
}

// ListBySubject returns every assignment of the subject, newest first.
func (r *StatusAssignmentRepository) ListBySubject(ctx context.Context, subjectID string) ([]models.StatusAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM status_assignments WHERE subject_id = $1 ORDER BY created_at DESC, id ASC`, strings.Join(assignmentColumns, ", "))
	var items []models.StatusAssignment
	if err := r.db.SelectContext(ctx, &items, query, subjectID); err != nil {
		return nil, fmt.Errorf("list status assignments for subject: %w", err)
	}
	return items, nil
}

// FindActive runs a filter lookup outside of any transaction.
func (r *StatusAssignmentRepository) FindActive(ctx context.Context, filter models.AssignmentFilter) ([]models.StatusAssignment, error) {
	return r.queries().FindActive(ctx, filter)
}

func (r *StatusAssignmentRepository) queries() *assignmentQueries {
	return &assignmentQueries{ext: r.db, observer: r.observer}
}

type assignmentQueries struct {
	ext      sqlx.ExtContext
	lockRows bool
	observer queryObserver
}

func (q *assignmentQueries) observe(label string, start time.Time) {
	if q.observer != nil {
		q.observer.ObserveDBQuery(label, time.Since(start))
	}
}

// FindActive returns active assignments matching the filter, oldest first.
func (q *assignmentQueries) FindActive(ctx context.Context, filter models.AssignmentFilter) ([]models.StatusAssignment, error) {
	defer q.observe("status_assignments.find_active", time.Now())

	builder := psql.Select(prefixed("a", assignmentColumns)...).
		From("status_assignments a").
		Where(sq.Eq{"a.is_active": true})

	if filter.SubjectID != "" {
		builder = builder.Where(sq.Eq{"a.subject_id": filter.SubjectID})
	}
	if filter.StatusDefinitionID != "" {
		builder = builder.Where(sq.Eq{"a.status_definition_id": filter.StatusDefinitionID})
	}
	if filter.AcademicYearKey != "" {
		builder = builder.Where(sq.Eq{"a.academic_year_key": filter.AcademicYearKey})
	}
	if filter.SemesterKey != "" {
		builder = builder.Where(sq.Eq{"a.semester_key": filter.SemesterKey})
	}
	if filter.ScopeBucket != "" {
		builder = builder.Where(sq.Eq{"a.scope_bucket": filter.ScopeBucket})
	}
	if filter.ExcludeAssignmentID != "" {
		builder = builder.Where(sq.NotEq{"a.id": filter.ExcludeAssignmentID})
	}
	if len(filter.Categories) > 0 {
		categories := make([]string, 0, len(filter.Categories))
		for _, c := range filter.Categories {
			categories = append(categories, string(c))
		}
		builder = builder.
			Join("status_definitions d ON d.id = a.status_definition_id").
			Where(sq.Eq{"d.category": categories})
	}
	builder = builder.OrderBy("a.created_at ASC", "a.id ASC")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find active query: %w", err)
	}

	var items []models.StatusAssignment
	if err := sqlx.SelectContext(ctx, q.ext, &items, query, args...); err != nil {
		return nil, fmt.Errorf("find active status assignments: %w", err)
	}
	return items, nil
}

// FindByID loads a single assignment. Inside a subject transaction the row is locked.
func (q *assignmentQueries) FindByID(ctx context.Context, id string) (*models.StatusAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM status_assignments WHERE id = $1`, strings.Join(assignmentColumns, ", "))
	if q.lockRows {
		query += " FOR UPDATE"
	}
	var item models.StatusAssignment
	if err := sqlx.GetContext(ctx, q.ext, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get status assignment: %w", err)
	}
	return &item, nil
}

// ListInAcademicYear returns every assignment of the subject within the academic year,
// joined with the classification of its definition.
func (q *assignmentQueries) ListInAcademicYear(ctx context.Context, subjectID, academicYearKey string) ([]models.ClassifiedAssignment, error) {
	defer q.observe("status_assignments.list_in_academic_year", time.Now())

	query := fmt.Sprintf(`SELECT %s, d.category AS definition_category, (d.category = 'TERMINAL' OR d.is_terminal) AS definition_terminal
FROM status_assignments a
JOIN status_definitions d ON d.id = a.status_definition_id
WHERE a.subject_id = $1 AND a.academic_year_key = $2
ORDER BY a.created_at ASC, a.id ASC`, strings.Join(prefixed("a", assignmentColumns), ", "))

	var items []models.ClassifiedAssignment
	if err := sqlx.SelectContext(ctx, q.ext, &items, query, subjectID, academicYearKey); err != nil {
		return nil, fmt.Errorf("list status assignments in academic year: %w", err)
	}
	return items, nil
}

// Insert stores a new assignment. A collision on the active bucket index is reported as a lost race.
func (q *assignmentQueries) Insert(ctx context.Context, assignment *models.StatusAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = now

	const query = `INSERT INTO status_assignments (id, subject_id, status_definition_id, session_id, promotion_id, academic_year_key, semester_key, scope_bucket, is_active, remarks, suppressed_by_id, by_user_id, created_at, updated_at)
VALUES (:id, :subject_id, :status_definition_id, :session_id, :promotion_id, :academic_year_key, :semester_key, :scope_bucket, :is_active, :remarks, :suppressed_by_id, :by_user_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, q.ext, query, assignment); err != nil {
		return mapWriteError(err, "insert status assignment")
	}
	return nil
}

// Update rewrites the mutable columns of an assignment.
func (q *assignmentQueries) Update(ctx context.Context, assignment *models.StatusAssignment) error {
	assignment.UpdatedAt = time.Now().UTC()

	const query = `UPDATE status_assignments SET
	status_definition_id = :status_definition_id,
	session_id = :session_id,
	promotion_id = :promotion_id,
	academic_year_key = :academic_year_key,
	semester_key = :semester_key,
	scope_bucket = :scope_bucket,
	is_active = :is_active,
	remarks = :remarks,
	suppressed_by_id = :suppressed_by_id,
	by_user_id = :by_user_id,
	updated_at = :updated_at
WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, q.ext, query, assignment)
	if err != nil {
		return mapWriteError(err, "update status assignment")
	}
	return requireAffected(res)
}

// SetActive flips the activation flag and records which assignment suppressed the row.
func (q *assignmentQueries) SetActive(ctx context.Context, id string, active bool, suppressedByID *string) error {
	const query = `UPDATE status_assignments SET is_active = $1, suppressed_by_id = $2, updated_at = $3 WHERE id = $4`
	res, err := q.ext.ExecContext(ctx, query, active, suppressedByID, time.Now().UTC(), id)
	if err != nil {
		return mapWriteError(err, "set status assignment activation")
	}
	return requireAffected(res)
}

// Delete removes an assignment.
func (q *assignmentQueries) Delete(ctx context.Context, id string) error {
	res, err := q.ext.ExecContext(ctx, `DELETE FROM status_assignments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete status assignment: %w", err)
	}
	return requireAffected(res)
}

func mapWriteError(err error, action string) error {
	if database.IsUniqueViolation(err, ActiveBucketConstraint) {
		return appErrors.Wrap(err, appErrors.ErrStorageRaceLost.Code, appErrors.ErrStorageRaceLost.Status, appErrors.ErrStorageRaceLost.Message)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func prefixed(alias string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = alias + "." + c
	}
	return out
}
