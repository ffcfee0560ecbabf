package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/sma-status-api/internal/models"
	"github.com/noah-isme/sma-status-api/internal/repository"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
)

// memoryStatusStore is an in-memory stand-in for the assignment, definition and scope
// repositories. It enforces the active bucket index and rolls back failed transactions.
type memoryStatusStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	rows     map[string]models.StatusAssignment
	defs     map[string]models.StatusDefinition
	defOrder []string
	chains   map[models.ScopeRef]models.ScopeChain
	external map[string]models.StatusAssignment
	clock    time.Time

	txCalls     int
	txHook      func(call int) error
	insertCalls int
	insertHook  func(store *memoryStatusStore, attempt int) error
	listCalls   int
	listHook    func()
}

func newMemoryStatusStore() *memoryStatusStore {
	return &memoryStatusStore{
		rows:     make(map[string]models.StatusAssignment),
		defs:     make(map[string]models.StatusDefinition),
		chains:   make(map[models.ScopeRef]models.ScopeChain),
		external: make(map[string]models.StatusAssignment),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memoryStatusStore) addChain(kind models.ScopeRefKind, id string, chain models.ScopeChain) {
	chain.Found = true
	m.chains[models.ScopeRef{Kind: kind, ID: id}] = chain
}

func (m *memoryStatusStore) row(id string) models.StatusAssignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

// put stores a row directly, bypassing evaluation, as a concurrent writer would. Such rows
// survive a rollback of the transaction they were written in.
func (m *memoryStatusStore) put(row models.StatusAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Second)
	row.CreatedAt = m.clock
	row.UpdatedAt = m.clock
	m.rows[row.ID] = row
	m.external[row.ID] = row
}

func (m *memoryStatusStore) RunInSubjectTx(ctx context.Context, subjectID string, fn func(repository.AssignmentStore) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	m.txCalls++
	call := m.txCalls
	snapshot := make(map[string]models.StatusAssignment, len(m.rows))
	for id, row := range m.rows {
		snapshot[id] = row
	}
	m.mu.Unlock()

	if m.txHook != nil {
		if err := m.txHook(call); err != nil {
			return err
		}
	}

	err := fn(m)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.mu.Lock()
		m.rows = snapshot
		for id, row := range m.external {
			m.rows[id] = row
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memoryStatusStore) FindByID(ctx context.Context, id string) (*models.StatusAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &row, nil
}

func (m *memoryStatusStore) ListBySubject(ctx context.Context, subjectID string) ([]models.StatusAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []models.StatusAssignment
	for _, row := range m.rows {
		if row.SubjectID == subjectID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if hook := m.listHook; hook != nil {
		m.listHook = nil
		m.mu.Unlock()
		hook()
		m.mu.Lock()
	}
	return out, nil
}

func (m *memoryStatusStore) FindActive(ctx context.Context, filter models.AssignmentFilter) ([]models.StatusAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StatusAssignment
	for _, row := range m.rows {
		if !row.IsActive {
			continue
		}
		if filter.SubjectID != "" && row.SubjectID != filter.SubjectID {
			continue
		}
		if filter.StatusDefinitionID != "" && row.StatusDefinitionID != filter.StatusDefinitionID {
			continue
		}
		if filter.AcademicYearKey != "" && optional(row.AcademicYearKey) != filter.AcademicYearKey {
			continue
		}
		if filter.SemesterKey != "" && optional(row.SemesterKey) != filter.SemesterKey {
			continue
		}
		if filter.ScopeBucket != "" && row.ScopeBucket != filter.ScopeBucket {
			continue
		}
		if filter.ExcludeAssignmentID != "" && row.ID == filter.ExcludeAssignmentID {
			continue
		}
		if len(filter.Categories) > 0 && !containsCategory(filter.Categories, m.defs[row.StatusDefinitionID].Category) {
			continue
		}
		out = append(out, row)
	}
	sortByCreated(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memoryStatusStore) ListInAcademicYear(ctx context.Context, subjectID, academicYearKey string) ([]models.ClassifiedAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.StatusAssignment
	for _, row := range m.rows {
		if row.SubjectID == subjectID && optional(row.AcademicYearKey) == academicYearKey {
			rows = append(rows, row)
		}
	}
	sortByCreated(rows)
	out := make([]models.ClassifiedAssignment, 0, len(rows))
	for _, row := range rows {
		def := m.defs[row.StatusDefinitionID]
		out = append(out, models.ClassifiedAssignment{StatusAssignment: row, Category: def.Category, DefinitionTerminal: def.IsTerminal()})
	}
	return out, nil
}

func (m *memoryStatusStore) Insert(ctx context.Context, assignment *models.StatusAssignment) error {
	m.mu.Lock()
	m.insertCalls++
	attempt := m.insertCalls
	m.mu.Unlock()

	if m.insertHook != nil {
		if err := m.insertHook(m, attempt); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.violatesBucket(*assignment) {
		return raceLost()
	}
	m.clock = m.clock.Add(time.Second)
	assignment.CreatedAt = m.clock
	assignment.UpdatedAt = m.clock
	m.rows[assignment.ID] = *assignment
	return nil
}

func (m *memoryStatusStore) Update(ctx context.Context, assignment *models.StatusAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[assignment.ID]; !ok {
		return sql.ErrNoRows
	}
	if m.violatesBucket(*assignment) {
		return raceLost()
	}
	m.clock = m.clock.Add(time.Second)
	assignment.UpdatedAt = m.clock
	m.rows[assignment.ID] = *assignment
	return nil
}

func (m *memoryStatusStore) SetActive(ctx context.Context, id string, active bool, suppressedByID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return sql.ErrNoRows
	}
	row.IsActive = active
	row.SuppressedByID = suppressedByID
	if m.violatesBucket(row) {
		return raceLost()
	}
	m.rows[id] = row
	return nil
}

func (m *memoryStatusStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.rows, id)
	return nil
}

func (m *memoryStatusStore) FindScopeChain(ctx context.Context, ref models.ScopeRef) (models.ScopeChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chains[ref], nil
}

func (m *memoryStatusStore) List(ctx context.Context) ([]models.StatusDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.StatusDefinition, 0, len(m.defOrder))
	for _, id := range m.defOrder {
		out = append(out, m.defs[id])
	}
	return out, nil
}

func (m *memoryStatusStore) Upsert(ctx context.Context, def *models.StatusDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if def.ID == "" {
		def.ID = "def-" + strings.ToLower(strings.ReplaceAll(def.Tag, " ", "-"))
	}
	if _, exists := m.defs[def.ID]; !exists {
		m.defOrder = append(m.defOrder, def.ID)
	}
	m.defs[def.ID] = *def
	return nil
}

func (m *memoryStatusStore) definitionByTag(tag string) models.StatusDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, def := range m.defs {
		if def.Tag == tag {
			return def
		}
	}
	return models.StatusDefinition{}
}

func (m *memoryStatusStore) violatesBucket(row models.StatusAssignment) bool {
	if !row.IsActive {
		return false
	}
	for _, other := range m.rows {
		if other.ID == row.ID || !other.IsActive {
			continue
		}
		if other.SubjectID == row.SubjectID && other.StatusDefinitionID == row.StatusDefinitionID && other.ScopeBucket == row.ScopeBucket {
			return true
		}
	}
	return false
}

func raceLost() error {
	return appErrors.Wrap(errors.New(`duplicate key value violates unique constraint "uq_status_assignments_active_bucket"`),
		appErrors.ErrStorageRaceLost.Code, appErrors.ErrStorageRaceLost.Status, appErrors.ErrStorageRaceLost.Message)
}

func containsCategory(categories []models.StatusCategory, c models.StatusCategory) bool {
	for _, candidate := range categories {
		if candidate == c {
			return true
		}
	}
	return false
}

func sortByCreated(rows []models.StatusAssignment) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
}

func strRef(s string) *string {
	return &s
}

func boolRef(b bool) *bool {
	return &b
}
