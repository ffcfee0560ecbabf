package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/sma-status-api/internal/models"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
)

const catalogLoadTimeout = 10 * time.Second

type statusDefinitionStore interface {
	List(ctx context.Context) ([]models.StatusDefinition, error)
	Upsert(ctx context.Context, def *models.StatusDefinition) error
}

// StatusCatalogService keeps the status definitions in memory. The catalog is loaded on first
// use and reloaded only on Refresh; concurrent loads share a single store round-trip.
type StatusCatalogService struct {
	repo   statusDefinitionStore
	logger *zap.Logger
	group  singleflight.Group

	mu      sync.RWMutex
	loaded  bool
	ordered []models.StatusDefinition
	byID    map[string]models.StatusDefinition
}

// NewStatusCatalogService constructs the catalog.
func NewStatusCatalogService(repo statusDefinitionStore, logger *zap.Logger) *StatusCatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusCatalogService{repo: repo, logger: logger}
}

// List returns every status definition.
func (s *StatusCatalogService) List(ctx context.Context) ([]models.StatusDefinition, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StatusDefinition, len(s.ordered))
	copy(out, s.ordered)
	return out, nil
}

// Get returns a single status definition.
func (s *StatusCatalogService) Get(ctx context.Context, id string) (*models.StatusDefinition, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	def, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "status definition not found")
	}
	return &def, nil
}

// Refresh reloads the catalog from the store.
func (s *StatusCatalogService) Refresh(ctx context.Context) ([]models.StatusDefinition, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s.List(ctx)
}

// Seed inserts the given definitions whose tag is not yet in the store and reloads the catalog.
// It returns how many definitions were inserted.
func (s *StatusCatalogService) Seed(ctx context.Context, defs []models.StatusDefinition) (int, error) {
	existing, err := s.repo.List(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list status definitions")
	}
	known := make(map[string]struct{}, len(existing))
	for _, def := range existing {
		known[def.Tag] = struct{}{}
	}

	inserted := 0
	for i := range defs {
		def := defs[i]
		if _, ok := known[def.Tag]; ok {
			continue
		}
		if err := s.repo.Upsert(ctx, &def); err != nil {
			return inserted, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed status definition "+def.Tag)
		}
		known[def.Tag] = struct{}{}
		inserted++
	}

	if err := s.load(ctx); err != nil {
		return inserted, err
	}
	s.logger.Info("status catalog seeded", zap.Int("inserted", inserted), zap.Int("total", len(known)))
	return inserted, nil
}

func (s *StatusCatalogService) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	return s.load(ctx)
}

func (s *StatusCatalogService) load(ctx context.Context) error {
	_, err, _ := s.group.Do("catalog", func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogLoadTimeout)
		defer cancel()

		defs, err := s.repo.List(loadCtx)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]models.StatusDefinition, len(defs))
		for _, def := range defs {
			byID[def.ID] = def
		}

		s.mu.Lock()
		s.ordered = defs
		s.byID = byID
		s.loaded = true
		s.mu.Unlock()

		s.logger.Debug("status catalog loaded", zap.Int("definitions", len(defs)))
		return nil, nil
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load status catalog")
	}
	return nil
}

// DefaultStatusDefinitions returns the statuses installed on a fresh system.
func DefaultStatusDefinitions() []models.StatusDefinition {
	allDomains := []models.StatusDomain{models.StatusDomainAdmin, models.StatusDomainStaff, models.StatusDomainStudent}
	studentOnly := []models.StatusDomain{models.StatusDomainStudent}
	system := []models.StatusLevel{models.StatusLevelSystem}
	academic := []models.StatusLevel{models.StatusLevelAcademic}
	terminalRemark := "If a student is already tagged as Cancelled Admission, Alumni or has Taken Transfer Certificate (TC), no further tags can be added to the student."

	return []models.StatusDefinition{
		{
			Tag:                       "Regular",
			Description:               "The regular tag is general, as it applies to student, admin and staff as well.",
			Category:                  models.StatusCategoryRegular,
			Levels:                    system,
			Domains:                   allDomains,
			FrequencyPolicies:         []models.FrequencyPolicy{models.FrequencyAlwaysNewEntry, models.FrequencyPerSemester, models.FrequencyOnlyOnce},
			EnrollmentStatus:          "Enrolled",
			Coexistence:               "A student can not be a regular student of multiple semester at a time.",
			Remarks:                   "Active Enrollment",
			AcademicRecordsAccessible: true,
			FeePaymentEligible:        true,
			ExamInclusive:             true,
			FormFillupInclusive:       true,
		},
		{
			Tag:                 "Suspended",
			Description:         "The user is temporarily suspended and is not allowed to participate in academic activities during the suspension period.",
			Category:            models.StatusCategorySuspended,
			Levels:              system,
			Domains:             allDomains,
			FrequencyPolicies:   []models.FrequencyPolicy{models.FrequencyAlwaysNewEntry},
			EnrollmentStatus:    "On Hold",
			Remarks:             "Enrollment Hold",
			ExamInclusive:       true,
			FormFillupInclusive: true,
		},
		{
			Tag:                       "Dropped Out",
			Description:               "The student has discontinued their studies without completing the program.",
			Category:                  models.StatusCategoryOther,
			Levels:                    system,
			Domains:                   allDomains,
			FrequencyPolicies:         []models.FrequencyPolicy{models.FrequencyAlwaysNewEntry},
			EnrollmentStatus:          "Withdrawn",
			Coexistence:               "Student has not taken TC and not continuing with studies.",
			Remarks:                   "Archived/Inactive",
			AcademicRecordsAccessible: true,
		},
		{
			Tag:               "Alumni",
			Description:       "The student has successfully completed the program and has formally left the institution.",
			Category:          models.StatusCategoryTerminal,
			Terminal:          true,
			Levels:            academic,
			Domains:           studentOnly,
			FrequencyPolicies: []models.FrequencyPolicy{models.FrequencyOnlyOnce},
			EnrollmentStatus:  "Complete",
			Coexistence:       "Not Applicable",
			Remarks:           terminalRemark,
		},
		{
			Tag:               "Taken Transfer Certificate (TC)",
			Description:       "The student has officially collected the Transfer Certificate and is no longer associated with the institution.",
			Category:          models.StatusCategoryTerminal,
			Terminal:          true,
			Levels:            academic,
			Domains:           studentOnly,
			FrequencyPolicies: []models.FrequencyPolicy{models.FrequencyOnlyOnce},
			EnrollmentStatus:  "Exited",
			Remarks:           terminalRemark,
		},
		{
			Tag:               "Cancelled Admission",
			Description:       "The student's admission has been cancelled and the student is no longer considered part of the academic program.",
			Category:          models.StatusCategoryTerminal,
			Terminal:          true,
			Levels:            academic,
			Domains:           studentOnly,
			FrequencyPolicies: []models.FrequencyPolicy{models.FrequencyOnlyOnce},
			EnrollmentStatus:  "Cancelled",
			Coexistence:       "Admission is void; no academic record created or maintained.",
			Remarks:           terminalRemark,
		},
		{
			Tag:                       "Casual",
			Description:               "The student has a backlog for the semester.",
			Category:                  models.StatusCategoryCasual,
			Levels:                    academic,
			Domains:                   studentOnly,
			FrequencyPolicies:         []models.FrequencyPolicy{models.FrequencyAlwaysNewEntry, models.FrequencyPerSemester},
			EnrollmentStatus:          "Backlog",
			Coexistence:               "A student can be a casual student of multiple semesters at a time. There can be instance where a student is not a regular student of any Semester but casual of one or more.",
			Remarks:                   "Backlog/Inactive",
			AcademicRecordsAccessible: true,
			FeePaymentEligible:        true,
			ExamInclusive:             true,
			FormFillupInclusive:       true,
		},
	}
}
