package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-status-api/internal/dto"
	"github.com/noah-isme/sma-status-api/internal/models"
	"github.com/noah-isme/sma-status-api/internal/repository"
	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
	"github.com/noah-isme/sma-status-api/pkg/jobs"
	"github.com/noah-isme/sma-status-api/pkg/logger"
	"github.com/noah-isme/sma-status-api/pkg/middleware/requestid"
)

const (
	maxWriteAttempts = 2
	cascadeTimeout   = 15 * time.Second
	subjectCachePfx  = "status:subject:"
)

type assignmentUnitOfWork interface {
	RunInSubjectTx(ctx context.Context, subjectID string, fn func(repository.AssignmentStore) error) error
	FindByID(ctx context.Context, id string) (*models.StatusAssignment, error)
	ListBySubject(ctx context.Context, subjectID string) ([]models.StatusAssignment, error)
}

type statusCatalog interface {
	Get(ctx context.Context, id string) (*models.StatusDefinition, error)
}

type assignmentNotifier interface {
	Notify(ctx context.Context, event dto.AssignmentEvent)
}

type cascadeRetrier interface {
	Enqueue(task dto.CascadeTask) error
}

// StatusRules groups the rule components consulted on every write.
type StatusRules struct {
	Resolver    *ScopeResolver
	Evaluator   *FrequencyPolicyEvaluator
	Exclusivity *ExclusivityRuleSet
	Cascade     *CascadeController
}

// StatusAssignmentService decides, persists and cascades status assignments.
type StatusAssignmentService struct {
	repo      assignmentUnitOfWork
	catalog   statusCatalog
	rules     StatusRules
	validator *validator.Validate
	logger    *zap.Logger

	cache    *CacheService
	cacheTTL time.Duration
	notifier assignmentNotifier
	metrics  *MetricsService
	retrier  cascadeRetrier
	lists    *listVersions
}

// StatusAssignmentOption configures optional collaborators.
type StatusAssignmentOption func(*StatusAssignmentService)

// WithAssignmentCache enables caching of per-subject assignment lists.
func WithAssignmentCache(cache *CacheService, ttl time.Duration) StatusAssignmentOption {
	return func(s *StatusAssignmentService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithAssignmentNotifier publishes an event after each committed write.
func WithAssignmentNotifier(notifier assignmentNotifier) StatusAssignmentOption {
	return func(s *StatusAssignmentService) {
		s.notifier = notifier
	}
}

// WithAssignmentMetrics records decisions and cascades.
func WithAssignmentMetrics(metrics *MetricsService) StatusAssignmentOption {
	return func(s *StatusAssignmentService) {
		s.metrics = metrics
	}
}

// WithCascadeRetrier queues cascades that fail after their trigger committed.
func WithCascadeRetrier(retrier cascadeRetrier) StatusAssignmentOption {
	return func(s *StatusAssignmentService) {
		s.retrier = retrier
	}
}

// NewStatusAssignmentService constructs the service.
func NewStatusAssignmentService(repo assignmentUnitOfWork, catalog statusCatalog, rules StatusRules, validate *validator.Validate, logger *zap.Logger, opts ...StatusAssignmentOption) *StatusAssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if rules.Evaluator == nil {
		rules.Evaluator = NewFrequencyPolicyEvaluator()
	}
	if rules.Exclusivity == nil {
		rules.Exclusivity = &ExclusivityRuleSet{}
	}
	if rules.Cascade == nil {
		rules.Cascade = NewCascadeController("", logger)
	}
	svc := &StatusAssignmentService{
		repo:      repo,
		catalog:   catalog,
		rules:     rules,
		validator: validate,
		logger:    logger,
		lists:     newListVersions(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreateAssignment evaluates and stores a new assignment. When it activates a terminal status the
// subject's other assignments in the academic year are deactivated after commit.
func (s *StatusAssignmentService) CreateAssignment(ctx context.Context, req dto.CreateStatusAssignmentRequest, actorID string) (*models.StatusAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status assignment payload")
	}

	def, err := s.catalog.Get(ctx, req.StatusDefinitionID)
	if err != nil {
		return nil, err
	}

	scope, err := s.rules.Resolver.Resolve(ctx, ScopeRequest{SessionID: req.SessionID, PromotionID: req.PromotionID}, *def)
	if err != nil {
		return nil, s.rejectOrWrap(ctx, err, req.SubjectID, def, "failed to resolve assignment scope")
	}

	id := uuid.NewString()
	assignment := &models.StatusAssignment{
		ID:                 id,
		SubjectID:          req.SubjectID,
		StatusDefinitionID: def.ID,
		SessionID:          nonEmpty(req.SessionID),
		PromotionID:        nonEmpty(req.PromotionID),
		AcademicYearKey:    nullable(scope.AcademicYearKey),
		SemesterKey:        nullable(scope.SemesterKey),
		ScopeBucket:        def.ScopeBucket(scope, id),
		IsActive:           req.Active(),
		Remarks:            nonEmpty(req.Remarks),
		ByUserID:           nullable(actorID),
	}
	pending := PendingAssignment{
		SubjectID:     req.SubjectID,
		SessionID:     assignment.SessionID,
		SubjectDomain: req.SubjectDomain,
	}

	err = s.writeWithRetry(ctx, req.SubjectID, func(store repository.AssignmentStore) error {
		if assignment.IsActive {
			if err := s.evaluate(ctx, store, pending, *def, scope); err != nil {
				return err
			}
		}
		return store.Insert(ctx, assignment)
	})
	if err != nil {
		return nil, s.rejectOrWrap(ctx, err, req.SubjectID, def, "failed to create status assignment")
	}

	s.metrics.RecordDecision(DecisionAccepted, "ok")
	if assignment.IsActive && def.IsTerminal() {
		s.runCascade(ctx, models.CascadeTransition{
			SubjectID:       assignment.SubjectID,
			AcademicYearKey: scope.AcademicYearKey,
			TriggerID:       assignment.ID,
			Activating:      true,
		}, "create")
	}
	s.afterWrite(ctx, dto.AssignmentCreated, assignment, def, actorID)
	return assignment, nil
}

// UpdateAssignment applies a partial update. Any write that leaves the assignment active is
// re-evaluated against the rules, excluding the assignment itself.
func (s *StatusAssignmentService) UpdateAssignment(ctx context.Context, id string, req dto.UpdateStatusAssignmentRequest, actorID string) (*models.StatusAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status assignment payload")
	}

	current, err := s.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		before    models.StatusAssignment
		beforeDef *models.StatusDefinition
		def       *models.StatusDefinition
		updated   *models.StatusAssignment
	)
	err = s.writeWithRetry(ctx, current.SubjectID, func(store repository.AssignmentStore) error {
		locked, err := store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		before = *locked

		if beforeDef, err = s.catalog.Get(ctx, locked.StatusDefinitionID); err != nil {
			return err
		}
		def = beforeDef
		if req.StatusDefinitionID != nil && *req.StatusDefinitionID != locked.StatusDefinitionID {
			if def, err = s.catalog.Get(ctx, *req.StatusDefinitionID); err != nil {
				return err
			}
		}

		next := *locked
		next.StatusDefinitionID = def.ID
		if req.SessionID != nil {
			next.SessionID = nonEmpty(req.SessionID)
		}
		if req.PromotionID != nil {
			next.PromotionID = nonEmpty(req.PromotionID)
		}
		if req.Remarks != nil {
			next.Remarks = nonEmpty(req.Remarks)
		}
		if req.IsActive != nil {
			next.IsActive = *req.IsActive
			next.SuppressedByID = nil
		}
		if actorID != "" {
			next.ByUserID = &actorID
		}

		scope, err := s.rules.Resolver.Resolve(ctx, ScopeRequest{SessionID: next.SessionID, PromotionID: next.PromotionID}, *def)
		if err != nil {
			return err
		}
		next.AcademicYearKey = nullable(scope.AcademicYearKey)
		next.SemesterKey = nullable(scope.SemesterKey)
		next.ScopeBucket = def.ScopeBucket(scope, next.ID)

		if next.IsActive {
			pending := PendingAssignment{
				ID:            next.ID,
				SubjectID:     next.SubjectID,
				SessionID:     next.SessionID,
				SubjectDomain: req.SubjectDomain,
			}
			if err := s.evaluate(ctx, store, pending, *def, scope); err != nil {
				return err
			}
		}
		if err := store.Update(ctx, &next); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "status assignment not found")
		}
		return nil, s.rejectOrWrap(ctx, err, current.SubjectID, def, "failed to update status assignment")
	}

	s.metrics.RecordDecision(DecisionAccepted, "ok")

	wasGoverning := before.IsActive && beforeDef.IsTerminal()
	isGoverning := updated.IsActive && def.IsTerminal()
	yearChanged := optional(before.AcademicYearKey) != optional(updated.AcademicYearKey)
	if wasGoverning && (!isGoverning || yearChanged) {
		s.runCascade(ctx, models.CascadeTransition{
			SubjectID:       before.SubjectID,
			AcademicYearKey: optional(before.AcademicYearKey),
			TriggerID:       before.ID,
		}, "update")
	}
	if isGoverning && (!wasGoverning || yearChanged) {
		s.runCascade(ctx, models.CascadeTransition{
			SubjectID:       updated.SubjectID,
			AcademicYearKey: optional(updated.AcademicYearKey),
			TriggerID:       updated.ID,
			Activating:      true,
		}, "update")
	}

	s.afterWrite(ctx, dto.AssignmentUpdated, updated, def, actorID)
	return updated, nil
}

// DeleteAssignment removes an assignment without evaluating rules or cascading.
func (s *StatusAssignmentService) DeleteAssignment(ctx context.Context, id string, actorID string) error {
	current, err := s.GetAssignment(ctx, id)
	if err != nil {
		return err
	}

	err = s.repo.RunInSubjectTx(ctx, current.SubjectID, func(store repository.AssignmentStore) error {
		return store.Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "status assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete status assignment")
	}

	def, err := s.catalog.Get(ctx, current.StatusDefinitionID)
	if err != nil {
		s.logger.Warn("status definition missing for deleted assignment", zap.String("assignment_id", id), zap.Error(err))
		def = &models.StatusDefinition{ID: current.StatusDefinitionID}
	}
	current.IsActive = false
	s.afterWrite(ctx, dto.AssignmentDeleted, current, def, actorID)
	return nil
}

// GetAssignment returns a single assignment.
func (s *StatusAssignmentService) GetAssignment(ctx context.Context, id string) (*models.StatusAssignment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignment id is required")
	}
	assignment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "status assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get status assignment")
	}
	return assignment, nil
}

// ListAssignmentsForSubject returns every assignment of the subject, newest first.
func (s *StatusAssignmentService) ListAssignmentsForSubject(ctx context.Context, subjectID string) ([]models.StatusAssignment, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject id is required")
	}

	key := subjectCacheKey(subjectID)
	var cached []models.StatusAssignment
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	version := s.lists.begin(subjectID)
	items, err := s.repo.ListBySubject(ctx, subjectID)
	unchanged := s.lists.end(subjectID, version)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list status assignments")
	}
	if items == nil {
		items = []models.StatusAssignment{}
	}
	if unchanged {
		_ = s.cache.Set(ctx, key, items, s.cacheTTL)
	}
	return items, nil
}

// ReconcileCascade re-applies a cascade that did not complete after its trigger committed.
func (s *StatusAssignmentService) ReconcileCascade(ctx context.Context, task dto.CascadeTask) error {
	_, err := s.applyCascade(ctx, task.Transition)
	return err
}

func (s *StatusAssignmentService) evaluate(ctx context.Context, store repository.AssignmentStore, pending PendingAssignment, def models.StatusDefinition, scope models.Scope) error {
	if err := s.rules.Evaluator.Evaluate(ctx, store, pending, def, scope); err != nil {
		return err
	}
	return s.rules.Exclusivity.Check(ctx, store, pending, def, scope)
}

// writeWithRetry runs fn under the subject lock, re-running it once if the storage index
// reports a concurrent write that slipped past evaluation.
func (s *StatusAssignmentService) writeWithRetry(ctx context.Context, subjectID string, fn func(repository.AssignmentStore) error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = s.repo.RunInSubjectTx(ctx, subjectID, fn)
		if err == nil || !errors.Is(err, appErrors.ErrStorageRaceLost) {
			return err
		}
		if attempt < maxWriteAttempts {
			s.metrics.RecordRaceRetry()
			logger.FromContext(ctx, s.logger).Warn("status assignment write lost a race, re-evaluating", zap.String("subject_id", subjectID), zap.Int("attempt", attempt))
		}
	}
	return err
}

func (s *StatusAssignmentService) runCascade(ctx context.Context, t models.CascadeTransition, reason string) {
	cascadeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cascadeTimeout)
	defer cancel()

	if _, err := s.applyCascade(cascadeCtx, t); err != nil {
		s.metrics.RecordCascadeFailure()
		logger.FromContext(ctx, s.logger).Error("cascade incomplete",
			zap.String("subject_id", t.SubjectID),
			zap.String("trigger_id", t.TriggerID),
			zap.String("academic_year", t.AcademicYearKey),
			zap.String("direction", string(t.Direction())),
			zap.Error(err))
		if s.retrier == nil {
			return
		}
		if qerr := s.retrier.Enqueue(dto.CascadeTask{Transition: t, Reason: reason}); qerr != nil && !errors.Is(qerr, jobs.ErrDuplicate) {
			s.logger.Error("failed to queue cascade reconciliation", zap.String("trigger_id", t.TriggerID), zap.Error(qerr))
		}
	}
}

func (s *StatusAssignmentService) applyCascade(ctx context.Context, t models.CascadeTransition) (models.CascadeResult, error) {
	result := models.CascadeResult{Direction: t.Direction()}
	obsolete := false
	err := s.repo.RunInSubjectTx(ctx, t.SubjectID, func(store repository.AssignmentStore) error {
		governs, err := s.triggerGoverns(ctx, store, t)
		if err != nil {
			return err
		}
		if governs != t.Activating {
			obsolete = true
			return nil
		}
		result, err = s.rules.Cascade.Apply(ctx, store, t)
		return err
	})
	if err != nil {
		return result, err
	}
	if obsolete {
		logger.FromContext(ctx, s.logger).Info("cascade obsolete, trigger changed since it was scheduled",
			zap.String("subject_id", t.SubjectID),
			zap.String("trigger_id", t.TriggerID),
			zap.String("academic_year", t.AcademicYearKey),
			zap.String("direction", string(t.Direction())))
		return result, nil
	}

	s.metrics.RecordCascade(result)
	if result.Touched() {
		s.logger.Info("cascade applied",
			zap.String("subject_id", t.SubjectID),
			zap.String("trigger_id", t.TriggerID),
			zap.String("direction", string(result.Direction)),
			zap.Strings("deactivated", result.Deactivated),
			zap.Strings("reactivated", result.Reactivated))
		s.invalidateSubject(ctx, t.SubjectID)
	}
	return result, nil
}

// triggerGoverns reports whether the trigger is, at this moment, an active terminal assignment
// in the transition's academic year. An activating cascade only runs while it does and a
// deactivating one only once it no longer does.
func (s *StatusAssignmentService) triggerGoverns(ctx context.Context, store repository.AssignmentStore, t models.CascadeTransition) (bool, error) {
	trigger, err := store.FindByID(ctx, t.TriggerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load cascade trigger %s: %w", t.TriggerID, err)
	}
	if !trigger.IsActive || optional(trigger.AcademicYearKey) != t.AcademicYearKey {
		return false, nil
	}
	def, err := s.catalog.Get(ctx, trigger.StatusDefinitionID)
	if err != nil {
		return false, err
	}
	return def.IsTerminal(), nil
}

func (s *StatusAssignmentService) invalidateSubject(ctx context.Context, subjectID string) {
	s.lists.bump(subjectID)
	_ = s.cache.Invalidate(ctx, subjectCacheKey(subjectID))
}

func (s *StatusAssignmentService) afterWrite(ctx context.Context, eventType dto.AssignmentEventType, assignment *models.StatusAssignment, def *models.StatusDefinition, actorID string) {
	s.invalidateSubject(ctx, assignment.SubjectID)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, dto.AssignmentEvent{
		Type:               eventType,
		AssignmentID:       assignment.ID,
		SubjectID:          assignment.SubjectID,
		StatusDefinitionID: assignment.StatusDefinitionID,
		StatusTag:          def.Tag,
		ActorID:            actorID,
		IsActive:           assignment.IsActive,
		RequestID:          requestid.FromContext(ctx),
		OccurredAt:         time.Now().UTC(),
	})
}

// rejectOrWrap passes typed client errors through and logs them as rejections; anything else
// becomes an internal error.
func (s *StatusAssignmentService) rejectOrWrap(ctx context.Context, err error, subjectID string, def *models.StatusDefinition, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && appErr.Status < 500 {
		reason := rejectionReason(appErr)
		fields := []zap.Field{
			zap.String("subject_id", subjectID),
			zap.String("code", appErr.Code),
			zap.String("reason", reason),
			zap.String("message", appErr.Message),
		}
		if def != nil {
			fields = append(fields, zap.String("status_definition_id", def.ID))
		}
		logger.FromContext(ctx, s.logger).Info("status assignment rejected", fields...)
		s.metrics.RecordDecision(DecisionRejected, reason)
		return appErr
	}
	if appErr != nil {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func rejectionReason(err *appErrors.Error) string {
	switch err.Code {
	case appErrors.ErrPolicyRejected.Code:
		if policy, ok := err.Details["policy"]; ok {
			return fmt.Sprint(policy)
		}
		return "policy"
	case appErrors.ErrExclusivityRejected.Code:
		return "exclusivity"
	case appErrors.ErrScopeUnresolved.Code:
		return "scope"
	case appErrors.ErrStorageRaceLost.Code:
		return "race"
	default:
		return strings.ToLower(err.Code)
	}
}

func subjectCacheKey(subjectID string) string {
	return subjectCachePfx + subjectID
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	return nullable(strings.TrimSpace(*s))
}
