package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/fitstack/backend/internal/telemetry/metrics"
	"github.com/fitstack/backend/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// MaxRecurrenceOccurrences caps how many future instances a single
	// recurrence request may generate.
	MaxRecurrenceOccurrences = 52
)

type sessionsRepo interface {
	Create(ctx context.Context, session Session) (*Session, error)
	Update(ctx context.Context, session Session) (*Session, error)
	Cancel(ctx context.Context, sessionID, ownerID int) error
	Get(ctx context.Context, sessionID, ownerID int, includeDeleted bool) (*Session, error)
	GetWithDetails(ctx context.Context, sessionID, ownerID int, includeDeleted bool) (*Session, error)
	List(ctx context.Context, ownerID int, params ListParams) ([]Session, int, error)
	ExistAtDates(ctx context.Context, ownerID int, dates []time.Time) (map[int64]bool, error)
}

// Service owns the session lifecycle rules: defaults, status transitions,
// cloning and recurrence. All operations are scoped to the calling owner;
// somebody else's session behaves exactly like a missing one.
type Service struct {
	repo              sessionsRepo
	defaultVisibility Visibility
	metrics           *metrics.Manager
}

func NewService(repo sessionsRepo, defaultVisibility Visibility, metrics *metrics.Manager) *Service {
	if !defaultVisibility.Valid() {
		defaultVisibility = VisibilityPrivate
	}
	return &Service{
		repo:              repo,
		defaultVisibility: defaultVisibility,
		metrics:           metrics,
	}
}

func (s *Service) Create(ctx context.Context, ownerID int, session Session) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.sessions.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("owner.id", ownerID))

	session.OwnerID = ownerID
	if session.Status == "" {
		session.Status = StatusPlanned
	}
	if session.Visibility == "" {
		session.Visibility = s.defaultVisibility
	}

	if err := session.Validate(); err != nil {
		return nil, err
	}
	session.NormalizePositions()

	created, err := s.repo.Create(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.metrics.CounterSessionsCreated.Inc()
	return created, nil
}

func (s *Service) Update(ctx context.Context, ownerID int, session Session) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.sessions.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("session.id", session.ID))

	session.OwnerID = ownerID
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if session.Status == "" {
		return nil, ValidationErrors{{Field: "status", Message: "must be set"}}
	}

	current, err := s.repo.Get(ctx, session.ID, ownerID, true)
	if err != nil {
		return nil, err
	}
	// a soft-deleted session is still visible to writes as a conflict,
	// unlike a missing or foreign one
	if current.DeletedAt != nil {
		return nil, ErrSessionDeleted
	}
	if !current.Status.CanTransitionTo(session.Status) {
		return nil, ValidationErrors{{
			Field:   "status",
			Message: fmt.Sprintf("cannot transition from %s to %s", current.Status, session.Status),
		}}
	}

	session.NormalizePositions()

	updated, err := s.repo.Update(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, ownerID, sessionID int) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.sessions.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return s.repo.GetWithDetails(ctx, sessionID, ownerID, false)
}

func (s *Service) List(ctx context.Context, ownerID int, params ListParams) (_ []Session, total int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.sessions.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return s.repo.List(ctx, ownerID, params)
}

// Cancel soft-deletes the session, which doubles as its terminal canceled
// transition. Canceling twice reports not found, same as a wrong owner.
func (s *Service) Cancel(ctx context.Context, ownerID, sessionID int) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.sessions.cancel")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("session.id", sessionID))

	return s.repo.Cancel(ctx, sessionID, ownerID)
}

// Clone creates a fresh planned session from an existing one. The plan
// carries over, the history does not: actual attributes are dropped and all
// ids are newly assigned. A nil plannedAt keeps the source timestamp.
func (s *Service) Clone(ctx context.Context, ownerID, sessionID int, plannedAt *time.Time) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.sessions.clone")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("session.id", sessionID))

	source, err := s.repo.GetWithDetails(ctx, sessionID, ownerID, false)
	if err != nil {
		return nil, err
	}

	clone := cloneOf(source)
	if plannedAt != nil {
		clone.PlannedAt = *plannedAt
	}

	created, err := s.repo.Create(ctx, clone)
	if err != nil {
		return nil, fmt.Errorf("create session clone: %w", err)
	}

	s.metrics.CounterSessionsCloned.Inc()
	return created, nil
}

// RecurrenceParams describe how many future instances to generate and how
// far apart they are planned.
type RecurrenceParams struct {
	Occurrences int `json:"occurrences"`
	OffsetDays  int `json:"offsetDays"`
}

func (p RecurrenceParams) Validate() error {
	var errs ValidationErrors
	if p.Occurrences < 1 || p.Occurrences > MaxRecurrenceOccurrences {
		errs = append(errs, FieldError{
			Field:   "occurrences",
			Message: fmt.Sprintf("must be between 1 and %d", MaxRecurrenceOccurrences),
		})
	}
	if p.OffsetDays < 1 {
		errs = append(errs, FieldError{Field: "offsetDays", Message: "must be at least 1"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ApplyRecurrence clones the source session onto a series of future
// timestamps, each offset by the given number of days from the previous
// one. Timestamps already occupied by a live session of the same owner are
// skipped rather than duplicated, so re-running the same recurrence is
// safe. Returns the sessions actually created.
func (s *Service) ApplyRecurrence(ctx context.Context, ownerID, sessionID int, params RecurrenceParams) (_ []Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.sessions.applyRecurrence")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("session.id", sessionID))
	span.SetAttributes(attribute.Int("occurrences", params.Occurrences))

	if err := params.Validate(); err != nil {
		return nil, err
	}

	source, err := s.repo.GetWithDetails(ctx, sessionID, ownerID, false)
	if err != nil {
		return nil, err
	}

	candidates := make([]time.Time, 0, params.Occurrences)
	for i := 1; i <= params.Occurrences; i++ {
		candidates = append(candidates, source.PlannedAt.AddDate(0, 0, i*params.OffsetDays))
	}

	occupied, err := s.repo.ExistAtDates(ctx, ownerID, candidates)
	if err != nil {
		return nil, fmt.Errorf("check occupied dates: %w", err)
	}

	created := make([]Session, 0, len(candidates))
	for _, plannedAt := range candidates {
		if occupied[plannedAt.Unix()] {
			log.Debugf("recurrence for session %d: slot %s occupied, skipping", sessionID, plannedAt)
			continue
		}

		instance := cloneOf(source)
		instance.PlannedAt = plannedAt

		createdInstance, err := s.repo.Create(ctx, instance)
		if err != nil {
			return created, fmt.Errorf("create recurrence instance at %s: %w", plannedAt, err)
		}
		created = append(created, *createdInstance)
	}

	s.metrics.CounterRecurrenceInstances.Add(float64(len(created)))
	span.SetAttributes(attribute.Int("created.count", len(created)))
	return created, nil
}

// cloneOf builds an unsaved planned copy: same plan, no ids, no actuals.
func cloneOf(source *Session) Session {
	clone := Session{
		OwnerID:    source.OwnerID,
		Title:      source.Title,
		PlannedAt:  source.PlannedAt,
		Status:     StatusPlanned,
		Visibility: source.Visibility,
		PlanRef:    source.PlanRef,
	}

	clone.Exercises = make([]SessionExercise, 0, len(source.Exercises))
	for _, ex := range source.Exercises {
		cloned := SessionExercise{
			Position:       ex.Position,
			ExerciseTypeID: ex.ExerciseTypeID,
			FreeformName:   ex.FreeformName,
			Notes:          ex.Notes,
		}
		if !ex.Planned.Empty() {
			planned := *ex.Planned
			cloned.Planned = &planned
		}
		cloned.Sets = make([]ExerciseSet, 0, len(ex.Sets))
		for _, set := range ex.Sets {
			cloned.Sets = append(cloned.Sets, ExerciseSet{
				Position:        set.Position,
				Reps:            set.Reps,
				Kilos:           set.Kilos,
				DistanceMeters:  set.DistanceMeters,
				DurationSeconds: set.DurationSeconds,
				RPE:             set.RPE,
			})
		}
		clone.Exercises = append(clone.Exercises, cloned)
	}

	return clone
}
