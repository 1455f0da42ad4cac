package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitstack/backend/internal/telemetry/tracing"
	"github.com/fitstack/backend/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionDeleted  = errors.New("session deleted")
)

type SessionParams struct {
	Status      *Status
	PlanRef     string
	From        *time.Time
	To          *time.Time
	TitleSearch string
}

type ListParams struct {
	SessionParams
	Page int
	Size int
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

const sessionColumns = `
	id, owner_id, title, planned_at, status, visibility,
	plan_ref, created_at, updated_at, deleted_at`

// Create persists the session together with its exercises, their attribute
// rows and sets, in a single transaction.
func (r *Repo) Create(ctx context.Context, session Session) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				err = fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	err = tx.QueryRow(ctx, `
		INSERT INTO session
			(owner_id, title, planned_at, status, visibility, plan_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id;`,
		session.OwnerID, session.Title, session.PlannedAt,
		session.Status, session.Visibility, session.PlanRef,
		session.CreatedAt, session.UpdatedAt,
	).Scan(&session.ID)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	span.SetAttributes(attribute.Int("session.id", session.ID))

	if err = r.ReplaceExercises(ctx, tx, session.ID, session.Exercises); err != nil {
		return nil, fmt.Errorf("insert session exercises: %w", err)
	}

	created, err := r.getWithDetailsTx(ctx, tx, session.ID, session.OwnerID, false)
	if err != nil {
		return nil, fmt.Errorf("read back created session: %w", err)
	}
	return created, nil
}

// Update rewrites the session row and replaces the whole exercise
// collection. Soft-deleted sessions are rejected.
func (r *Repo) Update(ctx context.Context, session Session) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("session.id", session.ID))

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				err = fmt.Errorf("failed to rollback transaction: %w: %w", rollbackErr, err)
			}
		} else {
			err = tx.Commit(ctx)
		}
	}()

	var deletedAt *time.Time
	err = tx.QueryRow(ctx,
		`SELECT deleted_at FROM session WHERE id = $1 AND owner_id = $2;`,
		session.ID, session.OwnerID,
	).Scan(&deletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if deletedAt != nil {
		return nil, ErrSessionDeleted
	}

	session.UpdatedAt = time.Now()
	tag, err := tx.Exec(ctx, `
		UPDATE session
		SET title = $1, planned_at = $2, status = $3, visibility = $4, plan_ref = $5, updated_at = $6
		WHERE id = $7 AND owner_id = $8 AND deleted_at IS NULL;`,
		session.Title, session.PlannedAt, session.Status, session.Visibility,
		session.PlanRef, session.UpdatedAt,
		session.ID, session.OwnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrSessionNotFound
	}

	if err = r.ReplaceExercises(ctx, tx, session.ID, session.Exercises); err != nil {
		return nil, fmt.Errorf("replace session exercises: %w", err)
	}

	updated, err := r.getWithDetailsTx(ctx, tx, session.ID, session.OwnerID, false)
	if err != nil {
		return nil, fmt.Errorf("read back updated session: %w", err)
	}
	return updated, nil
}

// Cancel sets the terminal canceled status and soft-deletes the session.
// The nested exercise rows stay in place for history views.
func (r *Repo) Cancel(ctx context.Context, sessionID, ownerID int) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.cancel")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("session.id", sessionID))

	tag, err := r.db.Exec(ctx, `
		UPDATE session
		SET status = $1, deleted_at = now(), updated_at = now()
		WHERE id = $2 AND owner_id = $3 AND deleted_at IS NULL;`,
		StatusCanceled, sessionID, ownerID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, sessionID, ownerID int, includeDeleted bool) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("session.id", sessionID))

	return r.get(ctx, r.db, sessionID, ownerID, includeDeleted)
}

// querier covers both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repo) get(ctx context.Context, q querier, sessionID, ownerID int, includeDeleted bool) (*Session, error) {
	var s Session
	err := q.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM session
		WHERE id = $1 AND owner_id = $2
			AND ($3::boolean IS TRUE OR deleted_at IS NULL);`,
		sessionID, ownerID, includeDeleted,
	).Scan(
		&s.ID, &s.OwnerID, &s.Title, &s.PlannedAt, &s.Status, &s.Visibility,
		&s.PlanRef, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// GetWithDetails returns the session with its ordered exercises and their
// ordered sets.
func (r *Repo) GetWithDetails(ctx context.Context, sessionID, ownerID int, includeDeleted bool) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.getWithDetails")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("session.id", sessionID))

	return r.getWithDetailsTx(ctx, r.db, sessionID, ownerID, includeDeleted)
}

func (r *Repo) getWithDetailsTx(ctx context.Context, q querier, sessionID, ownerID int, includeDeleted bool) (*Session, error) {
	session, err := r.get(ctx, q, sessionID, ownerID, includeDeleted)
	if err != nil {
		return nil, err
	}

	exercises, err := r.exercisesForSession(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session exercises: %w", err)
	}
	session.Exercises = exercises

	return session, nil
}

func (r *Repo) exercisesForSession(ctx context.Context, q querier, sessionID int) ([]SessionExercise, error) {
	rows, err := q.Query(ctx, `
		SELECT
			se.id, se.session_id, se.position, se.exercise_type_id, se.freeform_name, se.notes,
			p.sets, p.reps, p.kilos, p.duration_seconds, p.distance_meters,
			a.sets, a.reps, a.kilos, a.duration_seconds, a.distance_meters, a.recorded_at
		FROM session_exercise se
		LEFT JOIN session_exercise_planned p ON p.session_exercise_id = se.id
		LEFT JOIN session_exercise_actual a ON a.session_exercise_id = se.id
		WHERE se.session_id = $1
		ORDER BY se.position;`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	exercises := make([]SessionExercise, 0)
	exerciseIDs := make([]int, 0)
	for rows.Next() {
		var ex SessionExercise
		var notes *string
		planned := PlannedAttrs{}
		actual := PlannedAttrs{}
		var actualRecordedAt *time.Time
		if err := rows.Scan(
			&ex.ID, &ex.SessionID, &ex.Position, &ex.ExerciseTypeID, &ex.FreeformName, &notes,
			&planned.Sets, &planned.Reps, &planned.Kilos, &planned.DurationSeconds, &planned.DistanceMeters,
			&actual.Sets, &actual.Reps, &actual.Kilos, &actual.DurationSeconds, &actual.DistanceMeters,
			&actualRecordedAt,
		); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}

		if notes != nil {
			ex.Notes = *notes
		}
		if !planned.Empty() {
			ex.Planned = &planned
		}
		if actualRecordedAt != nil {
			ex.Actual = &ActualAttrs{
				PlannedAttrs: actual,
				RecordedAt:   *actualRecordedAt,
			}
		}

		exercises = append(exercises, ex)
		exerciseIDs = append(exerciseIDs, ex.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	if len(exerciseIDs) == 0 {
		return exercises, nil
	}

	setsByExercise, err := r.setsForExercises(ctx, q, exerciseIDs)
	if err != nil {
		return nil, fmt.Errorf("exercise sets: %w", err)
	}
	for i := range exercises {
		exercises[i].Sets = setsByExercise[exercises[i].ID]
	}

	return exercises, nil
}

func (r *Repo) setsForExercises(ctx context.Context, q querier, exerciseIDs []int) (map[int][]ExerciseSet, error) {
	rows, err := q.Query(ctx, `
		SELECT
			id, session_exercise_id, position,
			reps, kilos, distance_meters, duration_seconds, rpe
		FROM exercise_set
		WHERE session_exercise_id = ANY($1)
		ORDER BY session_exercise_id, position;`,
		exerciseIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	setsByExercise := make(map[int][]ExerciseSet)
	for rows.Next() {
		var set ExerciseSet
		if err := rows.Scan(
			&set.ID, &set.SessionExerciseID, &set.Position,
			&set.Reps, &set.Kilos, &set.DistanceMeters, &set.DurationSeconds, &set.RPE,
		); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		setsByExercise[set.SessionExerciseID] = append(setsByExercise[set.SessionExerciseID], set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return setsByExercise, nil
}

// ReplaceExercises swaps the whole exercise collection of a session inside
// the caller-supplied transaction: delete everything, insert the new list.
// Attribute rows and set rows with no values at all are not written.
func (r *Repo) ReplaceExercises(ctx context.Context, tx pgx.Tx, sessionID int, exercises []SessionExercise) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.replaceExercises")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("session.id", sessionID))
	span.SetAttributes(attribute.Int("exercises.count", len(exercises)))

	// cascades to planned/actual attribute rows and exercise sets
	if _, err := tx.Exec(ctx,
		`DELETE FROM session_exercise WHERE session_id = $1;`,
		sessionID,
	); err != nil {
		return fmt.Errorf("delete session exercises: %w", err)
	}

	for i := range exercises {
		ex := &exercises[i]

		var exerciseID int
		err := tx.QueryRow(ctx, `
			INSERT INTO session_exercise
				(session_id, position, exercise_type_id, freeform_name, notes)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id;`,
			sessionID, ex.Position, ex.ExerciseTypeID, ex.FreeformName, ex.Notes,
		).Scan(&exerciseID)
		if err != nil {
			if pkg.IsForeignKeyViolationError(err) {
				return ValidationErrors{{
					Field:   fmt.Sprintf("exercises[%d].exerciseTypeId", i),
					Message: "unknown exercise type",
				}}
			}
			return fmt.Errorf("insert session exercise %d: %w", i, err)
		}

		if !ex.Planned.Empty() {
			if _, err := tx.Exec(ctx, `
				INSERT INTO session_exercise_planned
					(session_exercise_id, sets, reps, kilos, duration_seconds, distance_meters)
				VALUES ($1, $2, $3, $4, $5, $6);`,
				exerciseID,
				ex.Planned.Sets, ex.Planned.Reps, ex.Planned.Kilos,
				ex.Planned.DurationSeconds, ex.Planned.DistanceMeters,
			); err != nil {
				return fmt.Errorf("insert planned attrs for exercise %d: %w", i, err)
			}
		}

		if !ex.Actual.Empty() {
			recordedAt := ex.Actual.RecordedAt
			if recordedAt.IsZero() {
				recordedAt = time.Now()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO session_exercise_actual
					(session_exercise_id, sets, reps, kilos, duration_seconds, distance_meters, recorded_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7);`,
				exerciseID,
				ex.Actual.Sets, ex.Actual.Reps, ex.Actual.Kilos,
				ex.Actual.DurationSeconds, ex.Actual.DistanceMeters,
				recordedAt,
			); err != nil {
				return fmt.Errorf("insert actual attrs for exercise %d: %w", i, err)
			}
		}

		for j := range ex.Sets {
			set := &ex.Sets[j]
			if setIsEmpty(set) {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO exercise_set
					(session_exercise_id, position, reps, kilos, distance_meters, duration_seconds, rpe)
				VALUES ($1, $2, $3, $4, $5, $6, $7);`,
				exerciseID, set.Position,
				set.Reps, set.Kilos, set.DistanceMeters, set.DurationSeconds, set.RPE,
			); err != nil {
				return fmt.Errorf("insert set %d for exercise %d: %w", j, i, err)
			}
		}
	}

	return nil
}

func setIsEmpty(set *ExerciseSet) bool {
	return set.Reps == nil && set.Kilos == nil && set.DistanceMeters == nil &&
		set.DurationSeconds == nil && set.RPE == nil
}

// List returns one page of the owner's sessions plus the total count for
// the given filters. Soft-deleted sessions are excluded.
func (r *Repo) List(ctx context.Context, ownerID int, params ListParams) (_ []Session, total int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("owner.id", ownerID))
	span.SetAttributes(attribute.Int("page", params.Page))
	span.SetAttributes(attribute.Int("size", params.Size))

	if params.Page < 1 {
		return nil, -1, errors.New("page must be greater than 0")
	}
	if params.Size < 1 {
		return nil, -1, errors.New("size must be greater than 0")
	}

	total, err = r.Count(ctx, ownerID, params.SessionParams)
	if err != nil {
		return nil, -1, err
	}

	limit := params.Size
	offset := (params.Page - 1) * params.Size

	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM session
		WHERE owner_id = $1
			AND deleted_at IS NULL
			AND ($2::text IS NULL OR status = $2)
			AND ($3::text = '' OR plan_ref = $3)
			AND ($4::timestamptz IS NULL OR planned_at >= $4)
			AND ($5::timestamptz IS NULL OR planned_at <= $5)
			AND ($6::text = '' OR title ILIKE '%' || $6 || '%')
		ORDER BY planned_at DESC
		LIMIT $7
		OFFSET $8;`,
		ownerID,
		params.Status, params.PlanRef,
		params.From, params.To,
		params.TitleSearch,
		limit, offset,
	)
	if err != nil {
		return nil, -1, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		var s Session
		if err := rows.Scan(
			&s.ID, &s.OwnerID, &s.Title, &s.PlannedAt, &s.Status, &s.Visibility,
			&s.PlanRef, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt,
		); err != nil {
			return nil, -1, fmt.Errorf("rows scan: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, -1, fmt.Errorf("rows: %w", err)
	}

	return sessions, total, nil
}

func (r *Repo) Count(ctx context.Context, ownerID int, params SessionParams) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.count")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var count int
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM session
		WHERE owner_id = $1
			AND deleted_at IS NULL
			AND ($2::text IS NULL OR status = $2)
			AND ($3::text = '' OR plan_ref = $3)
			AND ($4::timestamptz IS NULL OR planned_at >= $4)
			AND ($5::timestamptz IS NULL OR planned_at <= $5)
			AND ($6::text = '' OR title ILIKE '%' || $6 || '%');`,
		ownerID,
		params.Status, params.PlanRef,
		params.From, params.To,
		params.TitleSearch,
	).Scan(&count)
	if err != nil {
		return -1, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// ExistAtDates reports which of the candidate planned timestamps are
// already taken by a live session of this owner. Used by recurrence to
// skip occupied slots.
func (r *Repo) ExistAtDates(ctx context.Context, ownerID int, dates []time.Time) (_ map[int64]bool, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.existAtDates")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("dates.count", len(dates)))

	occupied := make(map[int64]bool)
	if len(dates) == 0 {
		return occupied, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT planned_at FROM session
		WHERE owner_id = $1
			AND deleted_at IS NULL
			AND planned_at = ANY($2);`,
		ownerID, dates,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var plannedAt time.Time
		if err := rows.Scan(&plannedAt); err != nil {
			return nil, fmt.Errorf("rows scan: %w", err)
		}
		occupied[plannedAt.Unix()] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return occupied, nil
}
