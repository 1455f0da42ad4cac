package catalog

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
	ErrExerciseTypeNotFound = errors.New("exercise type not found")
	ErrExerciseTypeExists   = errors.New("exercise type already exists")
)

type GetExerciseTypesParams struct {
	MuscleGroup string
	ExerciseId  string
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) GetExerciseType(ctx context.Context, exerciseTypeID string) (_ ExerciseType, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.catalog.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var exerciseType ExerciseType
	err = r.db.QueryRow(
		ctx,
		`
			SELECT
			    id, muscle_group, name, description, created_at
			FROM exercise_type
			WHERE id = $1
		`,
		exerciseTypeID,
	).Scan(
		&exerciseType.ID,
		&exerciseType.MuscleGroup,
		&exerciseType.Name,
		&exerciseType.Description,
		&exerciseType.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExerciseType{}, ErrExerciseTypeNotFound
		}
		return ExerciseType{}, fmt.Errorf("exercise type [query row]: %w", err)
	}

	return exerciseType, nil
}

func (r *Repo) GetExerciseTypes(ctx context.Context, params GetExerciseTypesParams) (_ []ExerciseType, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.catalog.getTypes")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	if params.MuscleGroup != "" {
		span.SetAttributes(attribute.String("params.muscleGroup", params.MuscleGroup))
	}
	if params.ExerciseId != "" {
		span.SetAttributes(attribute.String("params.exerciseId", params.ExerciseId))
	}

	rows, err := r.db.Query(
		ctx,
		`
			SELECT
			    id, muscle_group, name, description, created_at
			FROM exercise_type
			WHERE ($1::text = '' OR muscle_group = $1) AND ($2::text = '' OR id = $2)
			ORDER BY name
		`,
		params.MuscleGroup,
		params.ExerciseId,
	)
	if err != nil {
		return nil, fmt.Errorf("exercise types [query]: %w", err)
	}
	defer rows.Close()

	var exerciseTypes []ExerciseType
	for rows.Next() {
		var exerciseType ExerciseType
		err := rows.Scan(
			&exerciseType.ID,
			&exerciseType.MuscleGroup,
			&exerciseType.Name,
			&exerciseType.Description,
			&exerciseType.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("exercise types [rows scan]: %w", err)
		}
		exerciseTypes = append(exerciseTypes, exerciseType)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("exercise types [rows error]: %w", err)
	}

	return exerciseTypes, nil
}

func (r *Repo) AddExerciseType(ctx context.Context, exerciseType ExerciseType) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.catalog.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if exerciseType.CreatedAt.IsZero() {
		exerciseType.CreatedAt = time.Now()
	}

	_, err = r.db.Exec(
		ctx,
		`
			INSERT INTO exercise_type
			    (id, muscle_group, name, description, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`,
		exerciseType.ID,
		exerciseType.MuscleGroup,
		exerciseType.Name,
		exerciseType.Description,
		exerciseType.CreatedAt,
	)
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return ErrExerciseTypeExists
		}
		return err
	}

	return nil
}

func (r *Repo) UpdateExerciseType(ctx context.Context, exerciseType ExerciseType) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.catalog.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(
		ctx,
		`
			UPDATE exercise_type
			SET muscle_group = $2, name = $3, description = $4
			WHERE id = $1
		`,
		exerciseType.ID,
		exerciseType.MuscleGroup,
		exerciseType.Name,
		exerciseType.Description,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExerciseTypeNotFound
	}

	return nil
}

func (r *Repo) DeleteExerciseType(ctx context.Context, exerciseTypeID string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.catalog.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Exec(
		ctx,
		`
			DELETE FROM exercise_type
			WHERE id = $1
		`,
		exerciseTypeID,
	)
	if err != nil {
		return err
	}

	if rows.RowsAffected() == 0 {
		return ErrExerciseTypeNotFound
	}

	return nil
}
