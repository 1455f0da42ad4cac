package sessions

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// CanTransitionTo enforces the one-directional session lifecycle:
// planned -> in_progress -> completed, with cancel possible from any
// non-terminal status. There is no un-canceling and no going back.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPlanned:
		return next == StatusInProgress || next == StatusCompleted || next == StatusCanceled
	case StatusInProgress:
		return next == StatusCompleted || next == StatusCanceled
	}
	return false
}

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

type Session struct {
	ID         int        `json:"id"`
	OwnerID    int        `json:"ownerId"`
	Title      string     `json:"title"`
	PlannedAt  time.Time  `json:"plannedAt"`
	Status     Status     `json:"status"`
	Visibility Visibility `json:"visibility"`
	PlanRef    string     `json:"planRef,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`

	Exercises []SessionExercise `json:"exercises,omitempty"`
}

// SessionExercise is one entry in a session: either a reference into the
// exercise catalog or a freeform one, with optional planned and actual
// performance attributes and an ordered list of sets.
type SessionExercise struct {
	ID             int     `json:"id"`
	SessionID      int     `json:"sessionId"`
	Position       int     `json:"position"`
	ExerciseTypeID *string `json:"exerciseTypeId,omitempty"`
	FreeformName   *string `json:"freeformName,omitempty"`
	Notes          string  `json:"notes,omitempty"`

	Planned *PlannedAttrs `json:"planned,omitempty"`
	Actual  *ActualAttrs  `json:"actual,omitempty"`
	Sets    []ExerciseSet `json:"sets,omitempty"`
}

type PlannedAttrs struct {
	Sets            *int     `json:"sets,omitempty"`
	Reps            *int     `json:"reps,omitempty"`
	Kilos           *float64 `json:"kilos,omitempty"`
	DurationSeconds *int     `json:"durationSeconds,omitempty"`
	DistanceMeters  *float64 `json:"distanceMeters,omitempty"`
}

// Empty reports whether no attribute is set; empty attr groups are not
// persisted at all, to avoid all-null rows.
func (p *PlannedAttrs) Empty() bool {
	if p == nil {
		return true
	}
	return p.Sets == nil && p.Reps == nil && p.Kilos == nil &&
		p.DurationSeconds == nil && p.DistanceMeters == nil
}

type ActualAttrs struct {
	PlannedAttrs
	RecordedAt time.Time `json:"recordedAt"`
}

func (a *ActualAttrs) Empty() bool {
	if a == nil {
		return true
	}
	return a.PlannedAttrs.Empty()
}

type ExerciseSet struct {
	ID                int      `json:"id"`
	SessionExerciseID int      `json:"sessionExerciseId"`
	Position          int      `json:"position"`
	Reps              *int     `json:"reps,omitempty"`
	Kilos             *float64 `json:"kilos,omitempty"`
	DistanceMeters    *float64 `json:"distanceMeters,omitempty"`
	DurationSeconds   *int     `json:"durationSeconds,omitempty"`
	RPE               *float64 `json:"rpe,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors carries field-level messages back to the client as a 400.
type ValidationErrors []FieldError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (ve ValidationErrors) MarshalJSONBody() []byte {
	body, err := json.Marshal(struct {
		Errors ValidationErrors `json:"errors"`
	}{Errors: ve})
	if err != nil {
		return []byte(`{"errors":[]}`)
	}
	return body
}

// Validate checks the session payload before any persistence happens.
func (s *Session) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(s.Title) == "" {
		errs = append(errs, FieldError{Field: "title", Message: "must not be empty"})
	}
	if s.Status != "" && !s.Status.Valid() {
		errs = append(errs, FieldError{Field: "status", Message: fmt.Sprintf("invalid status: %s", s.Status)})
	}
	if s.Visibility != "" && !s.Visibility.Valid() {
		errs = append(errs, FieldError{Field: "visibility", Message: fmt.Sprintf("invalid visibility: %s", s.Visibility)})
	}
	if s.PlannedAt.IsZero() {
		errs = append(errs, FieldError{Field: "plannedAt", Message: "must be set"})
	}

	for i := range s.Exercises {
		ex := &s.Exercises[i]
		if ex.ExerciseTypeID == nil && (ex.FreeformName == nil || strings.TrimSpace(*ex.FreeformName) == "") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("exercises[%d]", i),
				Message: "needs either a catalog reference or a freeform name",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// NormalizePositions rewrites exercise and set ordering indexes to the
// order in which they arrived, so clients need not maintain them.
func (s *Session) NormalizePositions() {
	for i := range s.Exercises {
		s.Exercises[i].Position = i
		for j := range s.Exercises[i].Sets {
			s.Exercises[i].Sets[j].Position = j
		}
	}
}
