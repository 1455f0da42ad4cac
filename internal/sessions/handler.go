package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fitstack/backend/internal/idempotency"
	"github.com/fitstack/backend/internal/middleware"
	"github.com/fitstack/backend/internal/telemetry/metrics"
	"github.com/fitstack/backend/internal/telemetry/tracing"
	"github.com/fitstack/backend/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const (
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotency-Replayed"
)

type sessionsService interface {
	Create(ctx context.Context, ownerID int, session Session) (*Session, error)
	Update(ctx context.Context, ownerID int, session Session) (*Session, error)
	Get(ctx context.Context, ownerID, sessionID int) (*Session, error)
	List(ctx context.Context, ownerID int, params ListParams) ([]Session, int, error)
	Cancel(ctx context.Context, ownerID, sessionID int) error
	Clone(ctx context.Context, ownerID, sessionID int, plannedAt *time.Time) (*Session, error)
	ApplyRecurrence(ctx context.Context, ownerID, sessionID int, params RecurrenceParams) ([]Session, error)
}

type idempotencyStore interface {
	Reserve(ctx context.Context, route, key string, ownerID int) (*idempotency.StoredResponse, error)
	Complete(ctx context.Context, route, key string, ownerID int, resp idempotency.StoredResponse) error
	Release(ctx context.Context, route, key string, ownerID int) error
}

type Handler struct {
	service     sessionsService
	idempotency idempotencyStore
	metrics     *metrics.Manager
}

func NewHandler(service sessionsService, idempotencyStore idempotencyStore, metrics *metrics.Manager) *Handler {
	return &Handler{
		service:     service,
		idempotency: idempotencyStore,
		metrics:     metrics,
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	sessionsRouter := router.PathPrefix("/sessions").Subrouter()
	sessionsRouter.HandleFunc("", handler.HandleList).Methods("GET", "OPTIONS").Name("list-sessions")
	sessionsRouter.HandleFunc("", handler.HandleAdd).Methods("POST", "OPTIONS").Name("new-session")
	sessionsRouter.HandleFunc("/{id}", handler.HandleGet).Methods("GET", "OPTIONS").Name("get-session")
	sessionsRouter.HandleFunc("/{id}", handler.HandleUpdate).Methods("PUT", "OPTIONS").Name("update-session")
	sessionsRouter.HandleFunc("/{id}", handler.HandleDelete).Methods("DELETE", "OPTIONS").Name("delete-session")
	sessionsRouter.HandleFunc("/{id}/clone", handler.HandleClone).Methods("POST", "OPTIONS").Name("clone-session")
	sessionsRouter.HandleFunc("/{id}/recurrence", handler.HandleRecurrence).Methods("POST", "OPTIONS").Name("session-recurrence")
}

func (handler *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.add")
	defer span.End()

	if !requireJSON(w, r) {
		return
	}

	var session Session
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		log.Errorf("add session, unmarshal json params: %s", err)
		http.Error(w, "add session failed", http.StatusBadRequest)
		return
	}

	handler.withIdempotency(ctx, w, r, "POST /sessions", func() (int, []byte) {
		created, err := handler.service.Create(ctx, middleware.UserID(ctx), session)
		if err != nil {
			return handler.errorResponse(err, "add session")
		}
		return http.StatusCreated, mustMarshal(created)
	})
}

func (handler *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.update")
	defer span.End()

	if !requireJSON(w, r) {
		return
	}

	sessionID, ok := pathID(w, r)
	if !ok {
		return
	}

	var session Session
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		log.Errorf("update session, unmarshal json params: %s", err)
		http.Error(w, "update session failed", http.StatusBadRequest)
		return
	}
	session.ID = sessionID

	updated, err := handler.service.Update(ctx, middleware.UserID(ctx), session)
	if err != nil {
		status, body := handler.errorResponse(err, "update session")
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, body, status)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, mustMarshal(updated), http.StatusOK)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.get")
	defer span.End()

	sessionID, ok := pathID(w, r)
	if !ok {
		return
	}

	session, err := handler.service.Get(ctx, middleware.UserID(ctx), sessionID)
	if err != nil {
		status, body := handler.errorResponse(err, "get session")
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, body, status)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, mustMarshal(session), http.StatusOK)
}

func (handler *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.delete")
	defer span.End()

	sessionID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := handler.service.Cancel(ctx, middleware.UserID(ctx), sessionID); err != nil {
		status, body := handler.errorResponse(err, "delete session")
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, body, status)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.list")
	defer span.End()

	params, err := listParamsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessions, total, err := handler.service.List(ctx, middleware.UserID(ctx), params)
	if err != nil {
		status, body := handler.errorResponse(err, "list sessions")
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, body, status)
		return
	}

	body := mustMarshal(struct {
		Sessions []Session `json:"sessions"`
		Total    int       `json:"total"`
	}{Sessions: sessions, Total: total})
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, body, http.StatusOK)
}

func (handler *Handler) HandleClone(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.clone")
	defer span.End()

	sessionID, ok := pathID(w, r)
	if !ok {
		return
	}

	// body is optional: an empty or absent body keeps the source timestamp
	var cloneReq struct {
		PlannedAt *time.Time `json:"plannedAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&cloneReq); err != nil && !errors.Is(err, io.EOF) {
		log.Errorf("clone session, unmarshal json params: %s", err)
		http.Error(w, "clone session failed", http.StatusBadRequest)
		return
	}

	handler.withIdempotency(ctx, w, r, "POST /sessions/{id}/clone", func() (int, []byte) {
		clone, err := handler.service.Clone(ctx, middleware.UserID(ctx), sessionID, cloneReq.PlannedAt)
		if err != nil {
			return handler.errorResponse(err, "clone session")
		}
		return http.StatusCreated, mustMarshal(clone)
	})
}

func (handler *Handler) HandleRecurrence(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.recurrence")
	defer span.End()

	if !requireJSON(w, r) {
		return
	}

	sessionID, ok := pathID(w, r)
	if !ok {
		return
	}

	var params RecurrenceParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		log.Errorf("session recurrence, unmarshal json params: %s", err)
		http.Error(w, "session recurrence failed", http.StatusBadRequest)
		return
	}

	handler.withIdempotency(ctx, w, r, "POST /sessions/{id}/recurrence", func() (int, []byte) {
		created, err := handler.service.ApplyRecurrence(ctx, middleware.UserID(ctx), sessionID, params)
		if err != nil {
			return handler.errorResponse(err, "session recurrence")
		}
		body := mustMarshal(struct {
			Sessions []Session `json:"sessions"`
			Created  int       `json:"created"`
		}{Sessions: created, Created: len(created)})
		return http.StatusCreated, body
	})
}

// withIdempotency runs a mutating operation under the Idempotency-Key
// protocol. Without the header the operation just runs. With it, a replayed
// key returns the stored response with the Idempotency-Replayed header set,
// a concurrent duplicate gets a 409, and only successful outcomes are
// stored - failures release the key so a retry re-executes.
func (handler *Handler) withIdempotency(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	route string,
	execute func() (int, []byte),
) {
	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" {
		status, body := execute()
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, body, status)
		return
	}

	ownerID := middleware.UserID(ctx)

	stored, err := handler.idempotency.Reserve(ctx, route, key, ownerID)
	if err != nil {
		if errors.Is(err, idempotency.ErrInFlight) {
			http.Error(w, "request with this idempotency key is in progress", http.StatusConflict)
			return
		}
		// the store being down should not block the operation itself
		log.Errorf("reserve idempotency key on %s: %s", route, err)
		status, body := execute()
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, body, status)
		return
	}

	if stored != nil {
		handler.metrics.CounterIdempotentReplays.Inc()
		w.Header().Set(idempotencyReplayedHeader, "true")
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, stored.Body, stored.StatusCode)
		return
	}

	status, body := execute()

	if status >= 200 && status < 300 {
		if err := handler.idempotency.Complete(ctx, route, key, ownerID, idempotency.StoredResponse{
			StatusCode: status,
			Body:       body,
		}); err != nil {
			log.Errorf("store idempotent response on %s: %s", route, err)
		}
	} else {
		if err := handler.idempotency.Release(ctx, route, key, ownerID); err != nil {
			log.Errorf("release idempotency key on %s: %s", route, err)
		}
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, body, status)
}

// errorResponse maps service errors to a status code and JSON body.
func (handler *Handler) errorResponse(err error, op string) (int, []byte) {
	var validationErrs ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return http.StatusBadRequest, validationErrs.MarshalJSONBody()
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, []byte(`{"error":"session not found"}`)
	case errors.Is(err, ErrSessionDeleted):
		return http.StatusConflict, []byte(`{"error":"session is deleted"}`)
	default:
		log.Errorf("%s: %s", op, err)
		return http.StatusInternalServerError, []byte(`{"error":"internal server error"}`)
	}
}

func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		http.Error(w, "add failed, invalid content type", http.StatusUnsupportedMediaType)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	vars := mux.Vars(r)
	idStr := vars["id"]
	if idStr == "" {
		http.Error(w, "error, id empty", http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "error, id invalid", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func listParamsFromQuery(r *http.Request) (ListParams, error) {
	params := ListParams{Page: 1, Size: 20}

	query := r.URL.Query()
	if pageStr := query.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			return params, fmt.Errorf("invalid page: %s", pageStr)
		}
		params.Page = page
	}
	if sizeStr := query.Get("size"); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil || size < 1 {
			return params, fmt.Errorf("invalid size: %s", sizeStr)
		}
		params.Size = size
	}
	if statusStr := query.Get("status"); statusStr != "" {
		status := Status(statusStr)
		if !status.Valid() {
			return params, fmt.Errorf("invalid status: %s", statusStr)
		}
		params.Status = &status
	}
	params.PlanRef = query.Get("planRef")
	params.TitleSearch = query.Get("search")

	if fromStr := query.Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return params, fmt.Errorf("invalid from timestamp: %s", fromStr)
		}
		params.From = &from
	}
	if toStr := query.Get("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return params, fmt.Errorf("invalid to timestamp: %s", toStr)
		}
		params.To = &to
	}

	return params, nil
}

func mustMarshal(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		log.Errorf("marshal response: %s", err)
		return []byte(`{}`)
	}
	return body
}
