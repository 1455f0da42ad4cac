package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/fitstack/backend/internal/telemetry/tracing"
	"github.com/fitstack/backend/pkg"

	"github.com/coocood/freecache"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const (
	// listCacheExpireSeconds - the catalog changes rarely, cache list
	// responses for 5 minutes
	listCacheExpireSeconds = 5 * 60

	cacheSizeBytes = 2 * 1024 * 1024
)

//go:generate mockgen -source=$GOFILE -destination=catalog_mocks_test.go -package=catalog_test

type catalogRepo interface {
	GetExerciseType(ctx context.Context, exerciseTypeID string) (ExerciseType, error)
	GetExerciseTypes(ctx context.Context, params GetExerciseTypesParams) ([]ExerciseType, error)
	AddExerciseType(ctx context.Context, exerciseType ExerciseType) error
	UpdateExerciseType(ctx context.Context, exerciseType ExerciseType) error
	DeleteExerciseType(ctx context.Context, exerciseTypeID string) error
}

type Handler struct {
	repo  catalogRepo
	cache *freecache.Cache
}

func NewHandler(repo catalogRepo) *Handler {
	return &Handler{
		repo:  repo,
		cache: freecache.NewCache(cacheSizeBytes),
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	catalogRouter := router.PathPrefix("/catalog/exercise-types").Subrouter()
	catalogRouter.HandleFunc("", handler.HandleList).Methods("GET", "OPTIONS").Name("list-exercise-types")
	catalogRouter.HandleFunc("", handler.HandleAdd).Methods("POST", "OPTIONS").Name("new-exercise-type")
	catalogRouter.HandleFunc("/{id}", handler.HandleGet).Methods("GET", "OPTIONS").Name("get-exercise-type")
	catalogRouter.HandleFunc("/{id}", handler.HandleUpdate).Methods("PUT", "OPTIONS").Name("update-exercise-type")
	catalogRouter.HandleFunc("/{id}", handler.HandleDelete).Methods("DELETE", "OPTIONS").Name("delete-exercise-type")
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "catalogHandler.list")
	defer span.End()

	muscleGroup := r.URL.Query().Get("muscleGroup")
	cacheKey := []byte(fmt.Sprintf("exercise-types||%s", muscleGroup))

	if cached, err := handler.cache.Get(cacheKey); err == nil {
		log.Tracef("exercise types for muscle group [%s] returned from cache", muscleGroup)
		pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, cached)
		return
	}

	exerciseTypes, err := handler.repo.GetExerciseTypes(ctx, GetExerciseTypesParams{
		MuscleGroup: muscleGroup,
	})
	if err != nil {
		log.Errorf("get exercise types: %s", err)
		http.Error(w, "get exercise types failed", http.StatusInternalServerError)
		return
	}
	if exerciseTypes == nil {
		exerciseTypes = []ExerciseType{}
	}

	exTypesJson, err := json.Marshal(exerciseTypes)
	if err != nil {
		log.Errorf("marshal exercise types: %s", err)
		http.Error(w, "get exercise types failed", http.StatusInternalServerError)
		return
	}

	if err := handler.cache.Set(cacheKey, exTypesJson, listCacheExpireSeconds); err != nil {
		log.Errorf("cache exercise types: %s", err)
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, exTypesJson, http.StatusOK)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "catalogHandler.get")
	defer span.End()

	vars := mux.Vars(r)
	id := vars["id"]
	if id == "" {
		http.Error(w, "error, id empty", http.StatusBadRequest)
		return
	}

	exerciseType, err := handler.repo.GetExerciseType(ctx, id)
	if err != nil {
		if errors.Is(err, ErrExerciseTypeNotFound) {
			http.Error(w, "exercise type not found", http.StatusNotFound)
			return
		}
		log.Errorf("get exercise type: %s", err)
		http.Error(w, "get exercise type failed", http.StatusInternalServerError)
		return
	}

	exTypeJson, err := json.Marshal(exerciseType)
	if err != nil {
		log.Errorf("marshal exercise type: %s", err)
		http.Error(w, "get exercise type failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, exTypeJson, http.StatusOK)
}

func (handler *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "catalogHandler.add")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var exerciseType ExerciseType
	if err := json.NewDecoder(r.Body).Decode(&exerciseType); err != nil {
		log.Errorf("new exercise type, unmarshal json params: %s", err)
		http.Error(w, "add exercise type failed", http.StatusBadRequest)
		return
	}

	if exerciseType.ID == "" || exerciseType.MuscleGroup == "" || exerciseType.Name == "" {
		http.Error(w, "error, exercise id, muscle group, and name are required", http.StatusBadRequest)
		return
	}

	exerciseType.MuscleGroup = strings.ToLower(exerciseType.MuscleGroup)
	if !slices.Contains(MuscleGroups, exerciseType.MuscleGroup) {
		http.Error(w, "error, invalid muscle group", http.StatusBadRequest)
		return
	}

	if exerciseType.CreatedAt.IsZero() {
		exerciseType.CreatedAt = time.Now()
	}

	if err := handler.repo.AddExerciseType(ctx, exerciseType); err != nil {
		if errors.Is(err, ErrExerciseTypeExists) {
			http.Error(w, "exercise type already exists", http.StatusConflict)
			return
		}
		log.Errorf("add exercise type: %s", err)
		http.Error(w, "add exercise type failed", http.StatusInternalServerError)
		return
	}

	handler.cache.Clear()

	log.Debugf("new exercise type added: %+v", exerciseType)
	w.WriteHeader(http.StatusCreated)
}

func (handler *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "catalogHandler.update")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	vars := mux.Vars(r)
	id := vars["id"]
	if id == "" {
		http.Error(w, "error, id empty", http.StatusBadRequest)
		return
	}

	var exerciseType ExerciseType
	if err := json.NewDecoder(r.Body).Decode(&exerciseType); err != nil {
		log.Errorf("update exercise type, unmarshal json params: %s", err)
		http.Error(w, "update exercise type failed", http.StatusBadRequest)
		return
	}
	exerciseType.ID = id

	if exerciseType.MuscleGroup == "" || exerciseType.Name == "" {
		http.Error(w, "error, muscle group and name are required", http.StatusBadRequest)
		return
	}

	if err := handler.repo.UpdateExerciseType(ctx, exerciseType); err != nil {
		if errors.Is(err, ErrExerciseTypeNotFound) {
			http.Error(w, "exercise type not found", http.StatusNotFound)
			return
		}
		log.Errorf("update exercise type: %s", err)
		http.Error(w, "update exercise type failed", http.StatusInternalServerError)
		return
	}

	handler.cache.Clear()

	log.Debugf("exercise type updated: %+v", exerciseType)
	w.WriteHeader(http.StatusNoContent)
}

func (handler *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "catalogHandler.delete")
	defer span.End()

	vars := mux.Vars(r)
	id := vars["id"]
	if id == "" {
		http.Error(w, "error, id empty", http.StatusBadRequest)
		return
	}

	if err := handler.repo.DeleteExerciseType(ctx, id); err != nil {
		if errors.Is(err, ErrExerciseTypeNotFound) {
			http.Error(w, "exercise type not found", http.StatusNotFound)
			return
		}
		log.Errorf("delete exercise type: %s", err)
		http.Error(w, "delete exercise type failed", http.StatusInternalServerError)
		return
	}

	handler.cache.Clear()

	log.Debugf("exercise type deleted: %s", id)
	w.WriteHeader(http.StatusNoContent)
}
