package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fitstack/backend/internal/telemetry/tracing"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"
)

const (
	keyPrefix     = "fitstack-idem||"
	pendingMarker = "__pending__"
)

var (
	// ErrInFlight - another request with the same key is currently executing.
	ErrInFlight = errors.New("request with this idempotency key is in flight")
)

// StoredResponse is the outcome of a completed mutating request,
// replayed verbatim for retries carrying the same Idempotency-Key.
type StoredResponse struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// Service keys stored outcomes by (route template, idempotency key, owner),
// so the same key used by two users - or on two routes - never collides.
type Service struct {
	redisClient *redis.Client
	ttl         time.Duration
}

func NewService(redisClient *redis.Client, ttl time.Duration) *Service {
	return &Service{
		redisClient: redisClient,
		ttl:         ttl,
	}
}

func storageKey(route, key string, ownerID int) string {
	return fmt.Sprintf("%s%s||%d||%s", keyPrefix, route, ownerID, key)
}

// Reserve claims the key before the operation runs. It returns a stored
// response when a completed request already ran with this key, ErrInFlight
// when one is still executing, and (nil, nil) when the claim succeeded and
// the caller should execute the operation.
func (s *Service) Reserve(ctx context.Context, route, key string, ownerID int) (_ *StoredResponse, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "idempotency.reserve")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("route", route))

	storeKey := storageKey(route, key, ownerID)

	set, err := s.redisClient.SetNX(ctx, storeKey, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if set {
		return nil, nil
	}

	val, err := s.redisClient.Get(ctx, storeKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// reservation expired between SETNX and GET, let the caller re-execute
			return nil, nil
		}
		return nil, fmt.Errorf("get stored response: %w", err)
	}

	if val == pendingMarker {
		return nil, ErrInFlight
	}

	var stored StoredResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal stored response: %w", err)
	}
	return &stored, nil
}

// Complete persists the outcome under the reserved key.
func (s *Service) Complete(ctx context.Context, route, key string, ownerID int, resp StoredResponse) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "idempotency.complete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	respJson, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal stored response: %w", err)
	}

	if err := s.redisClient.Set(ctx, storageKey(route, key, ownerID), respJson, s.ttl).Err(); err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	return nil
}

// Release drops the reservation after a failed operation, so that a
// client retry re-executes instead of replaying a failure.
func (s *Service) Release(ctx context.Context, route, key string, ownerID int) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "idempotency.release")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := s.redisClient.Del(ctx, storageKey(route, key, ownerID)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
