package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTTL = time.Hour

func TestReserve_FirstRequest(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewService(rdb, testTTL)

	storeKey := storageKey("POST /sessions", "key-1", 42)
	mock.ExpectSetNX(storeKey, pendingMarker, testTTL).SetVal(true)

	stored, err := s.Reserve(context.Background(), "POST /sessions", "key-1", 42)
	require.NoError(t, err)
	assert.Nil(t, stored)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_InFlight(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewService(rdb, testTTL)

	storeKey := storageKey("POST /sessions", "key-1", 42)
	mock.ExpectSetNX(storeKey, pendingMarker, testTTL).SetVal(false)
	mock.ExpectGet(storeKey).SetVal(pendingMarker)

	_, err := s.Reserve(context.Background(), "POST /sessions", "key-1", 42)
	require.ErrorIs(t, err, ErrInFlight)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_ReplayStoredResponse(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewService(rdb, testTTL)

	storedResp := StoredResponse{
		StatusCode: 201,
		Body:       json.RawMessage(`{"id":7}`),
	}
	storedJson, err := json.Marshal(storedResp)
	require.NoError(t, err)

	storeKey := storageKey("POST /sessions", "key-1", 42)
	mock.ExpectSetNX(storeKey, pendingMarker, testTTL).SetVal(false)
	mock.ExpectGet(storeKey).SetVal(string(storedJson))

	stored, err := s.Reserve(context.Background(), "POST /sessions", "key-1", 42)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 201, stored.StatusCode)
	assert.JSONEq(t, `{"id":7}`, string(stored.Body))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewService(rdb, testTTL)

	resp := StoredResponse{
		StatusCode: 201,
		Body:       json.RawMessage(`{"id":7}`),
	}
	respJson, err := json.Marshal(resp)
	require.NoError(t, err)

	storeKey := storageKey("POST /sessions", "key-1", 42)
	mock.ExpectSet(storeKey, respJson, testTTL).SetVal("OK")

	require.NoError(t, s.Complete(context.Background(), "POST /sessions", "key-1", 42, resp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewService(rdb, testTTL)

	storeKey := storageKey("POST /sessions", "key-1", 42)
	mock.ExpectDel(storeKey).SetVal(1)

	require.NoError(t, s.Release(context.Background(), "POST /sessions", "key-1", 42))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorageKey_ScopedPerOwnerAndRoute(t *testing.T) {
	k1 := storageKey("POST /sessions", "key-1", 1)
	k2 := storageKey("POST /sessions", "key-1", 2)
	k3 := storageKey("POST /sessions/{id}/clone", "key-1", 1)

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
