package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fitstack/backend/internal/sessions"

	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) login(username, password string) string {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	require.NoError(s.T(), err)

	resp := s.doRequest("POST", "/a/login", "", "", bytes.NewBuffer(body))
	defer resp.Body.Close()
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var loginResp struct {
		Token string `json:"token"`
	}
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(&loginResp))
	require.NotEmpty(s.T(), loginResp.Token)
	return loginResp.Token
}

func (s *IntegrationTestSuite) doRequest(method, path, token, idempotencyKey string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, serverEndpoint+path, body)
	require.NoError(s.T(), err)

	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Origin", "test")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.T(), err)
	return resp
}

func (s *IntegrationTestSuite) decodeSession(resp *http.Response) sessions.Session {
	defer resp.Body.Close()
	var session sessions.Session
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(&session))
	return session
}

func (s *IntegrationTestSuite) newSessionPayload(title string, plannedAt time.Time) []byte {
	reps := 5
	kilos := 100.0
	freeform := "back squat"
	payload := sessions.Session{
		Title:     title,
		PlannedAt: plannedAt,
		Exercises: []sessions.SessionExercise{
			{
				FreeformName: &freeform,
				Planned:      &sessions.PlannedAttrs{Sets: &reps, Reps: &reps, Kilos: &kilos},
				Sets: []sessions.ExerciseSet{
					{Reps: &reps, Kilos: &kilos},
					{Reps: &reps, Kilos: &kilos},
				},
			},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(s.T(), err)
	return raw
}

func (s *IntegrationTestSuite) TestSessionLifecycle() {
	t := s.T()
	token := s.login(testUsername, testPassword)

	plannedAt := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)

	// create with an idempotency key
	resp := s.doRequest("POST", "/sessions", token, "it-create-1",
		bytes.NewBuffer(s.newSessionPayload("leg day", plannedAt)))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := s.decodeSession(resp)
	require.NotZero(t, created.ID)
	require.Equal(t, sessions.StatusPlanned, created.Status)
	require.Len(t, created.Exercises, 1)
	require.Len(t, created.Exercises[0].Sets, 2)

	// retry with the same key replays the stored response
	resp = s.doRequest("POST", "/sessions", token, "it-create-1",
		bytes.NewBuffer(s.newSessionPayload("leg day", plannedAt)))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "true", resp.Header.Get("Idempotency-Replayed"))
	replayed := s.decodeSession(resp)
	require.Equal(t, created.ID, replayed.ID)

	// get it back
	resp = s.doRequest("GET", fmt.Sprintf("/sessions/%d", created.ID), token, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fetched := s.decodeSession(resp)
	require.Equal(t, created.ID, fetched.ID)
	require.Equal(t, "leg day", fetched.Title)

	// move it through the lifecycle
	fetched.Status = sessions.StatusInProgress
	updateBody, err := json.Marshal(fetched)
	require.NoError(t, err)
	resp = s.doRequest("PUT", fmt.Sprintf("/sessions/%d", created.ID), token, "", bytes.NewBuffer(updateBody))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := s.decodeSession(resp)
	require.Equal(t, sessions.StatusInProgress, updated.Status)

	// going back to planned is rejected
	updated.Status = sessions.StatusPlanned
	updateBody, err = json.Marshal(updated)
	require.NoError(t, err)
	resp = s.doRequest("PUT", fmt.Sprintf("/sessions/%d", created.ID), token, "", bytes.NewBuffer(updateBody))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// the other user cannot see it
	otherToken := s.login(otherUsername, testPassword)
	resp = s.doRequest("GET", fmt.Sprintf("/sessions/%d", created.ID), otherToken, "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	// delete and it is gone
	resp = s.doRequest("DELETE", fmt.Sprintf("/sessions/%d", created.ID), token, "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = s.doRequest("GET", fmt.Sprintf("/sessions/%d", created.ID), token, "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func (s *IntegrationTestSuite) TestCloneAndRecurrence() {
	t := s.T()
	token := s.login(testUsername, testPassword)

	plannedAt := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)

	resp := s.doRequest("POST", "/sessions", token, "",
		bytes.NewBuffer(s.newSessionPayload("push day", plannedAt)))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := s.decodeSession(resp)

	// clone onto a new date
	clonedAt := plannedAt.AddDate(0, 0, 3)
	cloneBody, err := json.Marshal(map[string]any{"plannedAt": clonedAt})
	require.NoError(t, err)
	resp = s.doRequest("POST", fmt.Sprintf("/sessions/%d/clone", created.ID), token, "", bytes.NewBuffer(cloneBody))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	clone := s.decodeSession(resp)
	require.NotEqual(t, created.ID, clone.ID)
	require.Equal(t, sessions.StatusPlanned, clone.Status)
	require.Len(t, clone.Exercises, len(created.Exercises))

	// generate weekly instances, re-running must not duplicate
	recurBody, err := json.Marshal(sessions.RecurrenceParams{Occurrences: 3, OffsetDays: 7})
	require.NoError(t, err)

	for run, expectedCreated := range []int{3, 0} {
		resp = s.doRequest("POST", fmt.Sprintf("/sessions/%d/recurrence", created.ID),
			token, fmt.Sprintf("it-recur-%d", run), bytes.NewBuffer(recurBody))
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var recurResp struct {
			Sessions []sessions.Session `json:"sessions"`
			Created  int                `json:"created"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&recurResp))
		_ = resp.Body.Close()
		require.Equal(t, expectedCreated, recurResp.Created, "run %d", run)
	}
}
