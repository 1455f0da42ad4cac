package sessions

import (
	"context"
	"sync"
	"time"
)

// repoMock is an in-memory stand-in for the Postgres repo, used by service
// and handler tests.
type repoMock struct {
	mutex    sync.Mutex
	sessions map[int]*Session
	nextID   int

	// when set, every call fails with this error
	forcedErr error
}

var _ sessionsRepo = (*repoMock)(nil)

func newRepoMock() *repoMock {
	return &repoMock{
		sessions: make(map[int]*Session),
		nextID:   1,
	}
}

func (m *repoMock) Create(_ context.Context, session Session) (*Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.forcedErr != nil {
		return nil, m.forcedErr
	}

	session.ID = m.nextID
	m.nextID++
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	for i := range session.Exercises {
		session.Exercises[i].ID = m.nextID
		session.Exercises[i].SessionID = session.ID
		m.nextID++
	}

	stored := session
	m.sessions[session.ID] = &stored
	copied := stored
	return &copied, nil
}

func (m *repoMock) Update(_ context.Context, session Session) (*Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.forcedErr != nil {
		return nil, m.forcedErr
	}

	existing, ok := m.sessions[session.ID]
	if !ok || existing.OwnerID != session.OwnerID {
		return nil, ErrSessionNotFound
	}
	if existing.DeletedAt != nil {
		return nil, ErrSessionDeleted
	}

	session.CreatedAt = existing.CreatedAt
	session.UpdatedAt = time.Now()
	stored := session
	m.sessions[session.ID] = &stored
	copied := stored
	return &copied, nil
}

func (m *repoMock) Cancel(_ context.Context, sessionID, ownerID int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.forcedErr != nil {
		return m.forcedErr
	}

	existing, ok := m.sessions[sessionID]
	if !ok || existing.OwnerID != ownerID || existing.DeletedAt != nil {
		return ErrSessionNotFound
	}

	now := time.Now()
	existing.Status = StatusCanceled
	existing.DeletedAt = &now
	existing.UpdatedAt = now
	return nil
}

func (m *repoMock) Get(_ context.Context, sessionID, ownerID int, includeDeleted bool) (*Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.getLocked(sessionID, ownerID, includeDeleted)
}

func (m *repoMock) GetWithDetails(_ context.Context, sessionID, ownerID int, includeDeleted bool) (*Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.getLocked(sessionID, ownerID, includeDeleted)
}

func (m *repoMock) getLocked(sessionID, ownerID int, includeDeleted bool) (*Session, error) {
	if m.forcedErr != nil {
		return nil, m.forcedErr
	}
	existing, ok := m.sessions[sessionID]
	if !ok || existing.OwnerID != ownerID {
		return nil, ErrSessionNotFound
	}
	if existing.DeletedAt != nil && !includeDeleted {
		return nil, ErrSessionNotFound
	}
	copied := *existing
	return &copied, nil
}

func (m *repoMock) List(_ context.Context, ownerID int, params ListParams) ([]Session, int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.forcedErr != nil {
		return nil, -1, m.forcedErr
	}

	matched := make([]Session, 0)
	for _, s := range m.sessions {
		if s.OwnerID != ownerID || s.DeletedAt != nil {
			continue
		}
		if params.Status != nil && s.Status != *params.Status {
			continue
		}
		if params.PlanRef != "" && s.PlanRef != params.PlanRef {
			continue
		}
		matched = append(matched, *s)
	}
	return matched, len(matched), nil
}

func (m *repoMock) ExistAtDates(_ context.Context, ownerID int, dates []time.Time) (map[int64]bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.forcedErr != nil {
		return nil, m.forcedErr
	}

	occupied := make(map[int64]bool)
	for _, s := range m.sessions {
		if s.OwnerID != ownerID || s.DeletedAt != nil {
			continue
		}
		for _, d := range dates {
			if s.PlannedAt.Unix() == d.Unix() {
				occupied[d.Unix()] = true
			}
		}
	}
	return occupied, nil
}
