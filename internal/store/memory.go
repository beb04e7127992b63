package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type sentRecord struct {
	officialID string
	at         time.Time
}

// Memory is a Store held in process memory. It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	users map[string]User
	// google id -> user id
	byGoogle map[string]string
	// database id -> owner user id
	databases map[string]string
	// official id -> database id
	officials map[string]string
	// user id -> official id -> sent at
	sent map[string]map[string]time.Time
	now  func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]User),
		byGoogle:  make(map[string]string),
		databases: make(map[string]string),
		officials: make(map[string]string),
		sent:      make(map[string]map[string]time.Time),
		now:       time.Now,
	}
}

func (m *Memory) GetOrCreateUser(_ context.Context, googleID, email, name string) (User, error) {
	if googleID == "" {
		return User{}, fmt.Errorf("google id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byGoogle[googleID]; ok {
		return m.users[id], nil
	}
	u := User{
		ID:        uuid.NewString(),
		GoogleID:  googleID,
		Email:     email,
		Name:      name,
		CreatedAt: m.now().UTC(),
	}
	m.users[u.ID] = u
	m.byGoogle[googleID] = u.ID
	return u, nil
}

func (m *Memory) UserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// AddDatabase registers a database owned by userID.
func (m *Memory) AddDatabase(userID, databaseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.databases[databaseID] = userID
}

// AddOfficial places officialID in databaseID.
func (m *Memory) AddOfficial(databaseID, officialID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.officials[officialID] = databaseID
}

func (m *Memory) OfficialOwnedBy(_ context.Context, userID, officialID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dbID, ok := m.officials[officialID]
	if !ok {
		return false, nil
	}
	return m.databases[dbID] == userID, nil
}

func (m *Memory) MarkSent(_ context.Context, userID, officialID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, ok := m.sent[userID]
	if !ok {
		history = make(map[string]time.Time)
		m.sent[userID] = history
	}
	history[officialID] = at
	return nil
}

func (m *Memory) SentHistory(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	records := make([]sentRecord, 0, len(m.sent[userID]))
	for id, at := range m.sent[userID] {
		records = append(records, sentRecord{officialID: id, at: at})
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].at.Equal(records[j].at) {
			return records[i].officialID < records[j].officialID
		}
		return records[i].at.Before(records[j].at)
	})

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.officialID
	}
	return ids, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

var _ Store = (*Memory)(nil)
