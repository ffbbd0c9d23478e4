package application_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
)

// --- Mock implementations shared across the package tests ---

type mockMoodleClient struct {
	authFn  func(ctx context.Context, username, password string, inst model.Institution) (driven.AuthResult, error)
	fetchFn func(ctx context.Context, username, password string, inst model.Institution) ([]model.Course, error)
}

func (m *mockMoodleClient) Authenticate(ctx context.Context, username, password string, inst model.Institution) (driven.AuthResult, error) {
	return m.authFn(ctx, username, password, inst)
}

func (m *mockMoodleClient) FetchCourses(ctx context.Context, username, password string, inst model.Institution) ([]model.Course, error) {
	if m.fetchFn == nil {
		return nil, nil
	}
	return m.fetchFn(ctx, username, password, inst)
}

type validityCall struct {
	UserID      string
	Valid       bool
	ValidatedAt time.Time
}

type mockCredentialStore struct {
	mu        sync.Mutex
	records   map[string]model.EncryptedCredentialRecord
	validity  []validityCall
	deleted   []string
	upsertErr error
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{records: make(map[string]model.EncryptedCredentialRecord)}
}

func (m *mockCredentialStore) Upsert(_ context.Context, rec model.EncryptedCredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.records[rec.UserID] = rec
	return nil
}

func (m *mockCredentialStore) GetByUser(_ context.Context, userID string) (*model.EncryptedCredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockCredentialStore) SetValidity(_ context.Context, userID string, valid bool, validatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validity = append(m.validity, validityCall{UserID: userID, Valid: valid, ValidatedAt: validatedAt})
	if rec, ok := m.records[userID]; ok {
		rec.IsValid = valid
		rec.LastValidatedAt = validatedAt
		m.records[userID] = rec
	}
	return nil
}

func (m *mockCredentialStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, userID)
	delete(m.records, userID)
	return nil
}

type setupCall struct {
	UserID   string
	Complete bool
}

type mockUserStore struct {
	mu         sync.Mutex
	users      map[string]model.User
	setupCalls []setupCall
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]model.User)}
}

func (m *mockUserStore) Upsert(_ context.Context, user model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			existing.Name = user.Name
			existing.InstitutionID = user.InstitutionID
			existing.UpdatedAt = user.UpdatedAt
			m.users[existing.ID] = existing
			return existing, nil
		}
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *mockUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (m *mockUserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

func (m *mockUserStore) SetSetupComplete(_ context.Context, id string, complete bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setupCalls = append(m.setupCalls, setupCall{UserID: id, Complete: complete})
	if user, ok := m.users[id]; ok {
		user.IsSetupComplete = complete
		m.users[id] = user
	}
	return nil
}

type mockAttemptStore struct {
	mu       sync.Mutex
	attempts []model.AuthAttempt
}

func (m *mockAttemptStore) Record(_ context.Context, attempt model.AuthAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	return nil
}

func (m *mockAttemptStore) ListByIdentifier(_ context.Context, identifier string, limit int) ([]model.AuthAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuthAttempt
	for i := len(m.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if m.attempts[i].Identifier == identifier {
			out = append(out, m.attempts[i])
		}
	}
	return out, nil
}

func (m *mockAttemptStore) recorded() []model.AuthAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuthAttempt, len(m.attempts))
	copy(out, m.attempts)
	return out
}

// memJobStore is an in-memory SyncJobStore with the same single-active-job
// semantics as the sqlite adapter.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]model.SyncJob
	seq  int
	ord  map[string]int // insertion order, breaks CreatedAt ties
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]model.SyncJob), ord: make(map[string]int)}
}

func (m *memJobStore) CreateIfIdle(_ context.Context, job model.SyncJob) (*model.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.UserID == job.UserID && !existing.Status.IsTerminal() {
			e := existing
			return &e, driven.ErrActiveJobExists
		}
	}
	m.seq++
	m.jobs[job.ID] = job
	m.ord[job.ID] = m.seq
	j := job
	return &j, nil
}

func (m *memJobStore) GetByID(_ context.Context, id string) (*model.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (m *memJobStore) GetActiveByUser(_ context.Context, userID string) (*model.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.UserID == userID && !job.Status.IsTerminal() {
			j := job
			return &j, nil
		}
	}
	return nil, nil
}

func (m *memJobStore) Update(_ context.Context, job model.SyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return nil
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *memJobStore) ListByUser(_ context.Context, userID string, f driven.HistoryFilter) ([]model.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.userJobsLocked(userID, f.Status)
	if f.Offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[f.Offset:]
	if f.Limit > 0 && len(jobs) > f.Limit {
		jobs = jobs[:f.Limit]
	}
	return jobs, nil
}

func (m *memJobStore) CountByUser(_ context.Context, userID string, status model.SyncStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userJobsLocked(userID, status)), nil
}

func (m *memJobStore) DeleteTerminalBeyond(_ context.Context, userID string, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var terminal []model.SyncJob
	for _, job := range m.jobs {
		if job.UserID == userID && job.Status.IsTerminal() {
			terminal = append(terminal, job)
		}
	}
	m.sortNewestFirstLocked(terminal)
	deleted := 0
	for i := keep; i < len(terminal); i++ {
		delete(m.jobs, terminal[i].ID)
		deleted++
	}
	return deleted, nil
}

func (m *memJobStore) userJobsLocked(userID string, status model.SyncStatus) []model.SyncJob {
	var jobs []model.SyncJob
	for _, job := range m.jobs {
		if job.UserID != userID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, job)
	}
	m.sortNewestFirstLocked(jobs)
	return jobs
}

func (m *memJobStore) sortNewestFirstLocked(jobs []model.SyncJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return m.ord[jobs[i].ID] > m.ord[jobs[j].ID]
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
