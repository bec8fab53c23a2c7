package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/speedwagon-io/vmc/internal/collector"
	"github.com/speedwagon-io/vmc/internal/model"
	"github.com/speedwagon-io/vmc/internal/storage"
)

type fakeUsers struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]*model.User
	tokenErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[int64]*model.User)}
}

func (f *fakeUsers) Create(_ context.Context, user *model.User) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Login == user.Login {
			return 0, storage.ErrUserExists
		}
	}
	f.nextID++
	stored := *user
	stored.ID = f.nextID
	f.users[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakeUsers) GetByLogin(_ context.Context, login string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Login == login {
			copied := *u
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUsers) UpdateToken(_ context.Context, id int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return f.tokenErr
	}
	if u, ok := f.users[id]; ok {
		u.Token = token
	}
	return nil
}

func (f *fakeUsers) Token(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	return u.Token, nil
}

func (f *fakeUsers) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*model.Session
	measures map[int64][]model.Measure
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[int64]*model.Session),
		measures: make(map[int64][]model.Measure),
	}
}

func (f *fakeSessions) Create(_ context.Context, s *model.Session) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	stored := *s
	stored.ID = f.nextID
	f.sessions[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakeSessions) Get(_ context.Context, id int64) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessions) list(match func(*model.Session) bool) []model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for id := int64(1); id <= f.nextID; id++ {
		if s, ok := f.sessions[id]; ok && match(s) {
			out = append(out, *s)
		}
	}
	return out
}

func (f *fakeSessions) ListByUser(_ context.Context, userID int64) ([]model.Session, error) {
	return f.list(func(s *model.Session) bool { return s.UserID == userID }), nil
}

func (f *fakeSessions) ListAll(_ context.Context) ([]model.Session, error) {
	return f.list(func(*model.Session) bool { return true }), nil
}

func (f *fakeSessions) AddMeasures(_ context.Context, id int64, measures []model.Measure) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	if s.Ended() {
		return 0, storage.ErrSessionEnded
	}
	f.measures[id] = append(f.measures[id], measures...)
	return len(measures), nil
}

func (f *fakeSessions) End(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if s.Ended() {
		return storage.ErrSessionEnded
	}
	s.End = &at
	return nil
}

func (f *fakeSessions) Measures(_ context.Context, id int64) ([]model.Measure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Measure{}, f.measures[id]...), nil
}

type fakeReader struct {
	readings []model.Reading
	err      error
}

func (f *fakeReader) Collect(context.Context) (*collector.CollectedData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &collector.CollectedData{DeviceID: "vmc-1", Readings: f.readings}, nil
}

type fakeLatest struct {
	snapshot *model.Snapshot
	err      error
}

func (f *fakeLatest) Latest(context.Context) (*model.Snapshot, error) {
	return f.snapshot, f.err
}

type fakeArchive struct {
	capteurID int
	since     time.Time
	measures  []model.Measure
}

func (f *fakeArchive) History(_ context.Context, capteurID int, since time.Time) ([]model.Measure, error) {
	f.capteurID = capteurID
	f.since = since
	return f.measures, nil
}

var errDevice = errors.New("modbus: connection refused")

type fakeValues struct {
	values map[int]float64
	err    error
}

func (f *fakeValues) LatestValue(_ context.Context, capteurID int) (float64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	v, ok := f.values[capteurID]
	return v, ok, nil
}
