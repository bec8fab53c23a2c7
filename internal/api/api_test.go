package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/speedwagon-io/vmc/internal/auth"
	"github.com/speedwagon-io/vmc/internal/config"
	"github.com/speedwagon-io/vmc/internal/history"
	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/model"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	handler  *Handler
	router   http.Handler
	auth     *auth.Manager
	users    *fakeUsers
	sessions *fakeSessions
	reader   *fakeReader
	latest   *fakeLatest
	recent   *history.MemoryStore
	archive  *fakeArchive
}

func newTestEnv(t *testing.T, withArchive bool, opts ...func(*Deps)) *testEnv {
	t.Helper()

	env := &testEnv{
		auth:     auth.NewManager(&config.AuthConfig{JWTSecret: "test-secret", TokenTTL: 4 * time.Hour, Issuer: "vmc"}),
		users:    newFakeUsers(),
		sessions: newFakeSessions(),
		reader:   &fakeReader{},
		latest:   &fakeLatest{},
		recent:   history.NewMemoryStore(10),
	}

	deps := Deps{
		Log:            sl.Discard(),
		Auth:           env.auth,
		Users:          env.users,
		Sessions:       env.sessions,
		Reader:         env.reader,
		Latest:         env.latest,
		Recent:         env.recent,
		BcryptCost:     4,
		AllowedOrigins: []string{"http://localhost:3001"},
	}
	if withArchive {
		env.archive = &fakeArchive{}
		deps.Archive = env.archive
	}
	for _, opt := range opts {
		opt(&deps)
	}

	env.handler = NewHandler(deps)
	env.handler.now = func() time.Time { return fixedNow }
	env.router = NewRouter(env.handler)
	return env
}

// user creates a user with a stored token and returns that token.
func (e *testEnv) user(t *testing.T, login, role string) (int64, string) {
	t.Helper()
	hash, err := auth.HashPassword("secret123", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &model.User{Login: login, PasswordHash: hash, Role: role}
	u.ID, err = e.users.Create(context.Background(), u)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := e.auth.Generate(u)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	e.users.UpdateToken(context.Background(), u.ID, token)
	return u.ID, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

type messageBody struct {
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors"`
}

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
