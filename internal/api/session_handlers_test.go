package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/speedwagon-io/vmc/internal/model"
)

type sessionBody struct {
	Message string        `json:"message"`
	Data    model.Session `json:"data"`
}

func createSession(t *testing.T, env *testEnv, token string, body any) int64 {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/session", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	resp := decode[struct {
		Data map[string]int64 `json:"data"`
	}](t, rec)
	return resp.Data["session_id"]
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t, false)
	userID, token := env.user(t, "alice", model.RoleUser)

	id := createSession(t, env, token, map[string]any{"nom": "bench", "description": "first run"})
	s, _ := env.sessions.Get(context.Background(), id)
	if s.UserID != userID || s.Interval != 30 || !s.Start.Equal(fixedNow) {
		t.Fatalf("unexpected defaults: %+v", s)
	}

	id = createSession(t, env, token, map[string]any{"nom": "bench", "date_debut": "2025-02-28 08:30:00", "intervalle": 10})
	s, _ = env.sessions.Get(context.Background(), id)
	if s.Interval != 10 || !s.Start.Equal(time.Date(2025, 2, 28, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected session: %+v", s)
	}

	id = createSession(t, env, token, map[string]any{"nom": "bench", "date_debut": "2025-02-28T09:30:00+01:00"})
	s, _ = env.sessions.Get(context.Background(), id)
	if !s.Start.Equal(time.Date(2025, 2, 28, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected RFC 3339 start, got %s", s.Start)
	}

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"missing name", map[string]any{"nom": "  "}, "nom"},
		{"bad date", map[string]any{"nom": "x", "date_debut": "yesterday"}, "date_debut"},
		{"zero interval", map[string]any{"nom": "x", "intervalle": 0}, "intervalle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/session", token, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if errs := decode[messageBody](t, rec).Errors; len(errs) != 1 || errs[0].Field != tt.field {
				t.Fatalf("expected error on %q, got %+v", tt.field, errs)
			}
		})
	}
}

func TestAddSessionData(t *testing.T) {
	env := newTestEnv(t, false)
	_, alice := env.user(t, "alice", model.RoleUser)
	_, bob := env.user(t, "bob", model.RoleUser)
	_, admin := env.user(t, "root", model.RoleAdmin)

	id := createSession(t, env, alice, map[string]any{"nom": "bench"})
	path := pathf("/api/session/%d/data", id)

	data := map[string]any{"data": []map[string]any{
		{"capteur_id": 1, "timestamp": "2025-03-01T12:00:30Z", "value": 49.997},
		{"capteur_id": 6, "value": -0.0021},
	}}

	rec := env.do(t, http.MethodPost, path, alice, data)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	resp := decode[struct {
		Data map[string]int `json:"data"`
	}](t, rec)
	if resp.Data["inserted"] != 2 {
		t.Fatalf("expected 2 inserted, got %v", resp.Data)
	}

	stored, _ := env.sessions.Measures(context.Background(), id)
	if !stored[1].Timestamp.Equal(fixedNow) {
		t.Fatalf("missing timestamp should default to now, got %s", stored[1].Timestamp)
	}

	tests := []struct {
		name  string
		path  string
		token string
		body  any
		want  int
	}{
		{"empty data", path, alice, map[string]any{"data": []any{}}, http.StatusBadRequest},
		{"bad sensor", path, alice, map[string]any{"data": []map[string]any{{"capteur_id": 0, "value": 1}}}, http.StatusBadRequest},
		{"unknown session", "/api/session/999/data", alice, data, http.StatusNotFound},
		{"not owner", path, bob, data, http.StatusForbidden},
		{"admin cannot write", path, admin, data, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPost, tt.path, tt.token, tt.body); rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	if rec := env.do(t, http.MethodPut, pathf("/api/session/fin/%d", id), alice, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected session to end, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, path, alice, data); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on ended session, got %d", rec.Code)
	}
}

func TestEndSession(t *testing.T) {
	env := newTestEnv(t, false)
	_, alice := env.user(t, "alice", model.RoleUser)
	_, bob := env.user(t, "bob", model.RoleUser)

	id := createSession(t, env, alice, map[string]any{"nom": "bench", "date_debut": "2025-03-01 10:00:00"})
	path := pathf("/api/session/fin/%d", id)

	tests := []struct {
		name  string
		path  string
		token string
		body  any
		want  int
	}{
		{"bad id", "/api/session/fin/abc", alice, nil, http.StatusBadRequest},
		{"unknown", "/api/session/fin/999", alice, nil, http.StatusNotFound},
		{"not owner", path, bob, nil, http.StatusForbidden},
		{"before start", path, alice, map[string]string{"date_fin": "2025-03-01 09:59:59"}, http.StatusBadRequest},
		{"bad date", path, alice, map[string]string{"date_fin": "soon"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPut, tt.path, tt.token, tt.body); rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	rec := env.do(t, http.MethodPut, path, alice, map[string]string{"date_fin": "2025-03-01 11:00:00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	body := decode[sessionBody](t, rec)
	if body.Data.End == nil || !body.Data.End.Equal(time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end: %+v", body.Data.End)
	}

	if rec := env.do(t, http.MethodPut, path, alice, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second end, got %d", rec.Code)
	}
}

func TestListAndGetSessions(t *testing.T) {
	env := newTestEnv(t, false)
	_, alice := env.user(t, "alice", model.RoleUser)
	_, bob := env.user(t, "bob", model.RoleUser)
	_, admin := env.user(t, "root", model.RoleAdmin)

	aliceSession := createSession(t, env, alice, map[string]any{"nom": "a"})
	createSession(t, env, bob, map[string]any{"nom": "b"})
	env.sessions.AddMeasures(context.Background(), aliceSession, []model.Measure{{CapteurID: 1, Value: 2, Timestamp: fixedNow}})

	list := func(token string) []model.Session {
		rec := env.do(t, http.MethodGet, "/api/sessions", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		return decode[struct {
			Data []model.Session `json:"data"`
		}](t, rec).Data
	}

	if got := list(alice); len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("alice should only see her session, got %+v", got)
	}
	if got := list(admin); len(got) != 2 {
		t.Fatalf("admin should see every session, got %d", len(got))
	}

	path := pathf("/api/session/%d", aliceSession)
	rec := env.do(t, http.MethodGet, path, alice, nil)
	if body := decode[sessionBody](t, rec); len(body.Data.Measures) != 1 {
		t.Fatalf("expected session measures, got %+v", body.Data)
	}

	if rec := env.do(t, http.MethodGet, path, bob, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, path, admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected admin access, got %d", rec.Code)
	}
}
