package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/speedwagon-io/vmc/internal/auth"
	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/model"
	"github.com/speedwagon-io/vmc/internal/storage"
)

const defaultSessionInterval = 30

type createSessionRequest struct {
	Name        string `json:"nom"`
	Description string `json:"description"`
	Start       string `json:"date_debut"`
	Interval    *int   `json:"intervalle"`
}

type sessionDataRequest struct {
	Data []model.Measure `json:"data"`
}

type endSessionRequest struct {
	End string `json:"date_fin"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	var errs []FieldError
	session := &model.Session{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Start:       h.now().UTC().Truncate(time.Second),
		Interval:    defaultSessionInterval,
	}

	if session.Name == "" {
		errs = append(errs, FieldError{Field: "nom", Message: "name is required"})
	}
	if req.Start != "" {
		start, err := parseDateTime(req.Start)
		if err != nil {
			errs = append(errs, FieldError{Field: "date_debut", Message: "expected YYYY-MM-DD HH:MM:SS or RFC 3339"})
		}
		session.Start = start.UTC()
	}
	if req.Interval != nil {
		if *req.Interval <= 0 {
			errs = append(errs, FieldError{Field: "intervalle", Message: "interval must be a positive number of seconds"})
		}
		session.Interval = *req.Interval
	}
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	session.UserID = claims.UserID

	id, err := h.sessions.Create(r.Context(), session)
	if err != nil {
		h.log.Error("failed to create session", slog.Int64("user_id", claims.UserID), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.log.Info("session created", slog.Int64("session_id", id), slog.Int64("user_id", claims.UserID))
	writeJSON(w, http.StatusCreated, dataResponse{
		Message: "session created",
		Data:    map[string]int64{"session_id": id},
	})
}

// loadSession fetches the session and enforces access. Admins may read any session
// but only the owner may modify it.
func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request, write bool) (*model.Session, bool) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}

	session, err := h.sessions.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		h.log.Error("failed to load session", slog.Int64("session_id", id), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	owner := session.UserID == claims.UserID
	if !owner && (write || !claims.IsAdmin()) {
		writeError(w, http.StatusForbidden, "access denied")
		return nil, false
	}

	return session, true
}

func (h *Handler) AddSessionData(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r, true)
	if !ok {
		return
	}

	var req sessionDataRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if len(req.Data) == 0 {
		writeValidation(w, []FieldError{{Field: "data", Message: "at least one measure is required"}})
		return
	}

	now := h.now().UTC()
	for i := range req.Data {
		if req.Data[i].CapteurID <= 0 {
			writeValidation(w, []FieldError{{Field: "data.capteur_id", Message: "sensor id must be positive"}})
			return
		}
		if req.Data[i].Timestamp.IsZero() {
			req.Data[i].Timestamp = now
		}
	}

	if session.Ended() {
		writeError(w, http.StatusConflict, "session already ended")
		return
	}

	inserted, err := h.sessions.AddMeasures(r.Context(), session.ID, req.Data)
	switch {
	case errors.Is(err, storage.ErrSessionEnded):
		writeError(w, http.StatusConflict, "session already ended")
		return
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		h.log.Error("failed to store measures", slog.Int64("session_id", session.ID), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, dataResponse{
		Message: "measures recorded",
		Data:    map[string]int{"inserted": inserted},
	})
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r, true)
	if !ok {
		return
	}

	var req endSessionRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	end := h.now().UTC().Truncate(time.Second)
	if req.End != "" {
		t, err := parseDateTime(req.End)
		if err != nil {
			writeValidation(w, []FieldError{{Field: "date_fin", Message: "expected YYYY-MM-DD HH:MM:SS or RFC 3339"}})
			return
		}
		end = t.UTC()
	}

	if session.Ended() {
		writeError(w, http.StatusConflict, "session already ended")
		return
	}
	if end.Before(session.Start) {
		writeValidation(w, []FieldError{{Field: "date_fin", Message: "end must not precede start"}})
		return
	}

	err := h.sessions.End(r.Context(), session.ID, end)
	switch {
	case errors.Is(err, storage.ErrSessionEnded):
		writeError(w, http.StatusConflict, "session already ended")
		return
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		h.log.Error("failed to end session", slog.Int64("session_id", session.ID), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	session.End = &end
	writeJSON(w, http.StatusOK, dataResponse{Message: "session ended", Data: session})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var (
		sessions []model.Session
		err      error
	)
	if claims.IsAdmin() {
		sessions, err = h.sessions.ListAll(r.Context())
	} else {
		sessions, err = h.sessions.ListByUser(r.Context(), claims.UserID)
	}
	if err != nil {
		h.log.Error("failed to list sessions", slog.Int64("user_id", claims.UserID), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}

	writeJSON(w, http.StatusOK, dataResponse{Data: sessions})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r, false)
	if !ok {
		return
	}

	measures, err := h.sessions.Measures(r.Context(), session.ID)
	if err != nil {
		h.log.Error("failed to load measures", slog.Int64("session_id", session.ID), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	session.Measures = measures

	writeJSON(w, http.StatusOK, dataResponse{Data: session})
}
