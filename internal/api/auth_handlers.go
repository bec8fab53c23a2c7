package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/speedwagon-io/vmc/internal/auth"
	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/model"
	"github.com/speedwagon-io/vmc/internal/storage"
)

const (
	minLoginLength    = 3
	minPasswordLength = 6
)

type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type userView struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Role  string `json:"role"`
}

func (c *credentials) validate(register bool) []FieldError {
	var errs []FieldError

	c.Login = strings.TrimSpace(c.Login)
	switch {
	case c.Login == "":
		errs = append(errs, FieldError{Field: "login", Message: "login is required"})
	case register && utf8.RuneCountInString(c.Login) < minLoginLength:
		errs = append(errs, FieldError{Field: "login", Message: "login must be at least 3 characters"})
	}

	switch {
	case c.Password == "":
		errs = append(errs, FieldError{Field: "password", Message: "password is required"})
	case register && utf8.RuneCountInString(c.Password) < minPasswordLength:
		errs = append(errs, FieldError{Field: "password", Message: "password must be at least 6 characters"})
	}

	if register {
		if c.Role == "" {
			c.Role = model.RoleUser
		}
		if c.Role != model.RoleUser && c.Role != model.RoleAdmin {
			errs = append(errs, FieldError{Field: "role", Message: "role must be user or admin"})
		}
	}

	return errs
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if errs := req.validate(true); len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	hash, err := auth.HashPassword(req.Password, h.bcryptCost)
	if err != nil {
		h.log.Error("failed to hash password", sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	user := &model.User{Login: req.Login, PasswordHash: hash, Role: req.Role}
	user.ID, err = h.users.Create(r.Context(), user)
	if errors.Is(err, storage.ErrUserExists) {
		writeError(w, http.StatusConflict, "user already exists")
		return
	}
	if err != nil {
		h.log.Error("failed to create user", slog.String("login", req.Login), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	token, ok := h.issueToken(w, r, user)
	if !ok {
		// drop the row so the same login can register again
		if err := h.users.Delete(r.Context(), user.ID); err != nil {
			h.log.Error("failed to remove half-registered user", slog.Int64("user_id", user.ID), sl.Err(err))
		}
		return
	}

	h.log.Info("user registered", slog.Int64("user_id", user.ID), slog.String("role", user.Role))
	writeJSON(w, http.StatusCreated, map[string]string{"message": "user created", "token": token})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if errs := req.validate(false); len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	user, err := h.users.GetByLogin(r.Context(), req.Login)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.log.Error("failed to load user", slog.String("login", req.Login), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, ok := h.issueToken(w, r, user)
	if !ok {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.auth.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, dataResponse{
		Message: "login successful",
		Data:    map[string]string{"token": token},
	})
}

// issueToken signs a token for the user and stores it as the current one.
func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request, user *model.User) (string, bool) {
	token, err := h.auth.Generate(user)
	if err != nil {
		h.log.Error("failed to generate token", slog.Int64("user_id", user.ID), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return "", false
	}

	if err := h.users.UpdateToken(r.Context(), user.ID, token); err != nil {
		h.log.Error("failed to store token", slog.Int64("user_id", user.ID), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return "", false
	}

	return token, true
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	if err := h.users.UpdateToken(r.Context(), claims.UserID, ""); err != nil {
		h.log.Error("failed to clear token", slog.Int64("user_id", claims.UserID), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          userView{ID: claims.UserID, Login: claims.Login, Role: claims.Role},
	})
}

func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	if claims.UserID != id && !claims.IsAdmin() {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	token, err := h.users.Token(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && token == "") {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	if err != nil {
		h.log.Error("failed to load token", slog.Int64("user_id", id), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
