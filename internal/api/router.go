package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/speedwagon-io/vmc/internal/auth"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.log, h.auth, h.users))

			r.Post("/logout", h.Logout)
			r.Get("/check-auth", h.CheckAuth)
			r.Get("/get-token/{id}", h.GetToken)

			r.Get("/capteurs", h.ReadSensors)
			r.Get("/capteur", h.ReadSensors)
			r.Get("/capteurs/latest", h.LatestSnapshot)
			r.Get("/capteurs/history", h.RecentHistory)
			r.Get("/capteurs/{id}/latest", h.SensorLatest)
			r.Get("/capteurs/{id}/history", h.SensorHistory)

			r.Post("/session", h.CreateSession)
			r.Post("/session/{id}/data", h.AddSessionData)
			r.Put("/session/fin/{id}", h.EndSession)
			r.Get("/sessions", h.ListSessions)
			r.Get("/session/{id}", h.GetSession)

			if h.hub != nil {
				r.Get("/ws", h.ServeWS)
			}
		})
	})

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	log = log.With(slog.String("component", "http"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := log.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			start := time.Now()
			defer func() {
				entry.Info("request completed",
					slog.Int("status", ww.Status()),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
