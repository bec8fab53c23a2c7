package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/speedwagon-io/vmc/internal/auth"
	"github.com/speedwagon-io/vmc/internal/collector"
	"github.com/speedwagon-io/vmc/internal/model"
	"github.com/speedwagon-io/vmc/internal/websocket"
)

const defaultReadTimeout = 5 * time.Second

type UserStore interface {
	Create(ctx context.Context, user *model.User) (int64, error)
	GetByLogin(ctx context.Context, login string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	UpdateToken(ctx context.Context, id int64, token string) error
	Token(ctx context.Context, id int64) (string, error)
	Delete(ctx context.Context, id int64) error
}

type SessionStore interface {
	Create(ctx context.Context, s *model.Session) (int64, error)
	Get(ctx context.Context, id int64) (*model.Session, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Session, error)
	ListAll(ctx context.Context) ([]model.Session, error)
	AddMeasures(ctx context.Context, sessionID int64, measures []model.Measure) (int, error)
	End(ctx context.Context, id int64, at time.Time) error
	Measures(ctx context.Context, sessionID int64) ([]model.Measure, error)
}

type SensorReader interface {
	Collect(ctx context.Context) (*collector.CollectedData, error)
}

type LatestProvider interface {
	Latest(ctx context.Context) (*model.Snapshot, error)
}

// SensorValues returns the last cached value of a single sensor.
type SensorValues interface {
	LatestValue(ctx context.Context, capteurID int) (float64, bool, error)
}

type RecentSnapshots interface {
	GetRecent(count int) []*model.Snapshot
}

type ArchiveReader interface {
	History(ctx context.Context, capteurID int, since time.Time) ([]model.Measure, error)
}

// Deps wires the handler. Values, Archive and Hub are optional.
type Deps struct {
	Log            *slog.Logger
	Auth           *auth.Manager
	Users          UserStore
	Sessions       SessionStore
	Reader         SensorReader
	Latest         LatestProvider
	Values         SensorValues
	Recent         RecentSnapshots
	Archive        ArchiveReader
	Hub            *websocket.Hub
	BcryptCost     int
	SecureCookie   bool
	ReadTimeout    time.Duration
	AllowedOrigins []string
}

type Handler struct {
	log          *slog.Logger
	auth         *auth.Manager
	users        UserStore
	sessions     SessionStore
	reader       SensorReader
	latest       LatestProvider
	values       SensorValues
	recent       RecentSnapshots
	archive      ArchiveReader
	hub          *websocket.Hub
	upgrader     gws.Upgrader
	bcryptCost   int
	secureCookie bool
	readTimeout  time.Duration
	origins      []string
	now          func() time.Time
}

func NewHandler(d Deps) *Handler {
	readTimeout := d.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	h := &Handler{
		log:          d.Log,
		auth:         d.Auth,
		users:        d.Users,
		sessions:     d.Sessions,
		reader:       d.Reader,
		latest:       d.Latest,
		values:       d.Values,
		recent:       d.Recent,
		archive:      d.Archive,
		hub:          d.Hub,
		bcryptCost:   d.BcryptCost,
		secureCookie: d.SecureCookie,
		readTimeout:  readTimeout,
		origins:      d.AllowedOrigins,
		now:          time.Now,
	}

	origins := d.AllowedOrigins
	h.upgrader = gws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}

	return h
}
