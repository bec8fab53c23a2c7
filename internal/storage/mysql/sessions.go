package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/speedwagon-io/vmc/internal/model"
	"github.com/speedwagon-io/vmc/internal/storage"
)

const selectSession = `SELECT id_session, nom, COALESCE(description, ''), date_debut, date_fin, intervalle, id_utilisateur FROM SessionMesure`

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *model.Session) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO SessionMesure (nom, description, date_debut, intervalle, id_utilisateur) VALUES (?, ?, ?, ?, ?)`,
		s.Name, s.Description, s.Start.UTC(), s.Interval, s.UserID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read session id: %w", err)
	}
	return id, nil
}

func (r *SessionRepository) Get(ctx context.Context, id int64) (*model.Session, error) {
	rows, err := r.db.QueryContext(ctx, selectSession+` WHERE id_session = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, storage.ErrNotFound
	}
	return &sessions[0], nil
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID int64) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx, selectSession+` WHERE id_utilisateur = ? ORDER BY date_debut DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessions(rows)
}

func (r *SessionRepository) ListAll(ctx context.Context) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx, selectSession+` ORDER BY date_debut DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]model.Session, error) {
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		var (
			s   model.Session
			end sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Start, &end, &s.Interval, &s.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if end.Valid {
			t := end.Time
			s.End = &t
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// lockOpenSession locks the session row and fails when it is missing or ended.
func lockOpenSession(ctx context.Context, tx *sql.Tx, id int64) error {
	var end sql.NullTime
	err := tx.QueryRowContext(ctx,
		`SELECT date_fin FROM SessionMesure WHERE id_session = ? FOR UPDATE`, id,
	).Scan(&end)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock session: %w", err)
	}
	if end.Valid {
		return storage.ErrSessionEnded
	}
	return nil
}

// AddMeasures inserts all measures in one transaction and returns how many were written.
func (r *SessionRepository) AddMeasures(ctx context.Context, sessionID int64, measures []model.Measure) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockOpenSession(ctx, tx, sessionID); err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO Mesure (id_session, capteur_id, valeur, horodatage) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range measures {
		if _, err := stmt.ExecContext(ctx, sessionID, m.CapteurID, m.Value, m.Timestamp.UTC()); err != nil {
			return 0, fmt.Errorf("failed to insert measure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(measures), nil
}

// End closes the session at the given time. It fails with storage.ErrSessionEnded
// when the session was already closed.
func (r *SessionRepository) End(ctx context.Context, id int64, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockOpenSession(ctx, tx, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE SessionMesure SET date_fin = ? WHERE id_session = ?`, at.UTC(), id,
	); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SessionRepository) Measures(ctx context.Context, sessionID int64) ([]model.Measure, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT capteur_id, valeur, horodatage FROM Mesure WHERE id_session = ? ORDER BY horodatage, id_mesure`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query measures: %w", err)
	}
	defer rows.Close()

	measures := []model.Measure{}
	for rows.Next() {
		var m model.Measure
		if err := rows.Scan(&m.CapteurID, &m.Value, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan measure: %w", err)
		}
		measures = append(measures, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate measures: %w", err)
	}
	return measures, nil
}
