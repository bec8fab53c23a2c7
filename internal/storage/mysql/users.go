package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/speedwagon-io/vmc/internal/model"
	"github.com/speedwagon-io/vmc/internal/storage"
)

const selectUser = `SELECT id_utilisateur, nom, mot_de_passe, role, COALESCE(token, '') FROM Utilisateur`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts the user and returns its id. A taken login yields storage.ErrUserExists.
func (r *UserRepository) Create(ctx context.Context, user *model.User) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO Utilisateur (nom, mot_de_passe, role, token) VALUES (?, ?, ?, ?)`,
		user.Login, user.PasswordHash, user.Role, nullString(user.Token),
	)
	if err != nil {
		if isDuplicate(err) {
			return 0, storage.ErrUserExists
		}
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read user id: %w", err)
	}
	return id, nil
}

func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*model.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectUser+` WHERE nom = ?`, login))
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectUser+` WHERE id_utilisateur = ?`, id))
}

func (r *UserRepository) scanOne(row *sql.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Role, &u.Token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// UpdateToken stores the current token; an empty token clears it.
func (r *UserRepository) UpdateToken(ctx context.Context, id int64, token string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE Utilisateur SET token = ? WHERE id_utilisateur = ?`, nullString(token), id,
	); err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM Utilisateur WHERE id_utilisateur = ?`, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (r *UserRepository) Token(ctx context.Context, id int64) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(token, '') FROM Utilisateur WHERE id_utilisateur = ?`, id,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return token, nil
}
