package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"github.com/speedwagon-io/vmc/internal/config"
)

const errDuplicateEntry = 1062

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS Utilisateur (
		id_utilisateur INT AUTO_INCREMENT PRIMARY KEY,
		nom            VARCHAR(255) NOT NULL UNIQUE,
		mot_de_passe   VARCHAR(255) NOT NULL,
		role           VARCHAR(32)  NOT NULL DEFAULT 'user',
		token          TEXT         NULL
	)`,
	`CREATE TABLE IF NOT EXISTS SessionMesure (
		id_session     INT AUTO_INCREMENT PRIMARY KEY,
		nom            VARCHAR(255) NOT NULL,
		description    TEXT         NULL,
		date_debut     DATETIME     NOT NULL,
		date_fin       DATETIME     NULL,
		intervalle     INT          NOT NULL DEFAULT 30,
		id_utilisateur INT          NOT NULL,
		INDEX idx_session_user (id_utilisateur),
		FOREIGN KEY (id_utilisateur) REFERENCES Utilisateur (id_utilisateur) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS Mesure (
		id_mesure  BIGINT AUTO_INCREMENT PRIMARY KEY,
		id_session INT         NOT NULL,
		capteur_id INT         NOT NULL,
		valeur     DOUBLE      NOT NULL,
		horodatage DATETIME(3) NOT NULL,
		INDEX idx_mesure_session (id_session, horodatage),
		FOREIGN KEY (id_session) REFERENCES SessionMesure (id_session) ON DELETE CASCADE
	)`,
}

// DSN builds a driver DSN that parses DATETIME columns as UTC time.Time.
func DSN(cfg *config.MySQLConfig) string {
	dc := mysqldrv.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = cfg.Host + ":" + strconv.Itoa(cfg.Port)
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	return dc.FormatDSN()
}

func Open(ctx context.Context, cfg *config.MySQLConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate mysql: %w", err)
		}
	}
	return nil
}

func isDuplicate(err error) bool {
	var me *mysqldrv.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
