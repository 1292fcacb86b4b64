package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/errors"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists installations and PKCE states in MySQL, in the
// oauth_installations and oauth_states tables.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens the database, verifies the connection and ensures the
// schema exists.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	if dsn == "" {
		return nil, errors.New("mysql DSN must not be empty")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening mysql")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connecting to mysql")
	}
	store := &MySQLStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oauth_installations (
			session_id       VARCHAR(64) PRIMARY KEY,
			access_token     TEXT NOT NULL,
			refresh_token    TEXT,
			token_expires_at DATETIME,
			scopes           TEXT,
			updated_at       DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_states (
			state         VARCHAR(64) PRIMARY KEY,
			code_verifier VARCHAR(128) NOT NULL,
			created_at    DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "applying oauth schema")
		}
	}
	return nil
}

func (s *MySQLStore) UpsertInstallation(ctx context.Context, inst Installation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_installations
			(session_id, access_token, refresh_token, token_expires_at, scopes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			access_token = VALUES(access_token),
			refresh_token = VALUES(refresh_token),
			token_expires_at = VALUES(token_expires_at),
			scopes = VALUES(scopes),
			updated_at = VALUES(updated_at)`,
		inst.SessionID, inst.AccessToken, inst.RefreshToken, inst.TokenExpiresAt, inst.Scopes, time.Now())
	return errors.Wrapf(err, "upserting installation")
}

func (s *MySQLStore) FindInstallation(ctx context.Context, sessionID string) (Installation, bool, error) {
	var inst Installation
	var expires, updated sql.NullTime
	var refresh, scopes sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, access_token, refresh_token, token_expires_at, scopes, updated_at
		FROM oauth_installations WHERE session_id = ?`, sessionID).
		Scan(&inst.SessionID, &inst.AccessToken, &refresh, &expires, &scopes, &updated)
	if err == sql.ErrNoRows {
		return Installation{}, false, nil
	}
	if err != nil {
		return Installation{}, false, errors.Wrapf(err, "loading installation")
	}
	inst.RefreshToken = refresh.String
	inst.Scopes = scopes.String
	if expires.Valid {
		inst.TokenExpiresAt = expires.Time
	}
	if updated.Valid {
		inst.UpdatedAt = updated.Time
	}
	return inst, true, nil
}

func (s *MySQLStore) SaveState(ctx context.Context, st State) error {
	created := st.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_states (state, code_verifier, created_at) VALUES (?, ?, ?)`,
		st.State, st.CodeVerifier, created)
	return errors.Wrapf(err, "saving oauth state")
}

func (s *MySQLStore) TakeState(ctx context.Context, state string) (State, bool, error) {
	var st State
	err := s.db.QueryRowContext(ctx,
		`SELECT state, code_verifier, created_at FROM oauth_states WHERE state = ?`, state).
		Scan(&st.State, &st.CodeVerifier, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, errors.Wrapf(err, "loading oauth state")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE state = ?`, state); err != nil {
		return State{}, false, errors.Wrapf(err, "deleting oauth state")
	}
	return st, true, nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
