// Package store persists users, canvases, rights, and canvas event history
// to Postgres via sqlx, and defines the narrow CanvasStore interface the
// streaming side depends on so it can be exercised against an in-memory
// fake in tests instead of a live database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"canvashub/internal/models"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// CanvasStore is the access-control and history surface the streaming
// connection handler depends on. Kept separate from the full Store
// so tests can substitute a lightweight fake.
type CanvasStore interface {
	// GetAccess reports the right a user holds on a canvas and whether the
	// canvas is currently moderated. ok is false if the user has no
	// assigned right on that canvas.
	GetAccess(ctx context.Context, canvasID, userID string) (right models.Right, moderated bool, ok bool, err error)
	// ReadHistory returns every previously-appended event blob for a
	// canvas, oldest first.
	ReadHistory(ctx context.Context, canvasID string) ([]string, error)
	// AppendEvent durably records a new event blob for a canvas.
	AppendEvent(ctx context.Context, canvasID string, blob string) error
}

// Store is the Postgres-backed implementation of CanvasStore plus the
// account and rights management operations the control plane needs.
type Store struct {
	db *sqlx.DB
}

// Open connects to databaseURL and verifies connectivity.
func Open(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: failed to connect: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to ping: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB builds a Store atop an already-opened sqlx.DB, used by tests
// (including those of other packages) to wire a sqlmock-backed Store
// without going through Open's real Postgres dial.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every pending migration found under migrationsPath. It is
// not an error for the database to already be up to date.
func (s *Store) Migrate(databaseURL, migrationsPath string) error {
	sourceURL := fmt.Sprintf("file://%s", migrationsPath)
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("store: failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("store: failed to read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("store: database is at version %d but marked dirty", version)
	}
	return nil
}

// GetAccess implements CanvasStore.
func (s *Store) GetAccess(ctx context.Context, canvasID, userID string) (models.Right, bool, bool, error) {
	var right models.Right
	err := s.db.GetContext(ctx, &right,
		`SELECT "right" FROM user_canvas WHERE canvas_id = $1 AND user_id = $2`,
		canvasID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, fmt.Errorf("store: get access: %w", err)
	}

	var moderated bool
	if err := s.db.GetContext(ctx, &moderated,
		`SELECT moderated FROM canvas WHERE id = $1`, canvasID); err != nil {
		return "", false, false, fmt.Errorf("store: get canvas moderation: %w", err)
	}

	return right, moderated, true, nil
}

// ReadHistory implements CanvasStore. The returned slice is never nil, even
// for a canvas with no events, so it always marshals to a JSON array rather
// than null.
func (s *Store) ReadHistory(ctx context.Context, canvasID string) ([]string, error) {
	blobs := []string{}
	err := s.db.SelectContext(ctx, &blobs,
		`SELECT blob FROM canvas_events WHERE canvas_id = $1 ORDER BY sequence ASC`,
		canvasID)
	if err != nil {
		return nil, fmt.Errorf("store: read history: %w", err)
	}
	return blobs, nil
}

// AppendEvent implements CanvasStore.
func (s *Store) AppendEvent(ctx context.Context, canvasID string, blob string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO canvas_events (canvas_id, blob) VALUES ($1, $2)`,
		canvasID, blob)
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// CreateUser inserts a new account.
func (s *Store) CreateUser(ctx context.Context, user models.User) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO users (id, email, display_name, hashed_password, created_at)
		 VALUES (:id, :email, :display_name, :hashed_password, :created_at)`,
		user)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// GetUserByEmail looks up an account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("store: get user by email: %w", err)
	}
	return user, nil
}

// GetUserByID looks up an account by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("store: get user by id: %w", err)
	}
	return user, nil
}

// CreateCanvas inserts a new canvas owned, at creation, solely by its
// creator (caller is expected to also call SetRight with RightOwner).
func (s *Store) CreateCanvas(ctx context.Context, canvas models.Canvas) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO canvas (id, moderated, created_at) VALUES (:id, :moderated, :created_at)`,
		canvas)
	if err != nil {
		return fmt.Errorf("store: create canvas: %w", err)
	}
	return nil
}

// SetRight upserts a user's right on a canvas.
func (s *Store) SetRight(ctx context.Context, canvasID, userID string, right models.Right) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_canvas (canvas_id, user_id, "right") VALUES ($1, $2, $3)
		 ON CONFLICT (canvas_id, user_id) DO UPDATE SET "right" = EXCLUDED."right"`,
		canvasID, userID, right)
	if err != nil {
		return fmt.Errorf("store: set right: %w", err)
	}
	return nil
}

// RevokeRight removes a user's right on a canvas entirely.
func (s *Store) RevokeRight(ctx context.Context, canvasID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_canvas WHERE canvas_id = $1 AND user_id = $2`, canvasID, userID)
	if err != nil {
		return fmt.Errorf("store: revoke right: %w", err)
	}
	return nil
}

// SetModerated toggles a canvas's moderated flag.
func (s *Store) SetModerated(ctx context.Context, canvasID string, moderated bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE canvas SET moderated = $1 WHERE id = $2`, moderated, canvasID)
	if err != nil {
		return fmt.Errorf("store: set moderated: %w", err)
	}
	return nil
}

// GetCanvas looks up a canvas by ID.
func (s *Store) GetCanvas(ctx context.Context, id string) (models.Canvas, error) {
	var canvas models.Canvas
	err := s.db.GetContext(ctx, &canvas, `SELECT * FROM canvas WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Canvas{}, ErrNotFound
	}
	if err != nil {
		return models.Canvas{}, fmt.Errorf("store: get canvas: %w", err)
	}
	return canvas, nil
}

// ListCanvasIDs returns every canvas ID known to the store, used by the
// snapshot archiver to enumerate what to back up.
func (s *Store) ListCanvasIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM canvas`); err != nil {
		return nil, fmt.Errorf("store: list canvas ids: %w", err)
	}
	return ids, nil
}
