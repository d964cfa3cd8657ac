// Package sqlite stores the kiosk user directory and session summaries.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/report"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/session"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// ErrUserNotFound is returned when a summary references an unknown user.
var ErrUserNotFound = errors.New("user not found")

// Store persists users and experiences in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One session at a time; a single connection keeps pragmas uniform.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// ListUsers returns every user by ascending id.
func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id, name, role, mac_address, image_path FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		var (
			u    user.User
			role string
		)
		if err := rows.Scan(&u.ID, &u.Name, &role, &u.DeviceAddress, &u.ReferenceImagePath); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = user.ParseRole(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// CreateUser inserts u and returns its id. Names are not unique.
func (s *Store) CreateUser(ctx context.Context, u user.User) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	name := strings.TrimSpace(u.Name)
	if name == "" {
		return 0, fmt.Errorf("user name is required")
	}
	role := u.Role
	if role == "" {
		role = user.Kid
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (name, role, mac_address, image_path) VALUES (?, ?, ?, ?)`,
		name, string(role), strings.TrimSpace(u.DeviceAddress), u.ReferenceImagePath,
	)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create user id: %w", err)
	}
	return id, nil
}

// SeedKnownUsers inserts the enrolled users whose names are not stored yet
// and reports how many rows were added.
func (s *Store) SeedKnownUsers(ctx context.Context) (int, error) {
	existing, err := s.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		have[u.Name] = struct{}{}
	}

	added := 0
	for _, u := range user.Seed() {
		if _, ok := have[u.Name]; ok {
			continue
		}
		if _, err := s.CreateUser(ctx, u); err != nil {
			return added, fmt.Errorf("seed %s: %w", u.Name, err)
		}
		added++
	}
	return added, nil
}

// SaveSummary appends one experience row.
func (s *Store) SaveSummary(ctx context.Context, summary session.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO experiences (user_id, average_emotion) VALUES (?, ?)`,
		summary.UserID, string(summary.DominantEmotion),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("save summary for user %d: %w", summary.UserID, ErrUserNotFound)
		}
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// ListSummaries joins every experience with its user's name in insertion order.
func (s *Store) ListSummaries(ctx context.Context) ([]report.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT e.user_id, COALESCE(e.average_emotion, ''), u.name
		FROM experiences e
		JOIN users u ON e.user_id = u.user_id
		ORDER BY e.experience_id`)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []report.Row
	for rows.Next() {
		var row report.Row
		if err := rows.Scan(&row.UserID, &row.DominantEmotion, &row.Username); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return out, nil
}

// TeacherReport builds the ordered username to emotion report.
func (s *Store) TeacherReport(ctx context.Context) (*report.Report, error) {
	rows, err := s.ListSummaries(ctx)
	if err != nil {
		return nil, err
	}
	return report.FromRows(rows), nil
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}

var _ user.Lister = (*Store)(nil)
