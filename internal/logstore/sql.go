// Package logstore appends attendance records to a relational table or to Supabase.
package logstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"presence/internal/attendance"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Dialect selects SQL flavour and migration set.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// SQL stores records in the login_logs table.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps an open database of the given dialect.
func NewSQL(db *sql.DB, dialect Dialect) (*SQL, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}
	return &SQL{db: db, dialect: dialect}, nil
}

// Insert appends r. Records are never updated or deleted here.
func (s *SQL) Insert(ctx context.Context, r attendance.Record) error {
	if r.ID == "" {
		return errors.New("record id required")
	}
	var err error
	switch s.dialect {
	case Postgres:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO login_logs (id, employee_id, name, login_time, location, ip_address, photo_url)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, r.ID, r.EmployeeID, r.Name, r.LoginTime.UTC(), r.Location, r.IPAddress, r.PhotoURL)
	case SQLite:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO login_logs (id, employee_id, name, login_time, location, ip_address, photo_url)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.EmployeeID, r.Name, r.LoginTimeISO(), r.Location, r.IPAddress, r.PhotoURL)
	}
	if err != nil {
		return fmt.Errorf("insert login log: %w", err)
	}
	return nil
}

// Migrate applies the embedded migrations for dialect and returns how many ran.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) (int, error) {
	var gd goose.Dialect
	switch dialect {
	case Postgres:
		gd = goose.DialectPostgres
	case SQLite:
		gd = goose.DialectSQLite3
	default:
		return 0, fmt.Errorf("unknown dialect %q", dialect)
	}
	sub, err := fs.Sub(migrations, "migrations/"+string(dialect))
	if err != nil {
		return 0, err
	}
	provider, err := goose.NewProvider(gd, db, sub)
	if err != nil {
		return 0, err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return len(results), nil
}
