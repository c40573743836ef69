// Package db opens the job database (Postgres via pgx or an embedded SQLite file) and applies
// the schema migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"             // pure Go sqlite driver registered as 'sqlite'
)

// Dialect selects SQL syntax differences between the supported databases.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DialectFor infers the dialect from a DSN.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Connect opens the database named by dsn. Postgres URLs use pgx; anything else is treated as
// a SQLite path or file: URI, whose parent directory is created if needed.
func Connect(ctx context.Context, dsn string) (*sql.DB, Dialect, error) {
	dialect := DialectFor(dsn)
	if dialect == Postgres {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, dialect, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, dialect, fmt.Errorf("ping postgres: %w", err)
		}
		return db, dialect, nil
	}

	if path := sqlitePath(dsn); path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, dialect, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, dialect, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, dialect, fmt.Errorf("set pragma: %w", err)
		}
	}
	slog.Debug("sqlite database opened", slog.String("component", "db"), slog.String("dsn", dsn))
	return db, dialect, nil
}

func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

// Rebind rewrites '?' placeholders to '$n' for Postgres.
func Rebind(d Dialect, q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
