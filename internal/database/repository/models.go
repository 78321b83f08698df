package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Account represents an account row. Balance and Version are read-only here;
// internal/ledger is their only writer.
type Account struct {
	ID          string
	Name        string
	Institution string
	Currency    string
	Balance     decimal.Decimal
	Version     int64
	IsActive    bool
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category represents a category row.
type Category struct {
	ID        string
	Name      string
	DeletedAt *time.Time
}

// PendingDuplicate is an imported row queued for review against an existing
// transaction that looks the same.
type PendingDuplicate struct {
	ID            string
	TransactionID string
	ExistingID    string
	Similarity    float64
	Status        string
	CreatedAt     time.Time
}

const (
	DuplicatePending  = "pending"
	DuplicateKept     = "kept"
	DuplicateReplaced = "replaced"
)

// scanner handles both Row and Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
