package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"gas/internal/services"
)

// OpenPostgres connects to the profile directory in PostgreSQL and creates
// the profile table when it is missing.
func OpenPostgres(ctx context.Context, dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "accounts", "open", "accounts.dsn is required for postgres", nil)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open accounts database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to accounts database: %w", classifyPostgres(err))
	}
	if _, err := db.ExecContext(ctx, profileTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create profile table: %w", classifyPostgres(err))
	}
	return &sqlStore{db: db, numbered: true, classify: classifyPostgres}, nil
}

// classifyPostgres tags connection failures as transient and schema or
// privilege problems as configuration errors.
func classifyPostgres(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code.Class() {
	case "08", "53", "57":
		return fmt.Errorf("%w: %w", services.ErrTransient, err)
	case "28", "42":
		return fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	default:
		return err
	}
}
