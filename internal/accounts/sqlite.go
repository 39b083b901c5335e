package accounts

import (
	"context"
	"fmt"

	"gas/internal/sqlitedb"
)

var sqliteSchema = sqlitedb.Schema{Name: "accounts", Version: 1, SQL: profileTableSQL}

// OpenSQLite opens the profile directory stored in a SQLite file.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	db, err := sqlitedb.Open(ctx, path, sqliteSchema)
	if err != nil {
		return nil, fmt.Errorf("open accounts: %w", err)
	}
	return &sqlStore{db: db.DB, close: db.Close}, nil
}
