package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "embed"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// migrate applies the embedded schema and records its version. A journal written by a
// newer build is refused rather than silently downgraded.
func migrate(ctx context.Context, db *sqlx.DB) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var stored string
	err = tx.GetContext(ctx, &stored, "SELECT value FROM metadata WHERE key = 'schema_version'")
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err = tx.ExecContext(ctx, "INSERT INTO metadata(key, value) VALUES('schema_version', ?)", strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	default:
		version, convErr := strconv.Atoi(stored)
		if convErr != nil {
			err = fmt.Errorf("parse schema version: %w", convErr)
			return err
		}
		if version > schemaVersion {
			err = fmt.Errorf("journal schema version %d is newer than supported %d", version, schemaVersion)
			return err
		}
	}

	return tx.Commit()
}
