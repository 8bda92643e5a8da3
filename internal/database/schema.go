package database

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// InitSchema creates the usage table when it is missing. Existence is checked
// first so a read-only role can still start against an initialized database.
func (db *DB) InitSchema(ctx context.Context) error {
	exists, err := db.tableExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		db.log.Debug().Msg("usage schema present")
		return nil
	}

	db.log.Info().Msg("creating usage schema")
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	return nil
}
