package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the registry, client, match and geocode cache tables if missing.
// Every statement is idempotent so it is safe to run before each command.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	// lib/pq runs a multi-statement string through the simple query protocol
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Printf("Schema up to date")
	return nil
}
