package storage

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates GIN indexes ent's schema DSL can't express:
// JSONB containment queries on job input/output and provenance debug
// payloads, used by operators filtering jobs/provenance by attribute.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_jobs_input_gin
		ON jobs USING gin(input)`)
	if err != nil {
		return fmt.Errorf("failed to create jobs input GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_jobs_output_gin
		ON jobs USING gin(output)`)
	if err != nil {
		return fmt.Errorf("failed to create jobs output GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_provenance_records_debug_payload_gin
		ON provenance_records USING gin(debug_payload)`)
	if err != nil {
		return fmt.Errorf("failed to create provenance debug_payload GIN index: %w", err)
	}

	return nil
}
