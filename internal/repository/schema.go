package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schemaDDL is deliberately restricted to TEXT/INTEGER columns so the same
// statements run on both Postgres and sqlite. Timestamps are RFC3339 strings,
// content hashes are hex strings, JSON payloads are serialized text.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	filename          TEXT NOT NULL,
	file_ext          TEXT NOT NULL,
	source_path       TEXT NOT NULL,
	file_size         INTEGER NOT NULL DEFAULT 0,
	content_hash      TEXT NOT NULL,
	status            TEXT NOT NULL,
	supplier_name     TEXT,
	invoice_number    TEXT,
	invoice_date      TEXT,
	due_date          TEXT,
	total_amount      TEXT,
	tax_amount        TEXT,
	currency_code     TEXT,
	tax_id            TEXT,
	notes             TEXT,
	ocr_tier          INTEGER,
	raw_text          TEXT,
	llm_log           TEXT,
	error_message     TEXT,
	exception_kind    TEXT,
	exception_details TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_content_hash ON documents (content_hash);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status);

CREATE TABLE IF NOT EXISTS line_entries (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents (id),
	label       TEXT NOT NULL,
	amount      TEXT,
	entry_type  TEXT NOT NULL,
	position    INTEGER NOT NULL,
	attributes  TEXT
);

CREATE INDEX IF NOT EXISTS idx_line_entries_document ON line_entries (document_id, position);
`

// Migrate applies the schema. Safe to call repeatedly.
// Statements are executed one at a time; drivers using the extended query
// protocol reject multi-statement strings.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaDDL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
