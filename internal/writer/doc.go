// Package writer archives notifications to Postgres in batches.
//
// The writer consumes the router's output buffer and inserts rows with
// pgx.Batch. Inserts are append-only and idempotent: a notification whose
// id already exists is skipped (ON CONFLICT DO NOTHING).
package writer
