// Package database manages the PostgreSQL connection pool and schema for the
// notification archive.
package database
