// Package model defines shared data types used across the notifier.
//
// Conventions:
//   - Timestamps: int64 microseconds since Unix epoch
//   - IDs: uuid.UUID, derived from the server's id when one is present
package model
