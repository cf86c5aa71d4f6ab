// Package pgstore implements [record.Store] and [record.Membership] on
// PostgreSQL through pgx.
//
// Masks live in a BIGINT column. Or and AndNot lock the row and apply the
// bitwise update in one statement; a missing row is created with
// INSERT ... ON CONFLICT DO NOTHING and the update is retried if another
// writer created it first. DeleteIfZero is a single conditional DELETE.
// Call [Migrate] once to create the tables.
package pgstore
