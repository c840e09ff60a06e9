// Package pg provides PostgreSQL plumbing shared by the stores: pgxpool
// connection with retry, a health probe, goose migration running, and
// SQLSTATE classification helpers used to map constraint violations to
// domain errors.
package pg
