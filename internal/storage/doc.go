// Package storage persists scheduled requests.
//
// The store is the single source of truth for a request's lifecycle: a row is
// created by the submission path, advanced by the reconciliation loop
// (mark-posted, then removed) and never regresses. All instants are stored as
// unix seconds; callers compare absolute times only.
package storage
