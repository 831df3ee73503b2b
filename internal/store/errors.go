package store

import "errors"

// Sentinel errors shared by all repository implementations.
var (
	// ErrConflict: the veterinarian already has a cita overlapping the
	// requested interval at write time.
	ErrConflict = errors.New("conflict")
	// ErrNotFound: no cita with the given id.
	ErrNotFound = errors.New("not found")
	// ErrIdempotencyConflict: a replayed id exists but with a
	// different pet, vet, interval or reason.
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
)
