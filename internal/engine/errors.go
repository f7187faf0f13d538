package engine

import "errors"

// Error classification for the whole module.
//
// The root multimap package re-exports these sentinels; callers classify
// errors with errors.Is. Lower layers wrap them with context via fmt.Errorf
// and %w.
var (
	// ErrNotFound indicates a missing map directory, descriptor, or
	// partition file that must exist.
	ErrNotFound = errors.New("multimap: not found")

	// ErrAlreadyExists indicates a map is present although the caller
	// requested exclusive creation.
	ErrAlreadyExists = errors.New("multimap: already exists")

	// ErrCorrupt indicates inconsistent descriptor, stats, map, or store
	// files.
	ErrCorrupt = errors.New("multimap: corrupt")

	// ErrIncompatible indicates a version mismatch between the persisted
	// descriptor and this library.
	ErrIncompatible = errors.New("multimap: incompatible")

	// ErrInvalidArgument indicates out-of-range sizes or malformed options.
	//
	// This is a programming error.
	ErrInvalidArgument = errors.New("multimap: invalid argument")

	// ErrReadOnly indicates a write operation on a read-only-opened map.
	ErrReadOnly = errors.New("multimap: read-only")

	// ErrClosed indicates the map has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("multimap: closed")
)
