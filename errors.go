package multimap

import "github.com/calvinalkan/multimap/internal/engine"

// Sentinel errors returned by multimap operations.
//
// Callers should use errors.Is to classify:
//
//	if errors.Is(err, multimap.ErrNotFound) {
//	    // create the map or report it missing
//	}
var (
	// ErrNotFound indicates a missing map directory, descriptor, or
	// partition file that must exist.
	ErrNotFound = engine.ErrNotFound

	// ErrAlreadyExists indicates the map exists although
	// [Options.ErrorIfExists] was set.
	ErrAlreadyExists = engine.ErrAlreadyExists

	// ErrCorrupt indicates inconsistent descriptor, stats, map, or store
	// files.
	//
	// Recovery: restore from a backup or rebuild via import.
	ErrCorrupt = engine.ErrCorrupt

	// ErrIncompatible indicates the map was written by an incompatible
	// library version.
	ErrIncompatible = engine.ErrIncompatible

	// ErrInvalidArgument indicates out-of-range keys or values, or
	// malformed options.
	//
	// This is a programming error.
	ErrInvalidArgument = engine.ErrInvalidArgument

	// ErrReadOnly indicates a write operation on a map opened with
	// [Options.ReadOnly].
	ErrReadOnly = engine.ErrReadOnly

	// ErrLocked indicates the map directory is open in another process.
	ErrLocked = engine.ErrLocked

	// ErrClosed indicates the map has already been closed.
	//
	// This is a programming error.
	ErrClosed = engine.ErrClosed
)
