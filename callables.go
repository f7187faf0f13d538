package multimap

import "bytes"

// Predicate decides whether a key or value matches. The slice is borrowed
// and only valid for the duration of the call.
type Predicate func(b []byte) bool

// Function maps a value to its replacement. Returning nil means "no
// replacement". The input slice is borrowed; the returned slice is copied
// by the caller.
type Function func(value []byte) []byte

// Procedure consumes a key or value. The slice is borrowed and only valid
// for the duration of the call.
type Procedure func(b []byte)

// EntryProcedure consumes a key together with an iterator over its
// values. The iterator is only valid for the duration of the call.
type EntryProcedure func(key []byte, it *Iterator)

// Equal returns a predicate matching byte-equality with b.
func Equal(b []byte) Predicate {
	return func(other []byte) bool { return bytes.Equal(other, b) }
}

// Contains returns a predicate matching slices that contain b.
func Contains(b []byte) Predicate {
	return func(other []byte) bool { return bytes.Contains(other, b) }
}

// StartsWith returns a predicate matching slices prefixed by b.
func StartsWith(b []byte) Predicate {
	return func(other []byte) bool { return bytes.HasPrefix(other, b) }
}

// EndsWith returns a predicate matching slices suffixed by b.
func EndsWith(b []byte) Predicate {
	return func(other []byte) bool { return bytes.HasSuffix(other, b) }
}

// Replacing returns a function that replaces values equal to old with new.
func Replacing(oldValue, newValue []byte) Function {
	return func(value []byte) []byte {
		if bytes.Equal(value, oldValue) {
			return newValue
		}

		return nil
	}
}
