// Package uuid wraps github.com/google/uuid so identifiers have one home in
// the codebase and callers never import the third-party package directly.
package uuid

import "github.com/google/uuid"

// UUID is a 128 bit (16 byte) Universal Unique IDentifier.
type UUID = uuid.UUID

// Nil is the empty UUID, all zeros.
var Nil = uuid.Nil

// New returns a random (version 4) UUID. It panics if the system's random
// source fails, which google/uuid treats as unrecoverable.
func New() UUID { return uuid.New() }

// Parse decodes s into a UUID or returns an error.
func Parse(s string) (UUID, error) { return uuid.Parse(s) }

// MustParse is like Parse but panics if the string cannot be parsed.
func MustParse(s string) UUID { return uuid.MustParse(s) }
