// Package id generates collision-resistant identifiers for batches, buffered
// events and actions.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// PrefixLen is the number of leading characters of a batch id used in storage keys.
const PrefixLen = 8

// Generator produces identifiers. The zero value is ready to use.
//
// Batch ids are random (v4). Buffer and action ids are time-ordered (v7) so
// they sort in arrival order inside logs and storage objects.
type Generator struct{}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// BatchID returns a new random batch identifier.
func (g *Generator) BatchID() string {
	return uuid.NewString()
}

// BufferID returns a new time-ordered identifier for a buffered event.
func (g *Generator) BufferID() string {
	return newV7()
}

// ActionID returns a new time-ordered identifier for an ingested action.
func (g *Generator) ActionID() string {
	return newV7()
}

// RequestID returns a new request identifier.
func (g *Generator) RequestID() string {
	return uuid.NewString()
}

// Prefix returns the short form of an id used in storage keys. Hyphens are
// stripped so the prefix is always PrefixLen hex characters for UUIDs.
func Prefix(id string) string {
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) <= PrefixLen {
		return compact
	}
	return compact[:PrefixLen]
}

func newV7() string {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails; fall back to v4.
		return uuid.NewString()
	}
	return u.String()
}
