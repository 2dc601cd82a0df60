package leafdb

import "github.com/maruel/ksid"

// NewID returns a new unique identifier.
//
// Identifiers are time-sortable within a process.
func NewID() string {
	return ksid.NewID().String()
}
