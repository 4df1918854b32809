package crdt

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// SeedSite is the site name used for characters produced by FromText. Every
// replica seeded from the same text ends up with the same identifiers.
const SeedSite = "~seed"

var (
	// ErrInvalidOp is returned when an operation is malformed.
	ErrInvalidOp = errors.New("invalid operation")
	// ErrOutOfRange is returned when a local edit addresses a position outside the document.
	ErrOutOfRange = errors.New("position out of range")
	// ErrPendingOverflow is returned when too many operations wait for missing dependencies.
	ErrPendingOverflow = errors.New("too many pending operations")
)

// ID identifies a single inserted character across all replicas.
type ID struct {
	Clock uint64 `json:"clock"`
	Site  string `json:"site"`
}

// IsZero reports whether id is the document head.
func (id ID) IsZero() bool {
	return id.Clock == 0 && id.Site == ""
}

// After reports whether id sorts before other among siblings, i.e. whether
// id was produced later (higher clock, ties broken by site).
func (id ID) After(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock > other.Clock
	}
	return id.Site > other.Site
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%s", id.Clock, id.Site)
}

// OpKind is the type of an operation.
type OpKind string

const (
	// OpInsert places one rune to the right of Origin.
	OpInsert OpKind = "insert"
	// OpDelete tombstones the character identified by ID.
	OpDelete OpKind = "delete"
)

// Op is a single replicated edit.
type Op struct {
	Kind   OpKind `json:"kind"`
	ID     ID     `json:"id"`
	Origin ID     `json:"origin"`
	Value  string `json:"value,omitempty"`
}

// Validate checks the structural shape of op.
func (op Op) Validate() error {
	switch op.Kind {
	case OpInsert:
		if op.ID.IsZero() || op.ID.Clock == 0 {
			return fmt.Errorf("%w: insert without id", ErrInvalidOp)
		}
		if utf8.RuneCountInString(op.Value) != 1 || !utf8.ValidString(op.Value) {
			return fmt.Errorf("%w: insert must carry exactly one rune", ErrInvalidOp)
		}
	case OpDelete:
		if op.ID.IsZero() {
			return fmt.Errorf("%w: delete without target", ErrInvalidOp)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOp, op.Kind)
	}
	return nil
}
