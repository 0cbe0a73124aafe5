package engine

import (
	"errors"
	"fmt"
)

// ErrUnknownProvisional means a provisional identifier was asked for its
// real id before the owning wave flushed. Seeing it outside the engine is a
// wave-ordering bug.
var ErrUnknownProvisional = errors.New("unknown provisional identifier")

// ValidationError marks a discovered node that lacks a required field.
// Recoverable: the node is skipped and processing continues.
type ValidationError struct {
	Node   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: node %s: %s", e.Node, e.Reason)
}

// RefIntegrityError marks a candidate whose parent reference never
// resolved. Recoverable: the candidate and its subtree are discarded.
type RefIntegrityError struct {
	Node   string
	Parent string
}

func (e *RefIntegrityError) Error() string {
	return fmt.Sprintf("ref integrity: node %s: parent %s never resolved", e.Node, e.Parent)
}

// PersistenceError wraps a failed store round trip. Fatal for the current
// document: downstream waves cannot resolve and the run halts.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
