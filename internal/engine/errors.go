package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while fetching a collection.
//
// Expression errors (unknown properties, bad arguments) are ir.Error values
// and pass through unchanged; RuntimeError covers the engine's own
// failures:
//   - Missing store: a query collection was fetched without a database
//   - Missing entity: a row id has no entity in the identity map
//   - Unknown aggregate: Aggregate was called with a non-aggregate function
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// CollectionID identifies the affected collection.
	CollectionID string

	// Entity is the root entity of the collection.
	Entity string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNoStore indicates a query collection has no store to run on.
	ErrCodeNoStore RuntimeErrorCode = "NO_STORE"

	// ErrCodeNotLoaded indicates a fetched id has no loaded entity.
	ErrCodeNotLoaded RuntimeErrorCode = "NOT_LOADED"

	// ErrCodeUnknownAggregate indicates Aggregate got a function that does
	// not aggregate.
	ErrCodeUnknownAggregate RuntimeErrorCode = "UNKNOWN_AGGREGATE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.CollectionID != "" && e.Entity != "" {
		return fmt.Sprintf("%s: %s (collection=%s, entity=%s)", e.Code, e.Message, e.CollectionID, e.Entity)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.Entity)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotLoadedError returns true if the error reports a row without a
// loaded entity. Uses errors.As to handle wrapped errors.
func IsNotLoadedError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeNotLoaded
	}
	return false
}

// IsNoStoreError returns true if the error reports a missing store.
func IsNoStoreError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeNoStore
	}
	return false
}

// NewNotLoadedError creates a RuntimeError for an id missing from the
// identity map.
func NewNotLoadedError(collectionID, entity string, id any) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeNotLoaded,
		Message:      fmt.Sprintf("row %v has no loaded entity", id),
		CollectionID: collectionID,
		Entity:       entity,
		Details: map[string]string{
			"id": fmt.Sprintf("%v", id),
		},
	}
}

// NewNoStoreError creates a RuntimeError for a query collection without a
// store.
func NewNoStoreError(collectionID, entity string) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeNoStore,
		Message:      "query collection has no store",
		CollectionID: collectionID,
		Entity:       entity,
	}
}

// NewUnknownAggregateError creates a RuntimeError for a function that is
// not an aggregate.
func NewUnknownAggregateError(function string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownAggregate,
		Message: fmt.Sprintf("%s is not an aggregate function", function),
		Details: map[string]string{
			"function": function,
		},
	}
}
