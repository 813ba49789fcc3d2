package database

import "errors"

var (
	// ErrCollectionNotFound is returned when a collection is not found
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDatabaseNotFound is returned when a database is not found
	ErrDatabaseNotFound = errors.New("database not found")

	// ErrCatalogClosed is returned when operating on a closed catalog
	ErrCatalogClosed = errors.New("catalog is closed")
)

// WriteError records one failed document of a batch write
type WriteError struct {
	Index int
	Err   error
}

// Error implements the error interface
func (e *WriteError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the causing error
func (e *WriteError) Unwrap() error {
	return e.Err
}
