package remote

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an update or delete matched no row.
	ErrNotFound = errors.New("remote record not found")

	// ErrAlreadyExists is returned when an insert hits an existing id.
	ErrAlreadyExists = errors.New("remote record already exists")
)

// Dispatcher is the remote data store capability used to replay changes.
type Dispatcher interface {
	// Insert creates a record in collection.
	Insert(ctx context.Context, collection string, record map[string]interface{}) error

	// UpdateByID applies patch to the record with the given id.
	UpdateByID(ctx context.Context, collection, id string, patch map[string]interface{}) error

	// DeleteByID removes the record with the given id.
	DeleteByID(ctx context.Context, collection, id string) error

	// UpdatedAt returns the remote last-modification time of a record.
	// found is false when the record does not exist.
	UpdatedAt(ctx context.Context, collection, id string) (t time.Time, found bool, err error)
}
