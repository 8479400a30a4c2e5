package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Storage is the capability the rotation core needs from a container of
// backups: enumerate the names it holds and delete a batch of them.
// Implementations are bound to a single container (bucket or directory)
// and carry no decision logic.
type Storage interface {
	// ListNames enumerates all names in the container. No order is
	// guaranteed, callers sort for themselves.
	ListNames(ctx context.Context) ([]string, error)
	// DeleteNames removes the given names in one batch. A partial failure
	// is reported as a *PartialDeletionError; names that were deleted
	// stay deleted.
	DeleteNames(ctx context.Context, names []string) error
	// Name returns the container identifier, used for log messages.
	Name() string
	// Kind describes the backing objects, e.g. "object" or "file".
	Kind() string
}

// ErrNotFound is returned when the container does not exist or is not
// accessible.
var ErrNotFound = errors.New("container not found")

// PartialDeletionError reports a batched deletion that removed some but
// not all requested names.
type PartialDeletionError struct {
	// Failed holds the names that could not be deleted.
	Failed []string
}

func (e *PartialDeletionError) Error() string {
	return fmt.Sprintf("%d objects could not be deleted: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}
