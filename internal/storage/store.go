package storage

import (
	"context"
	"errors"

	"github.com/hitl-agent/backend/internal/storage/models"
)

var (
	ErrNotFound    = errors.New("item not found")
	ErrDuplicateID = errors.New("duplicate item id")
)

// Store is the feedback store: two append-mostly collections (pending,
// published) plus the rejected audit trail. Item ids are unique across all
// collections, not just within one. Every operation is atomic with respect
// to a single item; callers never observe a half-written item. Listing
// returns snapshots in insertion order.
type Store interface {
	InsertPending(ctx context.Context, item *models.Item) error
	InsertPublished(ctx context.Context, item *models.Item) error
	GetPending(ctx context.Context, id string) (*models.Item, error)
	RemovePending(ctx context.Context, id string) error
	ListPending(ctx context.Context) ([]models.Item, error)
	ListPublished(ctx context.Context) ([]models.Item, error)

	// PublishPending atomically moves a pending item to the published
	// collection; RejectPending moves it to the rejected one. Either the
	// whole move happens or the pending row is left untouched.
	PublishPending(ctx context.Context, item *models.Item) error
	RejectPending(ctx context.Context, item *models.Item) error

	// GetResolved looks an item up in the published and rejected
	// collections, so callers can tell "already resolved" apart from
	// "never existed".
	GetResolved(ctx context.Context, id string) (*models.Item, error)

	// ListLabeled returns every reviewed (text, label) pair, published and
	// rejected alike, for retraining.
	ListLabeled(ctx context.Context) ([]models.LabeledExample, error)

	Close() error
}
