package memory

import (
	"context"
	"sync"

	"github.com/hitl-agent/backend/internal/storage"
	"github.com/hitl-agent/backend/internal/storage/models"
)

// Store is an in-memory feedback store with the same contract as the SQLite
// client. It backs tests and ephemeral deployments.
type Store struct {
	mu        sync.RWMutex
	pending   []models.Item
	published []models.Item
	rejected  []models.Item
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) InsertPending(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(item.ID) {
		return storage.ErrDuplicateID
	}
	s.pending = append(s.pending, *item)
	return nil
}

func (s *Store) InsertPublished(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(item.ID) {
		return storage.ErrDuplicateID
	}
	s.published = append(s.published, *item)
	return nil
}

func (s *Store) GetPending(ctx context.Context, id string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.pending {
		if s.pending[i].ID == id {
			item := s.pending[i]
			return &item, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) RemovePending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removePendingLocked(id)
}

func (s *Store) ListPending(ctx context.Context) ([]models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Item(nil), s.pending...), nil
}

func (s *Store) ListPublished(ctx context.Context) ([]models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Item(nil), s.published...), nil
}

func (s *Store) PublishPending(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.removePendingLocked(item.ID); err != nil {
		return err
	}
	s.published = append(s.published, *item)
	return nil
}

func (s *Store) RejectPending(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.removePendingLocked(item.ID); err != nil {
		return err
	}
	s.rejected = append(s.rejected, *item)
	return nil
}

func (s *Store) GetResolved(ctx context.Context, id string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, set := range [][]models.Item{s.published, s.rejected} {
		for i := range set {
			if set[i].ID == id {
				item := set[i]
				return &item, nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListLabeled(ctx context.Context) ([]models.LabeledExample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var examples []models.LabeledExample
	for _, item := range s.published {
		if item.TrueLabel != "" {
			examples = append(examples, models.LabeledExample{Text: item.Prompt, Label: item.TrueLabel})
		}
	}
	for _, item := range s.rejected {
		if item.TrueLabel != "" {
			examples = append(examples, models.LabeledExample{Text: item.Prompt, Label: item.TrueLabel})
		}
	}
	return examples, nil
}

func (s *Store) removePendingLocked(id string) error {
	for i := range s.pending {
		if s.pending[i].ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) exists(id string) bool {
	for _, set := range [][]models.Item{s.pending, s.published, s.rejected} {
		for i := range set {
			if set[i].ID == id {
				return true
			}
		}
	}
	return false
}
