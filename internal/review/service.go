package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hitl-agent/backend/internal/storage"
	"github.com/hitl-agent/backend/internal/storage/models"
	"github.com/hitl-agent/backend/pkg/logger"
)

var (
	// ErrInvalidTransition rejects actions on items outside the pending
	// state; the item is left untouched.
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("item not found")
	ErrUnknownAction     = errors.New("unknown review action")
	ErrMissingReviewer   = errors.New("reviewer id is required")
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
)

type DecideRequest struct {
	ID           string
	Action       Action
	EditedOutput string
	TrueLabel    string
	ReviewerID   string
}

// Service owns the item lifecycle: pending items resolve to published
// (approve, edit) or rejected (reject), exactly once. Transitions are
// serialized per item id, so concurrent reviewers cannot double-resolve.
type Service struct {
	store storage.Store

	mu    sync.Mutex
	locks map[string]*itemLock

	onPublish func(context.Context, *models.Item)
}

// itemLock is reference counted so the per-id map only holds entries with
// work in flight, instead of one entry per item ever touched.
type itemLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(store storage.Store) *Service {
	return &Service{
		store: store,
		locks: make(map[string]*itemLock),
	}
}

// OnPublish registers a hook fired whenever an item reaches published,
// whichever path it took. Used to index the new corpus entry; runs
// asynchronously and never blocks the transition.
func (s *Service) OnPublish(fn func(context.Context, *models.Item)) {
	s.onPublish = fn
}

func (s *Service) notifyPublished(item *models.Item) {
	if s.onPublish == nil {
		return
	}
	published := *item
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.onPublish(ctx, &published)
	}()
}

// Decide applies a human review action to a pending item and returns the
// updated item. Illegal transitions fail with ErrInvalidTransition and
// mutate nothing; unknown ids fail with ErrNotFound.
func (s *Service) Decide(ctx context.Context, req DecideRequest) (*models.Item, error) {
	if req.ReviewerID == "" {
		return nil, ErrMissingReviewer
	}

	lock := s.lockFor(req.ID)
	lock.mu.Lock()
	defer s.release(req.ID, lock)
	defer lock.mu.Unlock()

	item, err := s.store.GetPending(ctx, req.ID)
	if errors.Is(err, storage.ErrNotFound) {
		if resolved, rerr := s.store.GetResolved(ctx, req.ID); rerr == nil {
			return nil, fmt.Errorf("%w: item %s is already %s", ErrInvalidTransition, req.ID, resolved.Status)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.ID)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item.ReviewerID = req.ReviewerID
	item.ReviewedAt = &now
	if req.TrueLabel != "" {
		item.TrueLabel = req.TrueLabel
	}

	switch req.Action {
	case ActionApprove:
		item.Status = models.StatusPublished
		err = s.store.PublishPending(ctx, item)
	case ActionEdit:
		item.Output = req.EditedOutput
		item.Status = models.StatusPublished
		err = s.store.PublishPending(ctx, item)
	case ActionReject:
		item.Status = models.StatusRejected
		err = s.store.RejectPending(ctx, item)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	if err != nil {
		return nil, err
	}

	if item.Status == models.StatusPublished {
		s.notifyPublished(item)
	}

	logger.Info("Review decision applied",
		zap.String("item_id", item.ID),
		zap.String("action", string(req.Action)),
		zap.String("status", string(item.Status)),
		zap.String("reviewer_id", req.ReviewerID),
	)

	return item, nil
}

// CreatePending records a newly generated low-confidence item for review.
func (s *Service) CreatePending(ctx context.Context, item *models.Item) error {
	lock := s.lockFor(item.ID)
	lock.mu.Lock()
	defer s.release(item.ID, lock)
	defer lock.mu.Unlock()

	item.Status = models.StatusPending
	item.ReviewerID = ""
	item.ReviewedAt = nil
	return s.store.InsertPending(ctx, item)
}

// CreatePublished records an item the confidence gate published without
// human review.
func (s *Service) CreatePublished(ctx context.Context, item *models.Item) error {
	lock := s.lockFor(item.ID)
	lock.mu.Lock()
	defer s.release(item.ID, lock)
	defer lock.mu.Unlock()

	item.Status = models.StatusPublished
	item.ReviewerID = models.ReviewerAuto
	if err := s.store.InsertPublished(ctx, item); err != nil {
		return err
	}

	s.notifyPublished(item)
	return nil
}

func (s *Service) lockFor(id string) *itemLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[id]
	if !ok {
		lock = &itemLock{}
		s.locks[id] = lock
	}
	lock.refs++
	return lock
}

func (s *Service) release(id string, lock *itemLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, id)
	}
}
