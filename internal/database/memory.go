package database

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/nfrund/chaats/internal/domain"
)

// MemoryStore keeps messages and profiles in process memory. It implements
// domain.MessageStore and domain.ProfileStore and is used for development
// and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	messages []domain.Message
	profiles map[domain.UserID]domain.Profile
	now      func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used to stamp new messages.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		profiles: make(map[domain.UserID]domain.Profile),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(_ context.Context, senderID, receiverID domain.UserID, content string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	msg := domain.Message{
		ID:         s.nextID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  s.now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MemoryStore) Query(_ context.Context, a, b domain.UserID) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Message{}
	for _, m := range s.messages {
		if m.Between(a, b) {
			out = append(out, m)
		}
	}
	domain.SortMessages(out)
	return out, nil
}

func (s *MemoryStore) List(context.Context) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	slices.SortFunc(out, func(x, y domain.Profile) int { return cmp.Compare(x.ID, y.ID) })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.UserID) (domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return domain.Profile{}, notFound("profile %s", id)
	}
	return p, nil
}

func (s *MemoryStore) Update(_ context.Context, id domain.UserID, upd domain.ProfileUpdate) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return domain.Profile{}, notFound("profile %s", id)
	}
	p = upd.Apply(p)
	s.profiles[id] = p
	return p, nil
}

func (s *MemoryStore) Put(_ context.Context, p domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
	return nil
}
