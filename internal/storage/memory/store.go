package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/contact-gateway/internal/storage"
)

// Store is an in-memory implementation of ContactStore
type Store struct {
	mu       sync.RWMutex
	contacts map[string]*storage.Contact
	order    []string
}

var _ storage.ContactStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		contacts: make(map[string]*storage.Contact),
	}
}

func (s *Store) CreateContact(ctx context.Context, c *storage.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, exists := s.contacts[c.ID]; exists {
		return fmt.Errorf("contact %s already exists", c.ID)
	}

	c.CreatedAt = time.Now().UTC()

	stored := *c
	s.contacts[c.ID] = &stored
	s.order = append(s.order, c.ID)
	return nil
}

func (s *Store) GetContact(ctx context.Context, id string) (*storage.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.contacts[id]
	if !exists {
		return nil, fmt.Errorf("contact %s: %w", id, storage.ErrNotFound)
	}

	out := *c
	return &out, nil
}

// Len returns the number of stored contacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Store) Host() string {
	return "memory"
}

func (s *Store) Close(ctx context.Context) error {
	return nil
}
