// Package storage defines the contact message store shared by the mongo,
// sqlite and memory adapters.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a contact message does not exist.
var ErrNotFound = errors.New("contact not found")

// Contact is a stored contact-form submission.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ContactStore persists contact messages. Implementations are safe for
// concurrent use and double as the cached downstream connection.
type ContactStore interface {
	// CreateContact stores a new message and assigns its ID and CreatedAt.
	CreateContact(ctx context.Context, c *Contact) error

	// GetContact retrieves a message by ID.
	GetContact(ctx context.Context, id string) (*Contact, error)

	// Host identifies the backing server.
	Host() string

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
