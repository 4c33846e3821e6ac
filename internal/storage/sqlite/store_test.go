package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tjfontaine/contact-gateway/internal/storage"
)

func TestSQLiteStore_CreateContact(t *testing.T) {
	// Use in-memory SQLite with shared cache for testing
	store, err := New(context.Background(), "file:contactsdb1?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close(context.Background())

	c := &storage.Contact{
		Name:      "Ada Lovelace",
		Email:     "ada@example.com",
		Subject:   "Hello",
		Message:   "I would like to get in touch.",
		IPAddress: "203.0.113.7",
		UserAgent: "test-agent",
	}

	if err := store.CreateContact(context.Background(), c); err != nil {
		t.Fatalf("CreateContact() error = %v", err)
	}
	if c.ID == "" {
		t.Fatal("CreateContact() did not assign an ID")
	}
	if c.CreatedAt.IsZero() {
		t.Fatal("CreateContact() did not set CreatedAt")
	}

	retrieved, err := store.GetContact(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetContact() error = %v", err)
	}

	if retrieved.Name != c.Name {
		t.Errorf("Name = %v, want %v", retrieved.Name, c.Name)
	}
	if retrieved.Email != c.Email {
		t.Errorf("Email = %v, want %v", retrieved.Email, c.Email)
	}
	if retrieved.Subject != c.Subject {
		t.Errorf("Subject = %v, want %v", retrieved.Subject, c.Subject)
	}
	if retrieved.Message != c.Message {
		t.Errorf("Message = %v, want %v", retrieved.Message, c.Message)
	}
	if retrieved.IPAddress != c.IPAddress {
		t.Errorf("IPAddress = %v, want %v", retrieved.IPAddress, c.IPAddress)
	}
}

func TestSQLiteStore_CreateContact_KeepsProvidedID(t *testing.T) {
	store, err := New(context.Background(), "file:contactsdb2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close(context.Background())

	c := &storage.Contact{ID: "fixed-id", Name: "n", Email: "e@example.com", Message: "m"}
	if err := store.CreateContact(context.Background(), c); err != nil {
		t.Fatalf("CreateContact() error = %v", err)
	}
	if c.ID != "fixed-id" {
		t.Errorf("ID = %v, want fixed-id", c.ID)
	}

	// Duplicate primary key must fail
	dup := &storage.Contact{ID: "fixed-id", Name: "n", Email: "e@example.com", Message: "m"}
	if err := store.CreateContact(context.Background(), dup); err == nil {
		t.Error("CreateContact() with duplicate ID should fail")
	}
}

func TestSQLiteStore_GetContact_NotFound(t *testing.T) {
	store, err := New(context.Background(), "file:contactsdb3?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close(context.Background())

	_, err = store.GetContact(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetContact() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.db")

	store, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	c := &storage.Contact{Name: "n", Email: "e@example.com", Message: "persisted"}
	if err := store.CreateContact(context.Background(), c); err != nil {
		t.Fatalf("CreateContact() error = %v", err)
	}
	if err := store.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer reopened.Close(context.Background())

	got, err := reopened.GetContact(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetContact() error = %v", err)
	}
	if got.Message != "persisted" {
		t.Errorf("Message = %v, want persisted", got.Message)
	}
}

func TestSQLiteStore_Host(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"file:contactsdb4?mode=memory&cache=shared", "sqlite:contactsdb4"},
		{"./data/contacts.db", "sqlite:./data/contacts.db"},
	}

	for _, tt := range tests {
		s := &Store{path: tt.path}
		if got := s.Host(); got != tt.want {
			t.Errorf("Host(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
