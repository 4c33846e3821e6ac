package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/contact-gateway/internal/storage"
)

// Store is a SQLite implementation of ContactStore, used for local development
// and tests in place of the document store.
type Store struct {
	db   *sql.DB
	path string
}

var _ storage.ContactStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, path: dbPath}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			subject TEXT,
			message TEXT NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_created ON contacts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateContact(ctx context.Context, c *storage.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()

	query := `INSERT INTO contacts (id, name, email, subject, message, ip_address, user_agent, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Email, c.Subject, c.Message, c.IPAddress, c.UserAgent, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	return nil
}

func (s *Store) GetContact(ctx context.Context, id string) (*storage.Contact, error) {
	query := `SELECT id, name, email, subject, message, ip_address, user_agent, created_at
	          FROM contacts WHERE id = ?`

	var c storage.Contact
	var subject, ip, ua sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Email, &subject, &c.Message, &ip, &ua, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("contact %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	c.Subject = subject.String
	c.IPAddress = ip.String
	c.UserAgent = ua.String

	return &c, nil
}

// Host reports the database path without DSN query parameters.
func (s *Store) Host() string {
	host := strings.TrimPrefix(s.path, "file:")
	if i := strings.IndexByte(host, '?'); i >= 0 {
		host = host[:i]
	}
	return "sqlite:" + host
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}
