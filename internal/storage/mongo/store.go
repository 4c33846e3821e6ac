// Package mongo implements ContactStore on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/tjfontaine/contact-gateway/internal/storage"
)

const (
	// DefaultDatabase is used when neither the config nor the URI names one.
	DefaultDatabase = "portfolio"

	collectionName = "contacts"
)

// Store is a MongoDB-backed ContactStore.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	host   string
}

var _ storage.ContactStore = (*Store)(nil)

// contactDocument is the persisted shape of a contact message.
type contactDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"name"`
	Email     string             `bson:"email"`
	Subject   string             `bson:"subject,omitempty"`
	Message   string             `bson:"message"`
	IPAddress string             `bson:"ipAddress,omitempty"`
	UserAgent string             `bson:"userAgent,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

// New connects to the deployment at uri and verifies it with a ping against
// the primary. database overrides the database named in the URI.
func New(ctx context.Context, uri, database string) (*Store, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid mongodb uri: %w", err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	db := resolveDatabase(database, cs.Database)

	return &Store{
		client: client,
		coll:   client.Database(db).Collection(collectionName),
		host:   firstHost(cs.Hosts),
	}, nil
}

func resolveDatabase(configured, fromURI string) string {
	if configured != "" {
		return configured
	}
	if fromURI != "" {
		return fromURI
	}
	return DefaultDatabase
}

// firstHost returns the hostname of the first seed, without port.
func firstHost(hosts []string) string {
	if len(hosts) == 0 {
		return ""
	}
	host, _, err := net.SplitHostPort(hosts[0])
	if err != nil {
		return hosts[0]
	}
	return host
}

func (s *Store) CreateContact(ctx context.Context, c *storage.Contact) error {
	doc := toDocument(c, time.Now().UTC())

	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", err)
	}

	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		c.ID = oid.Hex()
	}
	c.CreatedAt = doc.CreatedAt
	return nil
}

func (s *Store) GetContact(ctx context.Context, id string) (*storage.Contact, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("contact %s: %w", id, storage.ErrNotFound)
	}

	var doc contactDocument
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("contact %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return fromDocument(&doc), nil
}

func (s *Store) Host() string {
	return s.host
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toDocument(c *storage.Contact, now time.Time) *contactDocument {
	doc := &contactDocument{
		Name:      c.Name,
		Email:     c.Email,
		Subject:   c.Subject,
		Message:   c.Message,
		IPAddress: c.IPAddress,
		UserAgent: c.UserAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if oid, err := primitive.ObjectIDFromHex(c.ID); err == nil {
		doc.ID = oid
	}
	return doc
}

func fromDocument(doc *contactDocument) *storage.Contact {
	return &storage.Contact{
		ID:        doc.ID.Hex(),
		Name:      doc.Name,
		Email:     doc.Email,
		Subject:   doc.Subject,
		Message:   doc.Message,
		IPAddress: doc.IPAddress,
		UserAgent: doc.UserAgent,
		CreatedAt: doc.CreatedAt,
	}
}
