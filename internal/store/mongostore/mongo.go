// Package mongostore is the MongoDB record store backend for users,
// tickets and comments.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultTimeout = 10 * time.Second

const (
	usersCollection    = "usuarios"
	ticketsCollection  = "tickets"
	commentsCollection = "comentarios"
	countersCollection = "counters"
)

// Config captures the minimal settings required to establish a MongoDB connection.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Connect establishes a MongoDB client, verifies connectivity with a ping, and
// returns both the client and the selected database.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	return client, client.Database(cfg.Database), nil
}

// Store bundles the collection-backed repositories.
type Store struct {
	*UserRepository
	*TicketRepository
}

func New(db *mongo.Database) *Store {
	return &Store{
		UserRepository:   NewUserRepository(db),
		TicketRepository: NewTicketRepository(db),
	}
}

// EnsureIndexes creates the unique email index and the ticket lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.UserRepository.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users index: %w", err)
	}

	_, err = s.TicketRepository.tickets.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "numero_ticket", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "cliente_id", Value: 1}}},
		{Keys: bson.D{{Key: "creado_en", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("tickets index: %w", err)
	}

	_, err = s.TicketRepository.comments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ticket_id", Value: 1}, {Key: "creado_en", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("comments index: %w", err)
	}
	return nil
}
