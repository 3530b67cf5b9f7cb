package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

const pluginsCollection = "plugins"

// MongoOptions configures the MongoDB-backed snapshot store.
type MongoOptions struct {
	URI         string
	Database    string
	Timeout     time.Duration
	MaxPoolSize uint64
}

// MongoStore persists the registry snapshot in a MongoDB collection, one
// document per plugin with an order field preserving snapshot order.
type MongoStore struct {
	client   *mongo.Client
	database string
	timeout  time.Duration
	logger   *utils.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(opts MongoOptions, logger *utils.Logger) (*MongoStore, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	clientOptions := options.Client().
		ApplyURI(opts.URI).
		SetMaxPoolSize(opts.MaxPoolSize)

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("registry store opened", "driver", "mongodb", "database", opts.Database)

	return &MongoStore{
		client:   client,
		database: opts.Database,
		timeout:  opts.Timeout,
		logger:   logger.Named("store.mongo"),
	}, nil
}

func (s *MongoStore) collection() *mongo.Collection {
	return s.client.Database(s.database).Collection(pluginsCollection)
}

// snapshotDoc wraps a plugin entry with its position in the snapshot.
type snapshotDoc struct {
	Order  int                 `bson:"order"`
	Plugin models.PluginConfig `bson:"plugin"`
}

// SaveSnapshot replaces the collection contents with the given entries.
func (s *MongoStore) SaveSnapshot(ctx context.Context, entries []models.PluginConfig) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	coll := s.collection()
	if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	if len(entries) == 0 {
		return nil
	}

	docs := make([]any, len(entries))
	for i, entry := range entries {
		docs[i] = snapshotDoc{Order: i, Plugin: entry}
	}

	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted snapshot in order.
func (s *MongoStore) LoadSnapshot(ctx context.Context) ([]models.PluginConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cursor, err := s.collection().Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"order": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []models.PluginConfig{}
	for cursor.Next(ctx) {
		var doc snapshotDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot entry: %w", err)
		}
		entries = append(entries, doc.Plugin)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot: %w", err)
	}

	return entries, nil
}

// Ping verifies the MongoDB connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
