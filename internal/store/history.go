package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// CollectionDocuments holds one record per processed attachment.
const CollectionDocuments = "documents"

// DocumentRecord captures the outcome of one pipeline run for diagnostics.
type DocumentRecord struct {
	UserID      int64     `bson:"user_id" json:"user_id"`
	FileName    string    `bson:"file_name" json:"file_name"`
	Pages       int       `bson:"pages" json:"pages"`
	Chunks      int       `bson:"chunks" json:"chunks"`
	ProcessedAt time.Time `bson:"processed_at" json:"processed_at"`
}

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// History owns the MongoDB client backing the processing-history feature. A
// nil *History is valid and turns every method into a no-op, so the bot runs
// unchanged when Mongo is not configured.
type History struct {
	client mongoClient
	db     *mongo.Database
}

// NewHistory initializes the Mongo client from the connection string and
// verifies connectivity with a ping.
func NewHistory(ctx context.Context, uri, database string) (*History, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if uri == "" || database == "" {
		return nil, errors.New("mongo uri and database are required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &History{
		client: client,
		db:     client.Database(database),
	}, nil
}

// Documents returns the documents collection handle.
func (h *History) Documents() *mongo.Collection {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Collection(CollectionDocuments)
}

// Ping verifies connectivity for health checks.
func (h *History) Ping(ctx context.Context) error {
	if h == nil || h.client == nil {
		return errors.New("history store is not initialized")
	}
	return h.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the Mongo client.
func (h *History) Close(ctx context.Context) error {
	if h == nil || h.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return h.client.Disconnect(ctx)
}

type insertCountCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Recorder persists processing records and answers /stats queries. A nil
// *Recorder skips recording and reports zero counts.
type Recorder struct {
	documents insertCountCollection
}

// NewRecorder constructs a Recorder backed by the provided collection.
func NewRecorder(documents insertCountCollection) *Recorder {
	return &Recorder{documents: documents}
}

// Record inserts one processing record, stamping ProcessedAt when unset.
func (r *Recorder) Record(ctx context.Context, record DocumentRecord) error {
	if r == nil || r.documents == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if record.UserID == 0 {
		return errors.New("user_id is required")
	}

	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	if _, err := r.documents.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("insert document record: %w", err)
	}

	return nil
}

// CountDocuments returns the number of recorded pipeline runs.
func (r *Recorder) CountDocuments(ctx context.Context) (int64, error) {
	if r == nil || r.documents == nil {
		return 0, nil
	}
	if ctx == nil {
		return 0, errors.New("context is required")
	}

	count, err := r.documents.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count document records: %w", err)
	}

	return count, nil
}
