package cachestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoChunkSize keeps every chunk document well under MongoDB's 16 MiB
// document limit. A full cache snapshot is far larger than one document.
const mongoChunkSize = 8 * 1024 * 1024

// snapshotHead points at the generation of chunks that make up the current snapshot.
type snapshotHead struct {
	Key        string    `bson:"_id"`
	Generation string    `bson:"generation"`
	Chunks     int       `bson:"chunks"`
	Bytes      int       `bson:"bytes"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

// snapshotChunk holds one slice of the JSON-encoded snapshot.
// The payload is binary so a chunk boundary may fall inside a UTF-8 sequence.
type snapshotChunk struct {
	CacheKey   string `bson:"cache_key"`
	Generation string `bson:"generation"`
	Seq        int    `bson:"seq"`
	Data       []byte `bson:"data"`
}

// MongoDBStore keeps the snapshot as a head document plus numbered chunks.
// Save writes a fresh generation of chunks before switching the head to it,
// so a reader never sees a half-written snapshot.
type MongoDBStore struct {
	heads  *mongo.Collection
	chunks *mongo.Collection
	key    string
}

// NewMongoDBStore returns a store backed by the image_cache and
// image_cache_chunks collections.
func NewMongoDBStore(database *mongo.Database, key string) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	if key == "" {
		key = DefaultKey
	}
	return &MongoDBStore{
		heads:  database.Collection("image_cache"),
		chunks: database.Collection("image_cache_chunks"),
		key:    key,
	}, nil
}

// Load reassembles the snapshot referenced by the head document.
func (s *MongoDBStore) Load(ctx context.Context) (Snapshot, error) {
	var head snapshotHead
	err := s.heads.FindOne(ctx, bson.M{"_id": s.key}).Decode(&head)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find snapshot head: %w", err)
	}

	cursor, err := s.chunks.Find(ctx,
		bson.M{"cache_key": s.key, "generation": head.Generation},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find snapshot chunks: %w", err)
	}
	var chunks []snapshotChunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("read snapshot chunks: %w", err)
	}
	if len(chunks) != head.Chunks {
		return nil, fmt.Errorf("snapshot %s incomplete: %d of %d chunks", head.Generation, len(chunks), head.Chunks)
	}

	payload := make([]byte, 0, head.Bytes)
	for i, chunk := range chunks {
		if chunk.Seq != i {
			return nil, fmt.Errorf("snapshot %s missing chunk %d", head.Generation, i)
		}
		payload = append(payload, chunk.Data...)
	}
	return decodeSnapshot(payload)
}

// Save writes the snapshot as a new generation, repoints the head and then
// drops the previous generation.
func (s *MongoDBStore) Save(ctx context.Context, snap Snapshot) error {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	generation := uuid.NewString()
	parts := splitChunks(payload, mongoChunkSize)
	docs := make([]any, len(parts))
	for i, part := range parts {
		docs[i] = snapshotChunk{CacheKey: s.key, Generation: generation, Seq: i, Data: part}
	}
	if _, err := s.chunks.InsertMany(ctx, docs); err != nil {
		s.dropGeneration(ctx, generation)
		return fmt.Errorf("insert snapshot chunks: %w", err)
	}

	head := snapshotHead{
		Key:        s.key,
		Generation: generation,
		Chunks:     len(parts),
		Bytes:      len(payload),
		UpdatedAt:  time.Now().UTC(),
	}
	var previous snapshotHead
	err = s.heads.FindOneAndReplace(ctx, bson.M{"_id": s.key}, head,
		options.FindOneAndReplace().SetUpsert(true).SetReturnDocument(options.Before),
	).Decode(&previous)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		s.dropGeneration(ctx, generation)
		return fmt.Errorf("replace snapshot head: %w", err)
	default:
		s.dropGeneration(ctx, previous.Generation)
	}
	return nil
}

// dropGeneration removes the chunks of a generation that is no longer referenced.
// Leftovers only cost space, so a failure is not reported.
func (s *MongoDBStore) dropGeneration(ctx context.Context, generation string) {
	_, _ = s.chunks.DeleteMany(ctx, bson.M{"cache_key": s.key, "generation": generation})
}

// Delete removes the head and every chunk for the key.
func (s *MongoDBStore) Delete(ctx context.Context) error {
	if _, err := s.heads.DeleteOne(ctx, bson.M{"_id": s.key}); err != nil {
		return fmt.Errorf("delete snapshot head: %w", err)
	}
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"cache_key": s.key}); err != nil {
		return fmt.Errorf("delete snapshot chunks: %w", err)
	}
	return nil
}

func (s *MongoDBStore) Name() string { return TypeMongoDB }

// Close is a no-op; client lifecycle is managed by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}

// splitChunks slices payload into pieces of at most size bytes.
// An empty payload still yields one empty chunk so the head always has data.
func splitChunks(payload []byte, size int) [][]byte {
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	parts := make([][]byte, 0, (len(payload)+size-1)/size)
	for start := 0; start < len(payload); start += size {
		end := min(start+size, len(payload))
		parts = append(parts, payload[start:end])
	}
	return parts
}
