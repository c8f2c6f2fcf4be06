package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// MongoConfig contains connection settings for the MongoDB block store.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. freeminer
	Collection string // e.g. blocks
	Meta       string // e.g. env_meta
}

// MongoStore implements BlockStore on MongoDB backend.
type MongoStore struct {
	client     *mongo.Client
	blocks     *mongo.Collection
	meta       *mongo.Collection
	ctxTimeout time.Duration
}

type blockDoc struct {
	X    int    `bson:"x"`
	Y    int    `bson:"y"`
	Z    int    `bson:"z"`
	Data []byte `bson:"data"`
}

// NewMongoStore establishes connection and returns the store.
func NewMongoStore(cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "freeminer"
	}
	if cfg.Collection == "" {
		cfg.Collection = "blocks"
	}
	if cfg.Meta == "" {
		cfg.Meta = "env_meta"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:     client,
		blocks:     db.Collection(cfg.Collection),
		meta:       db.Collection(cfg.Meta),
		ctxTimeout: 5 * time.Second,
	}

	if err := s.ensureIndexes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *MongoStore) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	posIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "x", Value: 1}, {Key: "y", Value: 1}, {Key: "z", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("pos_unique"),
	}
	_, err := m.blocks.Indexes().CreateOne(ctx, posIdx)
	return err
}

func posFilter(pos vec.Vec3) bson.M {
	return bson.M{"x": pos.X, "y": pos.Y, "z": pos.Z}
}

// SaveBlock implements BlockStore.
func (m *MongoStore) SaveBlock(ctx context.Context, pos vec.Vec3, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	doc := blockDoc{X: pos.X, Y: pos.Y, Z: pos.Z, Data: data}
	_, err := m.blocks.ReplaceOne(ctx, posFilter(pos), doc, options.Replace().SetUpsert(true))
	return err
}

// LoadBlock implements BlockStore.
func (m *MongoStore) LoadBlock(ctx context.Context, pos vec.Vec3) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	var doc blockDoc
	err := m.blocks.FindOne(ctx, posFilter(pos)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

// DeleteBlock implements BlockStore.
func (m *MongoStore) DeleteBlock(ctx context.Context, pos vec.Vec3) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	_, err := m.blocks.DeleteOne(ctx, posFilter(pos))
	return err
}

// ListBlocks implements BlockStore.
func (m *MongoStore) ListBlocks(ctx context.Context) ([]vec.Vec3, error) {
	opts := options.Find().SetProjection(bson.M{"x": 1, "y": 1, "z": 1})
	cur, err := m.blocks.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []vec.Vec3
	for cur.Next(ctx) {
		var doc blockDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, vec.Vec3{X: doc.X, Y: doc.Y, Z: doc.Z})
	}
	return out, cur.Err()
}

// SaveMeta implements BlockStore.
func (m *MongoStore) SaveMeta(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	_, err := m.meta.UpdateOne(ctx, bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value}}, options.Update().SetUpsert(true))
	return err
}

// LoadMeta implements BlockStore.
func (m *MongoStore) LoadMeta(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	var doc struct {
		Value []byte `bson:"value"`
	}
	err := m.meta.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

// Close disconnects the client.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
