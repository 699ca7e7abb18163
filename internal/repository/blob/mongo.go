package blob

import (
	"context"
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"castle_chat/internal/storage"
)

type (
	blobDoc struct {
		Path  string `bson:"_id"`
		Value []byte `bson:"value"`
	}

	MongoStorage struct {
		collection *mongo.Collection
	}
)

var _ storage.Storage = (*MongoStorage)(nil)

func NewMongoStorage(db *mongo.Database) *MongoStorage {
	return &MongoStorage{
		collection: db.Collection("blobs"),
	}
}

func (r *MongoStorage) Get(ctx context.Context, path string) ([]byte, error) {
	var doc blobDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": path}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func (r *MongoStorage) Set(ctx context.Context, path string, value []byte) error {
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": path},
		blobDoc{Path: path, Value: value},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (r *MongoStorage) Remove(ctx context.Context, path string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": path})
	return err
}

func (r *MongoStorage) HasKey(ctx context.Context, path string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": path}, options.Count().SetLimit(1))
	return n > 0, err
}

func (r *MongoStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	cur, err := r.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var keys []string
	for cur.Next(ctx) {
		var doc blobDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, doc.Path)
	}
	return keys, cur.Err()
}
