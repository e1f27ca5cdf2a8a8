package licensestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultMongoCollection = "mflow_licenses"

// validCollectionName matches safe MongoDB collection names.
var validCollectionName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MongoOption configures a Mongo store.
type MongoOption func(*Mongo)

// WithCollectionName sets the MongoDB collection name. Default: "mflow_licenses".
func WithCollectionName(name string) MongoOption {
	return func(s *Mongo) {
		s.collectionName = name
	}
}

// Mongo implements Store using MongoDB, one document per email.
type Mongo struct {
	collection     *mongo.Collection
	collectionName string
}

// NewMongo creates a new MongoDB-backed license store.
// It creates the unique email index on initialization.
func NewMongo(ctx context.Context, db *mongo.Database, opts ...MongoOption) (*Mongo, error) {
	s := &Mongo{
		collectionName: defaultMongoCollection,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !validCollectionName.MatchString(s.collectionName) {
		return nil, fmt.Errorf("invalid collection name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", s.collectionName)
	}
	s.collection = db.Collection(s.collectionName)

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := s.collection.Indexes().CreateOne(ctx, index)
	return err
}

func (s *Mongo) Get(ctx context.Context, email string) (*Record, error) {
	var rec Record
	err := s.collection.FindOne(ctx, bson.M{"email": email}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get license: %v", ErrUnavailable, err)
	}
	return &rec, nil
}

func (s *Mongo) Put(ctx context.Context, rec Record) error {
	filter := bson.M{"email": rec.Email}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, filter, rec, opts); err != nil {
		return fmt.Errorf("%w: put license: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Mongo) Delete(ctx context.Context, email string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"email": email}); err != nil {
		return fmt.Errorf("%w: delete license: %v", ErrUnavailable, err)
	}
	return nil
}

// BindDevice performs the conditional first-activation write. Filtering on
// the unbound sentinel makes the single-document update a compare-and-set.
func (s *Mongo) BindDevice(ctx context.Context, email, deviceID, licenseKey string) error {
	filter := bson.M{"email": email, "device_id": DeviceUnbound}
	update := bson.M{"$set": bson.M{
		"device_id":   deviceID,
		"license_key": licenseKey,
	}}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%w: bind device: %v", ErrUnavailable, err)
	}
	if result.MatchedCount == 0 {
		// Distinguish a missing record from a lost race.
		if _, err := s.Get(ctx, email); err != nil {
			return err
		}
		return ErrAlreadyBound
	}
	return nil
}

func (s *Mongo) Close(_ context.Context) error {
	return nil // user manages the mongo.Database lifecycle
}
