package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoStore maps each collection to a MongoDB collection. Document ids are
// stored as string _id values.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	idGen  func() string
}

// OpenMongo connects, pings the primary and selects the database.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	log.Printf("mongo store: connected to database %s", database)
	return &MongoStore{client: client, db: client.Database(database), idGen: uuid.NewString}, nil
}

type bsonDocument struct {
	id  string
	raw bson.Raw
}

func (d bsonDocument) ID() string { return d.id }

func (d bsonDocument) Decode(into any) error { return bson.Unmarshal(d.raw, into) }

func toBSON(doc any) (bson.M, error) {
	b, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	m := bson.M{}
	if err := bson.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return m, nil
}

func newBSONDocument(raw bson.Raw) bsonDocument {
	id, _ := raw.Lookup("_id").StringValueOK()
	return bsonDocument{id: id, raw: raw}
}

func (s *MongoStore) Create(ctx context.Context, collection string, doc any) (string, error) {
	m, err := toBSON(doc)
	if err != nil {
		return "", err
	}
	id := s.idGen()
	m["_id"] = id
	if _, err := s.db.Collection(collection).InsertOne(ctx, m); err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, mapDuplicateKey(err))
	}
	return id, nil
}

func (s *MongoStore) Upsert(ctx context.Context, collection, id string, doc any) error {
	if id == "" {
		return errors.New("upsert: empty id")
	}
	m, err := toBSON(doc)
	if err != nil {
		return err
	}
	delete(m, "_id")
	update := bson.M{"$setOnInsert": bson.M{"_id": id}}
	if len(m) > 0 {
		update = bson.M{"$set": m}
	}
	opts := options.UpdateOne().SetUpsert(true)
	if _, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update, opts); err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, mapDuplicateKey(err))
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	raw, err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	return newBSONDocument(raw), nil
}

func (s *MongoStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	f := bson.M{}
	for k, v := range filter {
		f[k] = v
	}
	cur, err := s.db.Collection(collection).Find(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer cur.Close(ctx)
	var out []Document
	for cur.Next(ctx) {
		raw := append(bson.Raw(nil), cur.Current...)
		out = append(out, newBSONDocument(raw))
	}
	return out, cur.Err()
}

// EnsureUniqueIndex builds a unique index on field, limited to documents
// where it is a string so older documents without it do not collide.
func (s *MongoStore) EnsureUniqueIndex(ctx context.Context, collection, field string) error {
	if err := checkIndexName(collection, field); err != nil {
		return err
	}
	model := mongo.IndexModel{
		Keys: bson.D{{Key: field, Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetName("unique_" + field).
			SetPartialFilterExpression(bson.M{field: bson.M{"$type": "string"}}),
	}
	if _, err := s.db.Collection(collection).Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("create unique index on %s.%s: %w", collection, field, err)
	}
	return nil
}

func mapDuplicateKey(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
