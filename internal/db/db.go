// Package db implements the document store on MongoDB.
package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
)

// parentField links a subcollection document to its parent document id.
const parentField = "_parent"

// Client wraps mongo.Client and maps store paths onto collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	// db holds every collection; subcollections get their own collection
	// named after the path ("Chat/{id}/Messages" -> "Chat_Messages")
	db *mongo.Database
}

var _ docstore.Store = (*Client)(nil)

// New connects to MongoDB and returns a Client.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second).
		// nested documents come back as bson.M instead of bson.D
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// Ping checks that the primary is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Collection returns the MongoDB collection backing a store path.
func (c *Client) Collection(path string) (*mongo.Collection, error) {
	name, _, err := docstore.SplitPath(path)
	if err != nil {
		return nil, err
	}
	return c.db.Collection(name), nil
}

// CreateIndexes creates the indexes behind the service's queries.
func (c *Client) CreateIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		// Inbox: conversations containing an email
		"Chat": {
			{Keys: bson.D{{Key: "participantEmails", Value: 1}}},
		},
		// Message stream: one conversation ordered by creation time
		"Chat_Messages": {
			{Keys: bson.D{{Key: parentField, Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		// Listing browse and owner resolution
		"Pets": {
			{Keys: bson.D{{Key: "category", Value: 1}}},
			{Keys: bson.D{{Key: "username", Value: 1}}},
			{Keys: bson.D{{Key: "email", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := c.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", coll, err)
		}
	}
	return nil
}

// locate resolves a path to its collection and the filter selecting the
// documents that belong to it.
func (c *Client) locate(path string) (*mongo.Collection, string, bson.D, error) {
	name, parent, err := docstore.SplitPath(path)
	if err != nil {
		return nil, "", nil, err
	}
	scope := bson.D{}
	if parent != "" {
		scope = bson.D{{Key: parentField, Value: parent}}
	}
	return c.db.Collection(name), parent, scope, nil
}

func (c *Client) Get(ctx context.Context, path, id string) (docstore.Document, bool, error) {
	coll, _, scope, err := c.locate(path)
	if err != nil {
		return docstore.Document{}, false, err
	}

	var raw bson.M
	err = coll.FindOne(ctx, append(bson.D{{Key: "_id", Value: id}}, scope...)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.Document{}, false, nil
	}
	if err != nil {
		return docstore.Document{}, false, docstore.Unavailable("get "+path, err)
	}
	return toDocument(raw), true, nil
}

func (c *Client) Set(ctx context.Context, path, id string, data bson.M, opts docstore.SetOptions) error {
	coll, parent, _, err := c.locate(path)
	if err != nil {
		return err
	}

	fields := withParent(data, parent)
	filter := bson.D{{Key: "_id", Value: id}}
	if opts.Merge {
		_, err = coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: fields}}, options.UpdateOne().SetUpsert(true))
	} else {
		_, err = coll.ReplaceOne(ctx, filter, fields, options.Replace().SetUpsert(true))
	}
	return docstore.Unavailable("set "+path, err)
}

func (c *Client) Create(ctx context.Context, path, id string, data bson.M) error {
	coll, parent, _, err := c.locate(path)
	if err != nil {
		return err
	}

	doc := withParent(data, parent)
	doc["_id"] = id
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("create %s/%s: %w", path, id, docstore.ErrAlreadyExists)
		}
		return docstore.Unavailable("create "+path, err)
	}
	return nil
}

func (c *Client) Add(ctx context.Context, path string, data bson.M) (string, error) {
	id := bson.NewObjectID().Hex()
	if err := c.Create(ctx, path, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) Update(ctx context.Context, path, id string, u docstore.Update) error {
	coll, _, scope, err := c.locate(path)
	if err != nil {
		return err
	}

	update := bson.D{}
	if len(u.Set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: u.Set})
	}
	if len(u.Inc) > 0 {
		update = append(update, bson.E{Key: "$inc", Value: u.Inc})
	}
	if len(update) == 0 {
		return nil
	}

	res, err := coll.UpdateOne(ctx, append(bson.D{{Key: "_id", Value: id}}, scope...), update)
	if err != nil {
		return docstore.Unavailable("update "+path, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s/%s: %w", path, id, docstore.ErrNotFound)
	}
	return nil
}

func (c *Client) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	coll, _, scope, err := c.locate(q.Path)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if q.Order != "" {
		dir := 1
		if q.Direction == docstore.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.Order, Value: dir}, {Key: "_id", Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cursor, err := coll.Find(ctx, filterFor(q, scope), opts)
	if err != nil {
		return nil, docstore.Unavailable("find "+q.Path, err)
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, docstore.Unavailable("find "+q.Path, err)
	}

	docs := make([]docstore.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, toDocument(raw))
	}
	return docs, nil
}

// Subscribe opens a change stream on the path's collection and re-runs the
// query after every event. Change streams need a replica set.
func (c *Client) Subscribe(ctx context.Context, q docstore.Query, onChange func([]docstore.Document), onError func(error)) (func(), error) {
	coll, parent, _, err := c.locate(q.Path)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)

	pipeline := mongo.Pipeline{}
	if parent != "" {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "fullDocument." + parentField, Value: parent}},
				bson.D{{Key: "operationType", Value: "delete"}},
			}},
		}}})
	}

	// Open the stream before the first read so no write falls in between.
	stream, err := coll.Watch(subCtx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, docstore.Unavailable("watch "+q.Path, err)
	}

	first, err := c.Find(subCtx, q)
	if err != nil {
		cancel()
		_ = stream.Close(context.Background())
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stream.Close(context.Background())

		onChange(first)
		for stream.Next(subCtx) {
			docs, err := c.Find(subCtx, q)
			if subCtx.Err() != nil {
				return
			}
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			onChange(docs)
		}
		if subCtx.Err() != nil || onError == nil {
			return
		}
		// the change stream is gone (invalidated, or a non-resumable error)
		onError(docstore.Ended("watch "+q.Path, docstore.Unavailable("change stream", stream.Err())))
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func filterFor(q docstore.Query, scope bson.D) bson.D {
	filter := append(bson.D{}, scope...)
	switch q.Op {
	case docstore.OpEquals:
		filter = append(filter, bson.E{Key: q.Field, Value: q.Value})
	case docstore.OpIn:
		filter = append(filter, bson.E{Key: q.Field, Value: bson.D{{Key: "$in", Value: q.Values}}})
	}
	return filter
}

func withParent(data bson.M, parent string) bson.M {
	out := make(bson.M, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	delete(out, "_id")
	if parent != "" {
		out[parentField] = parent
	}
	return out
}

func toDocument(raw bson.M) docstore.Document {
	id, _ := raw["_id"].(string)
	if oid, ok := raw["_id"].(bson.ObjectID); ok {
		id = oid.Hex()
	}
	delete(raw, "_id")
	delete(raw, parentField)
	return docstore.Document{ID: id, Data: raw}
}
