package db

import (
	"context"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
)

// These tests are integration tests and require a running MongoDB instance
// (a replica set for the subscription test). Set MONGODB_URI in the
// environment before running them.

func setupDB(t *testing.T) *Client {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := New(ctx, uri, "petmarket_test")
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	t.Cleanup(func() {
		_ = c.db.Drop(context.Background())
		_ = c.Close(context.Background())
	})
	return c
}

func TestNewAndCreateIndexes(t *testing.T) {
	c := setupDB(t)

	if err := c.CreateIndexes(context.Background()); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}
}

func TestCreateGetUpdate(t *testing.T) {
	c := setupDB(t)
	ctx := context.Background()
	key := docstore.EscapeKey("b@x.com")

	if err := c.Create(ctx, "Chat", "a@x.com|b@x.com", bson.M{"unreadCount": bson.M{key: 0}}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := c.Create(ctx, "Chat", "a@x.com|b@x.com", bson.M{}); err == nil {
		t.Fatal("expected ErrAlreadyExists on second Create")
	}

	err := c.Update(ctx, "Chat", "a@x.com|b@x.com", docstore.Update{
		Set: bson.M{"lastMessage": "hi"},
		Inc: map[string]int64{"unreadCount." + key: 1},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	doc, ok, err := c.Get(ctx, "Chat", "a@x.com|b@x.com")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	counts, _ := docstore.AsMap(doc.Data["unreadCount"])
	if docstore.Int(counts, key) != 1 {
		t.Fatalf("expected unread 1, got %v", counts)
	}
}

func TestSubcollectionFindAndSubscribe(t *testing.T) {
	c := setupDB(t)
	ctx := context.Background()
	path := docstore.Sub("Chat", "k1", "Messages")

	if _, err := c.Add(ctx, docstore.Sub("Chat", "k2", "Messages"), bson.M{"text": "other", "createdAt": time.Now()}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got := make(chan int, 8)
	stop, err := c.Subscribe(ctx, docstore.All(path).OrderBy("createdAt", docstore.Ascending),
		func(docs []docstore.Document) { got <- len(docs) }, nil)
	if err != nil {
		t.Skipf("change streams unavailable: %v", err)
	}
	defer stop()

	if n := <-got; n != 0 {
		t.Fatalf("expected empty first snapshot, got %d", n)
	}

	if _, err := c.Add(ctx, path, bson.M{"text": "hello", "createdAt": time.Now()}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	select {
	case n := <-got:
		if n != 1 {
			t.Fatalf("expected 1 message, got %d", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change stream snapshot")
	}
}
