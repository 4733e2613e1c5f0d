//go:build integration

package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestS3StoreIntegration(t *testing.T) {
	endpoint := os.Getenv("SYMGRAPH_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("SYMGRAPH_TEST_S3_ENDPOINT not set")
	}
	s, err := NewS3Store(S3Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("SYMGRAPH_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("SYMGRAPH_TEST_S3_SECRET_KEY"),
		Bucket:    "symgraph-test",
		Prefix:    fmt.Sprintf("run-%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestMongoStoreIntegration(t *testing.T) {
	uri := os.Getenv("SYMGRAPH_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("SYMGRAPH_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := NewMongoStore(ctx, MongoConfig{
		URI:        uri,
		Database:   "symgraph_test",
		Collection: fmt.Sprintf("artifacts_%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testStore(t, s)
}
