package mongostore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bgjobs/pkg/mongo"
	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/queue/mongostore"
	"github.com/dmitrymomot/bgjobs/pkg/queue/queuetest"
)

// Set MONGODB_URL (e.g. mongodb://localhost:27017) to run.
func TestStore(t *testing.T) {
	url := os.Getenv("MONGODB_URL")
	if url == "" {
		t.Skip("MONGODB_URL is not set")
	}

	ctx := context.Background()
	client, err := mongo.New(ctx, mongo.Config{
		ConnectionURL:   url,
		ConnectTimeout:  5 * time.Second,
		MaxPoolSize:     16,
		MaxConnIdleTime: time.Minute,
		RetryWrites:     true,
		RetryReads:      true,
		RetryAttempts:   1,
		RetryInterval:   time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	require.NoError(t, mongo.Healthcheck(client)(ctx))

	db := client.Database("bgjobs_test_" + uuid.NewString()[:8])
	t.Cleanup(func() { _ = db.Drop(context.Background()) })

	coll := db.Collection(mongostore.DefaultCollection)
	require.NoError(t, mongostore.New(coll).EnsureIndexes(ctx))

	queuetest.RunStoreSuite(t, func(t *testing.T, clock *queuetest.Clock) queue.Store {
		return mongostore.New(coll, mongostore.WithClock(clock.Now))
	})
}
