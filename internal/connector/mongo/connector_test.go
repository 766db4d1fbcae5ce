package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCloseIsNoOpBeforeFirstConnect(t *testing.T) {
	c := New(Config{URL: "mongodb://127.0.0.1:1/", Database: "testdb"})
	require.NoError(t, c.Close())
}

func TestCollectionConnectsLazilyOnFirstAccess(t *testing.T) {
	c := New(Config{
		URL:                    "mongodb://127.0.0.1:27017/",
		Database:               "testdb",
		ConnectTimeout:         200 * time.Millisecond,
		ServerSelectionTimeout: 200 * time.Millisecond,
	})
	require.Nil(t, c.client)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	coll, err := c.Collection(ctx, "widgets")
	require.NoError(t, err)
	require.NotNil(t, coll)
	require.NotNil(t, c.client)
	require.Equal(t, "widgets", coll.Name())

	require.NoError(t, c.Close())
	require.Nil(t, c.client)
}

func TestAsyncCollectionDeliversOnChannel(t *testing.T) {
	c := New(Config{
		URL:                    "mongodb://127.0.0.1:27017/",
		Database:               "testdb",
		ConnectTimeout:         200 * time.Millisecond,
		ServerSelectionTimeout: 200 * time.Millisecond,
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result := <-c.AsyncCollection(ctx, "widgets")
	require.NoError(t, result.Err)
	require.Equal(t, "widgets", result.Collection.Name())
}
