package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/cdc-stitcher/internal/change"
)

func TestOnlyDuplicateKeys(t *testing.T) {
	dup := mongo.BulkWriteError{WriteError: mongo.WriteError{Code: 11000, Message: "E11000 duplicate key error"}}
	other := mongo.BulkWriteError{WriteError: mongo.WriteError{Code: 121, Message: "Document failed validation"}}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"all duplicates", mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{dup, dup}}, true},
		{"wrapped", fmt.Errorf("insert: %w", mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{dup}}), true},
		{"mixed", mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{dup, other}}, false},
		{"write concern", mongo.BulkWriteException{
			WriteErrors:       []mongo.BulkWriteError{dup},
			WriteConcernError: &mongo.WriteConcernError{Code: 64},
		}, false},
		{"no write errors", mongo.BulkWriteException{}, false},
		{"plain error", errors.New("server selection timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, onlyDuplicateKeys(tt.err))
		})
	}
}

func TestIndexModels(t *testing.T) {
	models := indexModels()
	require.NotEmpty(t, models)

	unique := models[0]
	require.NotNil(t, unique.Options.Unique)
	assert.True(t, *unique.Options.Unique)
	assert.Equal(t, bson.D{
		{Key: "position", Value: 1},
		{Key: "table", Value: 1},
		{Key: "schema", Value: 1},
		{Key: "database", Value: 1},
		{Key: "operation", Value: 1},
	}, unique.Keys)
}

func TestChangeDocumentFields(t *testing.T) {
	c := change.Change{ID: "id-1", Table: "todo", Operation: "CREATE", Position: 42}

	raw, err := bson.Marshal(c)
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "id-1", doc["_id"])
	assert.Equal(t, "todo", doc["table"])
	assert.Equal(t, int64(42), doc["position"])
	assert.NotContains(t, doc, "primary_key")
}

func TestStore_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	dbName := strings.ReplaceAll(t.Name(), "/", "_") + fmt.Sprintf("_%d", time.Now().UnixNano())
	defer func() {
		_ = client.Database(dbName).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	}()

	store := NewStore(client.Database(dbName).Collection("changes"), nil)
	require.NoError(t, store.EnsureSchema(ctx))

	c := change.Change{
		ID: "a", Database: "d", Schema: "public", Table: "todo", Operation: "CREATE", Position: 1,
		Before: map[string]any{}, After: map[string]any{"id": "1"}, Context: map[string]any{},
	}
	redelivered := c
	redelivered.ID = "b"

	require.NoError(t, store.Insert(ctx, []change.Change{c}))
	require.NoError(t, store.Insert(ctx, []change.Change{redelivered}))

	count, err := client.Database(dbName).Collection("changes").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
