package repository

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCopiesDocuments(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	doc := auth.Document{"memberIds": []any{"a"}}
	require.NoError(t, store.Set(ctx, testRef, doc))
	doc["memberIds"] = []any{"mutated"}

	got, err := store.Get(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, got["memberIds"])
}

func TestMemoryStoreUpdateAndMerge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.ErrorIs(t, store.Update(ctx, testRef, auth.Document{"bio": "x"}), auth.ErrDocumentNotFound)

	require.NoError(t, store.Merge(ctx, testRef, auth.Document{"displayName": "Ada"}))
	require.NoError(t, store.Update(ctx, testRef, auth.Document{"bio": "x"}))

	got, err := store.Get(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, auth.Document{"displayName": "Ada", "bio": "x"}, got)
	assert.Equal(t, int64(2), store.Version(testRef))
}

func TestMemoryStoreTransactionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, testRef, auth.Document{"count": 1}))

	err := store.RunTransaction(ctx, func(ctx context.Context, tx auth.DocumentTx) error {
		if _, err := tx.Get(ctx, testRef); err != nil {
			return err
		}
		// another writer commits between the read and our commit
		require.NoError(t, store.Set(ctx, testRef, auth.Document{"count": 5}))
		tx.Set(testRef, auth.Document{"count": 2})
		return nil
	})
	assert.ErrorIs(t, err, auth.ErrTransactionConflict)

	got, err := store.Get(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got["count"])
}

func TestMemoryStoreTransactionOnAbsentDocument(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.RunTransaction(ctx, func(ctx context.Context, tx auth.DocumentTx) error {
		_, err := tx.Get(ctx, testRef)
		assert.ErrorIs(t, err, auth.ErrDocumentNotFound)
		require.NoError(t, store.Set(ctx, testRef, auth.Document{"count": 1}))
		tx.Set(testRef, auth.Document{"count": 9})
		return nil
	})
	assert.ErrorIs(t, err, auth.ErrTransactionConflict)
}
