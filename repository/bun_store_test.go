package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	auth "github.com/goliatone/go-campus-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

func setupBunStore(t *testing.T) (*BunStore, *bun.DB, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	require.NoError(t, CreateSchema(context.Background(), bunDB))

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return NewBunStore(bunDB), bunDB, cleanup
}

var testRef = auth.DocumentRef{Collection: "users", ID: "u-1"}

func TestBunStoreGetMissing(t *testing.T) {
	store, _, cleanup := setupBunStore(t)
	defer cleanup()

	_, err := store.Get(context.Background(), testRef)
	assert.ErrorIs(t, err, auth.ErrDocumentNotFound)
}

func TestBunStoreSetAndGet(t *testing.T) {
	store, db, cleanup := setupBunStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, testRef, auth.Document{"displayName": "Ada", "preference": "dark"}))
	require.NoError(t, store.Set(ctx, testRef, auth.Document{"displayName": "Ada L"}))

	doc, err := store.Get(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, "Ada L", doc["displayName"])
	_, hasPreference := doc["preference"]
	assert.False(t, hasPreference, "set overwrites the whole document")

	model := &DocumentModel{}
	require.NoError(t, db.NewSelect().Model(model).Where("id = ?", testRef.ID).Scan(ctx))
	assert.Equal(t, int64(2), model.Version)
}

func TestBunStoreUpdateAndMerge(t *testing.T) {
	store, _, cleanup := setupBunStore(t)
	defer cleanup()
	ctx := context.Background()

	err := store.Update(ctx, testRef, auth.Document{"bio": "hi"})
	assert.ErrorIs(t, err, auth.ErrDocumentNotFound)

	require.NoError(t, store.Merge(ctx, testRef, auth.Document{"displayName": "Ada", "preference": "light"}))
	require.NoError(t, store.Update(ctx, testRef, auth.Document{"preference": "dark"}))
	require.NoError(t, store.Merge(ctx, testRef, auth.Document{"bio": "hi"}))

	doc, err := store.Get(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, auth.Document{"displayName": "Ada", "preference": "dark", "bio": "hi"}, doc)
}

func TestBunStoreRunTransaction(t *testing.T) {
	store, _, cleanup := setupBunStore(t)
	defer cleanup()
	ctx := context.Background()
	counter := auth.DocumentRef{Collection: "metadata", ID: "signupCounter"}

	increment := func(ctx context.Context, tx auth.DocumentTx) error {
		doc, err := tx.Get(ctx, counter)
		count := 0.0
		if err == nil {
			count = doc["count"].(float64)
		} else if !errors.Is(err, auth.ErrDocumentNotFound) {
			return err
		}
		tx.Set(counter, auth.Document{"count": count + 1})
		return nil
	}

	require.NoError(t, store.RunTransaction(ctx, increment))
	require.NoError(t, store.RunTransaction(ctx, increment))

	doc, err := store.Get(ctx, counter)
	require.NoError(t, err)
	assert.Equal(t, 2.0, doc["count"])

	t.Run("function error discards writes", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.RunTransaction(ctx, func(ctx context.Context, tx auth.DocumentTx) error {
			tx.Set(counter, auth.Document{"count": 100})
			return boom
		})
		assert.ErrorIs(t, err, boom)

		doc, err := store.Get(ctx, counter)
		require.NoError(t, err)
		assert.Equal(t, 2.0, doc["count"])
	})
}

func TestBunStoreRunTransactionVersionConflict(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqldb.Close()

	db := bun.NewDB(sqldb, sqlitedialect.New())
	store := NewBunStore(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "documents"`).
		WillReturnRows(sqlmock.NewRows([]string{"collection", "id", "data", "version", "created_at", "updated_at"}).
			AddRow("metadata", "signupCounter", `{"count":1}`, 3, now, now))
	mock.ExpectExec(`UPDATE "documents"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = store.RunTransaction(context.Background(), func(ctx context.Context, tx auth.DocumentTx) error {
		ref := auth.DocumentRef{Collection: "metadata", ID: "signupCounter"}
		if _, err := tx.Get(ctx, ref); err != nil {
			return err
		}
		tx.Set(ref, auth.Document{"count": 2})
		return nil
	})

	assert.ErrorIs(t, err, auth.ErrTransactionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStoreCancelledContext(t *testing.T) {
	store, _, cleanup := setupBunStore(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.RunTransaction(ctx, func(context.Context, auth.DocumentTx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
