package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// DocumentModel is the Bun model backing BunStore.
type DocumentModel struct {
	bun.BaseModel `bun:"table:documents,alias:doc"`

	Collection string    `bun:"collection,pk"`
	ID         string    `bun:"id,pk"`
	Data       string    `bun:"data,notnull"`
	Version    int64     `bun:"version,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

// BunStoreOption customizes the store
type BunStoreOption func(*BunStore)

func WithBunStoreClock(clock func() time.Time) BunStoreOption {
	return func(s *BunStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithBunStoreLogger(logger auth.Logger) BunStoreOption {
	return func(s *BunStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// BunStore implements auth.DocumentStore over a SQL table. Every document row
// carries a version that is compared and bumped on each write.
type BunStore struct {
	db     *bun.DB
	now    func() time.Time
	logger auth.Logger
}

var _ auth.DocumentStore = (*BunStore)(nil)

func NewBunStore(db *bun.DB, opts ...BunStoreOption) *BunStore {
	s := &BunStore{db: db, now: time.Now, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *BunStore) Get(ctx context.Context, ref auth.DocumentRef) (auth.Document, error) {
	model, err := s.load(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}
	return decodeData(model.Data)
}

func (s *BunStore) Set(ctx context.Context, ref auth.DocumentRef, doc auth.Document) error {
	return s.runInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		version, err := s.currentVersion(ctx, tx, ref)
		if err != nil {
			return err
		}
		return s.write(ctx, tx, ref, doc, version)
	})
}

func (s *BunStore) Update(ctx context.Context, ref auth.DocumentRef, fields auth.Document) error {
	return s.patch(ctx, ref, fields, false)
}

func (s *BunStore) Merge(ctx context.Context, ref auth.DocumentRef, fields auth.Document) error {
	return s.patch(ctx, ref, fields, true)
}

func (s *BunStore) patch(ctx context.Context, ref auth.DocumentRef, fields auth.Document, create bool) error {
	return s.runInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		base := auth.Document{}
		var version int64

		model, err := s.load(ctx, tx, ref)
		switch {
		case errors.Is(err, auth.ErrDocumentNotFound):
			if !create {
				return err
			}
		case err != nil:
			return err
		default:
			if base, err = decodeData(model.Data); err != nil {
				return err
			}
			version = model.Version
		}

		return s.write(ctx, tx, ref, auth.MergeFields(base, fields), version)
	})
}

// RunTransaction runs fn inside a database transaction. Buffered writes are
// applied with a version check, reads that were not written are re-checked.
func (s *BunStore) RunTransaction(ctx context.Context, fn auth.TransactionFunc) error {
	return s.runInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		dtx := &bunTx{
			store:  s,
			db:     tx,
			reads:  map[auth.DocumentRef]int64{},
			writes: map[auth.DocumentRef]auth.Document{},
		}

		if err := fn(ctx, dtx); err != nil {
			return err
		}

		for ref, version := range dtx.reads {
			if _, written := dtx.writes[ref]; written {
				continue
			}
			current, err := s.currentVersion(ctx, tx, ref)
			if err != nil {
				return err
			}
			if current != version {
				return auth.ErrTransactionConflict
			}
		}

		for _, ref := range dtx.order {
			expected, read := dtx.reads[ref]
			if !read {
				var err error
				if expected, err = s.currentVersion(ctx, tx, ref); err != nil {
					return err
				}
			}
			if err := s.write(ctx, tx, ref, dtx.writes[ref], expected); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *BunStore) runInTx(ctx context.Context, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return s.db.RunInTx(ctx, nil, f)
	}
}

func (s *BunStore) load(ctx context.Context, db bun.IDB, ref auth.DocumentRef) (*DocumentModel, error) {
	model := &DocumentModel{}
	err := db.NewSelect().
		Model(model).
		Where("?TableAlias.collection = ?", ref.Collection).
		Where("?TableAlias.id = ?", ref.ID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrDocumentNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryExternal, "failed to read document").
			WithMetadata(map[string]any{"ref": ref.String()})
	}
	return model, nil
}

func (s *BunStore) currentVersion(ctx context.Context, db bun.IDB, ref auth.DocumentRef) (int64, error) {
	model, err := s.load(ctx, db, ref)
	if errors.Is(err, auth.ErrDocumentNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return model.Version, nil
}

// write stores doc if the row is still at expected, 0 meaning absent
func (s *BunStore) write(ctx context.Context, db bun.IDB, ref auth.DocumentRef, doc auth.Document, expected int64) error {
	data, err := encodeData(doc)
	if err != nil {
		return err
	}
	now := s.now().UTC()

	var res sql.Result
	if expected == 0 {
		res, err = db.NewInsert().
			Model(&DocumentModel{
				Collection: ref.Collection,
				ID:         ref.ID,
				Data:       data,
				Version:    1,
				CreatedAt:  now,
				UpdatedAt:  now,
			}).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
	} else {
		res, err = db.NewUpdate().
			Model((*DocumentModel)(nil)).
			Set("data = ?", data).
			Set("version = ?", expected+1).
			Set("updated_at = ?", now).
			Where("collection = ?", ref.Collection).
			Where("id = ?", ref.ID).
			Where("version = ?", expected).
			Exec(ctx)
	}
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "failed to write document").
			WithMetadata(map[string]any{"ref": ref.String()})
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		s.logger.Debug("document %s changed concurrently (expected version %d)", ref, expected)
		return auth.ErrTransactionConflict
	}

	return nil
}

type bunTx struct {
	store  *BunStore
	db     bun.IDB
	reads  map[auth.DocumentRef]int64
	writes map[auth.DocumentRef]auth.Document
	order  []auth.DocumentRef
}

func (tx *bunTx) Get(ctx context.Context, ref auth.DocumentRef) (auth.Document, error) {
	model, err := tx.store.load(ctx, tx.db, ref)
	if errors.Is(err, auth.ErrDocumentNotFound) {
		if _, seen := tx.reads[ref]; !seen {
			tx.reads[ref] = 0
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if _, seen := tx.reads[ref]; !seen {
		tx.reads[ref] = model.Version
	}
	return decodeData(model.Data)
}

func (tx *bunTx) Set(ref auth.DocumentRef, doc auth.Document) {
	if _, ok := tx.writes[ref]; !ok {
		tx.order = append(tx.order, ref)
	}
	tx.writes[ref] = auth.MergeFields(nil, doc)
}

func encodeData(doc auth.Document) (string, error) {
	if doc == nil {
		doc = auth.Document{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryBadInput, "document is not JSON encodable")
	}
	return string(raw), nil
}

func decodeData(data string) (auth.Document, error) {
	doc := auth.Document{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "stored document is corrupt")
	}
	return doc, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
