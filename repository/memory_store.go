package repository

import (
	"context"
	"encoding/json"
	"sync"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-errors"
)

type memoryEntry struct {
	data    []byte
	version int64
}

// MemoryStore is an in process auth.DocumentStore with optimistic versions.
// Documents are kept JSON encoded so callers never share maps with the store.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[auth.DocumentRef]memoryEntry
}

var _ auth.DocumentStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[auth.DocumentRef]memoryEntry{}}
}

func (s *MemoryStore) Get(ctx context.Context, ref auth.DocumentRef) (auth.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	entry, ok := s.docs[ref]
	s.mu.Unlock()
	if !ok {
		return nil, auth.ErrDocumentNotFound
	}
	return decodeEntry(entry.data)
}

func (s *MemoryStore) Set(ctx context.Context, ref auth.DocumentRef, doc auth.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeEntry(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(ref, raw)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, ref auth.DocumentRef, fields auth.Document) error {
	return s.patch(ctx, ref, fields, false)
}

func (s *MemoryStore) Merge(ctx context.Context, ref auth.DocumentRef, fields auth.Document) error {
	return s.patch(ctx, ref, fields, true)
}

func (s *MemoryStore) patch(ctx context.Context, ref auth.DocumentRef, fields auth.Document, create bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base := auth.Document{}
	if entry, ok := s.docs[ref]; ok {
		current, err := decodeEntry(entry.data)
		if err != nil {
			return err
		}
		base = current
	} else if !create {
		return auth.ErrDocumentNotFound
	}

	raw, err := encodeEntry(auth.MergeFields(base, fields))
	if err != nil {
		return err
	}
	s.put(ref, raw)
	return nil
}

// RunTransaction runs fn once and commits its buffered writes if none of the
// documents it read changed in the meantime.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn auth.TransactionFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:  s,
		reads:  map[auth.DocumentRef]int64{},
		writes: map[auth.DocumentRef][]byte{},
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if tx.err != nil {
		return tx.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for ref, version := range tx.reads {
		if s.docs[ref].version != version {
			return auth.ErrTransactionConflict
		}
	}
	for _, ref := range tx.order {
		s.put(ref, tx.writes[ref])
	}
	return nil
}

// Version exposes the current version of a document, 0 when absent
func (s *MemoryStore) Version(ref auth.DocumentRef) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[ref].version
}

func (s *MemoryStore) put(ref auth.DocumentRef, raw []byte) {
	entry := s.docs[ref]
	s.docs[ref] = memoryEntry{data: raw, version: entry.version + 1}
}

type memoryTx struct {
	store  *MemoryStore
	reads  map[auth.DocumentRef]int64
	writes map[auth.DocumentRef][]byte
	order  []auth.DocumentRef
	err    error
}

func (tx *memoryTx) Get(ctx context.Context, ref auth.DocumentRef) (auth.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx.store.mu.Lock()
	entry, ok := tx.store.docs[ref]
	tx.store.mu.Unlock()

	if _, seen := tx.reads[ref]; !seen {
		tx.reads[ref] = entry.version
	}
	if !ok {
		return nil, auth.ErrDocumentNotFound
	}
	return decodeEntry(entry.data)
}

func (tx *memoryTx) Set(ref auth.DocumentRef, doc auth.Document) {
	raw, err := encodeEntry(doc)
	if err != nil {
		tx.err = err
		return
	}
	if _, ok := tx.writes[ref]; !ok {
		tx.order = append(tx.order, ref)
	}
	tx.writes[ref] = raw
}

func encodeEntry(doc auth.Document) ([]byte, error) {
	if doc == nil {
		doc = auth.Document{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "document is not JSON encodable")
	}
	return raw, nil
}

func decodeEntry(raw []byte) (auth.Document, error) {
	doc := auth.Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "stored document is corrupt")
	}
	return doc, nil
}
