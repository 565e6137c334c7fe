package auth

import (
	"context"
	"encoding/json"

	"github.com/goliatone/go-errors"
)

// Collections and well known documents
const (
	CollectionUsers    = "users"
	CollectionMetadata = "metadata"

	DocSignupCounter = "signupCounter"
	DocEarlyUsers    = "earlyUsers"
)

// DocumentRef addresses a single document
type DocumentRef struct {
	Collection string
	ID         string
}

func (r DocumentRef) String() string {
	return r.Collection + "/" + r.ID
}

// Document is the field map stored under a DocumentRef
type Document map[string]any

// DocumentTx is the view a transaction function gets. Reads are versioned,
// writes are buffered and applied atomically on commit.
type DocumentTx interface {
	Get(ctx context.Context, ref DocumentRef) (Document, error)
	Set(ref DocumentRef, doc Document)
}

// TransactionFunc runs inside RunTransaction
type TransactionFunc func(ctx context.Context, tx DocumentTx) error

// DocumentStore is the remote document store. RunTransaction makes a single
// attempt: if any document read inside fn changed before commit it returns
// ErrTransactionConflict and writes nothing.
type DocumentStore interface {
	Get(ctx context.Context, ref DocumentRef) (Document, error)
	Set(ctx context.Context, ref DocumentRef, doc Document) error
	Update(ctx context.Context, ref DocumentRef, fields Document) error
	Merge(ctx context.Context, ref DocumentRef, fields Document) error
	RunTransaction(ctx context.Context, fn TransactionFunc) error
}

// MergeFields applies a shallow merge of fields over base and returns the result
func MergeFields(base, fields Document) Document {
	out := make(Document, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// EncodeDocument converts a tagged struct into a Document
func EncodeDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to encode document")
	}
	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to encode document")
	}
	return doc, nil
}

// DecodeDocument fills out from doc
func DecodeDocument(doc Document, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to decode document")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to decode document")
	}
	return nil
}
