package local

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts is the account table
type Accounts interface {
	repository.Repository[*Account]

	ByEmail(ctx context.Context, email string) (*Account, error)
	ByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	ByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error)
	Register(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	TouchSignIn(ctx context.Context, tx bun.IDB, account *Account, at time.Time) error
	UpdateDisplay(ctx context.Context, id uuid.UUID, displayName, photoURL string, at time.Time) (*Account, error)
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var _ Accounts = (*accounts)(nil)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{Repository: repo, db: db}
}

func (a *accounts) ByEmail(ctx context.Context, email string) (*Account, error) {
	return a.ByEmailTx(ctx, a.db, email)
}

func (a *accounts) ByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": email})
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) ByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error) {
	record := &Account{ID: id}
	if err := tx.NewSelect().Model(record).WherePK().Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

// Register inserts a new account. The id is derived from the email so the
// same address always maps to the same principal.
func (a *accounts) Register(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	account.Email = NormalizeEmail(account.Email)
	if account.ID == uuid.Nil {
		id, err := accountID(account.Email)
		if err != nil {
			return nil, err
		}
		account.ID = id
	}
	return a.Repository.CreateTx(ctx, tx, account)
}

func (a *accounts) TouchSignIn(ctx context.Context, tx bun.IDB, account *Account, at time.Time) error {
	account.LastSignInAt = at
	account.UpdatedAt = at
	_, err := tx.NewUpdate().
		Model(account).
		Column("last_sign_in_at", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

func (a *accounts) UpdateDisplay(ctx context.Context, id uuid.UUID, displayName, photoURL string, at time.Time) (*Account, error) {
	record := &Account{ID: id, DisplayName: displayName, PhotoURL: photoURL, UpdatedAt: at}
	res, err := a.db.NewUpdate().
		Model(record).
		Column("display_name", "photo_url", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}
	return a.GetByID(ctx, id.String())
}

// NormalizeEmail trims and lower cases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func accountID(email string) (uuid.UUID, error) {
	id, err := hashid.NewUUID(email)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, errors.CategoryInternal, "failed to derive account id")
	}
	return id, nil
}
