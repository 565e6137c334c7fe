package local

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Identities stores the federated identities linked to accounts
type Identities struct {
	db *bun.DB
}

func NewIdentities(db *bun.DB) *Identities {
	return &Identities{db: db}
}

// Find returns the identity for a provider subject or a not found error
func (r *Identities) Find(ctx context.Context, tx bun.IDB, provider, providerUserID string) (*LinkedIdentity, error) {
	record := &LinkedIdentity{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ? AND ?TableAlias.provider_user_id = ?", provider, providerUserID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *Identities) ForAccount(ctx context.Context, accountID uuid.UUID) ([]*LinkedIdentity, error) {
	var records []*LinkedIdentity
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.account_id = ?", accountID).
		Order("provider").
		Scan(ctx)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, err
	}
	return records, nil
}

// Upsert inserts the identity or refreshes the profile data of an existing one
func (r *Identities) Upsert(ctx context.Context, tx bun.IDB, identity *LinkedIdentity) error {
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	_, err := tx.NewInsert().
		Model(identity).
		On("CONFLICT (provider, provider_user_id) DO UPDATE").
		Set("account_id = EXCLUDED.account_id").
		Set("email = EXCLUDED.email").
		Set("name = EXCLUDED.name").
		Set("avatar_url = EXCLUDED.avatar_url").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}
