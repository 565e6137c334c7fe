package local

import (
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is a principal known to the local backend. Accounts created
// through an email link or a federated provider have no password hash.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID           uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Email        string    `bun:"email,notnull,unique" json:"email"`
	PasswordHash string    `bun:"password_hash" json:"-"`
	DisplayName  string    `bun:"display_name" json:"display_name"`
	PhotoURL     string    `bun:"photo_url" json:"photo_url"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
	LastSignInAt time.Time `bun:"last_sign_in_at,notnull" json:"last_sign_in_at"`
	UpdatedAt    time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// Principal converts the account into the identity handed to the core
func (a *Account) Principal() *auth.Principal {
	if a == nil {
		return nil
	}
	return &auth.Principal{
		ID:           a.ID.String(),
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		PhotoURL:     a.PhotoURL,
		CreatedAt:    a.CreatedAt,
		LastSignInAt: a.LastSignInAt,
	}
}

// EmailLinkChallenge is a single use sign-in link sent by email.
type EmailLinkChallenge struct {
	bun.BaseModel `bun:"table:email_link_challenges,alias:elc"`

	Code        string     `bun:"code,pk"`
	Email       string     `bun:"email,notnull"`
	CallbackURL string     `bun:"callback_url,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	ExpiresAt   time.Time  `bun:"expires_at,notnull"`
	UsedAt      *time.Time `bun:"used_at,nullzero"`
}

// LinkedIdentity ties a federated provider identity to an account.
type LinkedIdentity struct {
	bun.BaseModel `bun:"table:linked_identities,alias:lid"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	AccountID      uuid.UUID `bun:"account_id,notnull,type:uuid"`
	Provider       string    `bun:"provider,notnull,unique:provider_identity"`
	ProviderUserID string    `bun:"provider_user_id,notnull,unique:provider_identity"`
	Email          string    `bun:"email"`
	Name           string    `bun:"name"`
	AvatarURL      string    `bun:"avatar_url"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}
