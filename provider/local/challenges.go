package local

import (
	"context"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// Challenges stores email link challenges
type Challenges struct {
	db *bun.DB
}

func NewChallenges(db *bun.DB) *Challenges {
	return &Challenges{db: db}
}

func (c *Challenges) Create(ctx context.Context, challenge *EmailLinkChallenge) error {
	_, err := c.db.NewInsert().Model(challenge).Exec(ctx)
	return err
}

func (c *Challenges) Get(ctx context.Context, tx bun.IDB, code string) (*EmailLinkChallenge, error) {
	record := &EmailLinkChallenge{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, auth.ErrInvalidOrExpiredLink
		}
		return nil, err
	}
	return record, nil
}

// Consume marks the challenge used. It reports false when another caller
// consumed it first.
func (c *Challenges) Consume(ctx context.Context, tx bun.IDB, code string, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*EmailLinkChallenge)(nil)).
		Set("used_at = ?", at).
		Where("code = ?", code).
		Where("used_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Purge drops challenges that expired before the given time
func (c *Challenges) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.db.NewDelete().
		Model((*EmailLinkChallenge)(nil)).
		Where("expires_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
