package local

import (
	"context"
	"fmt"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// CreateSchema creates the backend tables when missing
func CreateSchema(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*Account)(nil),
		(*EmailLinkChallenge)(nil),
		(*LinkedIdentity)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrap(err, errors.CategoryExternal, "failed to create local provider schema").
				WithMetadata(map[string]any{"model": fmt.Sprintf("%T", model)})
		}
	}
	return nil
}
