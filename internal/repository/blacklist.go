package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type BlacklistRepository interface {
	// Phones returns the owner's blacklisted phone set, checked at
	// dispatch time so late additions still take effect.
	Phones(ctx context.Context, userID int64) (map[string]struct{}, error)
	Add(ctx context.Context, userID int64, phone string) error
	Remove(ctx context.Context, userID int64, phone string) error
}

type BlacklistRepositoryImpl struct {
	db *sqlx.DB
}

func NewBlacklistRepository(db *sqlx.DB) *BlacklistRepositoryImpl {
	return &BlacklistRepositoryImpl{db: db}
}

var _ BlacklistRepository = (*BlacklistRepositoryImpl)(nil)

func (r *BlacklistRepositoryImpl) Phones(ctx context.Context, userID int64) (map[string]struct{}, error) {
	var phones []string
	err := r.db.SelectContext(ctx, &phones,
		`SELECT phone FROM blacklist WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(phones))
	for _, p := range phones {
		set[p] = struct{}{}
	}
	return set, nil
}

func (r *BlacklistRepositoryImpl) Add(ctx context.Context, userID int64, phone string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT IGNORE INTO blacklist (user_id, phone, created_at) VALUES (?, ?, NOW())`,
		userID, phone)
	return err
}

func (r *BlacklistRepositoryImpl) Remove(ctx context.Context, userID int64, phone string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM blacklist WHERE user_id = ? AND phone = ?`, userID, phone)
	return err
}
