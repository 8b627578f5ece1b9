package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/zapvia/campaign-gateway/internal/model"
)

type InstancesRepository interface {
	GetByID(ctx context.Context, id string) (*model.Instance, error)
}

type InstancesRepositoryImpl struct {
	db *sqlx.DB
}

func NewInstancesRepository(db *sqlx.DB) *InstancesRepositoryImpl {
	return &InstancesRepositoryImpl{db: db}
}

var _ InstancesRepository = (*InstancesRepositoryImpl)(nil)

func (r *InstancesRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Instance, error) {
	var inst model.Instance
	err := r.db.GetContext(ctx, &inst, `
		SELECT id, user_id, token, status, created_at, updated_at
		  FROM instances
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}
