package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/zapvia/campaign-gateway/internal/model"
)

type NotificationsRepository interface {
	Insert(ctx context.Context, n model.Notification) error
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]model.Notification, error)
}

type NotificationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewNotificationsRepository(db *sqlx.DB) *NotificationsRepositoryImpl {
	return &NotificationsRepositoryImpl{db: db}
}

var _ NotificationsRepository = (*NotificationsRepositoryImpl)(nil)

func (r *NotificationsRepositoryImpl) Insert(ctx context.Context, n model.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, campaign_id, kind, message, created_at)
		VALUES (?, ?, ?, ?, NOW())
	`, n.ID, n.CampaignID, string(n.Kind), n.Message)
	return err
}

func (r *NotificationsRepositoryImpl) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []model.Notification
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, campaign_id, kind, message, created_at
		  FROM notifications
		 WHERE campaign_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?
	`, campaignID, limit)
	return out, err
}
