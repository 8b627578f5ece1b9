package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapvia/campaign-gateway/internal/model"
)

// DeliveryLogsRepository appends per-recipient outcomes to ClickHouse and
// serves the reports surface. The table is append-only; ClickHouse handles
// the write volume a large campaign produces.
type DeliveryLogsRepository interface {
	Insert(ctx context.Context, l model.DeliveryLog) error
	ListByUser(ctx context.Context, userID int64, campaignID string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryLog, error)
}

type DeliveryLogsRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeliveryLogsRepository(db *sqlx.DB) *DeliveryLogsRepositoryImpl {
	return &DeliveryLogsRepositoryImpl{db: db}
}

var _ DeliveryLogsRepository = (*DeliveryLogsRepositoryImpl)(nil)

func (r *DeliveryLogsRepositoryImpl) Insert(ctx context.Context, l model.DeliveryLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_logs
		    (id, campaign_id, contact_id, user_id, phone, status, detail, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.CampaignID, l.ContactID, l.UserID, l.Phone, l.Status.String(), l.Detail, l.Attempts, l.CreatedAt)
	return err
}

func (r *DeliveryLogsRepositoryImpl) ListByUser(ctx context.Context, userID int64, campaignID string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, campaign_id, contact_id, user_id, phone, status, detail, attempts, created_at
		  FROM delivery_logs
		 WHERE user_id = ?`)
	args := []any{userID}

	if campaignID != "" {
		sb.WriteString(` AND campaign_id = ?`)
		args = append(args, campaignID)
	}
	if status != "" && status.Valid() {
		sb.WriteString(` AND status = ?`)
		args = append(args, status.String())
	}
	sb.WriteString(` ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	args = append(args, limit, offset)

	var out []model.DeliveryLog
	err := r.db.SelectContext(ctx, &out, sb.String(), args...)
	return out, err
}
