package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/zapvia/campaign-gateway/internal/model"
)

type ContactsRepository interface {
	// ListByCampaign returns the recipient list assigned to a campaign.
	ListByCampaign(ctx context.Context, campaignID string) ([]model.Contact, error)
	Insert(ctx context.Context, c *model.Contact) (int64, error)
	Assign(ctx context.Context, campaignID string, contactID int64) error
}

type ContactsRepositoryImpl struct {
	db *sqlx.DB
}

func NewContactsRepository(db *sqlx.DB) *ContactsRepositoryImpl {
	return &ContactsRepositoryImpl{db: db}
}

var _ ContactsRepository = (*ContactsRepositoryImpl)(nil)

func (r *ContactsRepositoryImpl) ListByCampaign(ctx context.Context, campaignID string) ([]model.Contact, error) {
	var out []model.Contact
	err := r.db.SelectContext(ctx, &out, `
		SELECT c.id, c.user_id, c.name, c.phone, c.created_at, c.updated_at
		  FROM contacts c
		  JOIN campaign_recipients cr ON cr.contact_id = c.id
		 WHERE cr.campaign_id = ?
		 ORDER BY c.id
	`, campaignID)
	return out, err
}

func (r *ContactsRepositoryImpl) Insert(ctx context.Context, c *model.Contact) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (user_id, name, phone, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
	`, c.UserID, c.Name, c.Phone)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *ContactsRepositoryImpl) Assign(ctx context.Context, campaignID string, contactID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT IGNORE INTO campaign_recipients (campaign_id, contact_id) VALUES (?, ?)
	`, campaignID, contactID)
	return err
}
