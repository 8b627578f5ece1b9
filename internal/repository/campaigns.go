package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapvia/campaign-gateway/internal/model"
)

// Stat names accepted by IncrementStat. Counter updates are single-statement
// atomic increments so concurrent workers never lose updates.
const (
	StatSent      = "sent_count"
	StatDelivered = "delivered_count"
	StatRead      = "read_count"
	StatFailed    = "failed_count"
	StatSkipped   = "skipped_count"
)

var statColumns = map[string]bool{
	StatSent: true, StatDelivered: true, StatRead: true,
	StatFailed: true, StatSkipped: true,
}

type CampaignsRepository interface {
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	Insert(ctx context.Context, c *model.Campaign) error
	// ListScheduled returns running campaigns that carry a recurring schedule.
	ListScheduled(ctx context.Context) ([]model.Campaign, error)
	// AdvanceStatus moves id from any status in `from` to `to`. Returns false
	// (no error) when the campaign is not in an eligible state, which makes
	// control actions idempotent.
	AdvanceStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	// ClaimWindow atomically records windowStart as the last dispatched
	// window. Returns false when the window was already claimed.
	ClaimWindow(ctx context.Context, id string, windowStart time.Time) (bool, error)
	// IncrementStat bumps one stats column by one.
	IncrementStat(ctx context.Context, id, stat string) error
	// AddToTotal bumps total_count by n when a window's jobs are enqueued.
	AddToTotal(ctx context.Context, id string, n int64) error
	// MarkCompleted finalizes a manual-only campaign when every recipient job
	// resolved. Recurring campaigns stay running between windows.
	MarkCompleted(ctx context.Context, id string) (bool, error)
}

type CampaignsRepositoryImpl struct {
	db *sqlx.DB
}

func NewCampaignsRepository(db *sqlx.DB) *CampaignsRepositoryImpl {
	return &CampaignsRepositoryImpl{db: db}
}

var _ CampaignsRepository = (*CampaignsRepositoryImpl)(nil)

const campaignColumns = `
	id, user_id, instance_id, name, template, media_url, status, schedule,
	total_count, sent_count, delivered_count, read_count, failed_count, skipped_count,
	last_dispatched_at, started_at, completed_at, created_at, updated_at`

func (r *CampaignsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := r.db.GetContext(ctx, &c,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignsRepositoryImpl) Insert(ctx context.Context, c *model.Campaign) error {
	const q = `
		INSERT INTO campaigns
		    (id, user_id, instance_id, name, template, media_url, status, schedule,
		     total_count, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, 0, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.UserID, c.InstanceID, c.Name, c.Template, c.MediaURL,
		c.Status.String(), c.Schedule,
	)
	return err
}

func (r *CampaignsRepositoryImpl) ListScheduled(ctx context.Context) ([]model.Campaign, error) {
	var out []model.Campaign
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+campaignColumns+`
		   FROM campaigns
		  WHERE status = ? AND schedule IS NOT NULL
		  ORDER BY created_at`, model.CampaignRunning.String())
	return out, err
}

func (r *CampaignsRepositoryImpl) AdvanceStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("advance status: empty from set")
	}
	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, s.String())
	}

	var extra string
	switch to {
	case model.CampaignRunning:
		extra = ", started_at = COALESCE(started_at, NOW())"
	case model.CampaignCompleted, model.CampaignFailed:
		extra = ", completed_at = NOW()"
	}

	query, args, err := sqlx.In(
		`UPDATE campaigns SET status = ?, updated_at = NOW()`+extra+` WHERE id = ? AND status IN (?)`,
		to.String(), id, states)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignsRepositoryImpl) ClaimWindow(ctx context.Context, id string, windowStart time.Time) (bool, error) {
	const q = `
		UPDATE campaigns
		   SET last_dispatched_at = ?, updated_at = NOW()
		 WHERE id = ?
		   AND (last_dispatched_at IS NULL OR last_dispatched_at < ?)
	`
	res, err := r.db.ExecContext(ctx, q, windowStart, id, windowStart)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignsRepositoryImpl) IncrementStat(ctx context.Context, id, stat string) error {
	if !statColumns[stat] {
		return fmt.Errorf("unknown stat column %q", stat)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET `+stat+` = `+stat+` + 1, updated_at = NOW() WHERE id = ?`, id)
	return err
}

func (r *CampaignsRepositoryImpl) AddToTotal(ctx context.Context, id string, n int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET total_count = total_count + ?, updated_at = NOW() WHERE id = ?`, n, id)
	return err
}

// MarkCompleted transitions running -> completed when all enqueued jobs
// resolved. The guard repeats the resolution check so concurrent workers
// racing on the last job complete the campaign exactly once. Campaigns with
// a schedule are excluded: each due window opens a fresh batch, so they run
// until an operator stops them.
func (r *CampaignsRepositoryImpl) MarkCompleted(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE campaigns
		   SET status = ?, completed_at = NOW(), updated_at = NOW()
		 WHERE id = ? AND status = ?
		   AND schedule IS NULL
		   AND sent_count + failed_count >= total_count
		   AND total_count > 0
	`
	res, err := r.db.ExecContext(ctx, q,
		model.CampaignCompleted.String(), id, model.CampaignRunning.String())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
