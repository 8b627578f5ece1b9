package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/zapvia/campaign-gateway/internal/http/middleware"
	"github.com/zapvia/campaign-gateway/internal/model"
	"github.com/zapvia/campaign-gateway/internal/queue"
	"github.com/zapvia/campaign-gateway/internal/repository"
	"github.com/zapvia/campaign-gateway/internal/scheduler"
)

// campaignControl implements the start/pause/stop/execute actions. Each is
// idempotent with respect to the campaign's current status: repeating an
// action is a no-op, not an error.
type campaignControl struct {
	campaigns repository.CampaignsRepository
	notifyQ   *queue.Queue
	sched     *scheduler.Service
}

func (cc *campaignControl) load(c echo.Context) (*model.Campaign, error) {
	id := c.Param("id")
	campaign, err := cc.campaigns.GetByID(c.Request().Context(), id)
	if err != nil {
		log.Errorf("campaign lookup failed: %v", err)
		return nil, c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
	}
	if campaign == nil {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "campaign not found"})
	}
	if uid, ok := middleware.UserIDFromCtx(c); !ok || campaign.UserID != uid {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "campaign not found"})
	}
	return campaign, nil
}

func (cc *campaignControl) getHandler(c echo.Context) error {
	campaign, errResp := cc.load(c)
	if campaign == nil {
		return errResp
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":     campaign.ID,
		"name":   campaign.Name,
		"status": campaign.Status.String(),
		"stats":  campaign.CampaignStats,
	})
}

func (cc *campaignControl) transition(c echo.Context, campaign *model.Campaign, from []model.CampaignStatus, to model.CampaignStatus, kind model.NotificationKind) error {
	ctx := c.Request().Context()

	if campaign.Status == to {
		return c.JSON(http.StatusOK, map[string]any{"status": to.String(), "changed": false})
	}

	ok, err := cc.campaigns.AdvanceStatus(ctx, campaign.ID, from, to)
	if err != nil {
		log.Errorf("status transition failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
	}
	if !ok {
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "campaign is " + campaign.Status.String(),
		})
	}

	if _, err := cc.notifyQ.Add(ctx, model.NotificationJob{
		CampaignID: campaign.ID,
		Kind:       kind,
	}, queue.Options{}); err != nil {
		log.Warnf("notification enqueue failed: %v", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": to.String(), "changed": true})
}

func (cc *campaignControl) startHandler(c echo.Context) error {
	campaign, errResp := cc.load(c)
	if campaign == nil {
		return errResp
	}
	return cc.transition(c, campaign,
		[]model.CampaignStatus{model.CampaignDraft, model.CampaignPaused},
		model.CampaignRunning, model.NotifyStarted)
}

func (cc *campaignControl) pauseHandler(c echo.Context) error {
	campaign, errResp := cc.load(c)
	if campaign == nil {
		return errResp
	}
	return cc.transition(c, campaign,
		[]model.CampaignStatus{model.CampaignRunning},
		model.CampaignPaused, model.NotifyPaused)
}

// stopHandler aborts the run. Queued jobs for the campaign become no-ops
// at the worker; the queue backend does not support selective dequeue.
func (cc *campaignControl) stopHandler(c echo.Context) error {
	campaign, errResp := cc.load(c)
	if campaign == nil {
		return errResp
	}
	return cc.transition(c, campaign,
		[]model.CampaignStatus{model.CampaignDraft, model.CampaignRunning, model.CampaignPaused},
		model.CampaignFailed, model.NotifyStopped)
}

func (cc *campaignControl) executeHandler(c echo.Context) error {
	campaign, errResp := cc.load(c)
	if campaign == nil {
		return errResp
	}
	res, err := cc.sched.ExecuteCampaignManually(c.Request().Context(), campaign.ID)
	if err != nil {
		log.Errorf("manual execute failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "execute failed"})
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	return c.JSON(status, res)
}
