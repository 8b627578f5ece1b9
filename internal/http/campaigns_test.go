package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/model"
	"github.com/zapvia/campaign-gateway/internal/queue"
)

// stubCampaigns implements just enough of the repository for the control
// handlers: lookup and guarded status transitions.
type stubCampaigns struct {
	byID map[string]*model.Campaign
}

func (s *stubCampaigns) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	return s.byID[id], nil
}

func (s *stubCampaigns) Insert(_ context.Context, c *model.Campaign) error {
	s.byID[c.ID] = c
	return nil
}

func (s *stubCampaigns) ListScheduled(context.Context) ([]model.Campaign, error) { return nil, nil }

func (s *stubCampaigns) AdvanceStatus(_ context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	c, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *stubCampaigns) ClaimWindow(context.Context, string, time.Time) (bool, error) {
	return true, nil
}
func (s *stubCampaigns) IncrementStat(context.Context, string, string) error { return nil }
func (s *stubCampaigns) AddToTotal(context.Context, string, int64) error     { return nil }
func (s *stubCampaigns) MarkCompleted(context.Context, string) (bool, error) { return false, nil }

func newControl(t *testing.T, cs ...*model.Campaign) (*campaignControl, *queue.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	notifyQ := queue.New(rdb, zap.NewNop(), queue.CampaignNotifications)

	stub := &stubCampaigns{byID: map[string]*model.Campaign{}}
	for _, c := range cs {
		stub.byID[c.ID] = c
	}
	return &campaignControl{campaigns: stub, notifyQ: notifyQ}, notifyQ
}

func doRequest(handler echo.HandlerFunc, method, target, campaignID string, userID int64) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(campaignID)
	c.Set("user_id", userID)
	_ = handler(c)
	return rec
}

func ownedCampaign(id string, status model.CampaignStatus) *model.Campaign {
	return &model.Campaign{ID: id, UserID: 1, InstanceID: "inst-1", Name: id, Status: status}
}

func TestGetCampaign(t *testing.T) {
	c := ownedCampaign("c1", model.CampaignRunning)
	c.Sent = 3
	c.Total = 10
	cc, _ := newControl(t, c)

	rec := doRequest(cc.getHandler, http.MethodGet, "/v1/campaigns/c1", "c1", 1)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
}

func TestGetCampaignNotFound(t *testing.T) {
	cc, _ := newControl(t)
	rec := doRequest(cc.getHandler, http.MethodGet, "/v1/campaigns/ghost", "ghost", 1)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCampaignOwnershipEnforced(t *testing.T) {
	cc, _ := newControl(t, ownedCampaign("c1", model.CampaignRunning))

	// another user's campaign is indistinguishable from a missing one
	rec := doRequest(cc.getHandler, http.MethodGet, "/v1/campaigns/c1", "c1", 99)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartDraftCampaign(t *testing.T) {
	c := ownedCampaign("c1", model.CampaignDraft)
	cc, notifyQ := newControl(t, c)

	rec := doRequest(cc.startHandler, http.MethodPost, "/v1/campaigns/c1/start", "c1", 1)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CampaignRunning, c.Status)

	j, err := notifyQ.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j)
	var n model.NotificationJob
	require.NoError(t, j.Decode(&n))
	assert.Equal(t, model.NotifyStarted, n.Kind)
}

func TestStartIsIdempotent(t *testing.T) {
	c := ownedCampaign("c1", model.CampaignRunning)
	cc, notifyQ := newControl(t, c)

	rec := doRequest(cc.startHandler, http.MethodPost, "/v1/campaigns/c1/start", "c1", 1)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["changed"])

	// no duplicate notification
	j, err := notifyQ.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestStartCompletedCampaignConflicts(t *testing.T) {
	cc, _ := newControl(t, ownedCampaign("c1", model.CampaignCompleted))

	rec := doRequest(cc.startHandler, http.MethodPost, "/v1/campaigns/c1/start", "c1", 1)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPauseRunningCampaign(t *testing.T) {
	c := ownedCampaign("c1", model.CampaignRunning)
	cc, _ := newControl(t, c)

	rec := doRequest(cc.pauseHandler, http.MethodPost, "/v1/campaigns/c1/pause", "c1", 1)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CampaignPaused, c.Status)
}

func TestPauseDraftConflicts(t *testing.T) {
	cc, _ := newControl(t, ownedCampaign("c1", model.CampaignDraft))

	rec := doRequest(cc.pauseHandler, http.MethodPost, "/v1/campaigns/c1/pause", "c1", 1)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStopCampaign(t *testing.T) {
	c := ownedCampaign("c1", model.CampaignRunning)
	cc, notifyQ := newControl(t, c)

	rec := doRequest(cc.stopHandler, http.MethodPost, "/v1/campaigns/c1/stop", "c1", 1)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CampaignFailed, c.Status)

	j, err := notifyQ.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j)
	var n model.NotificationJob
	require.NoError(t, j.Decode(&n))
	assert.Equal(t, model.NotifyStopped, n.Kind)
}

func TestStopPausedCampaign(t *testing.T) {
	c := ownedCampaign("c1", model.CampaignPaused)
	cc, _ := newControl(t, c)

	rec := doRequest(cc.stopHandler, http.MethodPost, "/v1/campaigns/c1/stop", "c1", 1)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CampaignFailed, c.Status)
}
