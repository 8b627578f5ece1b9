package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/model"
	"github.com/zapvia/campaign-gateway/internal/queue"
)

func newInspection(t *testing.T) (*queueInspection, map[string]*queue.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	zlog := zap.NewNop()

	queues := map[string]*queue.Queue{
		queue.CampaignMessages:      queue.New(rdb, zlog, queue.CampaignMessages),
		queue.CampaignNotifications: queue.New(rdb, zlog, queue.CampaignNotifications),
		queue.MessageRetry:          queue.New(rdb, zlog, queue.MessageRetry),
	}
	return &queueInspection{queues: queues}, queues
}

func queueRequest(handler echo.HandlerFunc, name, query string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/queues/"+name+query, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues(name)
	_ = handler(c)
	return rec
}

func addMessageJob(t *testing.T, q *queue.Queue) {
	t.Helper()
	_, err := q.Add(context.Background(), model.MessageJob{
		CampaignID: "c1", Phone: "+55", Body: "x",
		Type: model.MessageText, InstanceID: "i",
	}, queue.Options{})
	require.NoError(t, err)
}

func TestQueueCounts(t *testing.T) {
	qi, queues := newInspection(t)
	addMessageJob(t, queues[queue.CampaignMessages])

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/queues", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, qi.countsHandler(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]queue.Counts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body, 3)
	assert.Equal(t, int64(1), body[queue.CampaignMessages].Waiting)
	assert.Equal(t, int64(0), body[queue.MessageRetry].Waiting)
}

func TestQueuePauseResume(t *testing.T) {
	qi, queues := newInspection(t)
	q := queues[queue.CampaignMessages]
	addMessageJob(t, q)

	rec := queueRequest(qi.pauseHandler, queue.CampaignMessages, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	j, err := q.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, j)

	rec = queueRequest(qi.resumeHandler, queue.CampaignMessages, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	j, err = q.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, j)
}

func TestQueueClearRequiresForceWithActiveJobs(t *testing.T) {
	qi, queues := newInspection(t)
	q := queues[queue.CampaignMessages]
	addMessageJob(t, q)

	j, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j)

	rec := queueRequest(qi.clearHandler, queue.CampaignMessages, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = queueRequest(qi.clearHandler, queue.CampaignMessages, "?force=true")
	assert.Equal(t, http.StatusOK, rec.Code)

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{}, counts)
}

func TestQueueUnknownName(t *testing.T) {
	qi, _ := newInspection(t)
	rec := queueRequest(qi.pauseHandler, "nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
