package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/config"
	"github.com/zapvia/campaign-gateway/internal/faults"
	"github.com/zapvia/campaign-gateway/internal/gateway"
	"github.com/zapvia/campaign-gateway/internal/model"
	"github.com/zapvia/campaign-gateway/internal/queue"
	"github.com/zapvia/campaign-gateway/internal/ratelimit"
	"github.com/zapvia/campaign-gateway/internal/repository"
	"github.com/zapvia/campaign-gateway/internal/schedule"
)

// ---- fakes ----

type fakeCampaigns struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	stats     map[string]map[string]int64
	completed []string
}

func newFakeCampaigns(cs ...*model.Campaign) *fakeCampaigns {
	f := &fakeCampaigns{
		campaigns: map[string]*model.Campaign{},
		stats:     map[string]map[string]int64{},
	}
	for _, c := range cs {
		f.campaigns[c.ID] = c
	}
	return f
}

func (f *fakeCampaigns) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.campaigns[id], nil
}

func (f *fakeCampaigns) Insert(_ context.Context, c *model.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[c.ID] = c
	return nil
}

func (f *fakeCampaigns) ListScheduled(context.Context) ([]model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Campaign
	for _, c := range f.campaigns {
		if c.Status == model.CampaignRunning && c.Schedule != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCampaigns) AdvanceStatus(_ context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCampaigns) ClaimWindow(_ context.Context, id string, windowStart time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return false, nil
	}
	if c.LastDispatchedAt != nil && !c.LastDispatchedAt.Before(windowStart) {
		return false, nil
	}
	ts := windowStart
	c.LastDispatchedAt = &ts
	return true, nil
}

func (f *fakeCampaigns) IncrementStat(_ context.Context, id, stat string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stats[id] == nil {
		f.stats[id] = map[string]int64{}
	}
	f.stats[id][stat]++
	switch stat {
	case repository.StatSent:
		f.campaigns[id].Sent++
	case repository.StatFailed:
		f.campaigns[id].Failed++
	case repository.StatSkipped:
		f.campaigns[id].Skipped++
	}
	return nil
}

func (f *fakeCampaigns) AddToTotal(_ context.Context, id string, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[id].Total += n
	return nil
}

func (f *fakeCampaigns) MarkCompleted(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || c.Status != model.CampaignRunning {
		return false, nil
	}
	// recurring campaigns stay running between windows
	if c.Schedule != nil {
		return false, nil
	}
	if c.Total == 0 || c.Sent+c.Failed < c.Total {
		return false, nil
	}
	c.Status = model.CampaignCompleted
	f.completed = append(f.completed, id)
	return true, nil
}

func (f *fakeCampaigns) stat(id, stat string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats[id][stat]
}

type fakeLogs struct {
	mu   sync.Mutex
	rows []model.DeliveryLog
}

func (f *fakeLogs) Insert(_ context.Context, l model.DeliveryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, l)
	return nil
}

func (f *fakeLogs) ListByUser(context.Context, int64, string, model.DeliveryStatus, int, int) ([]model.DeliveryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.DeliveryLog(nil), f.rows...), nil
}

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	errs  []error // errs[i] returned for call i; past the end: nil
}

func (f *fakeGateway) SendMessage(context.Context, gateway.Instance, gateway.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) {
		return f.errs[i]
	}
	return nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- harness ----

type senderEnv struct {
	sender    *Sender
	campaigns *fakeCampaigns
	logs      *fakeLogs
	gw        *fakeGateway
	msgQ      *queue.Queue
	retryQ    *queue.Queue
	notifyQ   *queue.Queue
}

func newSenderEnv(t *testing.T, gw *fakeGateway, cs ...*model.Campaign) *senderEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	zlog := zap.NewNop()

	campaigns := newFakeCampaigns(cs...)
	logs := &fakeLogs{}
	retryQ := queue.New(rdb, zlog, queue.MessageRetry)
	notifyQ := queue.New(rdb, zlog, queue.CampaignNotifications)

	limits := ratelimit.NewRegistry(rdb, zlog, config.RateLimitConfig{
		InstanceSend:  config.WindowLimit{Max: 1000, Window: time.Minute},
		InstanceDaily: config.WindowLimit{Max: 1000, Window: 24 * time.Hour},
		UserCampaign:  config.WindowLimit{Max: 1000, Window: time.Minute},
		UserAPI:       config.WindowLimit{Max: 1000, Window: time.Minute},
		MessageRetry:  config.WindowLimit{Max: 1000, Window: 5 * time.Minute},
	})

	return &senderEnv{
		sender: &Sender{
			Campaigns:   campaigns,
			Logs:        logs,
			Gateway:     gw,
			Limits:      limits,
			RetryQ:      retryQ,
			NotifyQ:     notifyQ,
			Log:         zlog,
			MaxRetries:  3,
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
		},
		campaigns: campaigns,
		logs:      logs,
		gw:        gw,
		msgQ:      queue.New(rdb, zlog, queue.CampaignMessages),
		retryQ:    retryQ,
		notifyQ:   notifyQ,
	}
}

func runningCampaign(id string) *model.Campaign {
	return &model.Campaign{ID: id, UserID: 1, InstanceID: "inst-1", Status: model.CampaignRunning}
}

func testJob(campaignID string, retry int) model.MessageJob {
	return model.MessageJob{
		CampaignID: campaignID,
		ContactID:  7,
		Phone:      "+5511999990000",
		Body:       "oi",
		Type:       model.MessageText,
		InstanceID: "inst-1",
		UserID:     1,
		RetryCount: retry,
	}
}

// enqueue + fetch + handle one job through the sender.
func (e *senderEnv) handleOne(t *testing.T, q *queue.Queue, job model.MessageJob) {
	t.Helper()
	ctx := context.Background()
	_, err := q.Add(ctx, job, queue.Options{})
	require.NoError(t, err)
	j, err := q.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	e.sender.Handle(ctx, q, j)
}

// ---- tests ----

func TestSenderSuccess(t *testing.T) {
	c := runningCampaign("c1")
	c.Total = 1
	env := newSenderEnv(t, &fakeGateway{}, c)

	env.handleOne(t, env.msgQ, testJob("c1", 0))

	assert.Equal(t, int64(1), env.campaigns.stat("c1", repository.StatSent))
	require.Len(t, env.logs.rows, 1)
	assert.Equal(t, model.DeliverySent, env.logs.rows[0].Status)
	assert.Equal(t, 1, env.logs.rows[0].Attempts)

	counts, err := env.msgQ.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Completed)
	assert.Equal(t, int64(0), counts.Active)
}

func TestSenderCompletesCampaignOnLastJob(t *testing.T) {
	c := runningCampaign("c1")
	c.Total = 2
	env := newSenderEnv(t, &fakeGateway{}, c)

	env.handleOne(t, env.msgQ, testJob("c1", 0))
	assert.Empty(t, env.campaigns.completed)

	env.handleOne(t, env.msgQ, testJob("c1", 0))
	assert.Equal(t, []string{"c1"}, env.campaigns.completed)

	// completion notification was enqueued
	j, err := env.notifyQ.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j)
	var n model.NotificationJob
	require.NoError(t, j.Decode(&n))
	assert.Equal(t, model.NotifyCompleted, n.Kind)
}

func TestSenderLeavesRecurringCampaignRunning(t *testing.T) {
	c := runningCampaign("c1")
	c.Schedule = &schedule.Schedule{StartTime: "09:00"}
	c.Total = 1
	env := newSenderEnv(t, &fakeGateway{}, c)

	env.handleOne(t, env.msgQ, testJob("c1", 0))

	// the window fully resolved but the campaign waits for its next window
	assert.Equal(t, int64(1), env.campaigns.stat("c1", repository.StatSent))
	assert.Empty(t, env.campaigns.completed)
	assert.Equal(t, model.CampaignRunning, c.Status)
}

func TestSenderPermanentFailure(t *testing.T) {
	c := runningCampaign("c1")
	c.Total = 1
	env := newSenderEnv(t, &fakeGateway{errs: []error{faults.PermanentSend(assert.AnError)}}, c)

	env.handleOne(t, env.msgQ, testJob("c1", 0))

	assert.Equal(t, int64(1), env.campaigns.stat("c1", repository.StatFailed))
	require.Len(t, env.logs.rows, 1)
	assert.Equal(t, model.DeliveryFailed, env.logs.rows[0].Status)

	// no retry scheduled
	counts, err := env.retryQ.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Waiting+counts.Delayed)
}

func TestSenderTransientFailureSchedulesRetry(t *testing.T) {
	env := newSenderEnv(t, &fakeGateway{errs: []error{faults.TransientSend(assert.AnError)}}, runningCampaign("c1"))

	env.handleOne(t, env.msgQ, testJob("c1", 0))

	// no outcome recorded yet
	assert.Equal(t, int64(0), env.campaigns.stat("c1", repository.StatFailed))
	assert.Empty(t, env.logs.rows)

	// retry job carries the bumped count
	time.Sleep(10 * time.Millisecond) // past the test backoff cap
	j, err := env.retryQ.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j)
	var job model.MessageJob
	require.NoError(t, j.Decode(&job))
	assert.Equal(t, 1, job.RetryCount)
}

func TestSenderRetryBudgetExhausted(t *testing.T) {
	c := runningCampaign("c1")
	c.Total = 1
	env := newSenderEnv(t, &fakeGateway{errs: []error{faults.TransientSend(assert.AnError)}}, c)

	// a job that already burned its full budget
	env.handleOne(t, env.retryQ, testJob("c1", 3))

	assert.Equal(t, int64(1), env.campaigns.stat("c1", repository.StatFailed))
	counts, err := env.retryQ.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Waiting+counts.Delayed)
	assert.Equal(t, int64(1), counts.Failed)

	// failure notification enqueued
	j, err := env.notifyQ.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, j)
	var n model.NotificationJob
	require.NoError(t, j.Decode(&n))
	assert.Equal(t, model.NotifyFailed, n.Kind)
}

func TestSenderBoundedAttempts(t *testing.T) {
	// always-transient gateway: the job may be attempted at most
	// 1 + MaxRetries times in total
	gw := &fakeGateway{errs: []error{
		faults.TransientSend(assert.AnError), faults.TransientSend(assert.AnError),
		faults.TransientSend(assert.AnError), faults.TransientSend(assert.AnError),
		faults.TransientSend(assert.AnError), faults.TransientSend(assert.AnError),
	}}
	c := runningCampaign("c1")
	c.Total = 1
	env := newSenderEnv(t, gw, c)
	ctx := context.Background()

	env.handleOne(t, env.msgQ, testJob("c1", 0))
	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		j, err := env.retryQ.Fetch(ctx)
		require.NoError(t, err)
		if j == nil {
			break
		}
		env.sender.Handle(ctx, env.retryQ, j)
	}

	assert.Equal(t, 4, gw.callCount()) // initial + 3 retries
	assert.Equal(t, int64(1), env.campaigns.stat("c1", repository.StatFailed))
}

func TestSenderSkipsTerminalCampaign(t *testing.T) {
	done := runningCampaign("c1")
	done.Status = model.CampaignCompleted
	env := newSenderEnv(t, &fakeGateway{}, done)

	env.handleOne(t, env.msgQ, testJob("c1", 0))

	assert.Equal(t, 0, env.gw.callCount())
	counts, err := env.msgQ.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Completed) // acked as a no-op
}

func TestSenderUnknownCampaignIsNoOp(t *testing.T) {
	env := newSenderEnv(t, &fakeGateway{})

	env.handleOne(t, env.msgQ, testJob("ghost", 0))

	assert.Equal(t, 0, env.gw.callCount())
}

func TestSenderHoldsJobForPausedCampaign(t *testing.T) {
	paused := runningCampaign("c1")
	paused.Status = model.CampaignPaused
	env := newSenderEnv(t, &fakeGateway{}, paused)

	env.handleOne(t, env.msgQ, testJob("c1", 0))

	assert.Equal(t, 0, env.gw.callCount())
	counts, err := env.msgQ.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed) // parked, not burned
	assert.Equal(t, int64(0), counts.Failed)
}

func TestSenderInstanceRateLimitDefersJob(t *testing.T) {
	env := newSenderEnv(t, &fakeGateway{}, runningCampaign("c1"))
	ctx := context.Background()

	// exhaust the per-instance allowance
	for i := 0; i < 1000; i++ {
		require.True(t, env.sender.Limits.InstanceSend.Check(ctx, "inst-1").Allowed)
	}

	env.handleOne(t, env.msgQ, testJob("c1", 0))

	assert.Equal(t, 0, env.gw.callCount())
	counts, err := env.msgQ.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)
}
