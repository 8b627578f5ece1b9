package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/model"
	"github.com/zapvia/campaign-gateway/internal/queue"
)

type fakeNotifications struct {
	mu     sync.Mutex
	rows   []model.Notification
	insErr error
}

func (f *fakeNotifications) Insert(_ context.Context, n model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insErr != nil {
		return f.insErr
	}
	f.rows = append(f.rows, n)
	return nil
}

func (f *fakeNotifications) ListByCampaign(context.Context, string, int) ([]model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Notification(nil), f.rows...), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	keys   []string
	values [][]byte
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.values = append(f.values, value)
	return nil
}

func notifierQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.New(rdb, zap.NewNop(), queue.CampaignNotifications)
}

func TestNotifierPersistsAndPublishes(t *testing.T) {
	q := notifierQueue(t)
	ctx := context.Background()

	repo := &fakeNotifications{}
	pub := &fakePublisher{}
	n := &Notifier{Notifications: repo, Events: pub, Log: zap.NewNop()}

	_, err := q.Add(ctx, model.NotificationJob{
		CampaignID: "c1", Kind: model.NotifyStarted, Message: "campaign started",
	}, queue.Options{})
	require.NoError(t, err)

	j, err := q.Fetch(ctx)
	require.NoError(t, err)
	n.Handle(ctx, q, j)

	require.Len(t, repo.rows, 1)
	assert.Equal(t, "c1", repo.rows[0].CampaignID)
	assert.Equal(t, model.NotifyStarted, repo.rows[0].Kind)
	assert.NotEmpty(t, repo.rows[0].ID)

	require.Len(t, pub.keys, 1)
	assert.Equal(t, "c1", pub.keys[0]) // keyed by campaign for partition ordering
	var ev Event
	require.NoError(t, json.Unmarshal(pub.values[0], &ev))
	assert.Equal(t, model.NotifyStarted, ev.Kind)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Completed)
}

func TestNotifierAcksBeforeHandling(t *testing.T) {
	q := notifierQueue(t)
	ctx := context.Background()

	repo := &fakeNotifications{insErr: errors.New("db down")}
	n := &Notifier{Notifications: repo, Events: &fakePublisher{}, Log: zap.NewNop()}

	_, err := q.Add(ctx, model.NotificationJob{CampaignID: "c1", Kind: model.NotifyPaused}, queue.Options{})
	require.NoError(t, err)
	j, err := q.Fetch(ctx)
	require.NoError(t, err)
	n.Handle(ctx, q, j)

	// best-effort: failed insert never requeues the job
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Completed)
	assert.Equal(t, int64(0), counts.Waiting+counts.Delayed+counts.Active)
}

func TestNotifierWithoutPublisher(t *testing.T) {
	q := notifierQueue(t)
	ctx := context.Background()

	repo := &fakeNotifications{}
	n := &Notifier{Notifications: repo, Log: zap.NewNop()}

	_, err := q.Add(ctx, model.NotificationJob{CampaignID: "c1", Kind: model.NotifyCompleted}, queue.Options{})
	require.NoError(t, err)
	j, err := q.Fetch(ctx)
	require.NoError(t, err)

	assert.NotPanics(t, func() { n.Handle(ctx, q, j) })
	assert.Len(t, repo.rows, 1)
}
