// Package scheduler decides which campaigns are due on each periodic tick
// and fans recipient jobs out into the campaign-messages queue.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/metrics"
	"github.com/zapvia/campaign-gateway/internal/model"
	"github.com/zapvia/campaign-gateway/internal/queue"
	"github.com/zapvia/campaign-gateway/internal/ratelimit"
	"github.com/zapvia/campaign-gateway/internal/repository"
	"github.com/zapvia/campaign-gateway/internal/util"
)

// Result is returned by manual execution for the control surface.
type Result struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Enqueued int64  `json:"enqueued"`
	Skipped  int64  `json:"skipped"`
}

// Config tunes the tick loop. Tolerance widens the window-start edge so a
// jittery tick still fires; a campaign fires at most once per window.
type Config struct {
	Interval  time.Duration
	Tolerance time.Duration
	Location  *time.Location
}

// Service is the single periodic scheduler. Construct once per process
// and drive it with Run; ticks never overlap.
type Service struct {
	campaigns repository.CampaignsRepository
	contacts  repository.ContactsRepository
	blacklist repository.BlacklistRepository
	instances repository.InstancesRepository
	msgQ      *queue.Queue
	notifyQ   *queue.Queue
	limits    *ratelimit.Registry
	log       *zap.Logger
	cfg       Config

	ticking atomic.Bool
}

func New(
	campaigns repository.CampaignsRepository,
	contacts repository.ContactsRepository,
	blacklist repository.BlacklistRepository,
	instances repository.InstancesRepository,
	msgQ, notifyQ *queue.Queue,
	limits *ratelimit.Registry,
	log *zap.Logger,
	cfg Config,
) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		campaigns: campaigns,
		contacts:  contacts,
		blacklist: blacklist,
		instances: instances,
		msgQ:      msgQ,
		notifyQ:   notifyQ,
		limits:    limits,
		log:       log,
		cfg:       cfg,
	}
}

// Run drives the tick loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.String("timezone", s.cfg.Location.String()),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.CheckAndExecuteScheduledCampaigns(ctx); err != nil {
				s.log.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// CheckAndExecuteScheduledCampaigns evaluates every running scheduled
// campaign against the current instant and dispatches the due ones. One
// campaign's failure never blocks the rest of the tick. A tick that finds
// the previous one still executing is skipped, never run in parallel.
func (s *Service) CheckAndExecuteScheduledCampaigns(ctx context.Context) error {
	if !s.ticking.CompareAndSwap(false, true) {
		metrics.SchedulerTicks.WithLabelValues("skipped_overlap").Inc()
		s.log.Warn("previous tick still running, skipping")
		return nil
	}
	defer s.ticking.Store(false)

	list, err := s.campaigns.ListScheduled(ctx)
	if err != nil {
		metrics.SchedulerTicks.WithLabelValues("error").Inc()
		return fmt.Errorf("list scheduled campaigns: %w", err)
	}

	now := time.Now()
	for i := range list {
		c := &list[i]
		if !c.Dispatchable() {
			continue
		}
		if !c.Schedule.IsDue(now, s.cfg.Location, s.cfg.Tolerance) {
			continue
		}

		windowStart := c.Schedule.WindowStart(now, s.cfg.Location)
		if c.LastDispatchedAt != nil && !c.LastDispatchedAt.Before(windowStart) {
			// window already consumed; re-ticks stay free of limiter tokens
			continue
		}

		if d := s.limits.UserCampaign.Check(ctx, userKey(c.UserID)); !d.Allowed {
			s.log.Warn("user campaign limit hit, deferring to next tick",
				zap.String("campaign_id", c.ID), zap.Int64("user_id", c.UserID))
			continue
		}

		// load everything the fan-out needs before touching the claim, so a
		// fetch failure leaves the window open for the next tick
		plan, err := s.loadFanout(ctx, c)
		if err != nil {
			s.log.Error("campaign dispatch failed",
				zap.String("campaign_id", c.ID), zap.Error(err))
			continue
		}

		claimed, err := s.campaigns.ClaimWindow(ctx, c.ID, windowStart)
		if err != nil {
			s.log.Error("window claim failed", zap.String("campaign_id", c.ID), zap.Error(err))
			continue
		}
		if !claimed {
			// another scheduler instance won this window
			continue
		}

		if _, _, err := s.fanOut(ctx, c, plan); err != nil {
			s.log.Error("campaign fan-out failed",
				zap.String("campaign_id", c.ID), zap.Error(err))
			continue
		}
	}

	metrics.SchedulerTicks.WithLabelValues("ok").Inc()
	return nil
}

// ExecuteCampaignManually bypasses schedule evaluation and enqueues all
// eligible recipients immediately. A draft campaign is started first.
func (s *Service) ExecuteCampaignManually(ctx context.Context, campaignID string) (Result, error) {
	c, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return Result{}, fmt.Errorf("load campaign: %w", err)
	}
	if c == nil {
		return Result{Message: "campaign not found"}, nil
	}
	if c.Status.Terminal() {
		return Result{Message: "campaign already " + c.Status.String()}, nil
	}

	if d := s.limits.UserCampaign.Check(ctx, userKey(c.UserID)); !d.Allowed {
		return Result{Message: fmt.Sprintf("campaign rate limit exceeded, retry in %s", d.RetryAfter.Round(time.Second))}, nil
	}

	if c.Status != model.CampaignRunning {
		ok, err := s.campaigns.AdvanceStatus(ctx, c.ID,
			[]model.CampaignStatus{model.CampaignDraft, model.CampaignPaused}, model.CampaignRunning)
		if err != nil {
			return Result{}, fmt.Errorf("start campaign: %w", err)
		}
		if ok {
			c.Status = model.CampaignRunning
			s.notify(ctx, c.ID, model.NotifyStarted, "manual execution")
		}
	}

	// record the dispatch so the scheduler does not re-fire the same window
	if _, err := s.campaigns.ClaimWindow(ctx, c.ID, time.Now().UTC()); err != nil {
		s.log.Warn("manual window claim failed", zap.String("campaign_id", c.ID), zap.Error(err))
	}

	enqueued, skipped, err := s.dispatch(ctx, c)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Success:  true,
		Message:  fmt.Sprintf("%d jobs enqueued, %d recipients skipped", enqueued, skipped),
		Enqueued: enqueued,
		Skipped:  skipped,
	}, nil
}

// fanoutPlan carries everything a dispatch needs, loaded up front so fetch
// failures never consume the campaign's window.
type fanoutPlan struct {
	inst       *model.Instance
	recipients []model.Contact
	blocked    map[string]struct{} // normalized phones
}

func (s *Service) loadFanout(ctx context.Context, c *model.Campaign) (*fanoutPlan, error) {
	inst, err := s.instances.GetByID(ctx, c.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", c.InstanceID, err)
	}
	if inst == nil {
		return nil, fmt.Errorf("instance %s: not found", c.InstanceID)
	}

	recipients, err := s.contacts.ListByCampaign(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("recipients of %s: %w", c.ID, err)
	}

	raw, err := s.blacklist.Phones(ctx, c.UserID)
	if err != nil {
		return nil, fmt.Errorf("blacklist of user %d: %w", c.UserID, err)
	}
	// normalize so formatting variants ("(11) 9...", "5511...") still match
	blocked := make(map[string]struct{}, len(raw))
	for p := range raw {
		blocked[util.NormalizePhone(p)] = struct{}{}
	}

	return &fanoutPlan{inst: inst, recipients: recipients, blocked: blocked}, nil
}

// dispatch runs the manual execution path: load then fan out.
func (s *Service) dispatch(ctx context.Context, c *model.Campaign) (int64, int64, error) {
	plan, err := s.loadFanout(ctx, c)
	if err != nil {
		return 0, 0, err
	}
	return s.fanOut(ctx, c, plan)
}

// fanOut enqueues one message job per eligible recipient. The total is
// committed before the first enqueue so workers resolving early jobs
// already see the full window size; an enqueue failure walks the total
// back down to what actually reached the queue.
func (s *Service) fanOut(ctx context.Context, c *model.Campaign, plan *fanoutPlan) (enqueued, skipped int64, err error) {
	eligible := make([]model.Contact, 0, len(plan.recipients))
	for _, r := range plan.recipients {
		phone := util.NormalizePhone(r.Phone)
		if _, deny := plan.blocked[phone]; deny {
			skipped++
			if err := s.campaigns.IncrementStat(ctx, c.ID, repository.StatSkipped); err != nil {
				s.log.Warn("skip stat failed", zap.String("campaign_id", c.ID), zap.Error(err))
			}
			metrics.MessagesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		r.Phone = phone
		eligible = append(eligible, r)
	}

	if len(eligible) == 0 {
		// an empty recurring window is a no-op; only a manual-only campaign
		// completes on zero eligible recipients
		if c.Schedule == nil {
			if ok, err := s.campaigns.AdvanceStatus(ctx, c.ID,
				[]model.CampaignStatus{model.CampaignRunning}, model.CampaignCompleted); err == nil && ok {
				s.notify(ctx, c.ID, model.NotifyCompleted, "no eligible recipients")
			}
		}
		return 0, skipped, nil
	}

	total := int64(len(eligible))
	if err := s.campaigns.AddToTotal(ctx, c.ID, total); err != nil {
		return 0, skipped, fmt.Errorf("update total of %s: %w", c.ID, err)
	}

	for _, r := range eligible {
		job := model.MessageJob{
			CampaignID:    c.ID,
			ContactID:     r.ID,
			Phone:         r.Phone,
			Body:          renderTemplate(c.Template, r),
			Type:          messageType(c),
			MediaURL:      deref(c.MediaURL),
			InstanceID:    plan.inst.ID,
			InstanceToken: plan.inst.Token,
			UserID:        c.UserID,
		}
		if _, err := s.msgQ.Add(ctx, job, queue.Options{}); err != nil {
			if rerr := s.campaigns.AddToTotal(ctx, c.ID, enqueued-total); rerr != nil {
				s.log.Error("total reconcile failed",
					zap.String("campaign_id", c.ID), zap.Error(rerr))
			}
			// queue backend failure must surface, not silently drop jobs
			return enqueued, skipped, fmt.Errorf("enqueue for %s: %w", c.ID, err)
		}
		enqueued++
		metrics.MessagesTotal.WithLabelValues("enqueued").Inc()
	}

	metrics.CampaignsDispatched.Inc()
	return enqueued, skipped, nil
}

func (s *Service) notify(ctx context.Context, campaignID string, kind model.NotificationKind, msg string) {
	_, err := s.notifyQ.Add(ctx, model.NotificationJob{
		CampaignID: campaignID,
		Kind:       kind,
		Message:    msg,
	}, queue.Options{})
	if err != nil {
		s.log.Warn("notification enqueue failed", zap.String("campaign_id", campaignID), zap.Error(err))
	}
}

// renderTemplate substitutes the supported placeholders into the campaign
// body.
func renderTemplate(tpl string, c model.Contact) string {
	out := strings.ReplaceAll(tpl, "{{name}}", c.Name)
	out = strings.ReplaceAll(out, "{{phone}}", c.Phone)
	return out
}

func messageType(c *model.Campaign) model.MessageType {
	if c.MediaURL != nil && *c.MediaURL != "" {
		return model.MessageMedia
	}
	return model.MessageText
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func userKey(id int64) string {
	return fmt.Sprintf("%d", id)
}
