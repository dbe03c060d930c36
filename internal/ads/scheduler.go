package ads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"adbot/internal/eventbus"
	"adbot/internal/storage"
	"adbot/internal/transport"
	logx "adbot/pkg/logx"
)

var (
	ErrAdsDisabled = errors.New("ads: disabled for group")
	ErrNoAds       = errors.New("ads: no active advertisements")
)

// ErrStateNotSaved means the ad was delivered but the rotation state or the
// send counter could not be written.
var ErrStateNotSaved = errors.New("ads: sent but state not saved")

type Config struct {
	Enabled                bool
	DefaultIntervalMinutes int
	Parallelism            int
}

func (c Config) withDefaults() Config {
	if c.DefaultIntervalMinutes <= 0 {
		c.DefaultIntervalMinutes = 60
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	return c
}

// TickReport summarises one tick.
type TickReport struct {
	ID          string        `json:"id"`
	Groups      int           `json:"groups"`
	Due         int           `json:"due"`
	Sent        int           `json:"sent"`
	Failed      int           `json:"failed"`
	Deactivated int           `json:"deactivated"`
	Took        time.Duration `json:"took"`
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(s *Scheduler) { s.bus = bus } }

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

type Scheduler struct {
	store  storage.Store
	sender *Sender
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	cfg   atomic.Pointer[Config]
	locks keyedMutex

	lastMu sync.Mutex
	last   TickReport
}

func New(cfg Config, store storage.Store, sender *Sender, opts ...Option) *Scheduler {
	s := &Scheduler{store: store, sender: sender, log: logx.Nop(), now: time.Now}
	s.Apply(cfg)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg.Store(&cfg)
}

func (s *Scheduler) Config() Config { return *s.cfg.Load() }

// LastTick returns the report of the most recent completed tick.
func (s *Scheduler) LastTick() TickReport {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last
}

// ShouldSend reports whether chatID is due for an ad.
func (s *Scheduler) ShouldSend(ctx context.Context, chatID int64) (bool, error) {
	st, err := s.store.GetGroupAdSettings(ctx, chatID)
	if err != nil {
		return false, err
	}
	return ShouldSend(st, s.Config().DefaultIntervalMinutes, s.now()), nil
}

// NextAd returns the ad chatID would get next. ok is false when no ad is
// active.
func (s *Scheduler) NextAd(ctx context.Context, chatID int64) (ad storage.Advertisement, ok bool, err error) {
	all, err := s.store.GetAllAdvertisements(ctx)
	if err != nil {
		return ad, false, err
	}
	active := ActiveAds(all)
	if len(active) == 0 {
		return ad, false, nil
	}
	st, err := s.store.GetGroupAdSettings(ctx, chatID)
	if err != nil {
		return ad, false, err
	}
	return active[NextIndex(st.LastAdIndex, len(active))], true, nil
}

// Tick evaluates every active group once. Failures are logged per group and
// never abort the remaining groups.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	cfg := s.Config()
	rep := TickReport{ID: uuid.NewString()}
	if !cfg.Enabled {
		s.log.Debug("advertising disabled, tick skipped")
		return rep, nil
	}
	start := time.Now()
	log := s.log.With(logx.String("tick", rep.ID))

	groups, err := s.store.GetAllGroups(ctx)
	if err != nil {
		return rep, err
	}
	rep.Groups = len(groups)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	for _, grp := range groups {
		if gctx.Err() != nil {
			break
		}
		chatID := grp.ChatID
		g.Go(func() error {
			res := s.runGroup(gctx, log, rep.ID, chatID, false)
			mu.Lock()
			defer mu.Unlock()
			switch res.outcome {
			case outcomeSent:
				rep.Due++
				rep.Sent++
			case outcomeFailed:
				rep.Due++
				rep.Failed++
			case outcomeDeactivated:
				rep.Due++
				rep.Failed++
				rep.Deactivated++
			}
			return nil
		})
	}
	_ = g.Wait()
	rep.Took = time.Since(start)

	s.lastMu.Lock()
	s.last = rep
	s.lastMu.Unlock()

	if rep.Due > 0 {
		log.Info("ad tick finished",
			logx.Int("groups", rep.Groups),
			logx.Int("due", rep.Due),
			logx.Int("sent", rep.Sent),
			logx.Int("failed", rep.Failed),
			logx.Int("deactivated", rep.Deactivated),
			logx.Duration("took", rep.Took),
		)
	} else {
		log.Debug("ad tick finished, nothing due", logx.Int("groups", rep.Groups))
	}
	return rep, ctx.Err()
}

// SendNow sends the next ad to chatID regardless of its interval. Groups
// with ads disabled are still refused. A delivered ad whose state could not
// be saved is returned together with ErrStateNotSaved.
func (s *Scheduler) SendNow(ctx context.Context, chatID int64) (storage.Advertisement, error) {
	res := s.runGroup(ctx, s.log, "manual", chatID, true)
	return res.ad, res.err
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
	outcomeDeactivated
)

type groupResult struct {
	outcome outcome
	ad      storage.Advertisement
	err     error
}

// runGroup holds the chat lock across check, select, send and persist so
// concurrent ticks cannot double-send within one interval.
func (s *Scheduler) runGroup(ctx context.Context, log logx.Logger, tick string, chatID int64, force bool) groupResult {
	unlock := s.locks.Lock(chatID)
	defer unlock()
	log = log.With(logx.Int64("chat_id", chatID))

	st, err := s.store.GetGroupAdSettings(ctx, chatID)
	if err != nil {
		log.Error("load ad settings failed", logx.Err(err))
		return groupResult{outcome: outcomeFailed, err: err}
	}
	now := s.now()
	if force {
		if !st.AdsEnabled {
			return groupResult{err: ErrAdsDisabled}
		}
	} else if !ShouldSend(st, s.Config().DefaultIntervalMinutes, now) {
		return groupResult{}
	}

	all, err := s.store.GetAllAdvertisements(ctx)
	if err != nil {
		log.Error("load advertisements failed", logx.Err(err))
		return groupResult{outcome: outcomeFailed, err: err}
	}
	active := ActiveAds(all)
	if len(active) == 0 {
		log.Debug("no active ads available")
		return groupResult{err: ErrNoAds}
	}
	ad := active[NextIndex(st.LastAdIndex, len(active))]
	log = log.With(logx.Int64("ad_id", ad.ID))

	if _, err := s.sender.Send(ctx, chatID, ad); err != nil {
		return s.handleSendError(ctx, log, tick, chatID, ad, err)
	}

	// The active list may have changed during the send; record the position
	// the sent ad has now.
	if all, err = s.store.GetAllAdvertisements(ctx); err == nil {
		active = ActiveAds(all)
	}
	pos := IndexOf(active, ad.ID)
	sentAt := s.now()
	var saveErrs []error
	if err := s.store.UpdateLastAdSent(ctx, chatID, pos, sentAt); err != nil {
		log.Error("record last ad sent failed", logx.Err(err))
		saveErrs = append(saveErrs, err)
	}
	if err := s.store.IncrementAdSent(ctx, chatID, ad.ID, sentAt); err != nil {
		log.Error("increment ad counter failed", logx.Err(err))
		saveErrs = append(saveErrs, err)
	}
	log.Info("ad sent", logx.String("kind", string(ad.MediaKind)), logx.Int("index", pos))
	s.publish(eventbus.TopicAdSent, eventbus.AdDelivery{ChatID: chatID, AdID: ad.ID, Tick: tick})
	res := groupResult{outcome: outcomeSent, ad: ad}
	if len(saveErrs) > 0 {
		res.err = fmt.Errorf("%w: %w", ErrStateNotSaved, errors.Join(saveErrs...))
	}
	return res
}

func (s *Scheduler) handleSendError(ctx context.Context, log logx.Logger, tick string, chatID int64, ad storage.Advertisement, err error) groupResult {
	s.publish(eventbus.TopicAdFailed, eventbus.AdDelivery{ChatID: chatID, AdID: ad.ID, Tick: tick, Err: err.Error()})
	switch {
	case transport.IsChatNotFound(err):
		log.Warn("chat not found, deactivating group", logx.Err(err))
		if rerr := s.store.RemoveGroup(ctx, chatID); rerr != nil {
			log.Error("deactivate group failed", logx.Err(rerr))
			return groupResult{outcome: outcomeFailed, ad: ad, err: err}
		}
		s.publish(eventbus.TopicGroupDeactivated, eventbus.AdDelivery{ChatID: chatID, AdID: ad.ID, Tick: tick, Err: err.Error()})
		return groupResult{outcome: outcomeDeactivated, ad: ad, err: err}
	case transport.IsBotBlocked(err):
		log.Warn("bot blocked in chat", logx.Err(err))
	case errors.Is(err, context.Canceled):
		log.Debug("ad send cancelled")
	default:
		log.Error("ad send failed", logx.Err(err))
	}
	return groupResult{outcome: outcomeFailed, ad: ad, err: err}
}

func (s *Scheduler) publish(topic string, d eventbus.AdDelivery) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: s.now(), Data: d})
}
