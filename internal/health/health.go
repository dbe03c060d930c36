// Package health reports whether the bot can reach the chat platform and
// its storage.
package health

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"adbot/internal/storage"
	"adbot/internal/transport"
	logx "adbot/pkg/logx"
)

type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// DefaultHeapLimitMB marks the report degraded when exceeded.
const DefaultHeapLimitMB = 500

type Report struct {
	Status       Status
	Message      string
	BotID        int64
	BotUsername  string
	ActiveGroups int
	StatsRows    int
	TotalAds     int
	ActiveAds    int
	HeapMB       uint64
	OpenCircuits []string
	Err          error
	Took         time.Duration
}

// Store is the subset of storage.Store the check reads.
type Store interface {
	GetAllGroups(ctx context.Context) ([]storage.Group, error)
	GetAllStatistics(ctx context.Context) ([]storage.ChatStatistics, error)
	GetAllAdvertisements(ctx context.Context) ([]storage.Advertisement, error)
}

type Checker struct {
	client   transport.Client
	store    Store
	circuits func() []string
	heapMB   func() uint64
	limitMB  uint64
	timeout  time.Duration
	log      logx.Logger
}

type Option func(*Checker)

// WithCircuits reports open breakers; any open breaker degrades the status.
func WithCircuits(fn func() []string) Option { return func(c *Checker) { c.circuits = fn } }

func WithHeapProbe(fn func() uint64) Option { return func(c *Checker) { c.heapMB = fn } }

func WithHeapLimitMB(mb uint64) Option { return func(c *Checker) { c.limitMB = mb } }

func WithLogger(log logx.Logger) Option { return func(c *Checker) { c.log = log } }

func New(client transport.Client, store Store, opts ...Option) *Checker {
	c := &Checker{
		client:  client,
		store:   store,
		heapMB:  heapMB,
		limitMB: DefaultHeapLimitMB,
		timeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func heapMB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc / 1024 / 1024
}

// Check probes the platform identity and storage counts. Any probe error
// makes the report unhealthy.
func (c *Checker) Check(ctx context.Context) Report {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rep := c.check(ctx)
	rep.Took = time.Since(start)
	if rep.Err != nil {
		c.log.Error("health check failed", logx.Err(rep.Err))
	} else if rep.Status != Healthy {
		c.log.Warn("health degraded", logx.String("reason", rep.Message))
	}
	return rep
}

func (c *Checker) check(ctx context.Context) Report {
	fail := func(err error) Report {
		return Report{Status: Unhealthy, Message: "health check failed", Err: err}
	}
	var rep Report

	self, err := c.client.GetSelf(ctx)
	if err != nil {
		return fail(fmt.Errorf("platform: %w", err))
	}
	rep.BotID, rep.BotUsername = self.ID, self.Username

	groups, err := c.store.GetAllGroups(ctx)
	if err != nil {
		return fail(fmt.Errorf("storage groups: %w", err))
	}
	rep.ActiveGroups = len(groups)

	stats, err := c.store.GetAllStatistics(ctx)
	if err != nil {
		return fail(fmt.Errorf("storage statistics: %w", err))
	}
	rep.StatsRows = len(stats)

	ads, err := c.store.GetAllAdvertisements(ctx)
	if err != nil {
		return fail(fmt.Errorf("storage ads: %w", err))
	}
	rep.TotalAds = len(ads)
	for _, ad := range ads {
		if ad.IsActive {
			rep.ActiveAds++
		}
	}

	rep.HeapMB = c.heapMB()
	if c.circuits != nil {
		rep.OpenCircuits = c.circuits()
	}

	var reasons []string
	if rep.HeapMB > c.limitMB {
		reasons = append(reasons, "high memory usage")
	}
	if len(rep.OpenCircuits) > 0 {
		reasons = append(reasons, "open circuits: "+strings.Join(rep.OpenCircuits, ","))
	}
	if len(reasons) > 0 {
		rep.Status, rep.Message = Degraded, strings.Join(reasons, "; ")
	} else {
		rep.Status, rep.Message = Healthy, "bot is healthy"
	}
	return rep
}
