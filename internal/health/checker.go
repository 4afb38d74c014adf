// Package health tracks the reachability of captchad's backing services.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dependency states.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	FailThreshold int
}

// CheckFunc returns nil when the dependency is reachable.
type CheckFunc func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(dependency string, success bool)

// Checker pings named dependencies periodically. A dependency becomes
// degraded after FailThreshold consecutive failures and healthy again on
// the first success.
type Checker struct {
	mu         sync.Mutex
	checks     map[string]CheckFunc
	failCounts map[string]int
	status     map[string]string
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a Checker with no dependencies registered.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		checks:     make(map[string]CheckFunc),
		failCounts: make(map[string]int),
		status:     make(map[string]string),
		cfg:        cfg,
		logger:     logger,
	}
}

// Register adds a dependency. It starts out healthy.
func (h *Checker) Register(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
	h.status[name] = StatusHealthy
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs CheckAll once immediately and then every CheckInterval until
// ctx is cancelled.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.CheckAll(ctx)
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll pings every registered dependency concurrently.
func (h *Checker) CheckAll(ctx context.Context) {
	h.mu.Lock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.CheckTimeout)
			err := fn(pctx)
			cancel()
			h.record(name, err)
		}()
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	success := err == nil
	if h.onMetrics != nil {
		h.onMetrics(name, success)
	}

	h.mu.Lock()
	prev := h.status[name]
	if success {
		h.failCounts[name] = 0
		h.status[name] = StatusHealthy
	} else {
		h.failCounts[name]++
		if h.failCounts[name] >= h.cfg.FailThreshold {
			h.status[name] = StatusDegraded
		}
	}
	count := h.failCounts[name]
	cur := h.status[name]
	h.mu.Unlock()

	switch {
	case prev == StatusDegraded && cur == StatusHealthy:
		h.logger.Info("health: recovered", zap.String("dependency", name))
	case prev == StatusHealthy && cur == StatusDegraded:
		h.logger.Warn("health: degraded",
			zap.String("dependency", name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
	case !success:
		h.logger.Debug("health: check failed", zap.String("dependency", name), zap.Error(err))
	}
}

// Healthy reports whether no dependency is degraded.
func (h *Checker) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.status {
		if s != StatusHealthy {
			return false
		}
	}
	return true
}

// Dependency is one entry of a Report.
type Dependency struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Report lists every dependency and its status, ordered by name.
func (h *Checker) Report() []Dependency {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Dependency, 0, len(h.status))
	for name, s := range h.status {
		out = append(out, Dependency{Name: name, Status: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
