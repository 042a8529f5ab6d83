package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/logger"
)

// ResourceType names a monitored host resource.
type ResourceType string

const (
	ResourceMemory ResourceType = "memory"
	ResourceDisk   ResourceType = "disk"
)

const (
	defaultCheckInterval     = time.Minute
	defaultHysteresisPercent = 5.0
)

// UsageSampler returns the used percentage of a resource.
type UsageSampler func(ctx context.Context) (float64, error)

// AlertState tracks whether a resource is currently above its threshold.
type AlertState struct {
	InAlert   bool
	LastValue float64
	LastCheck time.Time
}

type check struct {
	resource  ResourceType
	service   string
	label     string
	threshold float64
	sample    UsageSampler
}

// HealthMonitor samples disk usage of the media root and virtual memory
// and raises an alert when either crosses its threshold. A resource must
// drop below threshold minus hysteresis before it can alert again.
type HealthMonitor struct {
	alerter    *Alerter
	interval   time.Duration
	hysteresis float64
	checks     []check

	mu     sync.RWMutex
	states map[string]*AlertState

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    logger.Logger
}

// MonitorOption customises a HealthMonitor.
type MonitorOption func(*HealthMonitor)

// WithDiskSampler replaces the gopsutil disk sampler.
func WithDiskSampler(p UsageSampler) MonitorOption {
	return func(m *HealthMonitor) { m.setSampler(ResourceDisk, p) }
}

// WithMemorySampler replaces the gopsutil memory sampler.
func WithMemorySampler(p UsageSampler) MonitorOption {
	return func(m *HealthMonitor) { m.setSampler(ResourceMemory, p) }
}

// NewHealthMonitor creates a monitor for mediaRoot using thresholds from s.
// A zero threshold disables that check.
func NewHealthMonitor(alerter *Alerter, mediaRoot string, s *conf.AlertingSettings, opts ...MonitorOption) *HealthMonitor {
	interval := s.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	m := &HealthMonitor{
		alerter:    alerter,
		interval:   interval,
		hysteresis: defaultHysteresisPercent,
		states:     make(map[string]*AlertState),
		log:        GetLogger(),
	}
	if s.DiskThreshold > 0 {
		m.checks = append(m.checks, check{
			resource:  ResourceDisk,
			service:   "disk:" + mediaRoot,
			label:     "Disk usage of " + mediaRoot,
			threshold: s.DiskThreshold,
			sample:    diskUsage(mediaRoot),
		})
	}
	if s.MemoryThreshold > 0 {
		m.checks = append(m.checks, check{
			resource:  ResourceMemory,
			service:   string(ResourceMemory),
			label:     "Memory usage",
			threshold: s.MemoryThreshold,
			sample:    memoryUsage,
		})
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *HealthMonitor) setSampler(r ResourceType, p UsageSampler) {
	for i := range m.checks {
		if m.checks[i].resource == r {
			m.checks[i].sample = p
		}
	}
}

func diskUsage(path string) UsageSampler {
	return func(ctx context.Context) (float64, error) {
		u, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, err
		}
		return u.UsedPercent, nil
	}
}

func memoryUsage(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// Start runs an immediate check and then one per interval until Stop is
// called or ctx ends.
func (m *HealthMonitor) Start(ctx context.Context) {
	if len(m.checks) == 0 {
		m.log.Info("health monitor has no enabled checks")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Go(func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.CheckNow(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			}
		}
	})
	m.log.Info("health monitor started",
		logger.Duration("interval", m.interval),
		logger.Int("checks", len(m.checks)))
}

// Stop ends the monitor loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// CheckNow samples every resource once.
func (m *HealthMonitor) CheckNow(ctx context.Context) {
	for _, c := range m.checks {
		value, err := c.sample(ctx)
		if err != nil {
			m.log.Warn("resource usage check failed",
				logger.String("resource", string(c.resource)),
				logger.Error(err))
			continue
		}
		m.evaluate(ctx, c, value)
	}
}

func (m *HealthMonitor) evaluate(ctx context.Context, c check, value float64) {
	m.mu.Lock()
	state, ok := m.states[c.service]
	if !ok {
		state = &AlertState{}
		m.states[c.service] = state
	}
	state.LastValue = value
	state.LastCheck = time.Now()

	var crossed, recovered bool
	switch {
	case !state.InAlert && value >= c.threshold:
		state.InAlert = true
		crossed = true
	case state.InAlert && value < c.threshold-m.hysteresis:
		state.InAlert = false
		recovered = true
	}
	m.mu.Unlock()

	if recovered {
		m.log.Info("resource back below threshold",
			logger.String("resource", string(c.resource)),
			logger.Float64("usage_percent", value),
			logger.Float64("threshold", c.threshold))
		return
	}
	if !crossed {
		return
	}

	m.log.Warn("resource threshold exceeded",
		logger.String("resource", string(c.resource)),
		logger.Float64("usage_percent", value),
		logger.Float64("threshold", c.threshold))
	if m.alerter == nil {
		return
	}
	subject := fmt.Sprintf("BattyCoda: %s at %.1f%%", c.label, value)
	body := fmt.Sprintf("%s is %.1f%%, above the %.1f%% threshold. Processing jobs may fail until space or memory is freed.",
		c.label, value, c.threshold)
	if err := m.alerter.Alert(ctx, c.service, subject, body); err != nil {
		m.log.Warn("failed to send resource alert",
			logger.String("resource", string(c.resource)),
			logger.Error(err))
	}
}

// Status returns a snapshot of the alert state per monitored service.
func (m *HealthMonitor) Status() map[string]AlertState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]AlertState, len(m.states))
	for k, v := range m.states {
		out[k] = *v
	}
	return out
}
