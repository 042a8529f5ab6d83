// Package alerting delivers infrastructure alerts to administrators and
// watches host resources that can stall the processing pipeline.
package alerting

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/notification"
)

// DefaultCooldown is the minimum gap between two alerts for one service.
const DefaultCooldown = 5 * time.Minute

// GetLogger returns the module logger for alerting.
func GetLogger() logger.Logger {
	return logger.Global().Module("alerting")
}

// Sender delivers one alert message. notification.ShoutrrrSender satisfies it.
type Sender interface {
	Send(ctx context.Context, title, message string) error
}

var _ Sender = (*notification.ShoutrrrSender)(nil)

// Alerter sends alerts through a Sender, at most once per service within
// the cooldown window.
type Alerter struct {
	sender   Sender
	cooldown time.Duration
	recent   *cache.Cache
	log      logger.Logger
}

// NewAlerter creates an alerter. A nil sender logs alerts without
// delivering them.
func NewAlerter(sender Sender, cooldown time.Duration) *Alerter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Alerter{
		sender:   sender,
		cooldown: cooldown,
		// No janitor: Add ignores expired entries and the key set is small.
		recent:   cache.New(cooldown, 0),
		log:      GetLogger(),
	}
}

// FromSettings builds an alerter from configuration. Disabled alerting
// yields an alerter that only logs.
func FromSettings(s *conf.AlertingSettings) (*Alerter, error) {
	if !s.Enabled {
		return NewAlerter(nil, s.Cooldown), nil
	}
	sender, err := notification.NewShoutrrrSender(s.URLs, 30*time.Second)
	if err != nil {
		return nil, err
	}
	return NewAlerter(sender, s.Cooldown), nil
}

// Alert delivers subject and body for service unless that service already
// alerted within the cooldown window. Suppressed alerts return nil.
func (a *Alerter) Alert(ctx context.Context, service, subject, body string) error {
	// Add fails while the key is live, which makes the check and the
	// claim a single step across goroutines.
	if err := a.recent.Add(service, time.Now(), a.cooldown); err != nil {
		a.log.Debug("alert suppressed by cooldown",
			logger.String("service", service),
			logger.String("subject", subject))
		return nil
	}

	a.log.Warn("admin alert",
		logger.String("service", service),
		logger.String("subject", subject))
	if a.sender == nil {
		return nil
	}
	if err := a.sender.Send(ctx, subject, body); err != nil {
		// Release the slot so the next occurrence retries delivery.
		a.recent.Delete(service)
		return err
	}
	return nil
}

// LastAlert reports when service last alerted inside the current window.
func (a *Alerter) LastAlert(service string) (time.Time, bool) {
	v, ok := a.recent.Get(service)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}
