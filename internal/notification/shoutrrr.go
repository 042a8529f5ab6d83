package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/privacy"
)

// ShoutrrrSender delivers administrator alerts to one or more shoutrrr
// service URLs (smtp://, slack://, discord://, ...).
type ShoutrrrSender struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrSender validates urls and builds a router for them.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.ValidationError("at least one alert URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// Service URLs carry tokens and passwords.
		return nil, errors.New(privacy.WrapError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSender{urls: slices.Clone(urls), sender: sender}, nil
}

// Send delivers one message to every configured service and returns the
// first failure. The router applies its own timeout.
func (s *ShoutrrrSender) Send(_ context.Context, title, message string) error {
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}
	for i, err := range s.sender.Send(message, &params) {
		if err != nil {
			return errors.New(fmt.Errorf("alert service %d: %w", i, privacy.WrapError(err))).
				Component("notification").
				Category(errors.CategoryNetwork).
				Build()
		}
	}
	return nil
}
