package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"intake/internal/config"
)

const userAgent = "Intake-Go/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventFileFailed         Event = "file_failed"
	EventFileImported       Event = "file_imported"
	EventConfigurationError Event = "configuration_error"
	EventTest               Event = "test"
)

// Payload carries event fields. Well-known keys: watcher, file, outcome,
// collection, location, record_uuid, attempts, error.
type Payload map[string]any

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case interface{ String() string }:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds the configured notifier stack.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	n := cfg.Notifications
	timeout := time.Duration(n.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var transports []Service
	if topic := strings.TrimSpace(n.NtfyTopic); topic != "" {
		transports = append(transports, newNtfyService(topic, timeout))
	}
	if url := strings.TrimSpace(n.NATSURL); url != "" {
		transports = append(transports, newNATSPublisher(url, n.NATSSubject, timeout))
	}
	if len(transports) == 0 {
		return noopService{}
	}

	var next Service = multiService(transports)
	if len(transports) == 1 {
		next = transports[0]
	}
	return &policyService{
		enabled:   n.Enabled,
		onError:   n.OnError,
		onSuccess: n.OnSuccess,
		next:      next,
	}
}

// Close releases transport connections held by svc, if any.
func Close(svc Service) {
	switch s := svc.(type) {
	case *policyService:
		Close(s.next)
	case multiService:
		for _, t := range s {
			Close(t)
		}
	case *natsPublisher:
		s.Close()
	}
}

type policyService struct {
	enabled   bool
	onError   bool
	onSuccess bool
	next      Service
}

func (p *policyService) allows(event Event) bool {
	if event == EventTest {
		return true
	}
	if !p.enabled {
		return false
	}
	switch event {
	case EventFileFailed, EventConfigurationError:
		return p.onError
	case EventFileImported:
		return p.onSuccess
	default:
		return false
	}
}

func (p *policyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !p.allows(event) {
		return nil
	}
	return p.next.Publish(ctx, event, payload)
}

type multiService []Service

func (m multiService) Publish(ctx context.Context, event Event, payload Payload) error {
	var errs []error
	for _, svc := range m {
		if err := svc.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// NewNoop returns a service that drops every event.
func NewNoop() Service { return noopService{} }
