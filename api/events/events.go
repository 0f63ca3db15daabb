package events

import (
	"context"
	"errors"

	"appcore/api/logger"
	"appcore/api/model"
)

var log = logger.NewLogger("appcore.events")

// Publisher fans application events out to live consumers.
type Publisher interface {
	Publish(ctx context.Context, workspaceID string, ev *model.ApplicationEvent) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, workspaceID string, ev *model.ApplicationEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, workspaceID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, string, *model.ApplicationEvent) error { return nil }
